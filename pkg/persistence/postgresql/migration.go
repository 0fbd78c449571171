package postgresql

func migrations() map[int]string {
	return map[int]string{
		1: `
			-- Workflows and their routed applications
			CREATE TABLE workflows (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				status VARCHAR(50) NOT NULL CHECK (status IN ('draft', 'active', 'archived')),
				version INTEGER NOT NULL DEFAULT 1,
				stages JSONB NOT NULL DEFAULT '[]',
				owner VARCHAR(255),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				archived_at TIMESTAMP WITH TIME ZONE
			);

			CREATE INDEX idx_workflows_status ON workflows(status);
			CREATE INDEX idx_workflows_owner ON workflows(owner);

			CREATE TABLE applications (
				id UUID PRIMARY KEY,
				title VARCHAR(255) NOT NULL,
				workflow_id UUID NOT NULL REFERENCES workflows(id),
				workflow_version INTEGER NOT NULL,
				subject_id VARCHAR(255) NOT NULL,
				owner VARCHAR(255),
				state VARCHAR(50) NOT NULL CHECK (state IN ('draft', 'in_progress', 'approved', 'rejected', 'cancelled')),
				current_stage_id VARCHAR(255),
				current_level_id VARCHAR(255),
				decisions JSONB NOT NULL DEFAULT '{}',
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_applications_workflow_id ON applications(workflow_id);
			CREATE INDEX idx_applications_subject_id ON applications(subject_id);
			CREATE INDEX idx_applications_state ON applications(state);

			-- Append-only transition log
			CREATE TABLE application_actions (
				id UUID PRIMARY KEY,
				application_id UUID NOT NULL REFERENCES applications(id) ON DELETE CASCADE,
				type VARCHAR(50) NOT NULL,
				from_stage_id VARCHAR(255),
				to_stage_id VARCHAR(255),
				level_id VARCHAR(255),
				actor_id VARCHAR(255),
				decision VARCHAR(50),
				notes TEXT,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_application_actions_application_id ON application_actions(application_id, created_at);
		`,
		2: `
			-- Role capability map snapshots, replaced whole per map type
			CREATE TABLE role_maps (
				role VARCHAR(255) NOT NULL,
				map_type VARCHAR(100) NOT NULL,
				snapshot JSONB NOT NULL DEFAULT '{}',
				version BIGINT NOT NULL DEFAULT 1,
				clean BOOLEAN NOT NULL DEFAULT TRUE,
				generated_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (role, map_type)
			);

			CREATE INDEX idx_role_maps_map_type ON role_maps(map_type);
			CREATE INDEX idx_role_maps_clean ON role_maps(clean);
		`,
		3: `
			-- Notification rules, delivery queue and the three-level log trail
			CREATE TABLE notification_rules (
				id UUID PRIMARY KEY,
				name VARCHAR(255) NOT NULL,
				event_type VARCHAR(255) NOT NULL,
				recipient VARCHAR(100) NOT NULL,
				subject TEXT NOT NULL,
				body TEXT NOT NULL,
				schedule JSONB NOT NULL DEFAULT '{}',
				channels JSONB NOT NULL DEFAULT '[]',
				enabled BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_notification_rules_event_type ON notification_rules(event_type);
			CREATE INDEX idx_notification_rules_enabled ON notification_rules(enabled);

			CREATE TABLE notification_event_logs (
				id UUID PRIMARY KEY,
				rule_id UUID NOT NULL,
				event_id VARCHAR(255) NOT NULL,
				event_type VARCHAR(255) NOT NULL,
				application_id UUID,
				fired_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_notification_event_logs_fired_at ON notification_event_logs(fired_at);

			CREATE TABLE delivery_jobs (
				id UUID PRIMARY KEY,
				rule_id UUID NOT NULL,
				event_log_id UUID NOT NULL REFERENCES notification_event_logs(id),
				event_type VARCHAR(255) NOT NULL,
				application_id UUID,
				subject_id VARCHAR(255),
				payload JSONB NOT NULL DEFAULT '{}',
				fire_at TIMESTAMP WITH TIME ZONE NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('pending', 'sent', 'cancelled')),
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_delivery_jobs_due ON delivery_jobs(status, fire_at);
			CREATE INDEX idx_delivery_jobs_application_id ON delivery_jobs(application_id);

			CREATE TABLE notification_logs (
				id UUID PRIMARY KEY,
				event_log_id UUID NOT NULL REFERENCES notification_event_logs(id),
				recipient_id VARCHAR(255) NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_notification_logs_event_log_id ON notification_logs(event_log_id);

			CREATE TABLE delivery_logs (
				id UUID PRIMARY KEY,
				notification_log_id UUID NOT NULL REFERENCES notification_logs(id),
				channel VARCHAR(100) NOT NULL,
				status VARCHAR(50) NOT NULL CHECK (status IN ('sent', 'failed')),
				reason TEXT,
				attempted_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_delivery_logs_notification_log_id ON delivery_logs(notification_log_id);
		`,
		4: `
			-- Persisted scheduled-task entries driven by the scheduler poller
			CREATE TABLE schedules (
				id UUID PRIMARY KEY,
				task_name VARCHAR(255) NOT NULL UNIQUE,
				cron_expression VARCHAR(255) NOT NULL,
				next_due_at TIMESTAMP WITH TIME ZONE NOT NULL,
				last_run_at TIMESTAMP WITH TIME ZONE,
				active BOOLEAN NOT NULL DEFAULT TRUE,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				updated_at TIMESTAMP WITH TIME ZONE NOT NULL
			);

			CREATE INDEX idx_schedules_due ON schedules(active, next_due_at);
		`,
		5: `
			-- Per-version workflow snapshots; applications route against the
			-- version they were created under
			CREATE TABLE workflow_versions (
				workflow_id UUID NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
				version INTEGER NOT NULL,
				document JSONB NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				PRIMARY KEY (workflow_id, version)
			);
		`,
	}
}
