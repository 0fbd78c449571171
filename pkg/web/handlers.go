// Package web provides HTTP handlers and REST API endpoints for workflow and
// application management.
package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/approvio/approvio/pkg/engine"
	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
	"github.com/approvio/approvio/pkg/rolemap"
)

type APIHandlers struct {
	engine       *engine.Engine
	persistence  persistence.Persistence
	recalculator *rolemap.Recalculator
	validator    *validator.Validate
}

func NewAPIHandlers(
	routingEngine *engine.Engine,
	store persistence.Persistence,
	recalculator *rolemap.Recalculator,
	validate *validator.Validate,
) *APIHandlers {
	return &APIHandlers{
		engine:       routingEngine,
		persistence:  store,
		recalculator: recalculator,
		validator:    validate,
	}
}

// RegisterRoutes attaches every API route to the app.
func (h *APIHandlers) RegisterRoutes(app *fiber.App) {
	app.Get("/health", h.HealthCheck)

	app.Get("/workflows", h.GetWorkflows)
	app.Post("/workflows", h.CreateWorkflow)
	app.Get("/workflows/:id", h.GetWorkflow)
	app.Patch("/workflows/:id", h.UpdateWorkflow)
	app.Delete("/workflows/:id", h.DeleteWorkflow)

	app.Post("/workflows/:id/applications", h.CreateApplication)
	app.Get("/applications", h.GetApplications)
	app.Get("/applications/:id", h.GetApplication)
	app.Get("/applications/:id/actions", h.GetApplicationActions)
	app.Post("/applications/:id/submit", h.SubmitApplication)
	app.Post("/applications/:id/decisions", h.RecordDecision)
	app.Post("/applications/:id/stage", h.EnterStage)
	app.Post("/applications/:id/cancel", h.CancelApplication)

	app.Get("/notification-rules", h.GetNotificationRules)
	app.Post("/notification-rules", h.CreateNotificationRule)
	app.Get("/notification-rules/:id", h.GetNotificationRule)
	app.Delete("/notification-rules/:id", h.DeleteNotificationRule)

	app.Post("/role-maps/recalculate", h.RecalculateRoleMaps)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	if err := h.persistence.HealthCheck(c.Context()); err != nil {
		return c.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"status": "unhealthy",
			"error":  err.Error(),
		})
	}

	return c.JSON(fiber.Map{"status": "healthy"})
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	workflows, err := h.persistence.Workflows().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.Workflows().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "workflow not found")
		}

		return internalError(c, err)
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := validateWorkflowDefinition(&req); err != nil {
		return badRequest(c, err.Error())
	}

	id, err := uuid.NewV7()
	if err != nil {
		return internalError(c, err)
	}

	workflow := &models.Workflow{
		ID:          id.String(),
		Name:        req.Name,
		Description: req.Description,
		Status:      models.WorkflowStatusDraft,
		Version:     1,
		Stages:      req.Stages,
		Owner:       req.Owner,
	}

	if err := h.persistence.Workflows().Save(c.Context(), workflow); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(workflow)
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	workflow, err := h.persistence.Workflows().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "workflow not found")
		}

		return internalError(c, err)
	}

	var req UpdateWorkflowRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if req.Name != nil {
		workflow.Name = *req.Name
	}

	if req.Description != nil {
		workflow.Description = *req.Description
	}

	if req.Status != nil {
		workflow.Status = *req.Status
		if *req.Status == models.WorkflowStatusArchived {
			now := time.Now().UTC()
			workflow.ArchivedAt = &now
		}
	}

	// Stage edits bump the version; existing applications stay pinned to the
	// version they were created against.
	if req.Stages != nil {
		workflow.Stages = req.Stages
		workflow.Version++
	}

	if err := h.persistence.Workflows().Save(c.Context(), workflow); err != nil {
		return internalError(c, err)
	}

	if req.Stages != nil {
		// Approver assignments may have changed, flag the maps and rebuild.
		if err := h.persistence.RoleMaps().MarkAllDirty(c.Context()); err != nil {
			return internalError(c, err)
		}

		if err := h.recalculator.QueueImmediateRerun(c.Context()); err != nil {
			return internalError(c, err)
		}
	}

	return c.JSON(workflow)
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.persistence.Workflows().Delete(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return notFound(c, "workflow not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) CreateApplication(c fiber.Ctx) error {
	var req CreateApplicationRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	application := &models.Application{
		Title:      req.Title,
		WorkflowID: c.Params("id"),
		SubjectID:  req.SubjectID,
		Owner:      req.Owner,
	}

	created, err := h.engine.CreateApplication(c.Context(), application)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(created)
}

func (h *APIHandlers) GetApplications(c fiber.Ctx) error {
	applications, err := h.persistence.Applications().List(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(applications)
}

func (h *APIHandlers) GetApplication(c fiber.Ctx) error {
	application, err := h.persistence.Applications().GetByID(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsApplicationNotFound(err) {
			return notFound(c, "application not found")
		}

		return internalError(c, err)
	}

	return c.JSON(application)
}

func (h *APIHandlers) GetApplicationActions(c fiber.Ctx) error {
	id := c.Params("id")

	if _, err := h.persistence.Applications().GetByID(c.Context(), id); err != nil {
		if persistence.IsApplicationNotFound(err) {
			return notFound(c, "application not found")
		}

		return internalError(c, err)
	}

	actions, err := h.persistence.Applications().Actions(c.Context(), id)
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(actions)
}

func (h *APIHandlers) SubmitApplication(c fiber.Ctx) error {
	var req SubmitRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	application, err := h.engine.Submit(c.Context(), c.Params("id"), req.ActorID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(application)
}

func (h *APIHandlers) RecordDecision(c fiber.Ctx) error {
	var req DecisionRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	application, err := h.engine.RecordApproval(
		c.Context(),
		c.Params("id"),
		req.LevelID,
		req.ApproverID,
		models.Decision(req.Decision),
		req.Notes,
	)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(application)
}

func (h *APIHandlers) EnterStage(c fiber.Ctx) error {
	var req EnterStageRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	application, err := h.engine.EnterStage(c.Context(), c.Params("id"), req.StageID, req.ActorID)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(application)
}

func (h *APIHandlers) CancelApplication(c fiber.Ctx) error {
	var req CancelRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	application, err := h.engine.Cancel(c.Context(), c.Params("id"), req.ActorID, req.Reason)
	if err != nil {
		return handleEngineError(c, err)
	}

	return c.JSON(application)
}

func (h *APIHandlers) GetNotificationRules(c fiber.Ctx) error {
	rules, err := h.persistence.Notifications().Rules(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	return c.JSON(rules)
}

func (h *APIHandlers) GetNotificationRule(c fiber.Ctx) error {
	rule, err := h.persistence.Notifications().GetRule(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsRuleNotFound(err) {
			return notFound(c, "notification rule not found")
		}

		return internalError(c, err)
	}

	return c.JSON(rule)
}

func (h *APIHandlers) CreateNotificationRule(c fiber.Ctx) error {
	var req CreateNotificationRuleRequest
	if err := c.Bind().Body(&req); err != nil {
		return badRequest(c, "Invalid request body: "+err.Error())
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := validateRuleDefinition(&req); err != nil {
		return badRequest(c, err.Error())
	}

	id, err := uuid.NewV7()
	if err != nil {
		return internalError(c, err)
	}

	rule := &models.NotificationRule{
		ID:        id.String(),
		Name:      req.Name,
		EventType: req.EventType,
		Recipient: req.Recipient,
		Subject:   req.Subject,
		Body:      req.Body,
		Schedule:  req.Schedule,
		Channels:  req.Channels,
		Enabled:   req.Enabled,
	}

	if err := h.persistence.Notifications().SaveRule(c.Context(), rule); err != nil {
		return internalError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(rule)
}

func (h *APIHandlers) DeleteNotificationRule(c fiber.Ctx) error {
	err := h.persistence.Notifications().DeleteRule(c.Context(), c.Params("id"))
	if err != nil {
		if persistence.IsRuleNotFound(err) {
			return notFound(c, "notification rule not found")
		}

		return internalError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// RecalculateRoleMaps triggers a full rebuild. A rebuild already in flight
// is reported, not retried.
func (h *APIHandlers) RecalculateRoleMaps(c fiber.Ctx) error {
	result, err := h.recalculator.TriggerFullRecalculation(c.Context())
	if err != nil {
		return internalError(c, err)
	}

	if result.Skipped {
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"skipped": true,
			"reason":  "a recalculation is already running",
		})
	}

	return c.JSON(result)
}

func validateWorkflowDefinition(req *CreateWorkflowRequest) error {
	definition, err := toDefinition(req)
	if err != nil {
		return err
	}

	return models.ValidateWorkflowDefinition(definition)
}

func validateRuleDefinition(req *CreateNotificationRuleRequest) error {
	definition, err := toDefinition(req)
	if err != nil {
		return err
	}

	return models.ValidateNotificationRuleDefinition(definition)
}

func toDefinition(req any) (map[string]any, error) {
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	definition := make(map[string]any)
	if err := json.Unmarshal(raw, &definition); err != nil {
		return nil, err
	}

	return definition, nil
}
