package notify

import (
	"fmt"
	"strings"
	"text/template"
	"time"
)

// RenderTemplate renders a notification subject or body against the
// message data. Unknown fields render as "<no value>"; a malformed
// template is the rule author's error and fails the message.
func RenderTemplate(templateStr string, data map[string]any) (string, error) {
	tmpl, err := template.
		New("notification").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return "", fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	return strings.TrimSpace(buf.String()), nil
}

// TemplateData builds the data map available to rule templates.
func TemplateData(eventType, applicationID, workflowID, subjectID, recipientID string, payload map[string]any) map[string]any {
	return map[string]any{
		"event_type":     eventType,
		"application_id": applicationID,
		"workflow_id":    workflowID,
		"subject_id":     subjectID,
		"recipient_id":   recipientID,
		"payload":        payload,
	}
}
