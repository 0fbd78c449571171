package web

import (
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/approvio/approvio/pkg/engine"
	"github.com/approvio/approvio/pkg/persistence"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleEngineError maps state machine and persistence errors onto problem
// responses without exposing internals.
func handleEngineError(c fiber.Ctx, err error) error {
	switch {
	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow not found")

	case persistence.IsApplicationNotFound(err):
		return notFound(c, "application not found")

	case persistence.IsConcurrentModification(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("concurrent_modification").
			WithDetail("the application was modified concurrently, retry with fresh state")

		return c.Status(fiber.StatusConflict).JSON(problem)

	case engine.IsAlreadyDecided(err):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("already_decided").
			WithDetail("this approval level has already been decided")

		return c.Status(fiber.StatusConflict).JSON(problem)

	case engine.IsUnauthorizedApprover(err):
		problem := problems.NewStatusProblem(403).
			WithInstance(c.Path()).
			WithType("unauthorized_approver").
			WithDetail("the actor is not an approver for this level")

		return c.Status(fiber.StatusForbidden).JSON(problem)

	case engine.IsInvalidTransition(err):
		problem := problems.NewStatusProblem(422).
			WithInstance(c.Path()).
			WithType("invalid_transition").
			WithDetail(err.Error())

		return c.Status(fiber.StatusUnprocessableEntity).JSON(problem)

	default:
		return internalError(c, err)
	}
}
