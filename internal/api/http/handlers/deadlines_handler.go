package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk-engine/internal/api/dto"
	"github.com/spec-kit/servicedesk-engine/internal/service"
)

// DeadlinesHandler exposes deadline endpoints.
type DeadlinesHandler struct {
	deadlines *service.DeadlineService
}

// NewDeadlinesHandler constructs handler.
func NewDeadlinesHandler(deadlines *service.DeadlineService) *DeadlinesHandler {
	return &DeadlinesHandler{deadlines: deadlines}
}

// Preview handles POST /api/v1/deadlines/preview.
func (h *DeadlinesHandler) Preview(c *fiber.Ctx) error {
	var req dto.DeadlinePreviewRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	deadline, err := h.deadlines.Preview(req.Policy, req.CreatedAt)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDeadlineResponse(deadline)})
}

// Compute handles POST /api/v1/tickets/:id/deadlines.
func (h *DeadlinesHandler) Compute(c *fiber.Ctx) error {
	deadline, err := h.deadlines.ComputeForTicket(c.UserContext(), pathParam(c, "id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDeadlineResponse(*deadline)})
}

// ChangePriority handles POST /api/v1/tickets/:id/priority.
func (h *DeadlinesHandler) ChangePriority(c *fiber.Ctx) error {
	var req dto.PriorityChangeRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	deadline, err := h.deadlines.RecomputeForPriority(c.UserContext(), pathParam(c, "id"), req.Priority)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDeadlineResponse(*deadline)})
}

// Status handles GET /api/v1/tickets/:id/sla.
func (h *DeadlinesHandler) Status(c *fiber.Ctx) error {
	status, err := h.deadlines.Status(c.UserContext(), pathParam(c, "id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewSLAStatusResponse(status)})
}
