package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk-engine/internal/api/dto"
	"github.com/spec-kit/servicedesk-engine/internal/clock"
	"github.com/spec-kit/servicedesk-engine/internal/service"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// EscalationsHandler exposes escalation endpoints.
type EscalationsHandler struct {
	escalations *service.EscalationService
	clock       clock.Clock
}

// NewEscalationsHandler constructs handler.
func NewEscalationsHandler(escalations *service.EscalationService, clk clock.Clock) *EscalationsHandler {
	return &EscalationsHandler{escalations: escalations, clock: clk}
}

// Due handles GET /api/v1/tickets/:id/escalations/due.
func (h *EscalationsHandler) Due(c *fiber.Ctx) error {
	at, err := instantQuery(c, "at", h.clock.Now())
	if err != nil {
		return err
	}
	due, err := h.escalations.DueLevels(c.UserContext(), pathParam(c, "id"), at)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewDueEscalationsResponse(due.TicketID, due.Epoch, due.Levels)})
}

// MarkFired handles POST /api/v1/tickets/:id/escalations/:level/fired.
func (h *EscalationsHandler) MarkFired(c *fiber.Ctx) error {
	level, err := c.ParamsInt("level")
	if err != nil {
		return apperrors.NewValidationError("invalid level", map[string]any{"level": c.Params("level")})
	}
	var req dto.MarkFiredRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	won, err := h.escalations.MarkFired(c.UserContext(), pathParam(c, "id"), level, req.Epoch)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": fiber.Map{
		"ticket_id": pathParam(c, "id"),
		"level":     level,
		"epoch":     req.Epoch,
		"marked":    won,
	}})
}
