package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk-engine/internal/api/dto"
	"github.com/spec-kit/servicedesk-engine/internal/clock"
	"github.com/spec-kit/servicedesk-engine/internal/service"
)

// AssigneesHandler exposes the reassignment router.
type AssigneesHandler struct {
	router *service.Router
	clock  clock.Clock
}

// NewAssigneesHandler constructs handler.
func NewAssigneesHandler(router *service.Router, clk clock.Clock) *AssigneesHandler {
	return &AssigneesHandler{router: router, clock: clk}
}

// Effective handles GET /api/v1/assignees/:role/:id/effective.
func (h *AssigneesHandler) Effective(c *fiber.Ctx) error {
	role, err := roleParam(c)
	if err != nil {
		return err
	}
	at, err := instantQuery(c, "at", h.clock.Now())
	if err != nil {
		return err
	}
	owner := pathParam(c, "id")
	assignee, err := h.router.EffectiveAssignee(c.UserContext(), role, owner, at)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.EffectiveAssigneeResponse{
		Role:       role,
		OwnerID:    owner,
		AssigneeID: assignee,
		Diverted:   assignee != owner,
		At:         at,
	}})
}
