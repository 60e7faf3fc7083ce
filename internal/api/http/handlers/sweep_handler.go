package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk-engine/internal/service"
)

// SweepHandler triggers the sweep manually.
type SweepHandler struct {
	coordinator *service.SweepCoordinator
}

// NewSweepHandler constructs handler.
func NewSweepHandler(coordinator *service.SweepCoordinator) *SweepHandler {
	return &SweepHandler{coordinator: coordinator}
}

// Run handles POST /api/v1/sweep. Per-item failures are part of the report;
// the request fails only when the sweep could not run.
func (h *SweepHandler) Run(c *fiber.Ctx) error {
	report, err := h.coordinator.RunSweep(c.UserContext())
	if err != nil && report.FinishedAt.IsZero() {
		return err
	}
	return c.JSON(fiber.Map{"data": report})
}
