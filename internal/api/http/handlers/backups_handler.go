package handlers

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk-engine/internal/api/dto"
	"github.com/spec-kit/servicedesk-engine/internal/auth"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/service"
)

// BackupsHandler exposes backup assignment endpoints for both roles.
type BackupsHandler struct {
	registry *service.BackupRegistry
}

// NewBackupsHandler constructs handler.
func NewBackupsHandler(registry *service.BackupRegistry) *BackupsHandler {
	return &BackupsHandler{registry: registry}
}

// List handles GET /api/v1/backups/:role.
func (h *BackupsHandler) List(c *fiber.Ctx) error {
	role, err := roleParam(c)
	if err != nil {
		return err
	}
	configs, err := h.registry.List(c.UserContext(), role)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewBackupConfigList(configs, h.registry.Today())})
}

// Create handles POST /api/v1/backups/:role.
func (h *BackupsHandler) Create(c *fiber.Ctx) error {
	role, err := roleParam(c)
	if err != nil {
		return err
	}
	var req dto.BackupConfigRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	cfg, err := h.registry.Create(c.UserContext(), auth.ActorID(c), toBackupInput(role, req))
	if err != nil {
		return err
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"data": dto.NewBackupConfigResponse(*cfg, h.registry.Today())})
}

// Get handles GET /api/v1/backups/:role/:id.
func (h *BackupsHandler) Get(c *fiber.Ctx) error {
	role, err := roleParam(c)
	if err != nil {
		return err
	}
	cfg, err := h.registry.Get(c.UserContext(), role, pathParam(c, "id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewBackupConfigResponse(*cfg, h.registry.Today())})
}

// Update handles PUT /api/v1/backups/:role/:id.
func (h *BackupsHandler) Update(c *fiber.Ctx) error {
	role, err := roleParam(c)
	if err != nil {
		return err
	}
	var req dto.BackupConfigRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	cfg, err := h.registry.Update(c.UserContext(), auth.ActorID(c), role, pathParam(c, "id"), toBackupInput(role, req))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewBackupConfigResponse(*cfg, h.registry.Today())})
}

// Deactivate handles POST /api/v1/backups/:role/:id/deactivate.
func (h *BackupsHandler) Deactivate(c *fiber.Ctx) error {
	role, err := roleParam(c)
	if err != nil {
		return err
	}
	var req dto.DeactivateRequest
	if len(c.Body()) > 0 {
		if err := parseBody(c, &req); err != nil {
			return err
		}
	}
	cfg, err := h.registry.Deactivate(c.UserContext(), auth.ActorID(c), role, pathParam(c, "id"), req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewBackupConfigResponse(*cfg, h.registry.Today())})
}

// Logs handles GET /api/v1/backups/:role/:id/logs.
func (h *BackupsHandler) Logs(c *fiber.Ctx) error {
	role, err := roleParam(c)
	if err != nil {
		return err
	}
	entries, err := h.registry.Logs(c.UserContext(), role, pathParam(c, "id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewReassignmentLogList(entries)})
}

// Expiring handles GET /api/v1/backups/:role/expiring?days=N.
func (h *BackupsHandler) Expiring(c *fiber.Ctx) error {
	role, err := roleParam(c)
	if err != nil {
		return err
	}
	days, err := intQuery(c, "days", 7)
	if err != nil {
		return err
	}
	configs, err := h.registry.UpcomingExpirations(c.UserContext(), role, days)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewBackupConfigList(configs, h.registry.Today())})
}

func toBackupInput(role domain.BackupRole, req dto.BackupConfigRequest) service.BackupInput {
	return service.BackupInput{
		Role:               role,
		OriginalAssigneeID: req.OriginalAssigneeID,
		BackupAssigneeID:   req.BackupAssigneeID,
		StartDate:          req.StartDate,
		EndDate:            req.EndDate,
		DivertExisting:     req.DivertExisting,
		Reason:             req.Reason,
	}
}
