package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/servicedesk-engine/internal/api/http/handlers"
	"github.com/spec-kit/servicedesk-engine/internal/auth"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// NewApp builds the fiber app. Immutable keeps Params, Query and header
// values valid after the handler returns.
func NewApp(name string) *fiber.App {
	return fiber.New(fiber.Config{AppName: name, Immutable: true})
}

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Deadlines      *handlers.DeadlinesHandler
	Escalations    *handlers.EscalationsHandler
	Backups        *handlers.BackupsHandler
	Assignees      *handlers.AssigneesHandler
	Sweep          *handlers.SweepHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes. Reads need any authenticated staff
// member; mutations of backups and manual sweeps need ADMIN.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	app.Get("/metrics", cfg.Health.Metrics)

	api := app.Group("/api/v1", cfg.AuthMiddleware.Handle, auth.RequireAnyRole())
	admin := auth.RequireStaffRole(domain.StaffRoleAdmin)

	api.Post("/deadlines/preview", cfg.Deadlines.Preview)

	tickets := api.Group("/tickets/:id")
	tickets.Post("/deadlines", cfg.Deadlines.Compute)
	tickets.Post("/priority", cfg.Deadlines.ChangePriority)
	tickets.Get("/sla", cfg.Deadlines.Status)
	tickets.Get("/escalations/due", cfg.Escalations.Due)
	tickets.Post("/escalations/:level/fired", cfg.Escalations.MarkFired)

	backups := api.Group("/backups/:role")
	backups.Get("/", cfg.Backups.List)
	backups.Post("/", admin, cfg.Backups.Create)
	backups.Get("/expiring", cfg.Backups.Expiring)
	backups.Get("/:id", cfg.Backups.Get)
	backups.Put("/:id", admin, cfg.Backups.Update)
	backups.Post("/:id/deactivate", admin, cfg.Backups.Deactivate)
	backups.Get("/:id/logs", cfg.Backups.Logs)

	api.Get("/assignees/:role/:id/effective", cfg.Assignees.Effective)

	api.Post("/sweep", admin, cfg.Sweep.Run)
}
