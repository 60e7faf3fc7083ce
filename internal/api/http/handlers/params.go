package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"

	"github.com/spec-kit/servicedesk-engine/internal/api/dto"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// pathParam copies a route parameter out of fiber's request buffer, which is
// reused once the handler returns. Values reaching a service may be stored.
func pathParam(c *fiber.Ctx, key string) string {
	return utils.CopyString(c.Params(key))
}

func roleParam(c *fiber.Ctx) (domain.BackupRole, error) {
	role := domain.BackupRole(pathParam(c, "role"))
	if !role.Valid() {
		return "", apperrors.NewValidationError("unknown backup role", map[string]any{"role": string(role)})
	}
	return role, nil
}

// instantQuery reads an optional RFC3339 query parameter, defaulting to now.
func instantQuery(c *fiber.Ctx, key string, now time.Time) (time.Time, error) {
	raw := c.Query(key)
	if raw == "" {
		return now, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperrors.NewValidationError("invalid timestamp", map[string]any{key: "must be RFC3339"})
	}
	return t, nil
}

func intQuery(c *fiber.Ctx, key string, fallback int) (int, error) {
	raw := c.Query(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.NewValidationError("invalid integer", map[string]any{key: raw})
	}
	return v, nil
}

func parseBody(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return apperrors.NewValidationError("invalid payload", map[string]any{"body": err.Error()})
	}
	return dto.Validate(out)
}
