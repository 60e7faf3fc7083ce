package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// Router answers who should receive new work for an assignee right now.
type Router struct {
	configs  repository.BackupConfigRepository
	location *time.Location
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewRouter builds a router. location decides which calendar day an instant
// falls on.
func NewRouter(configs repository.BackupConfigRepository, location *time.Location, logger *zap.Logger, metrics *observability.Metrics) *Router {
	if location == nil {
		location = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{configs: configs, location: location, logger: logger, metrics: metrics}
}

// EffectiveAssignee returns the backup of ownerID when exactly one active
// config covers now, and ownerID otherwise. More than one match means the
// no-overlap rule was broken in the store and is reported, never resolved.
func (r *Router) EffectiveAssignee(ctx context.Context, role domain.BackupRole, ownerID string, now time.Time) (string, error) {
	if !role.Valid() {
		return "", apperrors.NewValidationError("unknown backup role", map[string]any{"role": role})
	}
	configs, err := r.configs.ListActiveByOriginal(ctx, role, ownerID)
	if err != nil {
		return "", apperrors.MapError(err)
	}

	today := domain.DateOf(now, r.location)
	var matches []domain.BackupAssignmentConfig
	for _, c := range configs {
		if c.IsActive && c.Status(today) == domain.BackupStatusActive {
			matches = append(matches, c)
		}
	}

	switch len(matches) {
	case 0:
		return ownerID, nil
	case 1:
		return matches[0].BackupAssigneeID, nil
	default:
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
		}
		r.metrics.Inc(observability.CounterConsistencyError)
		r.logger.Error("multiple active backup configs",
			zap.String("role", string(role)),
			zap.String("owner_id", ownerID),
			zap.Strings("config_ids", ids))
		return "", apperrors.NewConsistencyError("multiple active backup configs for assignee",
			map[string]any{"owner_id": ownerID, "config_ids": ids})
	}
}
