package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/clock"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// BackupInput describes a backup config to create or the new state of one
// being updated.
type BackupInput struct {
	Role               domain.BackupRole
	OriginalAssigneeID string
	BackupAssigneeID   string
	StartDate          domain.Date
	EndDate            domain.Date
	DivertExisting     bool
	Reason             string
}

// BackupSweepResult summarises one reversion pass.
type BackupSweepResult struct {
	Processed     int
	ItemsReverted int
	Partial       int
}

// BackupRegistry manages backup assignment configs for both roles.
type BackupRegistry struct {
	configs    repository.BackupConfigRepository
	diversions repository.DiversionRepository
	logs       repository.ReassignmentLogRepository
	items      repository.WorkItemRepository
	notifier   NotificationSink
	locker     AssigneeLocker
	retry      RetryPolicy
	clock      clock.Clock
	location   *time.Location
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// BackupDependencies bundles collaborators.
type BackupDependencies struct {
	ConfigRepo    repository.BackupConfigRepository
	DiversionRepo repository.DiversionRepository
	LogRepo       repository.ReassignmentLogRepository
	WorkItemRepo  repository.WorkItemRepository
	Notifier      NotificationSink
	Locker        AssigneeLocker
	Retry         RetryPolicy
	Clock         clock.Clock
	// Location decides which calendar day "today" is.
	Location *time.Location
	Logger   *zap.Logger
	Metrics  *observability.Metrics
}

// NewBackupRegistry creates the registry.
func NewBackupRegistry(deps BackupDependencies) *BackupRegistry {
	r := &BackupRegistry{
		configs:    deps.ConfigRepo,
		diversions: deps.DiversionRepo,
		logs:       deps.LogRepo,
		items:      deps.WorkItemRepo,
		notifier:   deps.Notifier,
		locker:     deps.Locker,
		retry:      deps.Retry,
		clock:      deps.Clock,
		location:   deps.Location,
		logger:     deps.Logger,
		metrics:    deps.Metrics,
	}
	if r.locker == nil {
		r.locker = NewLocalLocker()
	}
	if r.clock == nil {
		r.clock = clock.System()
	}
	if r.location == nil {
		r.location = time.UTC
	}
	if r.logger == nil {
		r.logger = zap.NewNop()
	}
	return r
}

// Today returns the current calendar day in the registry's time zone.
func (r *BackupRegistry) Today() domain.Date {
	return domain.DateOf(r.clock.Now(), r.location)
}

// Create validates and stores a new config. When DivertExisting is set and
// the window covers today, the original's in-flight items move to the backup.
func (r *BackupRegistry) Create(ctx context.Context, actorID *string, in BackupInput) (*domain.BackupAssignmentConfig, error) {
	today := r.Today()
	if err := validateBackupInput(in, today); err != nil {
		return nil, err
	}

	unlock, err := lockKeys(ctx, r.locker, assigneeLockKey(in.Role, in.OriginalAssigneeID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := r.clock.Now().UTC()
	cfg := &domain.BackupAssignmentConfig{
		ID:                 uuid.NewString(),
		Role:               in.Role,
		OriginalAssigneeID: in.OriginalAssigneeID,
		BackupAssigneeID:   in.BackupAssigneeID,
		StartDate:          in.StartDate,
		EndDate:            in.EndDate,
		DivertExisting:     in.DivertExisting,
		Reason:             strings.TrimSpace(in.Reason),
		IsActive:           true,
		CreatedBy:          actorID,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := r.checkOverlap(ctx, cfg); err != nil {
		return nil, err
	}
	if err := r.configs.Create(ctx, cfg); err != nil {
		return nil, r.writeError(ctx, cfg, err)
	}

	entry := r.newLogEntry(cfg, domain.ReassignmentCreated, actorID, cfg.Reason)
	if cfg.DivertExisting && cfg.Status(today) == domain.BackupStatusActive {
		result := r.divert(ctx, cfg)
		result.apply(entry)
		r.notifyMoved(ctx, cfg.Role, result.moved, cfg.OriginalAssigneeID, cfg.BackupAssigneeID, divertReason(cfg))
	}
	r.appendLog(ctx, entry)

	r.logger.Info("backup config created",
		zap.String("config_id", cfg.ID),
		zap.String("role", string(cfg.Role)),
		zap.String("original_id", cfg.OriginalAssigneeID),
		zap.String("backup_id", cfg.BackupAssigneeID),
		zap.Int("diverted", entry.AffectedCount))
	return cfg, nil
}

// Update replaces the mutable fields of an active config. Items already
// diverted under it stay with the backup they were diverted to.
func (r *BackupRegistry) Update(ctx context.Context, actorID *string, role domain.BackupRole, id string, in BackupInput) (*domain.BackupAssignmentConfig, error) {
	in.Role = role
	today := r.Today()
	if err := validateBackupInput(in, today); err != nil {
		return nil, err
	}

	current, err := r.Get(ctx, role, id)
	if err != nil {
		return nil, err
	}
	unlock, err := lockKeys(ctx, r.locker,
		assigneeLockKey(role, current.OriginalAssigneeID),
		assigneeLockKey(role, in.OriginalAssigneeID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Re-read under the lock.
	cfg, err := r.Get(ctx, role, id)
	if err != nil {
		return nil, err
	}
	if !cfg.IsActive {
		return nil, apperrors.NewValidationError("inactive backup config cannot be updated",
			map[string]any{"config_id": id})
	}

	cfg.OriginalAssigneeID = in.OriginalAssigneeID
	cfg.BackupAssigneeID = in.BackupAssigneeID
	cfg.StartDate = in.StartDate
	cfg.EndDate = in.EndDate
	cfg.DivertExisting = in.DivertExisting
	cfg.Reason = strings.TrimSpace(in.Reason)
	cfg.UpdatedAt = r.clock.Now().UTC()

	if err := r.checkOverlap(ctx, cfg); err != nil {
		return nil, err
	}
	if err := r.configs.Update(ctx, cfg); err != nil {
		return nil, r.writeError(ctx, cfg, err)
	}
	r.appendLog(ctx, r.newLogEntry(cfg, domain.ReassignmentUpdated, actorID, cfg.Reason))
	return cfg, nil
}

// Deactivate ends a config early and hands diverted items back. Deactivating
// an inactive config is a no-op.
func (r *BackupRegistry) Deactivate(ctx context.Context, actorID *string, role domain.BackupRole, id, reason string) (*domain.BackupAssignmentConfig, error) {
	current, err := r.Get(ctx, role, id)
	if err != nil {
		return nil, err
	}
	unlock, err := lockKeys(ctx, r.locker, assigneeLockKey(role, current.OriginalAssigneeID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	cfg, err := r.Get(ctx, role, id)
	if err != nil {
		return nil, err
	}
	if !cfg.IsActive {
		return cfg, nil
	}

	reason = strings.TrimSpace(reason)
	entry := r.newLogEntry(cfg, domain.ReassignmentDeactivated, actorID, reason)
	if cfg.Status(r.Today()) != domain.BackupStatusScheduled {
		result := r.revert(ctx, cfg)
		result.apply(entry)
		r.notifyMoved(ctx, cfg.Role, result.moved, cfg.BackupAssigneeID, cfg.OriginalAssigneeID, revertReason(cfg, reason))
	}

	now := r.clock.Now().UTC()
	cfg.IsActive = false
	cfg.ProcessedAt = &now
	cfg.UpdatedAt = now
	if err := r.configs.Update(ctx, cfg); err != nil {
		return nil, apperrors.MapError(err)
	}
	r.appendLog(ctx, entry)

	r.logger.Info("backup config deactivated",
		zap.String("config_id", cfg.ID),
		zap.Int("reverted", entry.AffectedCount),
		zap.Bool("partial_failure", entry.PartialFailure))
	return cfg, nil
}

// Sweep reverts every active config whose window ended before today and
// marks it processed. Running it again finds nothing to do.
func (r *BackupRegistry) Sweep(ctx context.Context) (BackupSweepResult, error) {
	today := r.Today()
	expired, err := r.configs.ListExpiredUnprocessed(ctx, today)
	if err != nil {
		return BackupSweepResult{}, apperrors.MapError(err)
	}

	var (
		result BackupSweepResult
		errs   []error
	)
	for _, candidate := range expired {
		reverted, partial, done, err := r.expire(ctx, candidate.Role, candidate.ID, candidate.OriginalAssigneeID)
		if err != nil {
			r.logger.Error("backup reversion failed", zap.String("config_id", candidate.ID), zap.Error(err))
			errs = append(errs, fmt.Errorf("config %s: %w", candidate.ID, err))
			continue
		}
		if !done {
			continue
		}
		result.Processed++
		result.ItemsReverted += reverted
		if partial {
			result.Partial++
		}
	}
	return result, errors.Join(errs...)
}

func (r *BackupRegistry) expire(ctx context.Context, role domain.BackupRole, id, originalID string) (int, bool, bool, error) {
	unlock, err := lockKeys(ctx, r.locker, assigneeLockKey(role, originalID))
	if err != nil {
		return 0, false, false, err
	}
	defer unlock()

	cfg, err := r.configs.GetByID(ctx, id)
	if err != nil {
		return 0, false, false, err
	}
	today := r.Today()
	if !cfg.IsActive || cfg.ProcessedAt != nil || cfg.Status(today) != domain.BackupStatusExpired {
		return 0, false, false, nil
	}

	entry := r.newLogEntry(cfg, domain.ReassignmentAutoReversion, nil, "backup window ended")
	result := r.revert(ctx, cfg)
	result.apply(entry)
	r.notifyMoved(ctx, cfg.Role, result.moved, cfg.BackupAssigneeID, cfg.OriginalAssigneeID, revertReason(cfg, "backup window ended"))

	now := r.clock.Now().UTC()
	cfg.IsActive = false
	cfg.ProcessedAt = &now
	cfg.UpdatedAt = now
	if err := r.configs.Update(ctx, cfg); err != nil {
		return 0, false, false, err
	}
	r.appendLog(ctx, entry)

	r.logger.Info("backup config expired",
		zap.String("config_id", cfg.ID),
		zap.Int("reverted", entry.AffectedCount),
		zap.Bool("partial_failure", entry.PartialFailure))
	return entry.AffectedCount, entry.PartialFailure, true, nil
}

// Get returns a config of the given role.
func (r *BackupRegistry) Get(ctx context.Context, role domain.BackupRole, id string) (*domain.BackupAssignmentConfig, error) {
	if !role.Valid() {
		return nil, apperrors.NewValidationError("unknown backup role", map[string]any{"role": role})
	}
	cfg, err := r.configs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("backup config", map[string]any{"config_id": id})
		}
		return nil, apperrors.MapError(err)
	}
	if cfg.Role != role {
		return nil, apperrors.NewNotFound("backup config", map[string]any{"config_id": id})
	}
	return cfg, nil
}

// List returns every config of a role, newest first.
func (r *BackupRegistry) List(ctx context.Context, role domain.BackupRole) ([]domain.BackupAssignmentConfig, error) {
	if !role.Valid() {
		return nil, apperrors.NewValidationError("unknown backup role", map[string]any{"role": role})
	}
	configs, err := r.configs.List(ctx, role)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return configs, nil
}

// Logs returns the audit trail of a config in append order.
func (r *BackupRegistry) Logs(ctx context.Context, role domain.BackupRole, id string) ([]domain.ReassignmentLogEntry, error) {
	if _, err := r.Get(ctx, role, id); err != nil {
		return nil, err
	}
	entries, err := r.logs.ListByConfig(ctx, id)
	if err != nil {
		return nil, apperrors.MapError(err)
	}
	return entries, nil
}

// UpcomingExpirations returns active configs ending within the next days.
func (r *BackupRegistry) UpcomingExpirations(ctx context.Context, role domain.BackupRole, days int) ([]domain.BackupAssignmentConfig, error) {
	if days < 0 {
		return nil, apperrors.NewValidationError("days must not be negative", map[string]any{"days": days})
	}
	configs, err := r.List(ctx, role)
	if err != nil {
		return nil, err
	}
	today := r.Today()
	horizon := today.AddDays(days)
	var result []domain.BackupAssignmentConfig
	for _, c := range configs {
		if c.IsActive && c.Status(today) == domain.BackupStatusActive && !c.EndDate.After(horizon) {
			result = append(result, c)
		}
	}
	return result, nil
}

func validateBackupInput(in BackupInput, today domain.Date) error {
	details := map[string]any{}
	switch {
	case !in.Role.Valid():
		details["role"] = "must be technician or approver"
	case strings.TrimSpace(in.OriginalAssigneeID) == "":
		details["original_assignee_id"] = "required"
	case strings.TrimSpace(in.BackupAssigneeID) == "":
		details["backup_assignee_id"] = "required"
	case in.OriginalAssigneeID == in.BackupAssigneeID:
		details["backup_assignee_id"] = "must differ from original_assignee_id"
	case in.StartDate.IsZero() || in.EndDate.IsZero():
		details["dates"] = "start_date and end_date are required"
	case in.EndDate.Before(in.StartDate):
		details["end_date"] = "must not be before start_date"
	case in.EndDate.Before(today):
		details["end_date"] = "must not be in the past"
	}
	if len(details) > 0 {
		return apperrors.NewValidationError("invalid backup config", details)
	}
	return nil
}

// checkOverlap rejects cfg when another active config of the same role and
// original shares a day with it.
func (r *BackupRegistry) checkOverlap(ctx context.Context, cfg *domain.BackupAssignmentConfig) error {
	existing, err := r.configs.ListActiveByOriginal(ctx, cfg.Role, cfg.OriginalAssigneeID)
	if err != nil {
		return apperrors.MapError(err)
	}
	for _, other := range existing {
		if other.ID == cfg.ID {
			continue
		}
		if cfg.Overlaps(other) {
			return overlapConflict(other)
		}
	}
	return nil
}

// writeError maps a store rejection. An overlap caught only by the store
// means another replica won the race; report its window when we can see it.
func (r *BackupRegistry) writeError(ctx context.Context, cfg *domain.BackupAssignmentConfig, err error) error {
	if !errors.Is(err, repository.ErrOverlap) {
		return apperrors.MapError(err)
	}
	if conflict := r.checkOverlap(ctx, cfg); conflict != nil {
		return conflict
	}
	return apperrors.NewConflict("backup window overlaps an active config", nil)
}

func overlapConflict(other domain.BackupAssignmentConfig) error {
	return apperrors.NewConflict("backup window overlaps an active config", map[string]any{
		"config_id":  other.ID,
		"start_date": other.StartDate.String(),
		"end_date":   other.EndDate.String(),
	})
}

type transferResult struct {
	moved   []string
	failed  []string
	partial bool
}

func (t transferResult) apply(entry *domain.ReassignmentLogEntry) {
	entry.AffectedCount = len(t.moved)
	entry.FailedItems = t.failed
	entry.PartialFailure = t.partial
}

// divert moves the original's in-flight items to the backup and records each
// move so it can be undone later.
func (r *BackupRegistry) divert(ctx context.Context, cfg *domain.BackupAssignmentConfig) transferResult {
	var result transferResult
	var items []domain.WorkItem
	err := r.retry.Do(ctx, func() error {
		var err error
		items, err = r.items.ListOpenOrOnHoldByOwner(ctx, cfg.Role, cfg.OriginalAssigneeID)
		return err
	})
	if err != nil {
		r.logger.Error("list items to divert failed", zap.String("config_id", cfg.ID), zap.Error(err))
		result.partial = true
		return result
	}

	for _, item := range items {
		var moved bool
		err := r.retry.Do(ctx, func() error {
			var err error
			moved, err = r.items.SetOwner(ctx, cfg.Role, item.ID, cfg.OriginalAssigneeID, cfg.BackupAssigneeID)
			return err
		})
		if err != nil {
			r.itemFailed(&result, cfg, item.ID, "divert", err)
			continue
		}
		if !moved {
			continue
		}
		err = r.retry.Do(ctx, func() error {
			return r.diversions.Record(ctx, domain.Diversion{
				ConfigID:   cfg.ID,
				ItemID:     item.ID,
				FromID:     cfg.OriginalAssigneeID,
				ToID:       cfg.BackupAssigneeID,
				DivertedAt: r.clock.Now().UTC(),
			})
		})
		if err != nil {
			r.itemFailed(&result, cfg, item.ID, "record diversion", err)
		}
		result.moved = append(result.moved, item.ID)
	}
	r.metrics.Add(observability.CounterItemsDiverted, len(result.moved))
	return result
}

// revert hands every pending diversion back to the assignee it came from.
// Items that were closed or reassigned since are settled without a move.
func (r *BackupRegistry) revert(ctx context.Context, cfg *domain.BackupAssignmentConfig) transferResult {
	var result transferResult
	var pending []domain.Diversion
	err := r.retry.Do(ctx, func() error {
		var err error
		pending, err = r.diversions.ListPending(ctx, cfg.ID)
		return err
	})
	if err != nil {
		r.logger.Error("list diversions failed", zap.String("config_id", cfg.ID), zap.Error(err))
		result.partial = true
		return result
	}

	for _, d := range pending {
		var moved bool
		err := r.retry.Do(ctx, func() error {
			var err error
			moved, err = r.items.SetOwner(ctx, cfg.Role, d.ItemID, d.ToID, d.FromID)
			return err
		})
		if err != nil {
			r.itemFailed(&result, cfg, d.ItemID, "revert", err)
			continue
		}
		err = r.retry.Do(ctx, func() error {
			return r.diversions.MarkReverted(ctx, cfg.ID, d.ItemID, r.clock.Now().UTC())
		})
		if err != nil {
			r.itemFailed(&result, cfg, d.ItemID, "mark reverted", err)
		}
		if moved {
			result.moved = append(result.moved, d.ItemID)
		}
	}
	r.metrics.Add(observability.CounterItemsReverted, len(result.moved))
	return result
}

func (r *BackupRegistry) itemFailed(result *transferResult, cfg *domain.BackupAssignmentConfig, itemID, op string, err error) {
	result.partial = true
	result.failed = append(result.failed, itemID)
	r.metrics.Inc(observability.CounterItemFailures)
	r.logger.Warn("item transfer failed",
		zap.String("config_id", cfg.ID),
		zap.String("item_id", itemID),
		zap.String("op", op),
		zap.Error(err))
}

func (r *BackupRegistry) newLogEntry(cfg *domain.BackupAssignmentConfig, action domain.ReassignmentAction, actorID *string, reason string) *domain.ReassignmentLogEntry {
	return &domain.ReassignmentLogEntry{
		ConfigID:   cfg.ID,
		Role:       cfg.Role,
		OriginalID: cfg.OriginalAssigneeID,
		BackupID:   cfg.BackupAssigneeID,
		Action:     action,
		Timestamp:  r.clock.Now().UTC(),
		ActorID:    actorID,
		Reason:     reason,
	}
}

// appendLog writes an audit entry. The config transition has already
// happened, so a failed append is logged rather than returned.
func (r *BackupRegistry) appendLog(ctx context.Context, entry *domain.ReassignmentLogEntry) {
	err := r.retry.Do(ctx, func() error {
		return r.logs.Append(ctx, entry)
	})
	if err != nil {
		r.logger.Error("append reassignment log failed",
			zap.String("config_id", entry.ConfigID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
}

func (r *BackupRegistry) notifyMoved(ctx context.Context, role domain.BackupRole, items []string, fromID, toID, reason string) {
	if r.notifier == nil || len(items) == 0 {
		return
	}
	r.notifier.NotifyReassignment(ctx, role, items, fromID, toID, reason)
}

func divertReason(cfg *domain.BackupAssignmentConfig) string {
	if cfg.Reason != "" {
		return cfg.Reason
	}
	return fmt.Sprintf("backup %s to %s", cfg.StartDate, cfg.EndDate)
}

func revertReason(cfg *domain.BackupAssignmentConfig, reason string) string {
	if reason != "" {
		return reason
	}
	return fmt.Sprintf("backup %s to %s ended", cfg.StartDate, cfg.EndDate)
}

func assigneeLockKey(role domain.BackupRole, originalID string) string {
	return "backup:" + string(role) + ":" + originalID
}
