package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/spec-kit/servicedesk-engine/internal/clock"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

const (
	sweepKey      = "sweep"
	sweepPageSize = 200
)

// SweepReport summarises one sweep run.
type SweepReport struct {
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Skipped          bool      `json:"skipped"`
	TicketsScanned   int       `json:"tickets_scanned"`
	EscalationsFired int       `json:"escalations_fired"`
	ConfigsExpired   int       `json:"configs_expired"`
	ItemsReverted    int       `json:"items_reverted"`
	PartialFailures  int       `json:"partial_failures"`
	Errors           []string  `json:"errors,omitempty"`
}

// SweepCoordinator runs the periodic pass that fires due escalations and
// expires ended backup configs.
type SweepCoordinator struct {
	tickets     repository.WorkItemRepository
	escalations *EscalationService
	registry    *BackupRegistry
	lock        ClusterLock
	clock       clock.Clock
	logger      *zap.Logger
	metrics     *observability.Metrics
	schedule    string
	location    *time.Location

	group singleflight.Group
	cron  *cron.Cron
}

// SweepDependencies bundles collaborators.
type SweepDependencies struct {
	TicketRepo  repository.WorkItemRepository
	Escalations *EscalationService
	Registry    *BackupRegistry
	// Lock keeps the sweep to one replica; nil means single instance.
	Lock     ClusterLock
	Clock    clock.Clock
	Logger   *zap.Logger
	Metrics  *observability.Metrics
	Schedule string
	Location *time.Location
}

// NewSweepCoordinator creates the coordinator.
func NewSweepCoordinator(deps SweepDependencies) *SweepCoordinator {
	s := &SweepCoordinator{
		tickets:     deps.TicketRepo,
		escalations: deps.Escalations,
		registry:    deps.Registry,
		lock:        deps.Lock,
		clock:       deps.Clock,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
		schedule:    deps.Schedule,
		location:    deps.Location,
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.schedule == "" {
		s.schedule = "0 6 * * *"
	}
	if s.location == nil {
		s.location = time.UTC
	}
	return s
}

// RunSweep runs one sweep. Concurrent callers share the in-flight run.
func (s *SweepCoordinator) RunSweep(ctx context.Context) (SweepReport, error) {
	v, err, shared := s.group.Do(sweepKey, func() (interface{}, error) {
		return s.run(ctx)
	})
	if shared {
		s.logger.Debug("sweep result shared with concurrent caller")
	}
	report, _ := v.(SweepReport)
	return report, err
}

func (s *SweepCoordinator) run(ctx context.Context) (SweepReport, error) {
	report := SweepReport{StartedAt: s.clock.Now().UTC()}

	if s.lock != nil {
		release, ok, err := s.lock.TryLock(ctx, sweepKey)
		if err != nil {
			s.metrics.Inc(observability.CounterSweepsFailed)
			return report, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !ok {
			report.Skipped = true
			report.FinishedAt = s.clock.Now().UTC()
			s.metrics.Inc(observability.CounterSweepsSkipped)
			s.logger.Info("sweep already running elsewhere; skipped")
			return report, nil
		}
		defer release()
	}

	var errs []error
	if err := s.fireEscalations(ctx, &report); err != nil {
		errs = append(errs, err)
	}

	backups, err := s.registry.Sweep(ctx)
	report.ConfigsExpired = backups.Processed
	report.ItemsReverted = backups.ItemsReverted
	report.PartialFailures = backups.Partial
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		errs = append(errs, err)
	}

	report.FinishedAt = s.clock.Now().UTC()
	s.metrics.Inc(observability.CounterSweepsRun)
	s.metrics.MarkSweep(report.FinishedAt)
	if len(errs) > 0 {
		s.metrics.Inc(observability.CounterSweepsFailed)
	}
	s.logger.Info("sweep finished",
		zap.Int("tickets_scanned", report.TicketsScanned),
		zap.Int("escalations_fired", report.EscalationsFired),
		zap.Int("configs_expired", report.ConfigsExpired),
		zap.Int("items_reverted", report.ItemsReverted),
		zap.Int("errors", len(report.Errors)),
		zap.Duration("took", report.FinishedAt.Sub(report.StartedAt)))
	return report, errors.Join(errs...)
}

// fireEscalations walks every in-flight ticket. Per-ticket failures are
// recorded in the report and do not stop the walk; only a failure to list
// tickets is returned.
func (s *SweepCoordinator) fireEscalations(ctx context.Context, report *SweepReport) error {
	now := s.clock.Now()
	for offset := 0; ; offset += sweepPageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		tickets, err := s.tickets.ListInFlightTickets(ctx, sweepPageSize, offset)
		if err != nil {
			report.Errors = append(report.Errors, err.Error())
			return fmt.Errorf("list in-flight tickets: %w", err)
		}
		for _, t := range tickets {
			report.TicketsScanned++
			fired, err := s.escalations.FireDue(ctx, t.ID, now)
			report.EscalationsFired += len(fired)
			switch {
			case err == nil:
			case apperrors.IsNotFound(err):
				// No deadline computed for this ticket yet.
			case apperrors.IsConfiguration(err):
				s.logger.Warn("escalation skipped: configuration error", zap.String("ticket_id", t.ID), zap.Error(err))
				report.Errors = append(report.Errors, fmt.Sprintf("ticket %s: %v", t.ID, err))
			default:
				s.logger.Error("escalation failed", zap.String("ticket_id", t.ID), zap.Error(err))
				report.Errors = append(report.Errors, fmt.Sprintf("ticket %s: %v", t.ID, err))
			}
		}
		if len(tickets) < sweepPageSize {
			return nil
		}
	}
}

// Start schedules RunSweep on the cron schedule until ctx ends or Stop is called.
func (s *SweepCoordinator) Start(ctx context.Context) error {
	c := cron.New(cron.WithLocation(s.location))
	_, err := c.AddFunc(s.schedule, func() {
		if _, err := s.RunSweep(ctx); err != nil {
			s.logger.Error("scheduled sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return apperrors.NewConfigurationError("invalid sweep schedule", map[string]any{
			"schedule": s.schedule,
			"error":    err.Error(),
		})
	}
	s.cron = c
	c.Start()
	s.logger.Info("sweep scheduled", zap.String("schedule", s.schedule), zap.String("location", s.location.String()))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *SweepCoordinator) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
}
