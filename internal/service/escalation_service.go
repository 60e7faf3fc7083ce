package service

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/clock"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	"github.com/spec-kit/servicedesk-engine/internal/sla"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// DueEscalations lists the levels of a ticket that should fire in an epoch.
type DueEscalations struct {
	TicketID string
	Epoch    int
	Levels   []sla.Trigger
}

// LevelNumbers returns the due level numbers in order.
func (d DueEscalations) LevelNumbers() []int {
	out := make([]int, 0, len(d.Levels))
	for _, l := range d.Levels {
		out = append(out, l.Level)
	}
	return out
}

// EscalationService decides which escalation levels are due and records
// that they fired.
type EscalationService struct {
	tickets     repository.WorkItemRepository
	policies    repository.PolicyRepository
	deadlines   repository.DeadlineRepository
	fireRecords repository.FireRecordRepository
	notifier    NotificationSink
	clock       clock.Clock
	logger      *zap.Logger
	metrics     *observability.Metrics
}

// EscalationDependencies bundles collaborators.
type EscalationDependencies struct {
	TicketRepo     repository.WorkItemRepository
	PolicyRepo     repository.PolicyRepository
	DeadlineRepo   repository.DeadlineRepository
	FireRecordRepo repository.FireRecordRepository
	Notifier       NotificationSink
	Clock          clock.Clock
	Logger         *zap.Logger
	Metrics        *observability.Metrics
}

// NewEscalationService creates the service.
func NewEscalationService(deps EscalationDependencies) *EscalationService {
	s := &EscalationService{
		tickets:     deps.TicketRepo,
		policies:    deps.PolicyRepo,
		deadlines:   deps.DeadlineRepo,
		fireRecords: deps.FireRecordRepo,
		notifier:    deps.Notifier,
		clock:       deps.Clock,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return s
}

// DueLevels returns the levels with a trigger instant at or before now and
// no fire record in the current epoch. It does not mark anything, so
// repeated calls return the same levels. Tickets that are no longer in
// flight have nothing due.
func (s *EscalationService) DueLevels(ctx context.Context, ticketID string, now time.Time) (DueEscalations, error) {
	deadline, triggers, err := s.triggers(ctx, ticketID)
	if err != nil {
		return DueEscalations{}, err
	}
	result := DueEscalations{TicketID: ticketID, Epoch: deadline.Epoch}

	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DueEscalations{}, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return DueEscalations{}, apperrors.MapError(err)
	}
	if !ticket.Status.InFlight() {
		return result, nil
	}

	fired, err := s.fireRecords.ListFired(ctx, ticketID, deadline.Epoch)
	if err != nil {
		return DueEscalations{}, apperrors.MapError(err)
	}
	firedSet := make(map[int]struct{}, len(fired))
	for _, rec := range fired {
		firedSet[rec.Level] = struct{}{}
	}
	result.Levels = sla.DueLevels(triggers, firedSet, now)
	return result, nil
}

// MarkFired records that level fired for ticketID in epoch. Exactly one
// caller per (ticket, level, epoch) gets true. A stale epoch reports false.
func (s *EscalationService) MarkFired(ctx context.Context, ticketID string, level, epoch int) (bool, error) {
	deadline, triggers, err := s.triggers(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if epoch != deadline.Epoch {
		s.logger.Info("mark fired for stale epoch ignored",
			zap.String("ticket_id", ticketID),
			zap.Int("level", level),
			zap.Int("epoch", epoch),
			zap.Int("current_epoch", deadline.Epoch))
		return false, nil
	}
	for _, tr := range triggers {
		if tr.Level == level {
			return s.mark(ctx, ticketID, tr, epoch)
		}
	}
	return false, apperrors.NewValidationError("escalation level not enabled for ticket policy",
		map[string]any{"ticket_id": ticketID, "level": level})
}

// FireDue marks and notifies every due level this caller wins. It returns the
// levels it fired.
func (s *EscalationService) FireDue(ctx context.Context, ticketID string, now time.Time) ([]int, error) {
	due, err := s.DueLevels(ctx, ticketID, now)
	if err != nil {
		return nil, err
	}
	var fired []int
	for _, tr := range due.Levels {
		won, err := s.mark(ctx, ticketID, tr, due.Epoch)
		if err != nil {
			return fired, err
		}
		if !won {
			continue
		}
		fired = append(fired, tr.Level)
		s.metrics.Inc(observability.CounterEscalationsFired)
		s.logger.Info("escalation fired",
			zap.String("ticket_id", ticketID),
			zap.Int("level", tr.Level),
			zap.Int("epoch", due.Epoch),
			zap.Time("trigger_at", tr.At))
		if s.notifier != nil {
			s.notifier.NotifyEscalation(ctx, ticketID, tr.Level, tr.Targets)
		}
	}
	return fired, nil
}

func (s *EscalationService) mark(ctx context.Context, ticketID string, tr sla.Trigger, epoch int) (bool, error) {
	won, err := s.fireRecords.TryMark(ctx, domain.EscalationFireRecord{
		TicketID:  ticketID,
		Level:     tr.Level,
		Epoch:     epoch,
		TriggerAt: tr.At,
		FiredAt:   s.clock.Now().UTC(),
	})
	if err != nil {
		return false, apperrors.MapError(err)
	}
	return won, nil
}

func (s *EscalationService) triggers(ctx context.Context, ticketID string) (*domain.Deadline, []sla.Trigger, error) {
	deadline, err := s.deadlines.Get(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.NewNotFound("deadline", map[string]any{"ticket_id": ticketID})
		}
		return nil, nil, apperrors.MapError(err)
	}
	policy, err := s.policies.GetByPriority(ctx, deadline.Priority)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, apperrors.NewConfigurationError("no sla policy for deadline priority",
				map[string]any{"ticket_id": ticketID, "priority": deadline.Priority})
		}
		return nil, nil, apperrors.MapError(err)
	}
	return deadline, sla.TriggerTimes(*policy, deadline.ResolutionDueAt), nil
}
