package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/servicedesk-engine/internal/clock"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/events"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	"github.com/spec-kit/servicedesk-engine/internal/sla"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// DefaultAtRisk is the window before resolution in which a ticket is at risk.
const DefaultAtRisk = 2 * time.Hour

// DeadlineService computes and stores ticket deadlines.
type DeadlineService struct {
	tickets     repository.WorkItemRepository
	policies    repository.PolicyRepository
	deadlines   repository.DeadlineRepository
	fireRecords repository.FireRecordRepository
	profile     *domain.WorkingHoursProfile
	locker      AssigneeLocker
	dispatcher  events.Dispatcher
	clock       clock.Clock
	logger      *zap.Logger
	atRisk      time.Duration
}

// DeadlineDependencies bundles collaborators.
type DeadlineDependencies struct {
	TicketRepo     repository.WorkItemRepository
	PolicyRepo     repository.PolicyRepository
	DeadlineRepo   repository.DeadlineRepository
	FireRecordRepo repository.FireRecordRepository
	Profile        *domain.WorkingHoursProfile
	Locker         AssigneeLocker
	Dispatcher     events.Dispatcher
	Clock          clock.Clock
	Logger         *zap.Logger
	AtRisk         time.Duration
}

// NewDeadlineService creates the service.
func NewDeadlineService(deps DeadlineDependencies) *DeadlineService {
	s := &DeadlineService{
		tickets:     deps.TicketRepo,
		policies:    deps.PolicyRepo,
		deadlines:   deps.DeadlineRepo,
		fireRecords: deps.FireRecordRepo,
		profile:     deps.Profile,
		locker:      deps.Locker,
		dispatcher:  deps.Dispatcher,
		clock:       deps.Clock,
		logger:      deps.Logger,
		atRisk:      deps.AtRisk,
	}
	if s.locker == nil {
		s.locker = NewLocalLocker()
	}
	if s.clock == nil {
		s.clock = clock.System()
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.atRisk <= 0 {
		s.atRisk = DefaultAtRisk
	}
	return s
}

// Profile returns the working-hours profile deadlines are computed against.
func (s *DeadlineService) Profile() *domain.WorkingHoursProfile {
	return s.profile
}

// Preview computes deadlines for a policy without touching any store.
func (s *DeadlineService) Preview(policy domain.SLAPolicy, createdAt time.Time) (domain.Deadline, error) {
	return sla.ComputeDeadlines(policy, s.profile, createdAt)
}

// Get returns the stored deadline of a ticket.
func (s *DeadlineService) Get(ctx context.Context, ticketID string) (*domain.Deadline, error) {
	d, err := s.deadlines.Get(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("deadline", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return d, nil
}

// ComputeForTicket derives and stores the deadline of a ticket. An existing
// deadline is returned unchanged.
func (s *DeadlineService) ComputeForTicket(ctx context.Context, ticketID string) (*domain.Deadline, error) {
	unlock, err := s.locker.Lock(ctx, deadlineLockKey(ticketID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	existing, err := s.deadlines.Get(ctx, ticketID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.MapError(err)
	}

	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	policy, err := s.policies.GetPolicyFor(ctx, ticket)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("sla policy", map[string]any{"priority": ticket.Priority})
		}
		return nil, apperrors.MapError(err)
	}

	deadline, err := s.compute(ticket, *policy, 1)
	if err != nil {
		return nil, err
	}
	if err := s.deadlines.Save(ctx, deadline); err != nil {
		return nil, apperrors.MapError(err)
	}
	s.logger.Info("deadline computed",
		zap.String("ticket_id", ticketID),
		zap.String("policy_id", policy.ID),
		zap.Time("resolution_due_at", deadline.ResolutionDueAt))
	s.publish(ctx, deadline)
	return deadline, nil
}

// RecomputeOnPriorityChange replaces the deadline of a ticket using policy.
// Deadlines stay anchored to the ticket's creation instant. The epoch is
// bumped so fire records of the previous deadline no longer count.
func (s *DeadlineService) RecomputeOnPriorityChange(ctx context.Context, ticketID string, policy domain.SLAPolicy) (*domain.Deadline, error) {
	unlock, err := s.locker.Lock(ctx, deadlineLockKey(ticketID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	ticket, err := s.loadTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	epoch := 1
	prev, err := s.deadlines.Get(ctx, ticketID)
	switch {
	case err == nil:
		epoch = prev.Epoch + 1
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, apperrors.MapError(err)
	}

	deadline, err := s.compute(ticket, policy, epoch)
	if err != nil {
		return nil, err
	}
	if err := s.deadlines.Save(ctx, deadline); err != nil {
		return nil, apperrors.MapError(err)
	}
	if err := s.fireRecords.DeleteBefore(ctx, ticketID, epoch); err != nil {
		// Stale records are already ignored by epoch; cleanup can lag.
		s.logger.Warn("discard stale fire records failed", zap.String("ticket_id", ticketID), zap.Error(err))
	}
	s.logger.Info("deadline recomputed",
		zap.String("ticket_id", ticketID),
		zap.String("priority", string(policy.Priority)),
		zap.Int("epoch", epoch))
	s.publish(ctx, deadline)
	return deadline, nil
}

// RecomputeForPriority looks up the policy of priority and recomputes.
func (s *DeadlineService) RecomputeForPriority(ctx context.Context, ticketID string, priority domain.TicketPriority) (*domain.Deadline, error) {
	if !priority.Valid() {
		return nil, apperrors.NewValidationError("unknown priority", map[string]any{"priority": priority})
	}
	policy, err := s.policies.GetByPriority(ctx, priority)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("sla policy", map[string]any{"priority": priority})
		}
		return nil, apperrors.MapError(err)
	}
	return s.RecomputeOnPriorityChange(ctx, ticketID, *policy)
}

// Status classifies the ticket's deadline at the current time.
func (s *DeadlineService) Status(ctx context.Context, ticketID string) (domain.SLAStatus, error) {
	d, err := s.Get(ctx, ticketID)
	if err != nil {
		return domain.SLAStatus{}, err
	}
	return sla.Classify(*d, s.clock.Now(), s.atRisk), nil
}

func (s *DeadlineService) compute(ticket *domain.Ticket, policy domain.SLAPolicy, epoch int) (*domain.Deadline, error) {
	deadline, err := sla.ComputeDeadlines(policy, s.profile, ticket.CreatedAt)
	if err != nil {
		return nil, err
	}
	deadline.TicketID = ticket.ID
	deadline.Epoch = epoch
	deadline.ComputedAt = s.clock.Now().UTC()
	return &deadline, nil
}

func (s *DeadlineService) loadTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	ticket, err := s.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("ticket", map[string]any{"ticket_id": ticketID})
		}
		return nil, apperrors.MapError(err)
	}
	return ticket, nil
}

func (s *DeadlineService) publish(ctx context.Context, d *domain.Deadline) {
	if s.dispatcher == nil {
		return
	}
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventDeadlineComputed,
		TicketID:  d.TicketID,
		Timestamp: d.ComputedAt,
		Payload: events.DeadlineComputedPayload{
			Priority:        d.Priority,
			ResponseDueAt:   d.ResponseDueAt,
			ResolutionDueAt: d.ResolutionDueAt,
			Epoch:           d.Epoch,
		},
	})
}

func deadlineLockKey(ticketID string) string {
	return "deadline:" + ticketID
}
