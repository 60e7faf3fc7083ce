// Package sla derives deadlines and escalation trigger instants from SLA
// policies. It holds no state.
package sla

import (
	"time"

	"github.com/spec-kit/servicedesk-engine/internal/calendar"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// ComputeDeadlines returns the response and resolution due instants for a
// ticket created at createdAt. Operational-hours policies walk the calendar,
// others use wall-clock addition. The result has epoch 1.
func ComputeDeadlines(policy domain.SLAPolicy, profile *domain.WorkingHoursProfile, createdAt time.Time) (domain.Deadline, error) {
	if err := policy.Validate(); err != nil {
		return domain.Deadline{}, err
	}

	deadline := domain.Deadline{
		PolicyID: policy.ID,
		Priority: policy.Priority,
		Epoch:    1,
	}

	if !policy.OperationalHoursOnly {
		deadline.ResponseDueAt = createdAt.Add(policy.Response.Duration())
		deadline.ResolutionDueAt = createdAt.Add(policy.Resolution.Duration())
		return deadline, nil
	}

	var err error
	deadline.ResponseDueAt, err = calendar.AddWorkingDuration(profile, createdAt, policy.Response.Duration())
	if err != nil {
		return domain.Deadline{}, err
	}
	deadline.ResolutionDueAt, err = calendar.AddWorkingDuration(profile, createdAt, policy.Resolution.Duration())
	if err != nil {
		return domain.Deadline{}, err
	}
	return deadline, nil
}

// Classify returns the SLA state of a deadline at now. A ticket is at risk
// once less than atRisk remains before resolution is due.
func Classify(deadline domain.Deadline, now time.Time, atRisk time.Duration) domain.SLAStatus {
	remaining := deadline.ResolutionDueAt.Sub(now)
	state := domain.SLAStateOnTrack
	switch {
	case remaining < 0:
		state = domain.SLAStateBreached
		remaining = 0
	case remaining <= atRisk:
		state = domain.SLAStateAtRisk
	}
	return domain.SLAStatus{
		TicketID:        deadline.TicketID,
		State:           state,
		ResponseDueAt:   deadline.ResponseDueAt,
		ResolutionDueAt: deadline.ResolutionDueAt,
		Remaining:       remaining,
		EvaluatedAt:     now,
	}
}
