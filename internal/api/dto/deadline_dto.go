package dto

import (
	"time"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/sla"
)

// DeadlinePreviewRequest payload.
type DeadlinePreviewRequest struct {
	Policy    domain.SLAPolicy `json:"policy" validate:"required"`
	CreatedAt time.Time        `json:"created_at" validate:"required"`
}

// PriorityChangeRequest payload.
type PriorityChangeRequest struct {
	Priority domain.TicketPriority `json:"priority" validate:"required,oneof=low medium high top"`
}

// DeadlineResponse payload.
type DeadlineResponse struct {
	TicketID        string                `json:"ticket_id,omitempty"`
	PolicyID        string                `json:"policy_id"`
	Priority        domain.TicketPriority `json:"priority"`
	ResponseDueAt   time.Time             `json:"response_due_at"`
	ResolutionDueAt time.Time             `json:"resolution_due_at"`
	Epoch           int                   `json:"epoch"`
	ComputedAt      *time.Time            `json:"computed_at,omitempty"`
}

// NewDeadlineResponse maps a deadline.
func NewDeadlineResponse(d domain.Deadline) DeadlineResponse {
	resp := DeadlineResponse{
		TicketID:        d.TicketID,
		PolicyID:        d.PolicyID,
		Priority:        d.Priority,
		ResponseDueAt:   d.ResponseDueAt,
		ResolutionDueAt: d.ResolutionDueAt,
		Epoch:           d.Epoch,
	}
	if !d.ComputedAt.IsZero() {
		computed := d.ComputedAt
		resp.ComputedAt = &computed
	}
	return resp
}

// SLAStatusResponse payload.
type SLAStatusResponse struct {
	TicketID         string          `json:"ticket_id"`
	State            domain.SLAState `json:"state"`
	ResponseDueAt    time.Time       `json:"response_due_at"`
	ResolutionDueAt  time.Time       `json:"resolution_due_at"`
	RemainingMinutes int64           `json:"remaining_minutes"`
	EvaluatedAt      time.Time       `json:"evaluated_at"`
}

// NewSLAStatusResponse maps a status.
func NewSLAStatusResponse(s domain.SLAStatus) SLAStatusResponse {
	return SLAStatusResponse{
		TicketID:         s.TicketID,
		State:            s.State,
		ResponseDueAt:    s.ResponseDueAt,
		ResolutionDueAt:  s.ResolutionDueAt,
		RemainingMinutes: int64(s.Remaining / time.Minute),
		EvaluatedAt:      s.EvaluatedAt,
	}
}

// DueLevelResponse payload.
type DueLevelResponse struct {
	Level     int       `json:"level"`
	TriggerAt time.Time `json:"trigger_at"`
	Targets   []string  `json:"targets"`
}

// DueEscalationsResponse payload.
type DueEscalationsResponse struct {
	TicketID string             `json:"ticket_id"`
	Epoch    int                `json:"epoch"`
	Levels   []DueLevelResponse `json:"levels"`
}

// NewDueEscalationsResponse maps due triggers.
func NewDueEscalationsResponse(ticketID string, epoch int, triggers []sla.Trigger) DueEscalationsResponse {
	levels := make([]DueLevelResponse, 0, len(triggers))
	for _, t := range triggers {
		levels = append(levels, DueLevelResponse{Level: t.Level, TriggerAt: t.At, Targets: t.Targets})
	}
	return DueEscalationsResponse{TicketID: ticketID, Epoch: epoch, Levels: levels}
}

// MarkFiredRequest payload.
type MarkFiredRequest struct {
	Epoch int `json:"epoch" validate:"required,min=1"`
}
