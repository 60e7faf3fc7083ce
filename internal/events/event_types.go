package events

import (
	"time"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventEscalationFired  EventType = "escalation_fired"
	EventItemsReassigned  EventType = "items_reassigned"
	EventDeadlineComputed EventType = "deadline_computed"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string      `json:"id"`
	Type      EventType   `json:"type"`
	TicketID  string      `json:"ticket_id,omitempty"`
	ActorID   *string     `json:"actor_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// EscalationFiredPayload payload.
type EscalationFiredPayload struct {
	Level   int      `json:"level"`
	Targets []string `json:"targets"`
}

// ItemsReassignedPayload payload.
type ItemsReassignedPayload struct {
	Role   domain.BackupRole `json:"role"`
	Items  []string          `json:"items"`
	FromID string            `json:"from_id"`
	ToID   string            `json:"to_id"`
	Reason string            `json:"reason"`
}

// DeadlineComputedPayload payload.
type DeadlineComputedPayload struct {
	Priority        domain.TicketPriority `json:"priority"`
	ResponseDueAt   time.Time             `json:"response_due_at"`
	ResolutionDueAt time.Time             `json:"resolution_due_at"`
	Epoch           int                   `json:"epoch"`
}
