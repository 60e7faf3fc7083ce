package domain

import "time"

// Deadline is the derived response/resolution schedule of a ticket.
type Deadline struct {
	TicketID        string
	PolicyID        string
	Priority        TicketPriority
	ResponseDueAt   time.Time
	ResolutionDueAt time.Time
	// Epoch increments on every explicit recomputation; fire records of older
	// epochs are stale.
	Epoch      int
	ComputedAt time.Time
}

// EscalationFireRecord marks that a level fired for a ticket in an epoch.
type EscalationFireRecord struct {
	TicketID  string
	Level     int
	Epoch     int
	TriggerAt time.Time
	FiredAt   time.Time
}

// SLAState classifies progress toward the resolution deadline.
type SLAState string

const (
	SLAStateOnTrack  SLAState = "on_track"
	SLAStateAtRisk   SLAState = "at_risk"
	SLAStateBreached SLAState = "breached"
)

// SLAStatus is a point-in-time view of a ticket deadline.
type SLAStatus struct {
	TicketID        string
	State           SLAState
	ResponseDueAt   time.Time
	ResolutionDueAt time.Time
	Remaining       time.Duration
	EvaluatedAt     time.Time
}
