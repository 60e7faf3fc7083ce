package domain

import "time"

// TicketStatus enumerates lifecycle states for tickets.
type TicketStatus string

const (
	TicketStatusOpen     TicketStatus = "open"
	TicketStatusOnHold   TicketStatus = "on_hold"
	TicketStatusResolved TicketStatus = "resolved"
	TicketStatusClosed   TicketStatus = "closed"
)

// InFlight reports whether work on the ticket is still pending.
func (s TicketStatus) InFlight() bool {
	return s == TicketStatusOpen || s == TicketStatusOnHold
}

// TicketPriority enumerates SLA urgency.
type TicketPriority string

const (
	TicketPriorityLow    TicketPriority = "low"
	TicketPriorityMedium TicketPriority = "medium"
	TicketPriorityHigh   TicketPriority = "high"
	TicketPriorityTop    TicketPriority = "top"
)

func (p TicketPriority) Valid() bool {
	switch p {
	case TicketPriorityLow, TicketPriorityMedium, TicketPriorityHigh, TicketPriorityTop:
		return true
	}
	return false
}

// Ticket is the externally owned work item the engine reads and reassigns.
type Ticket struct {
	ID        string
	Priority  TicketPriority
	Status    TicketStatus
	OwnerID   *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WorkItem is something owned by an assignee that a backup config can divert:
// a ticket for technicians, a pending approval for approvers.
type WorkItem struct {
	ID       string
	TicketID string
	OwnerID  string
	Status   TicketStatus
}
