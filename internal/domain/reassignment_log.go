package domain

import "time"

// ReassignmentAction captures what happened to a backup config.
type ReassignmentAction string

const (
	ReassignmentCreated       ReassignmentAction = "created"
	ReassignmentUpdated       ReassignmentAction = "updated"
	ReassignmentDeactivated   ReassignmentAction = "deactivated"
	ReassignmentAutoReversion ReassignmentAction = "auto_reversion"
)

// ReassignmentLogEntry is an immutable audit trail entry.
type ReassignmentLogEntry struct {
	ID             string
	ConfigID       string
	Role           BackupRole
	OriginalID     string
	BackupID       string
	Action         ReassignmentAction
	AffectedCount  int
	PartialFailure bool
	FailedItems    []string
	Timestamp      time.Time
	ActorID        *string
	Reason         string
}
