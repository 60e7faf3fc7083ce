package domain

import "time"

// BackupRole tags which kind of responsibility a backup config substitutes.
type BackupRole string

const (
	BackupRoleTechnician BackupRole = "technician"
	BackupRoleApprover   BackupRole = "approver"
)

func (r BackupRole) Valid() bool {
	return r == BackupRoleTechnician || r == BackupRoleApprover
}

// BackupStatus is derived from the current date and the config window.
type BackupStatus string

const (
	BackupStatusScheduled BackupStatus = "scheduled"
	BackupStatusActive    BackupStatus = "active"
	BackupStatusExpired   BackupStatus = "expired"
)

// BackupAssignmentConfig substitutes BackupAssigneeID for OriginalAssigneeID
// over the inclusive day window [StartDate, EndDate].
type BackupAssignmentConfig struct {
	ID                 string
	Role               BackupRole
	OriginalAssigneeID string
	BackupAssigneeID   string
	StartDate          Date
	EndDate            Date
	DivertExisting     bool
	Reason             string
	IsActive           bool
	// ProcessedAt is set once the sweep has reverted an expired config.
	ProcessedAt *time.Time
	CreatedBy   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Status derives the lifecycle state for the given day.
func (c BackupAssignmentConfig) Status(today Date) BackupStatus {
	switch {
	case today.Before(c.StartDate):
		return BackupStatusScheduled
	case today.After(c.EndDate):
		return BackupStatusExpired
	default:
		return BackupStatusActive
	}
}

// Overlaps reports whether both configs cover the same original assignee on
// at least one common day. Windows are closed intervals.
func (c BackupAssignmentConfig) Overlaps(o BackupAssignmentConfig) bool {
	if c.Role != o.Role || c.OriginalAssigneeID != o.OriginalAssigneeID {
		return false
	}
	return !c.StartDate.After(o.EndDate) && !o.StartDate.After(c.EndDate)
}

// DaysRemaining counts days until the window starts (scheduled) or ends
// (active). Always non-negative.
func (c BackupAssignmentConfig) DaysRemaining(today Date) int {
	switch c.Status(today) {
	case BackupStatusScheduled:
		return today.DaysUntil(c.StartDate)
	case BackupStatusActive:
		return today.DaysUntil(c.EndDate) + 1
	default:
		return 0
	}
}

// Diversion records an item moved to a backup under a config.
type Diversion struct {
	ConfigID   string
	ItemID     string
	FromID     string
	ToID       string
	DivertedAt time.Time
	RevertedAt *time.Time
}
