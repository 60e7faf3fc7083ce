package domain

import "time"

// StaffRole enumerates internal operator roles.
type StaffRole string

const (
	StaffRoleTechnician StaffRole = "TECHNICIAN"
	StaffRoleApprover   StaffRole = "APPROVER"
	StaffRoleAdmin      StaffRole = "ADMIN"
)

// StaffMember is identity metadata for a technician or approver. It is used
// for log entries and messages only, never for authorization decisions.
type StaffMember struct {
	ID        string
	Name      string
	Email     string
	Role      StaffRole
	Active    bool
	CreatedAt time.Time
}

// DisplayName falls back to the id when no name is known.
func (s *StaffMember) DisplayName() string {
	if s == nil {
		return ""
	}
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
