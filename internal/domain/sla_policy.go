package domain

import (
	"time"

	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// MaxEscalationLevels is the number of escalation tiers a policy may define.
const MaxEscalationLevels = 4

// Budget is a non-negative days/hours/minutes allowance.
type Budget struct {
	Days    int `json:"days" yaml:"days"`
	Hours   int `json:"hours" yaml:"hours"`
	Minutes int `json:"minutes" yaml:"minutes"`
}

// TotalMinutes normalises the budget to minutes.
func (b Budget) TotalMinutes() int {
	return b.Days*24*60 + b.Hours*60 + b.Minutes
}

func (b Budget) Duration() time.Duration {
	return time.Duration(b.TotalMinutes()) * time.Minute
}

func (b Budget) valid() bool {
	return b.Days >= 0 && b.Hours >= 0 && b.Minutes >= 0
}

// EscalationDirection anchors an escalation offset relative to the resolution due time.
type EscalationDirection string

const (
	EscalateBefore EscalationDirection = "before"
	EscalateAfter  EscalationDirection = "after"
)

// EscalationLevel is one notification/hand-off tier of a policy.
type EscalationLevel struct {
	Level     int                 `json:"level" yaml:"level"`
	Targets   []string            `json:"targets" yaml:"targets"`
	Offset    Budget              `json:"offset" yaml:"offset"`
	Direction EscalationDirection `json:"direction" yaml:"direction"`
	Enabled   bool                `json:"enabled" yaml:"enabled"`
}

// TriggerAt returns the instant the level becomes due.
func (l EscalationLevel) TriggerAt(resolutionDueAt time.Time) time.Time {
	if l.Direction == EscalateBefore {
		return resolutionDueAt.Add(-l.Offset.Duration())
	}
	return resolutionDueAt.Add(l.Offset.Duration())
}

// SLAPolicy holds the response/resolution budgets for one priority tier.
type SLAPolicy struct {
	ID                   string            `json:"id" yaml:"id"`
	Name                 string            `json:"name" yaml:"name"`
	Priority             TicketPriority    `json:"priority" yaml:"priority"`
	Response             Budget            `json:"response" yaml:"response"`
	Resolution           Budget            `json:"resolution" yaml:"resolution"`
	OperationalHoursOnly bool              `json:"operational_hours_only" yaml:"operational_hours_only"`
	Escalations          []EscalationLevel `json:"escalations" yaml:"escalations"`
}

// Validate checks budgets and escalation levels.
func (p SLAPolicy) Validate() error {
	if !p.Priority.Valid() {
		return apperrors.NewValidationError("unknown priority", map[string]any{"priority": p.Priority})
	}
	if !p.Response.valid() || !p.Resolution.valid() {
		return apperrors.NewValidationError("budgets must be non-negative", map[string]any{"policy_id": p.ID})
	}
	if len(p.Escalations) > MaxEscalationLevels {
		return apperrors.NewValidationError("too many escalation levels", map[string]any{
			"policy_id": p.ID,
			"max":       MaxEscalationLevels,
		})
	}
	seen := make(map[int]struct{}, len(p.Escalations))
	for _, lvl := range p.Escalations {
		if lvl.Level < 1 || lvl.Level > MaxEscalationLevels {
			return apperrors.NewValidationError("escalation level out of range", map[string]any{"level": lvl.Level})
		}
		if _, dup := seen[lvl.Level]; dup {
			return apperrors.NewValidationError("duplicate escalation level", map[string]any{"level": lvl.Level})
		}
		seen[lvl.Level] = struct{}{}
		if !lvl.Offset.valid() {
			return apperrors.NewValidationError("escalation offset must be non-negative", map[string]any{"level": lvl.Level})
		}
		if lvl.Enabled && lvl.Direction != EscalateBefore && lvl.Direction != EscalateAfter {
			return apperrors.NewValidationError("escalation direction must be before or after", map[string]any{"level": lvl.Level})
		}
	}
	return nil
}
