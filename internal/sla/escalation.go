package sla

import (
	"sort"
	"time"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// Trigger is the instant an escalation level becomes due.
type Trigger struct {
	Level   int
	At      time.Time
	Targets []string
}

// TriggerTimes returns one trigger per enabled level, ordered by level.
// Levels are independent: a later level may trigger before an earlier one.
func TriggerTimes(policy domain.SLAPolicy, resolutionDueAt time.Time) []Trigger {
	triggers := make([]Trigger, 0, len(policy.Escalations))
	for _, lvl := range policy.Escalations {
		if !lvl.Enabled {
			continue
		}
		triggers = append(triggers, Trigger{
			Level:   lvl.Level,
			At:      lvl.TriggerAt(resolutionDueAt),
			Targets: append([]string(nil), lvl.Targets...),
		})
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].Level < triggers[j].Level })
	return triggers
}

// DueLevels filters triggers reached at now that have no fire record.
func DueLevels(triggers []Trigger, fired map[int]struct{}, now time.Time) []Trigger {
	var due []Trigger
	for _, tr := range triggers {
		if now.Before(tr.At) {
			continue
		}
		if _, ok := fired[tr.Level]; ok {
			continue
		}
		due = append(due, tr)
	}
	return due
}
