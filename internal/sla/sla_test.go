package sla

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

func officeProfile() *domain.WorkingHoursProfile {
	p := &domain.WorkingHoursProfile{Name: "office", Location: time.UTC}
	for wd := time.Monday; wd <= time.Friday; wd++ {
		p.Days[wd] = domain.DaySchedule{Working: true, Open: 8 * 60, Close: 17 * 60}
	}
	p.Days[time.Saturday] = domain.DaySchedule{Working: true, Open: 8 * 60, Close: 12 * 60}
	return p
}

func highPolicy() domain.SLAPolicy {
	return domain.SLAPolicy{
		ID:                   "sla-high",
		Priority:             domain.TicketPriorityHigh,
		Response:             domain.Budget{Hours: 4},
		Resolution:           domain.Budget{Hours: 18},
		OperationalHoursOnly: true,
		Escalations: []domain.EscalationLevel{
			{Level: 2, Targets: []string{"manager"}, Direction: domain.EscalateAfter, Enabled: true},
			{Level: 1, Targets: []string{"lead"}, Offset: domain.Budget{Hours: 2}, Direction: domain.EscalateBefore, Enabled: true},
			{Level: 3, Targets: []string{"director"}, Offset: domain.Budget{Hours: 1}, Direction: domain.EscalateAfter, Enabled: false},
		},
	}
}

var fridayEvening = time.Date(2025, time.March, 7, 19, 57, 0, 0, time.UTC)

func TestComputeDeadlines_OperationalHours(t *testing.T) {
	d, err := ComputeDeadlines(highPolicy(), officeProfile(), fridayEvening)
	require.NoError(t, err)

	assert.Equal(t, "sla-high", d.PolicyID)
	assert.Equal(t, domain.TicketPriorityHigh, d.Priority)
	assert.Equal(t, 1, d.Epoch)
	assert.Equal(t, time.Date(2025, time.March, 8, 12, 0, 0, 0, time.UTC), d.ResponseDueAt)
	assert.Equal(t, time.Date(2025, time.March, 11, 13, 0, 0, 0, time.UTC), d.ResolutionDueAt)
}

func TestComputeDeadlines_WallClock(t *testing.T) {
	policy := highPolicy()
	policy.OperationalHoursOnly = false

	// The profile is not consulted, so an unusable one is fine.
	d, err := ComputeDeadlines(policy, nil, fridayEvening)
	require.NoError(t, err)
	assert.Equal(t, fridayEvening.Add(4*time.Hour), d.ResponseDueAt)
	assert.Equal(t, fridayEvening.Add(18*time.Hour), d.ResolutionDueAt)
}

func TestComputeDeadlines_Errors(t *testing.T) {
	bad := highPolicy()
	bad.Resolution.Hours = -1
	_, err := ComputeDeadlines(bad, officeProfile(), fridayEvening)
	assert.True(t, apperrors.IsValidation(err))

	_, err = ComputeDeadlines(highPolicy(), &domain.WorkingHoursProfile{}, fridayEvening)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestTriggerTimes(t *testing.T) {
	due := time.Date(2025, time.March, 11, 13, 0, 0, 0, time.UTC)

	triggers := TriggerTimes(highPolicy(), due)
	require.Len(t, triggers, 2)
	assert.Equal(t, 1, triggers[0].Level)
	assert.Equal(t, due.Add(-2*time.Hour), triggers[0].At)
	assert.Equal(t, []string{"lead"}, triggers[0].Targets)
	assert.Equal(t, 2, triggers[1].Level)
	assert.Equal(t, due, triggers[1].At)
}

func TestDueLevels(t *testing.T) {
	due := time.Date(2025, time.March, 11, 13, 0, 0, 0, time.UTC)
	triggers := TriggerTimes(highPolicy(), due)

	assert.Empty(t, DueLevels(triggers, nil, due.Add(-3*time.Hour)))

	got := DueLevels(triggers, nil, due.Add(-2*time.Hour))
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Level)

	got = DueLevels(triggers, map[int]struct{}{1: {}}, due)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Level)
}

func TestClassify(t *testing.T) {
	d := domain.Deadline{
		TicketID:        "t-1",
		ResponseDueAt:   time.Date(2025, time.March, 8, 12, 0, 0, 0, time.UTC),
		ResolutionDueAt: time.Date(2025, time.March, 11, 13, 0, 0, 0, time.UTC),
	}

	onTrack := Classify(d, d.ResolutionDueAt.Add(-5*time.Hour), 2*time.Hour)
	assert.Equal(t, domain.SLAStateOnTrack, onTrack.State)
	assert.Equal(t, 5*time.Hour, onTrack.Remaining)

	atRisk := Classify(d, d.ResolutionDueAt.Add(-2*time.Hour), 2*time.Hour)
	assert.Equal(t, domain.SLAStateAtRisk, atRisk.State)

	breached := Classify(d, d.ResolutionDueAt.Add(time.Minute), 2*time.Hour)
	assert.Equal(t, domain.SLAStateBreached, breached.State)
	assert.Zero(t, breached.Remaining)
	assert.Equal(t, "t-1", breached.TicketID)
}
