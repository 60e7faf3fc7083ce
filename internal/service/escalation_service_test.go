package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

var (
	levelOneAt = time.Date(2025, time.March, 11, 11, 0, 0, 0, time.UTC)
	levelTwoAt = time.Date(2025, time.March, 11, 13, 0, 0, 0, time.UTC)
)

func engineWithHighTicket(t *testing.T) *engine {
	t.Helper()
	e := newEngine(fridayEvening)
	e.items.PutTicket(openTicket("t-1", "tech-a", domain.TicketPriorityHigh, fridayEvening))
	_, err := e.deadlineSvc.ComputeForTicket(context.Background(), "t-1")
	require.NoError(t, err)
	return e
}

func TestDueLevels_IsStableUntilMarked(t *testing.T) {
	ctx := context.Background()
	e := engineWithHighTicket(t)

	due, err := e.escalations.DueLevels(ctx, "t-1", levelOneAt.Add(-time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due.Levels)

	now := levelOneAt.Add(30 * time.Minute)
	for i := 0; i < 3; i++ {
		due, err = e.escalations.DueLevels(ctx, "t-1", now)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, due.LevelNumbers())
		assert.Equal(t, 1, due.Epoch)
	}

	won, err := e.escalations.MarkFired(ctx, "t-1", 1, 1)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = e.escalations.MarkFired(ctx, "t-1", 1, 1)
	require.NoError(t, err)
	assert.False(t, won, "second mark of the same level and epoch must lose")

	due, err = e.escalations.DueLevels(ctx, "t-1", levelTwoAt)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, due.LevelNumbers())
}

func TestMarkFired_Rejects(t *testing.T) {
	ctx := context.Background()
	e := engineWithHighTicket(t)

	won, err := e.escalations.MarkFired(ctx, "t-1", 1, 7)
	require.NoError(t, err)
	assert.False(t, won, "stale or future epoch is ignored")

	_, err = e.escalations.MarkFired(ctx, "t-1", 3, 1)
	assert.True(t, apperrors.IsValidation(err))

	_, err = e.escalations.MarkFired(ctx, "missing", 1, 1)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestFireDue_ConcurrentCallersNotifyOnce(t *testing.T) {
	ctx := context.Background()
	e := engineWithHighTicket(t)
	now := levelTwoAt.Add(time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.escalations.FireDue(ctx, "t-1", now)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{1, 2}, e.notifier.escalationLevels("t-1"))

	fired, err := e.escalations.FireDue(ctx, "t-1", now.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, fired)
}

func TestFireDue_NotifiesTargets(t *testing.T) {
	ctx := context.Background()
	e := engineWithHighTicket(t)

	fired, err := e.escalations.FireDue(ctx, "t-1", levelOneAt)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, fired)

	require.Len(t, e.notifier.escalations, 1)
	assert.Equal(t, []string{"lead"}, e.notifier.escalations[0].Targets)
}

func TestPriorityChangeReevaluatesFiredLevels(t *testing.T) {
	ctx := context.Background()
	e := engineWithHighTicket(t)
	now := levelTwoAt.Add(time.Minute)

	fired, err := e.escalations.FireDue(ctx, "t-1", now)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, fired)

	d, err := e.deadlineSvc.RecomputeForPriority(ctx, "t-1", domain.TicketPriorityMedium)
	require.NoError(t, err)

	due, err := e.escalations.DueLevels(ctx, "t-1", now)
	require.NoError(t, err)
	assert.Equal(t, 2, due.Epoch)
	assert.Empty(t, due.Levels, "level 1 is not due yet against the new deadline")

	due, err = e.escalations.DueLevels(ctx, "t-1", d.ResolutionDueAt)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, due.LevelNumbers(), "level 1 fires again in the new epoch")

	won, err := e.escalations.MarkFired(ctx, "t-1", 1, 1)
	require.NoError(t, err)
	assert.False(t, won, "marks against the old epoch are stale")
}

func TestDueLevels_ClosedTicketHasNothingDue(t *testing.T) {
	ctx := context.Background()
	e := engineWithHighTicket(t)
	closed := openTicket("t-1", "tech-a", domain.TicketPriorityHigh, fridayEvening)
	closed.Status = domain.TicketStatusResolved
	e.items.PutTicket(closed)

	due, err := e.escalations.DueLevels(ctx, "t-1", levelTwoAt)
	require.NoError(t, err)
	assert.Empty(t, due.Levels)
}

func TestDueLevels_MissingDeadlineOrPolicy(t *testing.T) {
	ctx := context.Background()
	e := newEngine(fridayEvening)
	e.items.PutTicket(openTicket("t-1", "tech-a", domain.TicketPriorityHigh, fridayEvening))

	_, err := e.escalations.DueLevels(ctx, "t-1", levelTwoAt)
	assert.True(t, apperrors.IsNotFound(err))

	require.NoError(t, e.deadlines.Save(ctx, &domain.Deadline{
		TicketID:        "t-1",
		Priority:        domain.TicketPriorityLow,
		ResolutionDueAt: levelTwoAt,
		Epoch:           1,
	}))
	_, err = e.escalations.DueLevels(ctx, "t-1", levelTwoAt)
	assert.True(t, apperrors.IsConfiguration(err))
}
