package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/observability"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// gatedTickets blocks ticket listing until released and counts the calls.
type gatedTickets struct {
	repository.WorkItemRepository
	calls   atomic.Int32
	entered chan struct{}
	release chan struct{}
}

func (g *gatedTickets) ListInFlightTickets(ctx context.Context, limit, offset int) ([]domain.Ticket, error) {
	if g.calls.Add(1) == 1 {
		close(g.entered)
	}
	<-g.release
	return g.WorkItemRepository.ListInFlightTickets(ctx, limit, offset)
}

type sweepFixture struct {
	*engine
	registry    *registryFixture
	metrics     *observability.Metrics
	coordinator *SweepCoordinator
}

func newSweepFixture(t *testing.T, tickets repository.WorkItemRepository, lock ClusterLock) *sweepFixture {
	t.Helper()
	e := newEngine(fridayEvening)
	if tickets == nil {
		tickets = e.items
	}
	rf := newRegistryFixture(march(1), e.items)
	rf.clock = e.clock
	rf.registry = NewBackupRegistry(BackupDependencies{
		ConfigRepo:    rf.configs,
		DiversionRepo: rf.diversions,
		LogRepo:       rf.logs,
		WorkItemRepo:  e.items,
		Notifier:      rf.notifier,
		Retry:         RetryPolicy{MaxAttempts: 1, InitialInterval: time.Millisecond},
		Clock:         e.clock,
		Location:      time.UTC,
	})
	metrics := observability.NewMetrics()
	return &sweepFixture{
		engine:   e,
		registry: rf,
		metrics:  metrics,
		coordinator: NewSweepCoordinator(SweepDependencies{
			TicketRepo:  tickets,
			Escalations: e.escalations,
			Registry:    rf.registry,
			Lock:        lock,
			Clock:       e.clock,
			Metrics:     metrics,
		}),
	}
}

func TestRunSweep_FiresEscalationsAndExpiresBackups(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t, nil, NewLocalLocker())

	f.items.PutTicket(openTicket("t-1", "tech-a", domain.TicketPriorityHigh, fridayEvening))
	f.items.PutTicket(openTicket("t-no-deadline", "tech-a", domain.TicketPriorityHigh, fridayEvening))
	_, err := f.deadlineSvc.ComputeForTicket(ctx, "t-1")
	require.NoError(t, err)

	f.clock.Set(march(7).At(20*60, time.UTC))
	_, err = f.registry.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(7), march(10), true))
	require.NoError(t, err)
	assert.Equal(t, "tech-b", f.items.Owner(domain.BackupRoleTechnician, "t-1"))

	f.clock.Set(levelTwoAt.Add(time.Minute))
	report, err := f.coordinator.RunSweep(ctx)
	require.NoError(t, err)
	assert.False(t, report.Skipped)
	assert.Equal(t, 2, report.TicketsScanned)
	assert.Equal(t, 2, report.EscalationsFired)
	assert.Equal(t, 1, report.ConfigsExpired)
	assert.Equal(t, 2, report.ItemsReverted)
	assert.Empty(t, report.Errors)
	assert.Equal(t, "tech-a", f.items.Owner(domain.BackupRoleTechnician, "t-1"))

	report, err = f.coordinator.RunSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.EscalationsFired)
	assert.Zero(t, report.ConfigsExpired)

	assert.ElementsMatch(t, []int{1, 2}, f.notifier.escalationLevels("t-1"))
	assert.Equal(t, int64(2), f.metrics.Counter(observability.CounterSweepsRun))
}

func TestRunSweep_ReportsConfigurationErrorsAndContinues(t *testing.T) {
	ctx := context.Background()
	f := newSweepFixture(t, nil, nil)

	f.items.PutTicket(openTicket("t-orphan", "tech-a", domain.TicketPriorityLow, fridayEvening))
	require.NoError(t, f.deadlines.Save(ctx, &domain.Deadline{
		TicketID: "t-orphan", Priority: domain.TicketPriorityLow, ResolutionDueAt: fridayEvening, Epoch: 1,
	}))
	f.items.PutTicket(openTicket("t-1", "tech-a", domain.TicketPriorityHigh, fridayEvening.Add(time.Second)))
	_, err := f.deadlineSvc.ComputeForTicket(ctx, "t-1")
	require.NoError(t, err)

	f.clock.Set(levelTwoAt.Add(time.Minute))
	report, err := f.coordinator.RunSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.EscalationsFired)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "t-orphan")
}

func TestRunSweep_SkipsWhenLockHeldElsewhere(t *testing.T) {
	ctx := context.Background()
	lock := NewLocalLocker()
	f := newSweepFixture(t, nil, lock)

	release, ok, err := lock.TryLock(ctx, sweepKey)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	report, err := f.coordinator.RunSweep(ctx)
	require.NoError(t, err)
	assert.True(t, report.Skipped)
	assert.Equal(t, int64(1), f.metrics.Counter(observability.CounterSweepsSkipped))
}

func TestRunSweep_ConcurrentCallersShareOneRun(t *testing.T) {
	ctx := context.Background()
	gate := &gatedTickets{entered: make(chan struct{}), release: make(chan struct{})}
	f := newSweepFixture(t, gate, nil)
	gate.WorkItemRepository = f.items

	var wg sync.WaitGroup
	reports := make([]SweepReport, 4)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], _ = f.coordinator.RunSweep(ctx)
	}()
	<-gate.entered
	for i := 1; i < len(reports); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reports[i], _ = f.coordinator.RunSweep(ctx)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(gate.release)
	wg.Wait()

	assert.Equal(t, int32(1), gate.calls.Load())
	for _, r := range reports[1:] {
		assert.Equal(t, reports[0].StartedAt, r.StartedAt)
	}
}

func TestStart_RejectsInvalidSchedule(t *testing.T) {
	f := newSweepFixture(t, nil, nil)
	f.coordinator.schedule = "every morning"

	err := f.coordinator.Start(context.Background())
	require.Error(t, err)
	assert.True(t, apperrors.IsConfiguration(err))
}

func TestStartAndStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newSweepFixture(t, nil, nil)

	require.NoError(t, f.coordinator.Start(ctx))
	f.coordinator.Stop()
}
