package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
	apperrors "github.com/spec-kit/servicedesk-engine/pkg/util/errorutil"
)

// flakyItems fails every ownership change of one item.
type flakyItems struct {
	*repository.MemoryWorkItems
	failItem string
	attempts atomic.Int32
}

func (f *flakyItems) SetOwner(ctx context.Context, role domain.BackupRole, itemID, fromID, toID string) (bool, error) {
	if itemID == f.failItem {
		f.attempts.Add(1)
		return false, errors.New("ticket store unavailable")
	}
	return f.MemoryWorkItems.SetOwner(ctx, role, itemID, fromID, toID)
}

func seedTechnicianItems(items *repository.MemoryWorkItems) {
	created := march(1).At(8*60, nil)
	items.PutTicket(openTicket("t-1", "tech-a", domain.TicketPriorityHigh, created))
	onHold := openTicket("t-2", "tech-a", domain.TicketPriorityLow, created)
	onHold.Status = domain.TicketStatusOnHold
	items.PutTicket(onHold)
	closed := openTicket("t-3", "tech-a", domain.TicketPriorityLow, created)
	closed.Status = domain.TicketStatusClosed
	items.PutTicket(closed)
	items.PutTicket(openTicket("t-4", "tech-c", domain.TicketPriorityLow, created))
}

func TestCreate_RejectsOverlappingWindows(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(1), nil)

	first, err := f.registry.Create(ctx, ptr("admin"), technicianBackup("tech-a", "tech-b", march(1), march(10), false))
	require.NoError(t, err)
	assert.True(t, first.IsActive)

	_, err = f.registry.Create(ctx, ptr("admin"), technicianBackup("tech-a", "tech-c", march(5), march(15), false))
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	details := apperrors.ToDomainError(err).Details
	assert.Equal(t, first.ID, details["config_id"])
	assert.Equal(t, "2025-03-01", details["start_date"])
	assert.Equal(t, "2025-03-10", details["end_date"])

	_, err = f.registry.Create(ctx, ptr("admin"), technicianBackup("tech-a", "tech-c", march(11), march(20), false))
	require.NoError(t, err)

	approver := technicianBackup("tech-a", "tech-c", march(5), march(15), false)
	approver.Role = domain.BackupRoleApprover
	_, err = f.registry.Create(ctx, nil, approver)
	assert.NoError(t, err, "roles do not share windows")
}

func TestCreate_ValidatesInput(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(5), nil)

	cases := map[string]BackupInput{
		"self substitution": technicianBackup("tech-a", "tech-a", march(5), march(10), false),
		"inverted window":   technicianBackup("tech-a", "tech-b", march(10), march(5), false),
		"ended in the past": technicianBackup("tech-a", "tech-b", march(1), march(4), false),
		"missing backup":    technicianBackup("tech-a", " ", march(5), march(10), false),
		"missing dates":     technicianBackup("tech-a", "tech-b", domain.Date{}, march(10), false),
		"unknown role": {
			Role: "auditor", OriginalAssigneeID: "tech-a", BackupAssigneeID: "tech-b",
			StartDate: march(5), EndDate: march(10),
		},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.registry.Create(ctx, nil, in)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err), "got %v", err)
		})
	}

	started, err := f.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(1), march(5), false))
	require.NoError(t, err, "a window that started earlier but is still running is accepted")
	assert.Equal(t, domain.BackupStatusActive, started.Status(march(5)))
}

func TestCreate_DivertsInFlightItems(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(1), nil)
	seedTechnicianItems(f.items)

	cfg, err := f.registry.Create(ctx, ptr("admin"), technicianBackup("tech-a", "tech-b", march(1), march(10), true))
	require.NoError(t, err)

	assert.Equal(t, "tech-b", f.items.Owner(domain.BackupRoleTechnician, "t-1"))
	assert.Equal(t, "tech-b", f.items.Owner(domain.BackupRoleTechnician, "t-2"))
	assert.Equal(t, "tech-a", f.items.Owner(domain.BackupRoleTechnician, "t-3"), "closed tickets stay put")
	assert.Equal(t, "tech-c", f.items.Owner(domain.BackupRoleTechnician, "t-4"))

	logs, err := f.registry.Logs(ctx, domain.BackupRoleTechnician, cfg.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, domain.ReassignmentCreated, logs[0].Action)
	assert.Equal(t, 2, logs[0].AffectedCount)
	assert.False(t, logs[0].PartialFailure)
	assert.Equal(t, "admin", *logs[0].ActorID)

	calls := f.notifier.reassignmentCalls()
	require.Len(t, calls, 1)
	assert.ElementsMatch(t, []string{"t-1", "t-2"}, calls[0].Items)
	assert.Equal(t, "tech-a", calls[0].FromID)
	assert.Equal(t, "tech-b", calls[0].ToID)
}

func TestCreate_ScheduledWindowDoesNotDivert(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(1), nil)
	seedTechnicianItems(f.items)

	cfg, err := f.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(3), march(10), true))
	require.NoError(t, err)
	assert.Equal(t, "tech-a", f.items.Owner(domain.BackupRoleTechnician, "t-1"))

	logs, err := f.registry.Logs(ctx, domain.BackupRoleTechnician, cfg.ID)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Zero(t, logs[0].AffectedCount)
}

func TestCreate_DivertsApprovals(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(1), nil)
	seedTechnicianItems(f.items)
	f.items.PutApproval(domain.WorkItem{ID: "ap-1", TicketID: "t-1", OwnerID: "appr-a"})
	f.items.PutApproval(domain.WorkItem{ID: "ap-3", TicketID: "t-3", OwnerID: "appr-a"})

	in := technicianBackup("appr-a", "appr-b", march(1), march(2), true)
	in.Role = domain.BackupRoleApprover
	_, err := f.registry.Create(ctx, nil, in)
	require.NoError(t, err)

	assert.Equal(t, "appr-b", f.items.Owner(domain.BackupRoleApprover, "ap-1"))
	assert.Equal(t, "appr-a", f.items.Owner(domain.BackupRoleApprover, "ap-3"), "approvals of closed tickets stay put")
}

func TestDeactivate_RevertsDivertedItems(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(1), nil)
	seedTechnicianItems(f.items)
	cfg, err := f.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(1), march(10), true))
	require.NoError(t, err)

	done, err := f.registry.Deactivate(ctx, ptr("admin"), domain.BackupRoleTechnician, cfg.ID, "back early")
	require.NoError(t, err)
	assert.False(t, done.IsActive)
	assert.NotNil(t, done.ProcessedAt)

	assert.Equal(t, "tech-a", f.items.Owner(domain.BackupRoleTechnician, "t-1"))
	assert.Equal(t, "tech-a", f.items.Owner(domain.BackupRoleTechnician, "t-2"))

	logs, err := f.registry.Logs(ctx, domain.BackupRoleTechnician, cfg.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.ReassignmentDeactivated, logs[1].Action)
	assert.Equal(t, 2, logs[1].AffectedCount)
	assert.Equal(t, "back early", logs[1].Reason)

	again, err := f.registry.Deactivate(ctx, nil, domain.BackupRoleTechnician, cfg.ID, "")
	require.NoError(t, err)
	assert.False(t, again.IsActive)
	logs, err = f.registry.Logs(ctx, domain.BackupRoleTechnician, cfg.ID)
	require.NoError(t, err)
	assert.Len(t, logs, 2, "deactivating twice is a no-op")

	assert.Equal(t, "tech-a", f.items.Owner(domain.BackupRoleTechnician, "t-1"))
}

func TestDeactivate_SkipsItemsThatMovedOn(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(1), nil)
	seedTechnicianItems(f.items)
	cfg, err := f.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(1), march(10), true))
	require.NoError(t, err)

	resolved := openTicket("t-1", "tech-b", domain.TicketPriorityHigh, march(1).At(8*60, nil))
	resolved.Status = domain.TicketStatusResolved
	f.items.PutTicket(resolved)
	f.items.PutTicket(openTicket("t-2", "tech-z", domain.TicketPriorityLow, march(1).At(8*60, nil)))

	_, err = f.registry.Deactivate(ctx, nil, domain.BackupRoleTechnician, cfg.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "tech-b", f.items.Owner(domain.BackupRoleTechnician, "t-1"))
	assert.Equal(t, "tech-z", f.items.Owner(domain.BackupRoleTechnician, "t-2"))

	logs, err := f.registry.Logs(ctx, domain.BackupRoleTechnician, cfg.ID)
	require.NoError(t, err)
	assert.Zero(t, logs[1].AffectedCount)
	assert.False(t, logs[1].PartialFailure)
}

func TestDeactivate_ScheduledConfigMovesNothing(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(1), nil)
	seedTechnicianItems(f.items)
	cfg, err := f.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(5), march(10), true))
	require.NoError(t, err)

	_, err = f.registry.Deactivate(ctx, nil, domain.BackupRoleTechnician, cfg.ID, "cancelled")
	require.NoError(t, err)
	logs, err := f.registry.Logs(ctx, domain.BackupRoleTechnician, cfg.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Zero(t, logs[1].AffectedCount)
}

func TestSweep_RevertsExpiredConfigsOnce(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(1), nil)
	seedTechnicianItems(f.items)
	cfg, err := f.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(1), march(10), true))
	require.NoError(t, err)

	f.setToday(march(10))
	result, err := f.registry.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed, "the last day of the window is still active")

	f.setToday(march(11))
	result, err = f.registry.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, BackupSweepResult{Processed: 1, ItemsReverted: 2}, result)
	assert.Equal(t, "tech-a", f.items.Owner(domain.BackupRoleTechnician, "t-1"))

	result, err = f.registry.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Processed)

	logs, err := f.registry.Logs(ctx, domain.BackupRoleTechnician, cfg.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.ReassignmentAutoReversion, logs[1].Action)
	assert.Nil(t, logs[1].ActorID)

	stored, err := f.registry.Get(ctx, domain.BackupRoleTechnician, cfg.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.NotNil(t, stored.ProcessedAt)
}

func TestSweep_PartialFailureIsRecorded(t *testing.T) {
	ctx := context.Background()
	flaky := &flakyItems{MemoryWorkItems: repositoryWithItems()}
	f := newRegistryFixture(march(1), flaky)

	cfg, err := f.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(1), march(3), true))
	require.NoError(t, err)

	flaky.failItem = "t-2"
	f.setToday(march(4))
	result, err := f.registry.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)
	assert.Equal(t, 1, result.ItemsReverted)
	assert.Equal(t, 1, result.Partial)
	assert.Equal(t, int32(2), flaky.attempts.Load(), "retried up to the attempt limit")

	logs, err := f.registry.Logs(ctx, domain.BackupRoleTechnician, cfg.ID)
	require.NoError(t, err)
	last := logs[len(logs)-1]
	assert.True(t, last.PartialFailure)
	assert.Equal(t, []string{"t-2"}, last.FailedItems)
	assert.Equal(t, "tech-b", flaky.Owner(domain.BackupRoleTechnician, "t-2"))
}

func repositoryWithItems() *repository.MemoryWorkItems {
	items := repository.NewMemoryWorkItems()
	seedTechnicianItems(items)
	return items
}

func TestCreate_ConcurrentOverlapsAdmitOne(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(1), nil)

	var (
		wg        sync.WaitGroup
		created   atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(1+i%3), march(10+i%3), false))
			switch {
			case err == nil:
				created.Add(1)
			case apperrors.IsConflict(err):
				conflicts.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(11), conflicts.Load())
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(1), nil)
	first, err := f.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(1), march(10), false))
	require.NoError(t, err)
	second, err := f.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(11), march(20), false))
	require.NoError(t, err)

	updated, err := f.registry.Update(ctx, ptr("admin"), domain.BackupRoleTechnician, first.ID,
		technicianBackup("tech-a", "tech-c", march(1), march(8), false))
	require.NoError(t, err)
	assert.Equal(t, "tech-c", updated.BackupAssigneeID)
	assert.Equal(t, march(8), updated.EndDate)

	_, err = f.registry.Update(ctx, nil, domain.BackupRoleTechnician, first.ID,
		technicianBackup("tech-a", "tech-c", march(1), march(12), false))
	require.Error(t, err)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, second.ID, apperrors.ToDomainError(err).Details["config_id"])

	_, err = f.registry.Deactivate(ctx, nil, domain.BackupRoleTechnician, second.ID, "")
	require.NoError(t, err)
	_, err = f.registry.Update(ctx, nil, domain.BackupRoleTechnician, second.ID,
		technicianBackup("tech-a", "tech-b", march(11), march(21), false))
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.registry.Update(ctx, nil, domain.BackupRoleApprover, first.ID,
		technicianBackup("tech-a", "tech-b", march(1), march(8), false))
	assert.True(t, apperrors.IsNotFound(err), "configs are scoped by role")

	logs, err := f.registry.Logs(ctx, domain.BackupRoleTechnician, first.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, domain.ReassignmentUpdated, logs[1].Action)
}

func TestListAndUpcomingExpirations(t *testing.T) {
	ctx := context.Background()
	f := newRegistryFixture(march(1), nil)
	soon, err := f.registry.Create(ctx, nil, technicianBackup("tech-a", "tech-b", march(1), march(5), false))
	require.NoError(t, err)
	_, err = f.registry.Create(ctx, nil, technicianBackup("tech-c", "tech-b", march(1), march(25), false))
	require.NoError(t, err)
	_, err = f.registry.Create(ctx, nil, technicianBackup("tech-d", "tech-b", march(3), march(4), false))
	require.NoError(t, err)

	all, err := f.registry.List(ctx, domain.BackupRoleTechnician)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	expiring, err := f.registry.UpcomingExpirations(ctx, domain.BackupRoleTechnician, 7)
	require.NoError(t, err)
	require.Len(t, expiring, 1, "scheduled configs are not expiring")
	assert.Equal(t, soon.ID, expiring[0].ID)

	_, err = f.registry.UpcomingExpirations(ctx, domain.BackupRoleTechnician, -1)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.registry.List(ctx, "auditor")
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.registry.Get(ctx, domain.BackupRoleTechnician, "missing")
	assert.True(t, apperrors.IsNotFound(err))
}
