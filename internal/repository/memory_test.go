package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

func backupWindow(id, original string, start, end int) *domain.BackupAssignmentConfig {
	return &domain.BackupAssignmentConfig{
		ID:                 id,
		Role:               domain.BackupRoleTechnician,
		OriginalAssigneeID: original,
		BackupAssigneeID:   "tech-z",
		StartDate:          domain.MustDate(2025, time.March, start),
		EndDate:            domain.MustDate(2025, time.March, end),
		IsActive:           true,
	}
}

func TestMemoryBackupConfigs_RejectsOverlap(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackupConfigs()

	require.NoError(t, store.Create(ctx, backupWindow("c-1", "tech-a", 1, 10)))
	require.NoError(t, store.Create(ctx, backupWindow("c-2", "tech-a", 11, 20)), "adjacent windows do not overlap")
	require.NoError(t, store.Create(ctx, backupWindow("c-3", "tech-b", 5, 15)), "different original")

	err := store.Create(ctx, backupWindow("c-4", "tech-a", 10, 11))
	assert.True(t, errors.Is(err, ErrOverlap))

	c1, err := store.GetByID(ctx, "c-1")
	require.NoError(t, err)
	c1.EndDate = domain.MustDate(2025, time.March, 12)
	assert.True(t, errors.Is(store.Update(ctx, c1), ErrOverlap))

	c1.IsActive = false
	require.NoError(t, store.Update(ctx, c1), "inactive configs never conflict")
	require.NoError(t, store.Create(ctx, backupWindow("c-5", "tech-a", 1, 9)))

	active, err := store.ListActiveByOriginal(ctx, domain.BackupRoleTechnician, "tech-a")
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "c-5", active[0].ID)
	assert.Equal(t, "c-2", active[1].ID)

	_, err = store.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, pgx.ErrNoRows)
}

func TestMemoryBackupConfigs_ListExpiredUnprocessed(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryBackupConfigs()
	require.NoError(t, store.Create(ctx, backupWindow("c-1", "tech-a", 1, 5)))
	require.NoError(t, store.Create(ctx, backupWindow("c-2", "tech-b", 1, 10)))
	processed := backupWindow("c-3", "tech-c", 1, 3)
	now := time.Now()
	processed.ProcessedAt = &now
	require.NoError(t, store.Create(ctx, processed))

	expired, err := store.ListExpiredUnprocessed(ctx, domain.MustDate(2025, time.March, 10))
	require.NoError(t, err)
	require.Len(t, expired, 1, "a window ending today has not expired yet")
	assert.Equal(t, "c-1", expired[0].ID)
}

func TestMemoryFireRecords_MarkOncePerEpoch(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryFireRecords()
	rec := domain.EscalationFireRecord{TicketID: "t-1", Level: 1, Epoch: 1}

	won, err := store.TryMark(ctx, rec)
	require.NoError(t, err)
	assert.True(t, won)
	won, _ = store.TryMark(ctx, rec)
	assert.False(t, won)

	rec.Epoch = 2
	won, _ = store.TryMark(ctx, rec)
	assert.True(t, won, "a new epoch starts clean")

	require.NoError(t, store.DeleteBefore(ctx, "t-1", 2))
	old, err := store.ListFired(ctx, "t-1", 1)
	require.NoError(t, err)
	assert.Empty(t, old)
	current, _ := store.ListFired(ctx, "t-1", 2)
	assert.Len(t, current, 1)
}

func TestMemoryWorkItems_SetOwnerIsConditional(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkItems()
	owner := "tech-a"
	store.PutTicket(domain.Ticket{ID: "t-1", Status: domain.TicketStatusOpen, OwnerID: &owner})
	store.PutTicket(domain.Ticket{ID: "t-2", Status: domain.TicketStatusClosed, OwnerID: &owner})
	store.PutApproval(domain.WorkItem{ID: "ap-1", TicketID: "t-1", OwnerID: "boss"})

	items, err := store.ListOpenOrOnHoldByOwner(ctx, domain.BackupRoleTechnician, "tech-a")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "t-1", items[0].ID)

	moved, err := store.SetOwner(ctx, domain.BackupRoleTechnician, "t-1", "someone-else", "tech-b")
	require.NoError(t, err)
	assert.False(t, moved, "owner changed since the item was listed")

	moved, err = store.SetOwner(ctx, domain.BackupRoleTechnician, "t-1", "tech-a", "tech-b")
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, "tech-b", store.Owner(domain.BackupRoleTechnician, "t-1"))

	moved, _ = store.SetOwner(ctx, domain.BackupRoleTechnician, "t-2", "tech-a", "tech-b")
	assert.False(t, moved, "closed tickets stay put")

	moved, _ = store.SetOwner(ctx, domain.BackupRoleApprover, "ap-1", "boss", "deputy")
	assert.True(t, moved)

	_, err = store.ListOpenOrOnHoldByOwner(ctx, "janitor", "x")
	assert.Error(t, err)
}

func TestMemoryDiversions_PendingUntilReverted(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryDiversions()
	require.NoError(t, store.Record(ctx, domain.Diversion{ConfigID: "c-1", ItemID: "t-1"}))
	require.NoError(t, store.Record(ctx, domain.Diversion{ConfigID: "c-1", ItemID: "t-2"}))
	require.NoError(t, store.Record(ctx, domain.Diversion{ConfigID: "c-2", ItemID: "t-3"}))

	require.NoError(t, store.MarkReverted(ctx, "c-1", "t-1", time.Now()))
	require.NoError(t, store.MarkReverted(ctx, "c-1", "unknown", time.Now()))

	pending, err := store.ListPending(ctx, "c-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "t-2", pending[0].ItemID)
}

func TestLoadPolicyFile_Seed(t *testing.T) {
	policies, err := LoadPolicyFile(filepath.Join("..", "..", "config", "sla_policies.yaml"))
	require.NoError(t, err)
	require.Len(t, policies, 4)

	byPriority := map[domain.TicketPriority]domain.SLAPolicy{}
	for _, p := range policies {
		byPriority[p.Priority] = p
	}
	assert.False(t, byPriority[domain.TicketPriorityTop].OperationalHoursOnly)
	assert.Len(t, byPriority[domain.TicketPriorityTop].Escalations, 3)
	assert.Equal(t, domain.Budget{Days: 3}, byPriority[domain.TicketPriorityMedium].Resolution)
	assert.Equal(t, domain.EscalateBefore, byPriority[domain.TicketPriorityHigh].Escalations[0].Direction)
}

func TestLoadPolicyFile_RejectsInvalidPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policies.yaml")
	body := "policies:\n  - id: bad\n    priority: high\n    resolution: { hours: 4 }\n    escalations:\n      - { level: 9, direction: after, enabled: true }\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	_, err := LoadPolicyFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "policy bad")

	_, err = LoadPolicyFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestListInFlightTicketsPagesBreakTiesByID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryWorkItems()
	created := time.Date(2025, time.March, 3, 9, 0, 0, 0, time.UTC)
	for _, id := range []string{"t-4", "t-2", "t-5", "t-1", "t-3"} {
		store.PutTicket(domain.Ticket{ID: id, Status: domain.TicketStatusOpen, CreatedAt: created})
	}
	store.PutTicket(domain.Ticket{ID: "t-0", Status: domain.TicketStatusOpen, CreatedAt: created.Add(-time.Hour)})

	var seen []string
	for offset := 0; ; offset += 2 {
		page, err := store.ListInFlightTickets(ctx, 2, offset)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		for _, tk := range page {
			seen = append(seen, tk.ID)
		}
	}
	assert.Equal(t, []string{"t-0", "t-1", "t-2", "t-3", "t-4", "t-5"}, seen)
	assert.Contains(t, listInFlightTicketsSQL, "ORDER BY created_at ASC, id ASC")
}
