package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// In-memory stores back the engine when no database is configured and in
// tests. They mirror the Postgres semantics: missing rows return
// pgx.ErrNoRows and overlapping backup windows return ErrOverlap.

// MemoryWorkItems is an in-memory ticket and approval store.
type MemoryWorkItems struct {
	mu        sync.RWMutex
	tickets   map[string]domain.Ticket
	approvals map[string]domain.WorkItem
}

// NewMemoryWorkItems builds an empty store.
func NewMemoryWorkItems() *MemoryWorkItems {
	return &MemoryWorkItems{
		tickets:   make(map[string]domain.Ticket),
		approvals: make(map[string]domain.WorkItem),
	}
}

// PutTicket inserts or replaces a ticket.
func (m *MemoryWorkItems) PutTicket(t domain.Ticket) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickets[t.ID] = t
}

// PutApproval inserts or replaces a pending approval. Its Status is ignored;
// in-flight state comes from the parent ticket.
func (m *MemoryWorkItems) PutApproval(a domain.WorkItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[a.ID] = a
}

// Owner returns the current owner of an item, or "" when unknown.
func (m *MemoryWorkItems) Owner(role domain.BackupRole, itemID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	switch role {
	case domain.BackupRoleTechnician:
		if t, ok := m.tickets[itemID]; ok && t.OwnerID != nil {
			return *t.OwnerID
		}
	case domain.BackupRoleApprover:
		return m.approvals[itemID].OwnerID
	}
	return ""
}

func (m *MemoryWorkItems) GetTicket(_ context.Context, id string) (*domain.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &t, nil
}

func (m *MemoryWorkItems) ListInFlightTickets(_ context.Context, limit, offset int) ([]domain.Ticket, error) {
	m.mu.RLock()
	var all []domain.Ticket
	for _, t := range m.tickets {
		if t.Status.InFlight() {
			all = append(all, t)
		}
	}
	m.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	if limit <= 0 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (m *MemoryWorkItems) ListOpenOrOnHoldByOwner(_ context.Context, role domain.BackupRole, ownerID string) ([]domain.WorkItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []domain.WorkItem
	switch role {
	case domain.BackupRoleTechnician:
		for _, t := range m.tickets {
			if t.OwnerID != nil && *t.OwnerID == ownerID && t.Status.InFlight() {
				items = append(items, domain.WorkItem{ID: t.ID, TicketID: t.ID, OwnerID: ownerID, Status: t.Status})
			}
		}
	case domain.BackupRoleApprover:
		for _, a := range m.approvals {
			t, ok := m.tickets[a.TicketID]
			if a.OwnerID == ownerID && ok && t.Status.InFlight() {
				a.Status = t.Status
				items = append(items, a)
			}
		}
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (m *MemoryWorkItems) SetOwner(_ context.Context, role domain.BackupRole, itemID, fromID, toID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch role {
	case domain.BackupRoleTechnician:
		t, ok := m.tickets[itemID]
		if !ok || t.OwnerID == nil || *t.OwnerID != fromID || !t.Status.InFlight() {
			return false, nil
		}
		owner := toID
		t.OwnerID = &owner
		t.UpdatedAt = time.Now().UTC()
		m.tickets[itemID] = t
		return true, nil
	case domain.BackupRoleApprover:
		a, ok := m.approvals[itemID]
		if !ok || a.OwnerID != fromID {
			return false, nil
		}
		if t, ok := m.tickets[a.TicketID]; !ok || !t.Status.InFlight() {
			return false, nil
		}
		a.OwnerID = toID
		m.approvals[itemID] = a
		return true, nil
	default:
		return false, fmt.Errorf("unknown role %q", role)
	}
}

// MemoryPolicies is an in-memory policy store keyed by priority.
type MemoryPolicies struct {
	mu       sync.RWMutex
	policies map[domain.TicketPriority]domain.SLAPolicy
}

// NewMemoryPolicies builds a store seeded with the given policies.
func NewMemoryPolicies(seed ...domain.SLAPolicy) *MemoryPolicies {
	m := &MemoryPolicies{policies: make(map[domain.TicketPriority]domain.SLAPolicy)}
	for _, p := range seed {
		m.policies[p.Priority] = p
	}
	return m
}

func (m *MemoryPolicies) GetPolicyFor(ctx context.Context, ticket *domain.Ticket) (*domain.SLAPolicy, error) {
	return m.GetByPriority(ctx, ticket.Priority)
}

func (m *MemoryPolicies) GetByPriority(_ context.Context, priority domain.TicketPriority) (*domain.SLAPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[priority]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &p, nil
}

func (m *MemoryPolicies) Save(_ context.Context, p *domain.SLAPolicy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[p.Priority] = *p
	return nil
}

func (m *MemoryPolicies) List(_ context.Context) ([]domain.SLAPolicy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]domain.SLAPolicy, 0, len(m.policies))
	for _, p := range m.policies {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Priority < result[j].Priority })
	return result, nil
}

// MemoryDeadlines is an in-memory deadline store.
type MemoryDeadlines struct {
	mu        sync.RWMutex
	deadlines map[string]domain.Deadline
}

func NewMemoryDeadlines() *MemoryDeadlines {
	return &MemoryDeadlines{deadlines: make(map[string]domain.Deadline)}
}

func (m *MemoryDeadlines) Get(_ context.Context, ticketID string) (*domain.Deadline, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.deadlines[ticketID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &d, nil
}

func (m *MemoryDeadlines) Save(_ context.Context, d *domain.Deadline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadlines[d.TicketID] = *d
	return nil
}

type fireKeyTuple struct {
	ticketID string
	level    int
	epoch    int
}

// MemoryFireRecords is an in-memory fire record store; the mutex provides the
// compare-and-set.
type MemoryFireRecords struct {
	mu      sync.Mutex
	records map[fireKeyTuple]domain.EscalationFireRecord
}

func NewMemoryFireRecords() *MemoryFireRecords {
	return &MemoryFireRecords{records: make(map[fireKeyTuple]domain.EscalationFireRecord)}
}

func (m *MemoryFireRecords) TryMark(_ context.Context, rec domain.EscalationFireRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fireKeyTuple{rec.TicketID, rec.Level, rec.Epoch}
	if _, ok := m.records[key]; ok {
		return false, nil
	}
	m.records[key] = rec
	return true, nil
}

func (m *MemoryFireRecords) ListFired(_ context.Context, ticketID string, epoch int) ([]domain.EscalationFireRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.EscalationFireRecord
	for key, rec := range m.records {
		if key.ticketID == ticketID && key.epoch == epoch {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Level < result[j].Level })
	return result, nil
}

func (m *MemoryFireRecords) DeleteBefore(_ context.Context, ticketID string, epoch int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key := range m.records {
		if key.ticketID == ticketID && key.epoch < epoch {
			delete(m.records, key)
		}
	}
	return nil
}

// MemoryBackupConfigs is an in-memory backup config store. Create and Update
// enforce the same no-overlap rule as the database constraint.
type MemoryBackupConfigs struct {
	mu      sync.RWMutex
	configs map[string]domain.BackupAssignmentConfig
}

func NewMemoryBackupConfigs() *MemoryBackupConfigs {
	return &MemoryBackupConfigs{configs: make(map[string]domain.BackupAssignmentConfig)}
}

func (m *MemoryBackupConfigs) overlapsLocked(c *domain.BackupAssignmentConfig) bool {
	if !c.IsActive {
		return false
	}
	for id, other := range m.configs {
		if id != c.ID && other.IsActive && c.Overlaps(other) {
			return true
		}
	}
	return false
}

func (m *MemoryBackupConfigs) Create(_ context.Context, c *domain.BackupAssignmentConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if _, exists := m.configs[c.ID]; exists {
		return fmt.Errorf("create backup config: duplicate id %s", c.ID)
	}
	if m.overlapsLocked(c) {
		return fmt.Errorf("create backup config: %w", ErrOverlap)
	}
	m.configs[c.ID] = *c
	return nil
}

func (m *MemoryBackupConfigs) Update(_ context.Context, c *domain.BackupAssignmentConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.configs[c.ID]; !ok {
		return pgx.ErrNoRows
	}
	if m.overlapsLocked(c) {
		return fmt.Errorf("update backup config: %w", ErrOverlap)
	}
	m.configs[c.ID] = *c
	return nil
}

func (m *MemoryBackupConfigs) GetByID(_ context.Context, id string) (*domain.BackupAssignmentConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &c, nil
}

func (m *MemoryBackupConfigs) filter(keep func(domain.BackupAssignmentConfig) bool) []domain.BackupAssignmentConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []domain.BackupAssignmentConfig
	for _, c := range m.configs {
		if keep(c) {
			result = append(result, c)
		}
	}
	return result
}

func (m *MemoryBackupConfigs) List(_ context.Context, role domain.BackupRole) ([]domain.BackupAssignmentConfig, error) {
	result := m.filter(func(c domain.BackupAssignmentConfig) bool { return c.Role == role })
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	return result, nil
}

func (m *MemoryBackupConfigs) ListActiveByOriginal(_ context.Context, role domain.BackupRole, originalID string) ([]domain.BackupAssignmentConfig, error) {
	result := m.filter(func(c domain.BackupAssignmentConfig) bool {
		return c.IsActive && c.Role == role && c.OriginalAssigneeID == originalID
	})
	sort.Slice(result, func(i, j int) bool { return result[i].StartDate.Before(result[j].StartDate) })
	return result, nil
}

func (m *MemoryBackupConfigs) ListExpiredUnprocessed(_ context.Context, today domain.Date) ([]domain.BackupAssignmentConfig, error) {
	result := m.filter(func(c domain.BackupAssignmentConfig) bool {
		return c.IsActive && c.ProcessedAt == nil && c.EndDate.Before(today)
	})
	sort.Slice(result, func(i, j int) bool { return result[i].EndDate.Before(result[j].EndDate) })
	return result, nil
}

// MemoryDiversions is an in-memory diversion store.
type MemoryDiversions struct {
	mu    sync.Mutex
	order []string
	rows  map[string]domain.Diversion
}

func NewMemoryDiversions() *MemoryDiversions {
	return &MemoryDiversions{rows: make(map[string]domain.Diversion)}
}

func diversionKey(configID, itemID string) string {
	return configID + "/" + itemID
}

func (m *MemoryDiversions) Record(_ context.Context, d domain.Diversion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := diversionKey(d.ConfigID, d.ItemID)
	if _, ok := m.rows[key]; !ok {
		m.order = append(m.order, key)
	}
	d.RevertedAt = nil
	m.rows[key] = d
	return nil
}

func (m *MemoryDiversions) ListPending(_ context.Context, configID string) ([]domain.Diversion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.Diversion
	for _, key := range m.order {
		d := m.rows[key]
		if d.ConfigID == configID && d.RevertedAt == nil {
			result = append(result, d)
		}
	}
	return result, nil
}

func (m *MemoryDiversions) MarkReverted(_ context.Context, configID, itemID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := diversionKey(configID, itemID)
	d, ok := m.rows[key]
	if !ok || d.RevertedAt != nil {
		return nil
	}
	d.RevertedAt = &at
	m.rows[key] = d
	return nil
}

// MemoryReassignmentLog is an in-memory append-only log.
type MemoryReassignmentLog struct {
	mu      sync.Mutex
	entries []domain.ReassignmentLogEntry
}

func NewMemoryReassignmentLog() *MemoryReassignmentLog {
	return &MemoryReassignmentLog{}
}

func (m *MemoryReassignmentLog) Append(_ context.Context, entry *domain.ReassignmentLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	stored := *entry
	stored.FailedItems = append([]string(nil), entry.FailedItems...)
	m.entries = append(m.entries, stored)
	return nil
}

func (m *MemoryReassignmentLog) ListByConfig(_ context.Context, configID string) ([]domain.ReassignmentLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []domain.ReassignmentLogEntry
	for _, e := range m.entries {
		if e.ConfigID == configID {
			result = append(result, e)
		}
	}
	return result, nil
}

// MemoryStaff is an in-memory staff directory.
type MemoryStaff struct {
	mu    sync.RWMutex
	staff map[string]domain.StaffMember
}

func NewMemoryStaff() *MemoryStaff {
	return &MemoryStaff{staff: make(map[string]domain.StaffMember)}
}

func (m *MemoryStaff) GetByID(_ context.Context, id string) (*domain.StaffMember, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.staff[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return &s, nil
}

func (m *MemoryStaff) Upsert(_ context.Context, s *domain.StaffMember) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.staff[s.ID]; ok {
		s.CreatedAt = existing.CreatedAt
	} else if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}
	m.staff[s.ID] = *s
	return nil
}

var (
	_ WorkItemRepository        = (*MemoryWorkItems)(nil)
	_ PolicyRepository          = (*MemoryPolicies)(nil)
	_ DeadlineRepository        = (*MemoryDeadlines)(nil)
	_ FireRecordRepository      = (*MemoryFireRecords)(nil)
	_ BackupConfigRepository    = (*MemoryBackupConfigs)(nil)
	_ DiversionRepository       = (*MemoryDiversions)(nil)
	_ ReassignmentLogRepository = (*MemoryReassignmentLog)(nil)
	_ StaffRepository           = (*MemoryStaff)(nil)
)
