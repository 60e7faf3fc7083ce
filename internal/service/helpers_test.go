package service

import (
	"context"
	"sync"
	"time"

	"github.com/spec-kit/servicedesk-engine/internal/clock"
	"github.com/spec-kit/servicedesk-engine/internal/domain"
	"github.com/spec-kit/servicedesk-engine/internal/repository"
)

type escalationCall struct {
	TicketID string
	Level    int
	Targets  []string
}

type reassignmentCall struct {
	Role   domain.BackupRole
	Items  []string
	FromID string
	ToID   string
	Reason string
}

// recordingNotifier captures notifications instead of delivering them.
type recordingNotifier struct {
	mu            sync.Mutex
	escalations   []escalationCall
	reassignments []reassignmentCall
}

func (n *recordingNotifier) NotifyEscalation(_ context.Context, ticketID string, level int, targets []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.escalations = append(n.escalations, escalationCall{TicketID: ticketID, Level: level, Targets: targets})
}

func (n *recordingNotifier) NotifyReassignment(_ context.Context, role domain.BackupRole, items []string, fromID, toID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reassignments = append(n.reassignments, reassignmentCall{
		Role: role, Items: append([]string(nil), items...), FromID: fromID, ToID: toID, Reason: reason,
	})
}

func (n *recordingNotifier) escalationLevels(ticketID string) []int {
	n.mu.Lock()
	defer n.mu.Unlock()
	var levels []int
	for _, c := range n.escalations {
		if c.TicketID == ticketID {
			levels = append(levels, c.Level)
		}
	}
	return levels
}

func (n *recordingNotifier) reassignmentCalls() []reassignmentCall {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]reassignmentCall(nil), n.reassignments...)
}

// 2025-03-07 is a Friday.
var fridayEvening = time.Date(2025, time.March, 7, 19, 57, 0, 0, time.UTC)

func officeProfile() *domain.WorkingHoursProfile {
	p := &domain.WorkingHoursProfile{Name: "office", Location: time.UTC}
	for wd := time.Monday; wd <= time.Friday; wd++ {
		p.Days[wd] = domain.DaySchedule{Working: true, Open: 8 * 60, Close: 17 * 60}
	}
	p.Days[time.Saturday] = domain.DaySchedule{Working: true, Open: 8 * 60, Close: 12 * 60}
	return p
}

func testPolicies() []domain.SLAPolicy {
	return []domain.SLAPolicy{
		{
			ID:                   "sla-high",
			Priority:             domain.TicketPriorityHigh,
			Response:             domain.Budget{Hours: 4},
			Resolution:           domain.Budget{Hours: 18},
			OperationalHoursOnly: true,
			Escalations: []domain.EscalationLevel{
				{Level: 1, Targets: []string{"lead"}, Offset: domain.Budget{Hours: 2}, Direction: domain.EscalateBefore, Enabled: true},
				{Level: 2, Targets: []string{"manager"}, Direction: domain.EscalateAfter, Enabled: true},
			},
		},
		{
			ID:                   "sla-medium",
			Priority:             domain.TicketPriorityMedium,
			Response:             domain.Budget{Hours: 8},
			Resolution:           domain.Budget{Days: 3},
			OperationalHoursOnly: true,
			Escalations: []domain.EscalationLevel{
				{Level: 1, Targets: []string{"lead"}, Direction: domain.EscalateAfter, Enabled: true},
			},
		},
		{
			ID:         "sla-top",
			Priority:   domain.TicketPriorityTop,
			Response:   domain.Budget{Hours: 1},
			Resolution: domain.Budget{Hours: 4},
			Escalations: []domain.EscalationLevel{
				{Level: 1, Targets: []string{"lead"}, Offset: domain.Budget{Hours: 1}, Direction: domain.EscalateBefore, Enabled: true},
			},
		},
	}
}

func ptr(s string) *string { return &s }

func openTicket(id, owner string, priority domain.TicketPriority, createdAt time.Time) domain.Ticket {
	return domain.Ticket{
		ID:        id,
		Priority:  priority,
		Status:    domain.TicketStatusOpen,
		OwnerID:   ptr(owner),
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
	}
}

// engine wires the deadline and escalation services over in-memory stores.
type engine struct {
	clock       *clock.Fixed
	items       *repository.MemoryWorkItems
	policies    *repository.MemoryPolicies
	deadlines   *repository.MemoryDeadlines
	fireRecords *repository.MemoryFireRecords
	notifier    *recordingNotifier
	deadlineSvc *DeadlineService
	escalations *EscalationService
}

func newEngine(now time.Time) *engine {
	e := &engine{
		clock:       clock.NewFixed(now),
		items:       repository.NewMemoryWorkItems(),
		policies:    repository.NewMemoryPolicies(testPolicies()...),
		deadlines:   repository.NewMemoryDeadlines(),
		fireRecords: repository.NewMemoryFireRecords(),
		notifier:    &recordingNotifier{},
	}
	e.deadlineSvc = NewDeadlineService(DeadlineDependencies{
		TicketRepo:     e.items,
		PolicyRepo:     e.policies,
		DeadlineRepo:   e.deadlines,
		FireRecordRepo: e.fireRecords,
		Profile:        officeProfile(),
		Clock:          e.clock,
	})
	e.escalations = NewEscalationService(EscalationDependencies{
		TicketRepo:     e.items,
		PolicyRepo:     e.policies,
		DeadlineRepo:   e.deadlines,
		FireRecordRepo: e.fireRecords,
		Notifier:       e.notifier,
		Clock:          e.clock,
	})
	return e
}

// registryFixture wires a backup registry over in-memory stores.
type registryFixture struct {
	clock      *clock.Fixed
	items      *repository.MemoryWorkItems
	configs    *repository.MemoryBackupConfigs
	diversions *repository.MemoryDiversions
	logs       *repository.MemoryReassignmentLog
	notifier   *recordingNotifier
	registry   *BackupRegistry
}

func newRegistryFixture(today domain.Date, items repository.WorkItemRepository) *registryFixture {
	f := &registryFixture{
		clock:      clock.NewFixed(today.At(9*60, time.UTC)),
		items:      repository.NewMemoryWorkItems(),
		configs:    repository.NewMemoryBackupConfigs(),
		diversions: repository.NewMemoryDiversions(),
		logs:       repository.NewMemoryReassignmentLog(),
		notifier:   &recordingNotifier{},
	}
	if items == nil {
		items = f.items
	}
	f.registry = NewBackupRegistry(BackupDependencies{
		ConfigRepo:    f.configs,
		DiversionRepo: f.diversions,
		LogRepo:       f.logs,
		WorkItemRepo:  items,
		Notifier:      f.notifier,
		Retry:         RetryPolicy{MaxAttempts: 2, InitialInterval: time.Millisecond},
		Clock:         f.clock,
		Location:      time.UTC,
	})
	return f
}

func (f *registryFixture) setToday(d domain.Date) {
	f.clock.Set(d.At(9*60, time.UTC))
}

func march(day int) domain.Date {
	return domain.MustDate(2025, time.March, day)
}

func technicianBackup(original, backup string, start, end domain.Date, divert bool) BackupInput {
	return BackupInput{
		Role:               domain.BackupRoleTechnician,
		OriginalAssigneeID: original,
		BackupAssigneeID:   backup,
		StartDate:          start,
		EndDate:            end,
		DivertExisting:     divert,
		Reason:             "annual leave",
	}
}
