package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// WorkItemRepository is the engine's narrow view of the ticket store. For the
// technician role items are tickets owned by their assignee; for the approver
// role items are pending approvals on in-flight tickets.
type WorkItemRepository interface {
	GetTicket(ctx context.Context, id string) (*domain.Ticket, error)
	// ListInFlightTickets returns open and on-hold tickets.
	ListInFlightTickets(ctx context.Context, limit, offset int) ([]domain.Ticket, error)
	ListOpenOrOnHoldByOwner(ctx context.Context, role domain.BackupRole, ownerID string) ([]domain.WorkItem, error)
	// SetOwner moves an in-flight item from fromID to toID. It reports false
	// when the item is no longer owned by fromID or no longer in flight, which
	// makes replays harmless.
	SetOwner(ctx context.Context, role domain.BackupRole, itemID, fromID, toID string) (bool, error)
}

type ticketRepository struct {
	pool *pgxpool.Pool
}

// NewTicketRepository instantiates repository.
func NewTicketRepository(pool *pgxpool.Pool) WorkItemRepository {
	return &ticketRepository{pool: pool}
}

func (r *ticketRepository) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	const query = `
        SELECT id, priority, status, assignee_id, created_at, updated_at
        FROM tickets WHERE id=$1`
	var ticket domain.Ticket
	if err := r.pool.QueryRow(ctx, query, id).Scan(
		&ticket.ID,
		&ticket.Priority,
		&ticket.Status,
		&ticket.OwnerID,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &ticket, nil
}

// id breaks created_at ties so pages neither skip nor repeat tickets.
const listInFlightTicketsSQL = `
        SELECT id, priority, status, assignee_id, created_at, updated_at
        FROM tickets WHERE status IN ('open','on_hold')
        ORDER BY created_at ASC, id ASC LIMIT $1 OFFSET $2`

func (r *ticketRepository) ListInFlightTickets(ctx context.Context, limit, offset int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 500
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := r.pool.Query(ctx, listInFlightTicketsSQL, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Ticket
	for rows.Next() {
		var ticket domain.Ticket
		if err := rows.Scan(
			&ticket.ID,
			&ticket.Priority,
			&ticket.Status,
			&ticket.OwnerID,
			&ticket.CreatedAt,
			&ticket.UpdatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, ticket)
	}
	return result, rows.Err()
}

func (r *ticketRepository) ListOpenOrOnHoldByOwner(ctx context.Context, role domain.BackupRole, ownerID string) ([]domain.WorkItem, error) {
	var query string
	switch role {
	case domain.BackupRoleTechnician:
		query = `
        SELECT id, id, assignee_id, status
        FROM tickets WHERE assignee_id=$1 AND status IN ('open','on_hold')
        ORDER BY created_at ASC, id ASC`
	case domain.BackupRoleApprover:
		query = `
        SELECT a.id, a.ticket_id, a.approver_id, t.status
        FROM ticket_approvals a JOIN tickets t ON t.id = a.ticket_id
        WHERE a.approver_id=$1 AND a.status='pending' AND t.status IN ('open','on_hold')
        ORDER BY a.created_at ASC, a.id ASC`
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}

	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.WorkItem
	for rows.Next() {
		var item domain.WorkItem
		if err := rows.Scan(&item.ID, &item.TicketID, &item.OwnerID, &item.Status); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (r *ticketRepository) SetOwner(ctx context.Context, role domain.BackupRole, itemID, fromID, toID string) (bool, error) {
	var query string
	switch role {
	case domain.BackupRoleTechnician:
		query = `
        UPDATE tickets SET assignee_id=$1, updated_at=NOW()
        WHERE id=$2 AND assignee_id=$3 AND status IN ('open','on_hold')`
	case domain.BackupRoleApprover:
		query = `
        UPDATE ticket_approvals a SET approver_id=$1, updated_at=NOW()
        FROM tickets t
        WHERE a.id=$2 AND a.approver_id=$3 AND a.status='pending'
          AND t.id = a.ticket_id AND t.status IN ('open','on_hold')`
	default:
		return false, fmt.Errorf("unknown role %q", role)
	}
	cmd, err := r.pool.Exec(ctx, query, toID, itemID, fromID)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}
