package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// DeadlineRepository stores the derived deadline of each ticket.
type DeadlineRepository interface {
	Get(ctx context.Context, ticketID string) (*domain.Deadline, error)
	Save(ctx context.Context, deadline *domain.Deadline) error
}

type deadlineRepository struct {
	pool *pgxpool.Pool
}

// NewDeadlineRepository builds repository.
func NewDeadlineRepository(pool *pgxpool.Pool) DeadlineRepository {
	return &deadlineRepository{pool: pool}
}

func (r *deadlineRepository) Get(ctx context.Context, ticketID string) (*domain.Deadline, error) {
	const query = `
        SELECT ticket_id, policy_id, priority, response_due_at, resolution_due_at, epoch, computed_at
        FROM ticket_deadlines WHERE ticket_id=$1`
	var d domain.Deadline
	if err := r.pool.QueryRow(ctx, query, ticketID).Scan(
		&d.TicketID,
		&d.PolicyID,
		&d.Priority,
		&d.ResponseDueAt,
		&d.ResolutionDueAt,
		&d.Epoch,
		&d.ComputedAt,
	); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *deadlineRepository) Save(ctx context.Context, d *domain.Deadline) error {
	const query = `
        INSERT INTO ticket_deadlines (ticket_id, policy_id, priority, response_due_at, resolution_due_at, epoch, computed_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7)
        ON CONFLICT (ticket_id) DO UPDATE SET
            policy_id=$2, priority=$3, response_due_at=$4, resolution_due_at=$5, epoch=$6, computed_at=$7`
	_, err := r.pool.Exec(ctx, query,
		d.TicketID,
		d.PolicyID,
		d.Priority,
		d.ResponseDueAt,
		d.ResolutionDueAt,
		d.Epoch,
		d.ComputedAt,
	)
	if err != nil {
		return fmt.Errorf("save deadline: %w", err)
	}
	return nil
}
