package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// ReassignmentLogRepository stores the append-only backup audit trail.
type ReassignmentLogRepository interface {
	Append(ctx context.Context, entry *domain.ReassignmentLogEntry) error
	ListByConfig(ctx context.Context, configID string) ([]domain.ReassignmentLogEntry, error)
}

type reassignmentLogRepository struct {
	pool *pgxpool.Pool
}

// NewReassignmentLogRepository builds repository.
func NewReassignmentLogRepository(pool *pgxpool.Pool) ReassignmentLogRepository {
	return &reassignmentLogRepository{pool: pool}
}

func (r *reassignmentLogRepository) Append(ctx context.Context, entry *domain.ReassignmentLogEntry) error {
	const query = `
        INSERT INTO reassignment_log (config_id, role, original_id, backup_id, action,
            affected_count, partial_failure, failed_items, actor_id, reason, created_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
        RETURNING id`
	failed := entry.FailedItems
	if failed == nil {
		failed = []string{}
	}
	return r.pool.QueryRow(ctx, query,
		entry.ConfigID,
		entry.Role,
		entry.OriginalID,
		entry.BackupID,
		entry.Action,
		entry.AffectedCount,
		entry.PartialFailure,
		failed,
		entry.ActorID,
		entry.Reason,
		entry.Timestamp,
	).Scan(&entry.ID)
}

func (r *reassignmentLogRepository) ListByConfig(ctx context.Context, configID string) ([]domain.ReassignmentLogEntry, error) {
	const query = `
        SELECT id, config_id, role, original_id, backup_id, action, affected_count,
               partial_failure, failed_items, actor_id, reason, created_at
        FROM reassignment_log WHERE config_id=$1 ORDER BY created_at ASC, id ASC`
	rows, err := r.pool.Query(ctx, query, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ReassignmentLogEntry
	for rows.Next() {
		var entry domain.ReassignmentLogEntry
		if err := rows.Scan(
			&entry.ID,
			&entry.ConfigID,
			&entry.Role,
			&entry.OriginalID,
			&entry.BackupID,
			&entry.Action,
			&entry.AffectedCount,
			&entry.PartialFailure,
			&entry.FailedItems,
			&entry.ActorID,
			&entry.Reason,
			&entry.Timestamp,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}
