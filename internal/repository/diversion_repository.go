package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// DiversionRepository remembers which items a config moved, so that only
// those items are handed back when it ends.
type DiversionRepository interface {
	// Record is idempotent per (config, item).
	Record(ctx context.Context, d domain.Diversion) error
	ListPending(ctx context.Context, configID string) ([]domain.Diversion, error)
	MarkReverted(ctx context.Context, configID, itemID string, at time.Time) error
}

type diversionRepository struct {
	pool *pgxpool.Pool
}

// NewDiversionRepository builds repository.
func NewDiversionRepository(pool *pgxpool.Pool) DiversionRepository {
	return &diversionRepository{pool: pool}
}

func (r *diversionRepository) Record(ctx context.Context, d domain.Diversion) error {
	const query = `
        INSERT INTO backup_diversions (config_id, item_id, from_id, to_id, diverted_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (config_id, item_id) DO UPDATE SET
            from_id=$3, to_id=$4, diverted_at=$5, reverted_at=NULL`
	_, err := r.pool.Exec(ctx, query, d.ConfigID, d.ItemID, d.FromID, d.ToID, d.DivertedAt)
	return err
}

func (r *diversionRepository) ListPending(ctx context.Context, configID string) ([]domain.Diversion, error) {
	const query = `
        SELECT config_id, item_id, from_id, to_id, diverted_at, reverted_at
        FROM backup_diversions WHERE config_id=$1 AND reverted_at IS NULL
        ORDER BY diverted_at ASC, item_id ASC`
	rows, err := r.pool.Query(ctx, query, configID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Diversion
	for rows.Next() {
		var d domain.Diversion
		if err := rows.Scan(&d.ConfigID, &d.ItemID, &d.FromID, &d.ToID, &d.DivertedAt, &d.RevertedAt); err != nil {
			return nil, err
		}
		result = append(result, d)
	}
	return result, rows.Err()
}

func (r *diversionRepository) MarkReverted(ctx context.Context, configID, itemID string, at time.Time) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE backup_diversions SET reverted_at=$3 WHERE config_id=$1 AND item_id=$2 AND reverted_at IS NULL`,
		configID, itemID, at)
	return err
}
