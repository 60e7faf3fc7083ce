package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// ErrOverlap is returned when the store's exclusion constraint rejects a window.
var ErrOverlap = errors.New("backup window overlaps an active config")

// BackupConfigRepository persists backup assignment configs of both roles.
type BackupConfigRepository interface {
	Create(ctx context.Context, cfg *domain.BackupAssignmentConfig) error
	Update(ctx context.Context, cfg *domain.BackupAssignmentConfig) error
	GetByID(ctx context.Context, id string) (*domain.BackupAssignmentConfig, error)
	List(ctx context.Context, role domain.BackupRole) ([]domain.BackupAssignmentConfig, error)
	// ListActiveByOriginal returns IsActive configs of the role for one original assignee.
	ListActiveByOriginal(ctx context.Context, role domain.BackupRole, originalID string) ([]domain.BackupAssignmentConfig, error)
	// ListExpiredUnprocessed returns IsActive configs whose window ended before today.
	ListExpiredUnprocessed(ctx context.Context, today domain.Date) ([]domain.BackupAssignmentConfig, error)
}

type backupConfigRepository struct {
	pool *pgxpool.Pool
}

// NewBackupConfigRepository builds repository.
func NewBackupConfigRepository(pool *pgxpool.Pool) BackupConfigRepository {
	return &backupConfigRepository{pool: pool}
}

const backupCols = `id, role, original_assignee_id, backup_assignee_id, start_date, end_date,
	divert_existing, reason, is_active, processed_at, created_by, created_at, updated_at`

func (r *backupConfigRepository) Create(ctx context.Context, c *domain.BackupAssignmentConfig) error {
	_, err := r.pool.Exec(ctx, `
        INSERT INTO backup_assignment_configs (`+backupCols+`)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		c.ID, c.Role, c.OriginalAssigneeID, c.BackupAssigneeID,
		c.StartDate.Start(time.UTC), c.EndDate.Start(time.UTC),
		c.DivertExisting, c.Reason, c.IsActive, c.ProcessedAt, c.CreatedBy, c.CreatedAt, c.UpdatedAt)
	return translateBackupErr("create backup config", err)
}

func (r *backupConfigRepository) Update(ctx context.Context, c *domain.BackupAssignmentConfig) error {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE backup_assignment_configs SET
            original_assignee_id=$2, backup_assignee_id=$3, start_date=$4, end_date=$5,
            divert_existing=$6, reason=$7, is_active=$8, processed_at=$9, updated_at=$10
        WHERE id=$1`,
		c.ID, c.OriginalAssigneeID, c.BackupAssigneeID,
		c.StartDate.Start(time.UTC), c.EndDate.Start(time.UTC),
		c.DivertExisting, c.Reason, c.IsActive, c.ProcessedAt, c.UpdatedAt)
	if err != nil {
		return translateBackupErr("update backup config", err)
	}
	if cmd.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *backupConfigRepository) GetByID(ctx context.Context, id string) (*domain.BackupAssignmentConfig, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+backupCols+` FROM backup_assignment_configs WHERE id=$1`, id)
	return scanBackupConfig(row)
}

func (r *backupConfigRepository) List(ctx context.Context, role domain.BackupRole) ([]domain.BackupAssignmentConfig, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+backupCols+` FROM backup_assignment_configs WHERE role=$1 ORDER BY created_at DESC`, role)
	if err != nil {
		return nil, err
	}
	return collectBackupConfigs(rows)
}

func (r *backupConfigRepository) ListActiveByOriginal(ctx context.Context, role domain.BackupRole, originalID string) ([]domain.BackupAssignmentConfig, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT `+backupCols+` FROM backup_assignment_configs
        WHERE role=$1 AND original_assignee_id=$2 AND is_active
        ORDER BY start_date`, role, originalID)
	if err != nil {
		return nil, err
	}
	return collectBackupConfigs(rows)
}

func (r *backupConfigRepository) ListExpiredUnprocessed(ctx context.Context, today domain.Date) ([]domain.BackupAssignmentConfig, error) {
	rows, err := r.pool.Query(ctx, `
        SELECT `+backupCols+` FROM backup_assignment_configs
        WHERE is_active AND processed_at IS NULL AND end_date < $1
        ORDER BY end_date`, today.Start(time.UTC))
	if err != nil {
		return nil, err
	}
	return collectBackupConfigs(rows)
}

// scannable is satisfied by both pgx.Row and pgx.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanBackupConfig(row scannable) (*domain.BackupAssignmentConfig, error) {
	var (
		c          domain.BackupAssignmentConfig
		start, end time.Time
	)
	if err := row.Scan(
		&c.ID, &c.Role, &c.OriginalAssigneeID, &c.BackupAssigneeID, &start, &end,
		&c.DivertExisting, &c.Reason, &c.IsActive, &c.ProcessedAt, &c.CreatedBy, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.StartDate = domain.DateOf(start, time.UTC)
	c.EndDate = domain.DateOf(end, time.UTC)
	return &c, nil
}

func collectBackupConfigs(rows pgx.Rows) ([]domain.BackupAssignmentConfig, error) {
	defer rows.Close()
	var result []domain.BackupAssignmentConfig
	for rows.Next() {
		c, err := scanBackupConfig(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *c)
	}
	return result, rows.Err()
}

// exclusionViolation is the SQLSTATE raised by the overlap exclusion constraint.
const exclusionViolation = "23P01"

func translateBackupErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
		return fmt.Errorf("%s: %w", op, ErrOverlap)
	}
	return fmt.Errorf("%s: %w", op, err)
}
