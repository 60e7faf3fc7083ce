package repository

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/servicedesk-engine/internal/domain"
)

// FireRecordRepository holds escalation fire records keyed by
// (ticket, level, epoch).
type FireRecordRepository interface {
	// TryMark inserts the record unless one already exists for its key and
	// reports whether this call created it.
	TryMark(ctx context.Context, record domain.EscalationFireRecord) (bool, error)
	ListFired(ctx context.Context, ticketID string, epoch int) ([]domain.EscalationFireRecord, error)
	// DeleteBefore drops records of epochs older than epoch.
	DeleteBefore(ctx context.Context, ticketID string, epoch int) error
}

type pgFireRecordRepository struct {
	pool *pgxpool.Pool
}

// NewFireRecordRepository builds the Postgres-backed fire record store.
func NewFireRecordRepository(pool *pgxpool.Pool) FireRecordRepository {
	return &pgFireRecordRepository{pool: pool}
}

func (r *pgFireRecordRepository) TryMark(ctx context.Context, rec domain.EscalationFireRecord) (bool, error) {
	const query = `
        INSERT INTO escalation_fire_records (ticket_id, level, epoch, trigger_at, fired_at)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (ticket_id, level, epoch) DO NOTHING`
	cmd, err := r.pool.Exec(ctx, query, rec.TicketID, rec.Level, rec.Epoch, rec.TriggerAt, rec.FiredAt)
	if err != nil {
		return false, fmt.Errorf("mark fired: %w", err)
	}
	return cmd.RowsAffected() == 1, nil
}

func (r *pgFireRecordRepository) ListFired(ctx context.Context, ticketID string, epoch int) ([]domain.EscalationFireRecord, error) {
	const query = `
        SELECT ticket_id, level, epoch, trigger_at, fired_at
        FROM escalation_fire_records WHERE ticket_id=$1 AND epoch=$2 ORDER BY level`
	rows, err := r.pool.Query(ctx, query, ticketID, epoch)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.EscalationFireRecord
	for rows.Next() {
		var rec domain.EscalationFireRecord
		if err := rows.Scan(&rec.TicketID, &rec.Level, &rec.Epoch, &rec.TriggerAt, &rec.FiredAt); err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (r *pgFireRecordRepository) DeleteBefore(ctx context.Context, ticketID string, epoch int) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM escalation_fire_records WHERE ticket_id=$1 AND epoch < $2`, ticketID, epoch)
	return err
}

// redisFireRecordRepository keeps one hash per (ticket, epoch) with a field per
// level; HSETNX provides the compare-and-set.
type redisFireRecordRepository struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisFireRecordRepository builds a Redis-backed fire record store. Keys
// expire after ttl; zero keeps them forever.
func NewRedisFireRecordRepository(client *redis.Client, ttl time.Duration) FireRecordRepository {
	return &redisFireRecordRepository{client: client, ttl: ttl}
}

func fireKey(ticketID string, epoch int) string {
	return fmt.Sprintf("escalation:fired:%s:%d", ticketID, epoch)
}

func fireIndexKey(ticketID string) string {
	return fmt.Sprintf("escalation:epochs:%s", ticketID)
}

func (r *redisFireRecordRepository) TryMark(ctx context.Context, rec domain.EscalationFireRecord) (bool, error) {
	key := fireKey(rec.TicketID, rec.Epoch)
	value := strconv.FormatInt(rec.TriggerAt.UnixNano(), 10) + "|" + strconv.FormatInt(rec.FiredAt.UnixNano(), 10)
	created, err := r.client.HSetNX(ctx, key, strconv.Itoa(rec.Level), value).Result()
	if err != nil {
		return false, fmt.Errorf("mark fired %q: %w", key, err)
	}
	if created {
		pipe := r.client.TxPipeline()
		pipe.SAdd(ctx, fireIndexKey(rec.TicketID), rec.Epoch)
		if r.ttl > 0 {
			pipe.Expire(ctx, key, r.ttl)
			pipe.Expire(ctx, fireIndexKey(rec.TicketID), r.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			return true, fmt.Errorf("index fire record %q: %w", key, err)
		}
	}
	return created, nil
}

func (r *redisFireRecordRepository) ListFired(ctx context.Context, ticketID string, epoch int) ([]domain.EscalationFireRecord, error) {
	fields, err := r.client.HGetAll(ctx, fireKey(ticketID, epoch)).Result()
	if err != nil {
		return nil, fmt.Errorf("list fired: %w", err)
	}
	result := make([]domain.EscalationFireRecord, 0, len(fields))
	for field, value := range fields {
		level, err := strconv.Atoi(field)
		if err != nil {
			continue
		}
		rec := domain.EscalationFireRecord{TicketID: ticketID, Level: level, Epoch: epoch}
		var triggerNs, firedNs int64
		if _, err := fmt.Sscanf(value, "%d|%d", &triggerNs, &firedNs); err == nil {
			rec.TriggerAt = time.Unix(0, triggerNs).UTC()
			rec.FiredAt = time.Unix(0, firedNs).UTC()
		}
		result = append(result, rec)
	}
	return result, nil
}

func (r *redisFireRecordRepository) DeleteBefore(ctx context.Context, ticketID string, epoch int) error {
	index := fireIndexKey(ticketID)
	members, err := r.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("list fire epochs: %w", err)
	}
	var keys []string
	var stale []any
	for _, m := range members {
		e, err := strconv.Atoi(m)
		if err != nil || e >= epoch {
			continue
		}
		keys = append(keys, fireKey(ticketID, e))
		stale = append(stale, m)
	}
	if len(keys) == 0 {
		return nil
	}
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.SRem(ctx, index, stale...)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete fire records: %w", err)
	}
	return nil
}
