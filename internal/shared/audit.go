package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ActivityLog represents a record stored in activity_logs.
type ActivityLog struct {
	ActorID  *int64
	Action   string
	Entity   string
	EntityID string
	Details  map[string]any
	At       time.Time
}

// Execer is satisfied by both pgxpool.Pool and pgx.Tx so activity entries can
// join a per-record transaction.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// ActivityLogger writes records into activity_logs.
type ActivityLogger struct {
	pool *pgxpool.Pool
}

// NewActivityLogger returns a new ActivityLogger.
func NewActivityLogger(pool *pgxpool.Pool) *ActivityLogger {
	return &ActivityLogger{pool: pool}
}

// Record persists the log entry outside any transaction.
func (l *ActivityLogger) Record(ctx context.Context, log ActivityLog) error {
	if l == nil {
		return errors.New("activity logger not initialised")
	}
	return RecordActivity(ctx, l.pool, log)
}

// RecordActivity persists the log entry through the given executor.
func RecordActivity(ctx context.Context, db Execer, log ActivityLog) error {
	if db == nil {
		return errors.New("activity log requires an executor")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("activity log requires action/entity/entity_id")
	}
	detailsJSON, err := json.Marshal(log.Details)
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `INSERT INTO activity_logs (actor_id, action, entity, entity_id, details, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, detailsJSON, log.At)
	return err
}
