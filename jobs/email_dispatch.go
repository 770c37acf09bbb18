package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EmailDispatchJob drains pending email log rows into mail:send tasks. It is
// the delivery side of the notification contract: the automation passes only
// ever insert PENDING rows; this job advances their status.
type EmailDispatchJob struct {
	Pool      *pgxpool.Pool
	Client    *Client
	Logger    *slog.Logger
	BatchSize int
}

// NewEmailDispatchJob initialises the dispatch handler.
func NewEmailDispatchJob(pool *pgxpool.Pool, client *Client, logger *slog.Logger) *EmailDispatchJob {
	return &EmailDispatchJob{Pool: pool, Client: client, Logger: logger, BatchSize: 100}
}

type pendingEmail struct {
	ID        string
	Recipient string
	Subject   string
	Body      string
}

// Handle fulfils the asynq.HandlerFunc contract for TaskTypeEmailDispatch.
func (j *EmailDispatchJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.Pool == nil || j.Client == nil {
		return errors.New("email dispatch: handler not configured")
	}
	logger := j.logger()

	batch := j.BatchSize
	if batch <= 0 {
		batch = 100
	}
	rows, err := j.Pool.Query(ctx, `
		SELECT id, recipient_email, subject, body
		FROM email_logs
		WHERE status = 'PENDING'
		ORDER BY created_at
		LIMIT $1`, batch)
	if err != nil {
		return err
	}
	pending := make([]pendingEmail, 0, batch)
	for rows.Next() {
		var e pendingEmail
		if err := rows.Scan(&e.ID, &e.Recipient, &e.Subject, &e.Body); err != nil {
			rows.Close()
			return err
		}
		pending = append(pending, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	dispatched := 0
	for _, e := range pending {
		payload := SendEmailPayload{EmailLogID: e.ID, To: e.Recipient, Subject: e.Subject, Body: e.Body}
		if _, err := j.Client.EnqueueSendEmail(ctx, payload); err != nil {
			logger.Warn("enqueue send email",
				slog.String("email_log_id", e.ID),
				slog.Any("error", err))
			j.markStatus(ctx, e.ID, "FAILED")
			continue
		}
		j.markStatus(ctx, e.ID, "SENT")
		dispatched++
	}

	logger.Info("email dispatch complete",
		slog.Int("pending", len(pending)),
		slog.Int("dispatched", dispatched))
	return nil
}

func (j *EmailDispatchJob) markStatus(ctx context.Context, id, status string) {
	_, err := j.Pool.Exec(ctx, `UPDATE email_logs SET status = $1, updated_at = $2 WHERE id = $3`, status, time.Now(), id)
	if err != nil {
		j.logger().Warn("update email log status",
			slog.String("email_log_id", id),
			slog.String("status", status),
			slog.Any("error", err))
	}
}

func (j *EmailDispatchJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTypeEmailDispatch))
	}
	return slog.Default().With(slog.String("job", TaskTypeEmailDispatch))
}
