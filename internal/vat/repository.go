package vat

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arden-pm/arden-pm/internal/platform/db"
	"github.com/arden-pm/arden-pm/internal/shared"
	"github.com/arden-pm/arden-pm/internal/users"
)

const pgUniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence for VAT quarters.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const candidateColumns = `
	q.id, q.client_id, q.period_label, q.start_date, q.end_date, q.filing_due_date,
	q.current_stage, q.is_completed, q.assigned_user_id, q.created_at, q.updated_at,
	c.id, c.client_code, c.company_name, c.contact_email, c.quarter_group, c.vat_enabled`

func scanCandidate(row pgx.Rows) (TransitionCandidate, error) {
	var cand TransitionCandidate
	err := row.Scan(
		&cand.ID, &cand.ClientID, &cand.PeriodLabel, &cand.StartDate, &cand.EndDate, &cand.FilingDueDate,
		&cand.Stage, &cand.IsCompleted, &cand.AssignedUserID, &cand.CreatedAt, &cand.UpdatedAt,
		&cand.Client.ID, &cand.Client.Code, &cand.Client.CompanyName, &cand.Client.ContactEmail,
		&cand.Client.QuarterGroup, &cand.Client.VATEnabled,
	)
	return cand, err
}

func (r *Repository) queryCandidates(ctx context.Context, query string, args ...any) ([]TransitionCandidate, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []TransitionCandidate
	for rows.Next() {
		cand, err := scanCandidate(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cand)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// FindTransitionCandidates returns quarters still waiting for their period to
// end whose end date has passed. Read-only; an empty result is not an error.
func (r *Repository) FindTransitionCandidates(ctx context.Context, now time.Time) ([]TransitionCandidate, error) {
	return r.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM vat_quarters q
		JOIN clients c ON c.id = q.client_id
		WHERE q.current_stage = $1 AND q.is_completed = FALSE AND q.end_date < $2
		ORDER BY q.id`,
		StageWaitingForQuarterEnd, now)
}

// FindUnassignedChaseQuarters returns transitioned quarters without an
// assignee, in stable id order for the round-robin pass.
func (r *Repository) FindUnassignedChaseQuarters(ctx context.Context) ([]TransitionCandidate, error) {
	return r.queryCandidates(ctx, `
		SELECT `+candidateColumns+`
		FROM vat_quarters q
		JOIN clients c ON c.id = q.client_id
		WHERE q.current_stage = $1 AND q.is_completed = FALSE AND q.assigned_user_id IS NULL
		ORDER BY q.id`,
		StagePaperworkPendingChase)
}

func insertHistoryTx(ctx context.Context, tx pgx.Tx, h HistoryEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO vat_quarter_history
			(quarter_id, from_stage, to_stage, occurred_at, actor_id, actor_name, actor_email, actor_role, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		h.QuarterID, h.FromStage, h.ToStage, h.At, h.ActorID, h.ActorName, h.ActorEmail, h.ActorRole, h.Note)
	return err
}

// TransitionQuarter moves one candidate from the waiting stage into paperwork
// chase. Stage update, history entry and activity log land in one transaction
// so a failing record is never left half-updated.
func (r *Repository) TransitionQuarter(ctx context.Context, cand TransitionCandidate, at time.Time, note string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE vat_quarters SET current_stage = $1, updated_at = $2
			WHERE id = $3 AND current_stage = $4`,
			StagePaperworkPendingChase, at, cand.ID, StageWaitingForQuarterEnd)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		from := StageWaitingForQuarterEnd
		if err := insertHistoryTx(ctx, tx, HistoryEntry{
			QuarterID:  cand.ID,
			FromStage:  &from,
			ToStage:    StagePaperworkPendingChase,
			At:         at,
			ActorName:  users.SystemActor.Name,
			ActorEmail: users.SystemActor.Email,
			ActorRole:  users.SystemActor.Role,
			Note:       note,
		}); err != nil {
			return err
		}
		return shared.RecordActivity(ctx, tx, shared.ActivityLog{
			Action:   "vat_quarter.transitioned",
			Entity:   "vat_quarter",
			EntityID: formatID(cand.ID),
			At:       at,
			Details: map[string]any{
				"clientId":     cand.ClientID,
				"clientCode":   cand.Client.Code,
				"companyName":  cand.Client.CompanyName,
				"quarterGroup": cand.Client.QuarterGroup,
				"period":       cand.PeriodLabel,
				"endDate":      cand.EndDate.Format("2006-01-02"),
				"toStage":      StagePaperworkPendingChase,
			},
		})
	})
}

// AssignQuarter sets the assignee and chase-started milestone on one quarter,
// with history and activity entries, in one transaction. The assignment email
// is enqueued separately so a notification failure cannot undo the assignment.
func (r *Repository) AssignQuarter(ctx context.Context, cand TransitionCandidate, partner users.User, at time.Time) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE vat_quarters
			SET assigned_user_id = $1, chase_started_at = $2, chase_started_by = $3, updated_at = $2
			WHERE id = $4 AND assigned_user_id IS NULL`,
			partner.ID, at, partner.Name, cand.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return shared.ErrNotFound
		}
		if err := insertHistoryTx(ctx, tx, HistoryEntry{
			QuarterID:  cand.ID,
			FromStage:  nil,
			ToStage:    cand.Stage,
			At:         at,
			ActorID:    &partner.ID,
			ActorName:  partner.Name,
			ActorEmail: partner.Email,
			ActorRole:  partner.Role,
			Note:       "Auto-assigned by round-robin distribution",
		}); err != nil {
			return err
		}
		return shared.RecordActivity(ctx, tx, shared.ActivityLog{
			ActorID:  &partner.ID,
			Action:   "vat_quarter.auto_assigned",
			Entity:   "vat_quarter",
			EntityID: formatID(cand.ID),
			At:       at,
			Details: map[string]any{
				"clientId":    cand.ClientID,
				"clientCode":  cand.Client.Code,
				"companyName": cand.Client.CompanyName,
				"period":      cand.PeriodLabel,
				"partnerId":   partner.ID,
				"partnerName": partner.Name,
			},
		})
	})
}

// ListVATClients returns VAT-enabled clients belonging to the given groups.
func (r *Repository) ListVATClients(ctx context.Context, groups []QuarterGroup) ([]Client, error) {
	names := make([]string, len(groups))
	for i, g := range groups {
		names[i] = string(g)
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, client_code, company_name, contact_email, quarter_group, vat_enabled
		FROM clients
		WHERE vat_enabled = TRUE AND quarter_group = ANY($1)
		ORDER BY id`, names)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Client
	for rows.Next() {
		var c Client
		if err := rows.Scan(&c.ID, &c.Code, &c.CompanyName, &c.ContactEmail, &c.QuarterGroup, &c.VATEnabled); err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// FindOverlappingQuarter returns the non-completed quarter for the client whose
// period overlaps p, or nil when the slot is free.
func (r *Repository) FindOverlappingQuarter(ctx context.Context, clientID int64, p Period) (*Quarter, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, client_id, period_label, start_date, end_date, filing_due_date,
		       current_stage, is_completed, assigned_user_id, created_at, updated_at
		FROM vat_quarters
		WHERE client_id = $1 AND is_completed = FALSE AND start_date <= $2 AND end_date >= $3
		ORDER BY end_date DESC
		LIMIT 1`, clientID, p.End, p.Start)
	var q Quarter
	err := row.Scan(&q.ID, &q.ClientID, &q.PeriodLabel, &q.StartDate, &q.EndDate, &q.FilingDueDate,
		&q.Stage, &q.IsCompleted, &q.AssignedUserID, &q.CreatedAt, &q.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// CreateQuarter inserts a new quarter in the waiting stage together with its
// creation history entry and activity log. A unique violation on the
// client/period key surfaces as shared.ErrDuplicateQuarter so the caller can
// record an idempotent skip.
func (r *Repository) CreateQuarter(ctx context.Context, client Client, p Period, at time.Time) (Quarter, error) {
	q := Quarter{
		ClientID:      client.ID,
		PeriodLabel:   p.Label(),
		StartDate:     p.Start,
		EndDate:       p.End,
		FilingDueDate: p.FilingDue,
		Stage:         StageWaitingForQuarterEnd,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO vat_quarters
				(client_id, period_label, start_date, end_date, filing_due_date, current_stage, is_completed, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7, $7)
			RETURNING id`,
			q.ClientID, q.PeriodLabel, q.StartDate, q.EndDate, q.FilingDueDate, q.Stage, at)
		if err := row.Scan(&q.ID); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
				return shared.ErrDuplicateQuarter
			}
			return err
		}
		if err := insertHistoryTx(ctx, tx, HistoryEntry{
			QuarterID:  q.ID,
			FromStage:  nil,
			ToStage:    StageWaitingForQuarterEnd,
			At:         at,
			ActorName:  users.SystemActor.Name,
			ActorEmail: users.SystemActor.Email,
			ActorRole:  users.SystemActor.Role,
			Note:       "Quarter created for period " + q.PeriodLabel,
		}); err != nil {
			return err
		}
		return shared.RecordActivity(ctx, tx, shared.ActivityLog{
			Action:   "vat_quarter.created",
			Entity:   "vat_quarter",
			EntityID: formatID(q.ID),
			At:       at,
			Details: map[string]any{
				"clientId":     client.ID,
				"clientCode":   client.Code,
				"companyName":  client.CompanyName,
				"quarterGroup": client.QuarterGroup,
				"period":       q.PeriodLabel,
				"filingDue":    q.FilingDueDate.Format("2006-01-02"),
			},
		})
	})
	if err != nil {
		return Quarter{}, err
	}
	return q, nil
}

// InsertEmailLog queues one outbound message in PENDING state for the
// delivery worker.
func (r *Repository) InsertEmailLog(ctx context.Context, e EmailLog) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Status == "" {
		e.Status = EmailStatusPending
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO email_logs
			(id, client_id, quarter_id, recipient_id, recipient_name, recipient_email, subject, body, status, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, COALESCE($11, NOW()))`,
		e.ID, e.ClientID, e.QuarterID, e.RecipientID, e.RecipientName, e.RecipientEmail,
		e.Subject, e.Body, e.Status, e.Type, e.CreatedAt)
	return err
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}
