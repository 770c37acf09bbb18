package vat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arden-pm/arden-pm/internal/shared"
	"github.com/arden-pm/arden-pm/internal/users"
)

// RepositoryPort defines data access methods for VAT quarters.
type RepositoryPort interface {
	FindTransitionCandidates(ctx context.Context, now time.Time) ([]TransitionCandidate, error)
	FindUnassignedChaseQuarters(ctx context.Context) ([]TransitionCandidate, error)
	TransitionQuarter(ctx context.Context, cand TransitionCandidate, at time.Time, note string) error
	AssignQuarter(ctx context.Context, cand TransitionCandidate, partner users.User, at time.Time) error
	ListVATClients(ctx context.Context, groups []QuarterGroup) ([]Client, error)
	FindOverlappingQuarter(ctx context.Context, clientID int64, p Period) (*Quarter, error)
	CreateQuarter(ctx context.Context, client Client, p Period, at time.Time) (Quarter, error)
	InsertEmailLog(ctx context.Context, e EmailLog) error
}

// PartnerDirectory supplies the partner pools for notification and assignment.
type PartnerDirectory interface {
	ListActivePartners(ctx context.Context) ([]users.User, error)
	ListNotifiablePartners(ctx context.Context) ([]users.User, error)
}

// ServiceConfig tunes the automation passes.
type ServiceConfig struct {
	// CreationDay is the day of month the quarter creator runs on.
	CreationDay int
	// NotifyConcurrency bounds parallel email-log inserts per transition.
	NotifyConcurrency int
}

// Service runs the VAT quarter lifecycle passes.
type Service struct {
	repo     RepositoryPort
	partners PartnerDirectory
	cal      *Calendar
	logger   *slog.Logger
	cfg      ServiceConfig
}

// NewService builds the service.
func NewService(repo RepositoryPort, partners PartnerDirectory, cal *Calendar, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.CreationDay <= 0 {
		cfg.CreationDay = 1
	}
	if cfg.NotifyConcurrency <= 0 {
		cfg.NotifyConcurrency = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, partners: partners, cal: cal, logger: logger, cfg: cfg}
}

// CheckTransitions finds quarters whose period has elapsed, moves each into
// paperwork chase and queues partner notifications. A single bad record is
// logged, accumulated and skipped; only infrastructure failures abort the run.
func (s *Service) CheckTransitions(ctx context.Context) (TransitionRun, error) {
	run := TransitionRun{Errors: []RunError{}}
	now := s.cal.Now()

	candidates, err := s.repo.FindTransitionCandidates(ctx, now)
	if err != nil {
		return run, fmt.Errorf("vat: find transition candidates: %w", err)
	}
	run.Checked = len(candidates)
	if len(candidates) == 0 {
		s.logger.Info("no vat quarters ready to transition")
		return run, nil
	}

	for _, cand := range candidates {
		note := fmt.Sprintf("Quarter ended %s; moved to paperwork chase automatically", cand.EndDate.Format("2006-01-02"))
		if err := s.repo.TransitionQuarter(ctx, cand, now, note); err != nil {
			s.logger.Error("transition vat quarter",
				slog.Int64("quarter_id", cand.ID),
				slog.String("client_code", cand.Client.Code),
				slog.Any("error", err))
			run.Errors = append(run.Errors, RunError{ID: cand.ID, Name: cand.Client.CompanyName, Message: err.Error()})
			continue
		}
		run.Transitioned++
		attempted, notified := s.notifyTransition(ctx, cand, now)
		run.Attempted += attempted
		run.Notified += notified
	}

	s.logger.Info("vat transition pass complete",
		slog.Int("checked", run.Checked),
		slog.Int("transitioned", run.Transitioned),
		slog.Int("notified", run.Notified),
		slog.Int("errors", len(run.Errors)))
	return run, nil
}

// notifyTransition queues one pending email per notifiable partner. Recipient
// failures are collected and logged; they never fail the transition itself.
func (s *Service) notifyTransition(ctx context.Context, cand TransitionCandidate, at time.Time) (attempted, notified int) {
	partners, err := s.partners.ListNotifiablePartners(ctx)
	if err != nil {
		s.logger.Warn("load notifiable partners", slog.Any("error", err))
		return 0, 0
	}
	if len(partners) == 0 {
		s.logger.Warn("no partners opted into vat transition notifications",
			slog.Int64("quarter_id", cand.ID))
		return 0, 0
	}

	msg := ComposeTransitionMessage(cand, at)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.NotifyConcurrency)
	for _, partner := range partners {
		partner := partner
		g.Go(func() error {
			entry := EmailLog{
				ClientID:       cand.ClientID,
				QuarterID:      cand.ID,
				RecipientID:    &partner.ID,
				RecipientName:  partner.Name,
				RecipientEmail: partner.Email,
				Subject:        msg.Subject,
				Body:           msg.Body,
				Status:         EmailStatusPending,
				Type:           EmailTypeTransition,
				CreatedAt:      at,
			}
			if err := s.repo.InsertEmailLog(gctx, entry); err != nil {
				s.logger.Warn("queue transition notification",
					slog.Int64("quarter_id", cand.ID),
					slog.String("recipient", partner.Email),
					slog.Any("error", err))
				return nil
			}
			mu.Lock()
			notified++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return len(partners), notified
}

// AutoAssign distributes transitioned, unassigned quarters across active
// partners round-robin. The cursor is local to the pass and advances on every
// candidate attempt, success or failure, so a bad record cannot skew the
// distribution for the records after it.
func (s *Service) AutoAssign(ctx context.Context) (AssignmentRun, error) {
	run := AssignmentRun{Errors: []RunError{}}
	now := s.cal.Now()

	candidates, err := s.repo.FindUnassignedChaseQuarters(ctx)
	if err != nil {
		return run, fmt.Errorf("vat: find unassigned quarters: %w", err)
	}
	run.Candidates = len(candidates)
	if len(candidates) == 0 {
		return run, nil
	}

	partners, err := s.partners.ListActivePartners(ctx)
	if err != nil {
		return run, fmt.Errorf("vat: list active partners: %w", err)
	}
	if len(partners) == 0 {
		s.logger.Warn("no active partners available for auto-assignment",
			slog.Int("candidates", len(candidates)))
		return run, nil
	}

	cursor := 0
	for _, cand := range candidates {
		partner := partners[cursor%len(partners)]
		cursor++

		if err := s.repo.AssignQuarter(ctx, cand, partner, now); err != nil {
			s.logger.Error("auto-assign vat quarter",
				slog.Int64("quarter_id", cand.ID),
				slog.String("client_code", cand.Client.Code),
				slog.Int64("partner_id", partner.ID),
				slog.Any("error", err))
			run.Errors = append(run.Errors, RunError{ID: cand.ID, Name: cand.Client.CompanyName, Message: err.Error()})
			continue
		}
		run.Assigned++

		msg := ComposeAssignmentMessage(cand, partner, now)
		entry := EmailLog{
			ClientID:       cand.ClientID,
			QuarterID:      cand.ID,
			RecipientID:    &partner.ID,
			RecipientName:  partner.Name,
			RecipientEmail: partner.Email,
			Subject:        msg.Subject,
			Body:           msg.Body,
			Status:         EmailStatusPending,
			Type:           EmailTypeAssignment,
			CreatedAt:      now,
		}
		if err := s.repo.InsertEmailLog(ctx, entry); err != nil {
			s.logger.Warn("queue assignment notification",
				slog.Int64("quarter_id", cand.ID),
				slog.String("recipient", partner.Email),
				slog.Any("error", err))
		}
	}

	s.logger.Info("vat auto-assignment pass complete",
		slog.Int("candidates", run.Candidates),
		slog.Int("assigned", run.Assigned),
		slog.Int("errors", len(run.Errors)))
	return run, nil
}

// CreateQuarters opens the next quarter for each VAT-enabled client whose
// group has a boundary in the reference month. Gated on the configured
// creation day; when the gate is closed no clients are evaluated at all.
// Idempotent: an existing overlapping quarter (or a concurrent duplicate
// insert) records a skip, never a second row.
func (s *Service) CreateQuarters(ctx context.Context, ref time.Time, skipEmails bool) (CreationRun, error) {
	run := CreationRun{Errors: []RunError{}, Results: []CreationResult{}}
	ref = s.cal.In(ref)

	if ref.Day() != s.cfg.CreationDay {
		s.logger.Info("quarter creation gate closed",
			slog.Int("day", ref.Day()),
			slog.Int("creation_day", s.cfg.CreationDay))
		return run, nil
	}
	groups := GroupsCreatingIn(ref.Month())
	if len(groups) == 0 {
		s.logger.Info("no quarter group creates in reference month",
			slog.String("month", ref.Month().String()))
		return run, nil
	}

	clients, err := s.repo.ListVATClients(ctx, groups)
	if err != nil {
		return run, fmt.Errorf("vat: list vat clients: %w", err)
	}

	for _, client := range clients {
		run.Processed++

		if !KnownGroup(client.QuarterGroup) {
			run.Skipped++
			run.Results = append(run.Results, CreationResult{
				ClientID:    client.ID,
				ClientCode:  client.Code,
				CompanyName: client.CompanyName,
				Outcome:     OutcomeSkipped,
				Reason:      shared.ErrUnknownQuarterGroup.Error(),
			})
			continue
		}

		period := ComputePeriod(client.QuarterGroup, ref)

		existing, err := s.repo.FindOverlappingQuarter(ctx, client.ID, period)
		if err != nil {
			run.Errors = append(run.Errors, RunError{ID: client.ID, Name: client.CompanyName, Message: err.Error()})
			continue
		}
		if existing != nil {
			run.Skipped++
			run.Results = append(run.Results, CreationResult{
				ClientID:    client.ID,
				ClientCode:  client.Code,
				CompanyName: client.CompanyName,
				Outcome:     OutcomeSkipped,
				Reason:      fmt.Sprintf("existing quarter %s", existing.PeriodLabel),
			})
			continue
		}

		quarter, err := s.repo.CreateQuarter(ctx, client, period, s.cal.Now())
		if errors.Is(err, shared.ErrDuplicateQuarter) {
			run.Skipped++
			run.Results = append(run.Results, CreationResult{
				ClientID:    client.ID,
				ClientCode:  client.Code,
				CompanyName: client.CompanyName,
				Outcome:     OutcomeSkipped,
				Reason:      err.Error(),
			})
			continue
		}
		if err != nil {
			s.logger.Error("create vat quarter",
				slog.Int64("client_id", client.ID),
				slog.String("client_code", client.Code),
				slog.Any("error", err))
			run.Errors = append(run.Errors, RunError{ID: client.ID, Name: client.CompanyName, Message: err.Error()})
			continue
		}
		run.Created++
		run.Results = append(run.Results, CreationResult{
			ClientID:    client.ID,
			ClientCode:  client.Code,
			CompanyName: client.CompanyName,
			Outcome:     OutcomeCreated,
			Period:      &period,
		})

		if skipEmails || client.ContactEmail == "" {
			continue
		}
		msg := ComposeCreationMessage(client, period)
		entry := EmailLog{
			ClientID:       client.ID,
			QuarterID:      quarter.ID,
			RecipientName:  client.CompanyName,
			RecipientEmail: client.ContactEmail,
			Subject:        msg.Subject,
			Body:           msg.Body,
			Status:         EmailStatusPending,
			Type:           EmailTypeCreation,
			CreatedAt:      s.cal.Now(),
		}
		if err := s.repo.InsertEmailLog(ctx, entry); err != nil {
			s.logger.Warn("queue creation notification",
				slog.Int64("client_id", client.ID),
				slog.Any("error", err))
			continue
		}
		run.EmailsSent++
	}

	s.logger.Info("vat quarter creation pass complete",
		slog.Int("processed", run.Processed),
		slog.Int("created", run.Created),
		slog.Int("skipped", run.Skipped),
		slog.Int("emails_queued", run.EmailsSent),
		slog.Int("errors", len(run.Errors)))
	return run, nil
}
