package vat

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arden-pm/arden-pm/internal/shared"
	"github.com/arden-pm/arden-pm/internal/users"
)

// ============================================================================
// MOCK REPOSITORY
// ============================================================================

type mockRepository struct {
	quarters map[int64]*Quarter
	clients  map[int64]Client
	history  []HistoryEntry
	activity []string
	emails   []EmailLog
	nextID   int64

	listCalls int

	// Error injection
	findErr          error
	listClientsErr   error
	transitionErrFor map[int64]error
	assignErrFor     map[int64]error
	createErrFor     map[int64]error
	emailErrFor      map[string]error
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		quarters:         make(map[int64]*Quarter),
		clients:          make(map[int64]Client),
		nextID:           1,
		transitionErrFor: make(map[int64]error),
		assignErrFor:     make(map[int64]error),
		createErrFor:     make(map[int64]error),
		emailErrFor:      make(map[string]error),
	}
}

func (m *mockRepository) addClient(c Client) {
	m.clients[c.ID] = c
}

func (m *mockRepository) addQuarter(q Quarter) int64 {
	id := m.nextID
	m.nextID++
	q.ID = id
	m.quarters[id] = &q
	return id
}

func (m *mockRepository) candidate(id int64) TransitionCandidate {
	q := m.quarters[id]
	return TransitionCandidate{Quarter: *q, Client: m.clients[q.ClientID]}
}

func (m *mockRepository) FindTransitionCandidates(ctx context.Context, now time.Time) ([]TransitionCandidate, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var result []TransitionCandidate
	for id, q := range m.quarters {
		if q.Stage == StageWaitingForQuarterEnd && !q.IsCompleted && q.EndDate.Before(now) {
			result = append(result, m.candidate(id))
		}
	}
	sortCandidates(result)
	return result, nil
}

func (m *mockRepository) FindUnassignedChaseQuarters(ctx context.Context) ([]TransitionCandidate, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	var result []TransitionCandidate
	for id, q := range m.quarters {
		if q.Stage == StagePaperworkPendingChase && !q.IsCompleted && q.AssignedUserID == nil {
			result = append(result, m.candidate(id))
		}
	}
	sortCandidates(result)
	return result, nil
}

func (m *mockRepository) TransitionQuarter(ctx context.Context, cand TransitionCandidate, at time.Time, note string) error {
	if err := m.transitionErrFor[cand.ID]; err != nil {
		return err
	}
	q := m.quarters[cand.ID]
	from := q.Stage
	q.Stage = StagePaperworkPendingChase
	q.UpdatedAt = at
	m.history = append(m.history, HistoryEntry{
		QuarterID: cand.ID,
		FromStage: &from,
		ToStage:   StagePaperworkPendingChase,
		At:        at,
		ActorName: users.SystemActor.Name,
		ActorRole: users.SystemActor.Role,
		Note:      note,
	})
	m.activity = append(m.activity, "vat_quarter.transitioned")
	return nil
}

func (m *mockRepository) AssignQuarter(ctx context.Context, cand TransitionCandidate, partner users.User, at time.Time) error {
	if err := m.assignErrFor[cand.ID]; err != nil {
		return err
	}
	q := m.quarters[cand.ID]
	q.AssignedUserID = &partner.ID
	q.ChaseStartedAt = &at
	q.ChaseStartedBy = partner.Name
	m.history = append(m.history, HistoryEntry{
		QuarterID: cand.ID,
		ToStage:   q.Stage,
		At:        at,
		ActorID:   &partner.ID,
		ActorName: partner.Name,
		ActorRole: partner.Role,
	})
	m.activity = append(m.activity, "vat_quarter.auto_assigned")
	return nil
}

func (m *mockRepository) ListVATClients(ctx context.Context, groups []QuarterGroup) ([]Client, error) {
	m.listCalls++
	if m.listClientsErr != nil {
		return nil, m.listClientsErr
	}
	inGroups := func(g QuarterGroup) bool {
		for _, candidate := range groups {
			if candidate == g {
				return true
			}
		}
		return false
	}
	var result []Client
	for _, c := range m.clients {
		if c.VATEnabled && inGroups(c.QuarterGroup) {
			result = append(result, c)
		}
	}
	sortClients(result)
	return result, nil
}

func (m *mockRepository) FindOverlappingQuarter(ctx context.Context, clientID int64, p Period) (*Quarter, error) {
	for _, q := range m.quarters {
		if q.ClientID == clientID && !q.IsCompleted && p.Overlaps(q.StartDate, q.EndDate) {
			copied := *q
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *mockRepository) CreateQuarter(ctx context.Context, client Client, p Period, at time.Time) (Quarter, error) {
	if err := m.createErrFor[client.ID]; err != nil {
		return Quarter{}, err
	}
	for _, q := range m.quarters {
		if q.ClientID == client.ID && q.PeriodLabel == p.Label() {
			return Quarter{}, shared.ErrDuplicateQuarter
		}
	}
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
	id := m.addQuarter(q)
	m.activity = append(m.activity, "vat_quarter.created")
	return *m.quarters[id], nil
}

func (m *mockRepository) InsertEmailLog(ctx context.Context, e EmailLog) error {
	if err := m.emailErrFor[e.RecipientEmail]; err != nil {
		return err
	}
	m.emails = append(m.emails, e)
	return nil
}

func (m *mockRepository) emailsOfType(t string) []EmailLog {
	var result []EmailLog
	for _, e := range m.emails {
		if e.Type == t {
			result = append(result, e)
		}
	}
	return result
}

func sortCandidates(list []TransitionCandidate) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].ID < list[j-1].ID; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

func sortClients(list []Client) {
	for i := 1; i < len(list); i++ {
		for j := i; j > 0 && list[j].ID < list[j-1].ID; j-- {
			list[j], list[j-1] = list[j-1], list[j]
		}
	}
}

type mockDirectory struct {
	active     []users.User
	notifiable []users.User
	activeErr  error
	notifyErr  error
}

func (m *mockDirectory) ListActivePartners(ctx context.Context) ([]users.User, error) {
	return m.active, m.activeErr
}

func (m *mockDirectory) ListNotifiablePartners(ctx context.Context) ([]users.User, error) {
	return m.notifiable, m.notifyErr
}

// ============================================================================
// FIXTURES
// ============================================================================

func testService(t *testing.T, repo *mockRepository, dir *mockDirectory, frozen time.Time) *Service {
	t.Helper()
	cal, err := NewCalendarAt("UTC", frozen)
	require.NoError(t, err)
	return NewService(repo, dir, cal, slog.Default(), ServiceConfig{})
}

func testPartners(n int) []users.User {
	result := make([]users.User, 0, n)
	names := []string{"Priya Shah", "Tom Bailey", "Ana Costa", "Mark Webb"}
	for i := 0; i < n; i++ {
		result = append(result, users.User{
			ID:                 int64(i + 1),
			Name:               names[i%len(names)],
			Email:              names[i%len(names)][:3] + "@arden.example",
			Role:               users.RolePartner,
			IsActive:           true,
			EmailNotifications: true,
		})
	}
	return result
}

func acme() Client {
	return Client{
		ID:           7,
		Code:         "ACM001",
		CompanyName:  "Acme Ltd",
		ContactEmail: "accounts@acme.example",
		QuarterGroup: GroupJanAprJulOct,
		VATEnabled:   true,
	}
}

func waitingQuarter(clientID int64, end time.Time) Quarter {
	start := time.Date(end.Year(), end.Month()-2, 1, 0, 0, 0, 0, time.UTC)
	return Quarter{
		ClientID:      clientID,
		PeriodLabel:   Period{Start: start, End: end}.Label(),
		StartDate:     start,
		EndDate:       end,
		FilingDueDate: time.Date(end.Year(), end.Month()+2, 0, 0, 0, 0, 0, time.UTC),
		Stage:         StageWaitingForQuarterEnd,
	}
}

// ============================================================================
// TRANSITION PASS
// ============================================================================

func TestCheckTransitionsFiltersCandidates(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	now := date(2024, time.May, 2)

	pastID := repo.addQuarter(waitingQuarter(7, date(2024, time.April, 30)))
	futureID := repo.addQuarter(waitingQuarter(7, date(2024, time.July, 31)))

	chased := waitingQuarter(7, date(2024, time.January, 31))
	chased.Stage = StagePaperworkPendingChase
	chasedID := repo.addQuarter(chased)

	completed := waitingQuarter(7, date(2024, time.January, 31))
	completed.IsCompleted = true
	completedID := repo.addQuarter(completed)

	svc := testService(t, repo, &mockDirectory{}, now)
	run, err := svc.CheckTransitions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.Checked)
	assert.Equal(t, 1, run.Transitioned)
	assert.Equal(t, StagePaperworkPendingChase, repo.quarters[pastID].Stage)
	assert.Equal(t, StageWaitingForQuarterEnd, repo.quarters[futureID].Stage)
	assert.Equal(t, StagePaperworkPendingChase, repo.quarters[chasedID].Stage)
	assert.True(t, repo.quarters[completedID].IsCompleted)
}

func TestCheckTransitionsSideEffects(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	id := repo.addQuarter(waitingQuarter(7, date(2024, time.April, 30)))

	svc := testService(t, repo, &mockDirectory{notifiable: testPartners(2)}, date(2024, time.May, 2))
	run, err := svc.CheckTransitions(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, run.Transitioned)
	require.Len(t, repo.history, 1)
	entry := repo.history[0]
	assert.Equal(t, id, entry.QuarterID)
	require.NotNil(t, entry.FromStage)
	assert.Equal(t, StageWaitingForQuarterEnd, *entry.FromStage)
	assert.Equal(t, StagePaperworkPendingChase, entry.ToStage)
	assert.Equal(t, users.RoleSystem, entry.ActorRole)
	assert.Equal(t, []string{"vat_quarter.transitioned"}, repo.activity)

	assert.Equal(t, 2, run.Attempted)
	assert.Equal(t, 2, run.Notified)
	queued := repo.emailsOfType(EmailTypeTransition)
	require.Len(t, queued, 2)
	for _, e := range queued {
		assert.Equal(t, EmailStatusPending, e.Status)
	}
}

func TestCheckTransitionsNoPartnersIsNotAnError(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	repo.addQuarter(waitingQuarter(7, date(2024, time.April, 30)))

	svc := testService(t, repo, &mockDirectory{}, date(2024, time.May, 2))
	run, err := svc.CheckTransitions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.Transitioned)
	assert.Zero(t, run.Notified)
	assert.Empty(t, run.Errors)
}

func TestCheckTransitionsPartialFailure(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	a := repo.addQuarter(waitingQuarter(7, date(2024, time.January, 31)))
	b := repo.addQuarter(waitingQuarter(7, date(2024, time.April, 30)))
	c := repo.addQuarter(waitingQuarter(7, date(2023, time.October, 31)))
	repo.transitionErrFor[b] = errors.New("constraint violation")

	svc := testService(t, repo, &mockDirectory{}, date(2024, time.May, 2))
	run, err := svc.CheckTransitions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, run.Checked)
	assert.Equal(t, 2, run.Transitioned)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, b, run.Errors[0].ID)
	assert.Equal(t, StagePaperworkPendingChase, repo.quarters[a].Stage)
	assert.Equal(t, StageWaitingForQuarterEnd, repo.quarters[b].Stage)
	assert.Equal(t, StagePaperworkPendingChase, repo.quarters[c].Stage)
}

func TestCheckTransitionsNotificationFailureIsolated(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	repo.addQuarter(waitingQuarter(7, date(2024, time.April, 30)))

	partners := testPartners(3)
	repo.emailErrFor[partners[1].Email] = errors.New("insert failed")

	svc := testService(t, repo, &mockDirectory{notifiable: partners}, date(2024, time.May, 2))
	run, err := svc.CheckTransitions(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, run.Transitioned)
	assert.Equal(t, 3, run.Attempted)
	assert.Equal(t, 2, run.Notified)
	assert.Empty(t, run.Errors)
}

func TestCheckTransitionsInfrastructureFailure(t *testing.T) {
	repo := newMockRepository()
	repo.findErr = errors.New("store unavailable")

	svc := testService(t, repo, &mockDirectory{}, date(2024, time.May, 2))
	_, err := svc.CheckTransitions(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store unavailable")
}

// ============================================================================
// AUTO-ASSIGNMENT PASS
// ============================================================================

func chaseQuarter(clientID int64, end time.Time) Quarter {
	q := waitingQuarter(clientID, end)
	q.Stage = StagePaperworkPendingChase
	return q
}

func TestAutoAssignRoundRobinFairness(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, repo.addQuarter(chaseQuarter(7, date(2024, time.Month(i+1), 28))))
	}
	partners := testPartners(2)

	svc := testService(t, repo, &mockDirectory{active: partners}, date(2024, time.June, 1))
	run, err := svc.AutoAssign(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, run.Candidates)
	assert.Equal(t, 5, run.Assigned)

	counts := map[int64]int{}
	for i, id := range ids {
		q := repo.quarters[id]
		require.NotNil(t, q.AssignedUserID)
		expected := partners[i%len(partners)].ID
		assert.Equal(t, expected, *q.AssignedUserID, "candidate %d", i)
		counts[*q.AssignedUserID]++
	}
	// 5 candidates over 2 partners splits 3/2.
	assert.ElementsMatch(t, []int{3, 2}, []int{counts[partners[0].ID], counts[partners[1].ID]})
}

func TestAutoAssignCursorAdvancesOnFailure(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	var ids []int64
	for i := 0; i < 4; i++ {
		ids = append(ids, repo.addQuarter(chaseQuarter(7, date(2024, time.Month(i+1), 28))))
	}
	repo.assignErrFor[ids[1]] = errors.New("constraint violation")
	partners := testPartners(2)

	svc := testService(t, repo, &mockDirectory{active: partners}, date(2024, time.June, 1))
	run, err := svc.AutoAssign(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, run.Assigned)
	require.Len(t, run.Errors, 1)

	// The failed candidate still consumed partner slot 2, so distribution for
	// the records after it is unchanged.
	assert.Equal(t, partners[0].ID, *repo.quarters[ids[0]].AssignedUserID)
	assert.Nil(t, repo.quarters[ids[1]].AssignedUserID)
	assert.Equal(t, partners[0].ID, *repo.quarters[ids[2]].AssignedUserID)
	assert.Equal(t, partners[1].ID, *repo.quarters[ids[3]].AssignedUserID)
}

func TestAutoAssignEmptyPoolsAreNotErrors(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	repo.addQuarter(chaseQuarter(7, date(2024, time.April, 30)))

	svc := testService(t, repo, &mockDirectory{}, date(2024, time.June, 1))
	run, err := svc.AutoAssign(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, run.Candidates)
	assert.Zero(t, run.Assigned)

	empty := newMockRepository()
	svc = testService(t, empty, &mockDirectory{active: testPartners(2)}, date(2024, time.June, 1))
	run, err = svc.AutoAssign(context.Background())
	require.NoError(t, err)
	assert.Zero(t, run.Candidates)
	assert.Zero(t, run.Assigned)
}

func TestAutoAssignSideEffects(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	id := repo.addQuarter(chaseQuarter(7, date(2024, time.April, 30)))
	partners := testPartners(1)

	svc := testService(t, repo, &mockDirectory{active: partners}, date(2024, time.June, 1))
	run, err := svc.AutoAssign(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, run.Assigned)

	q := repo.quarters[id]
	require.NotNil(t, q.AssignedUserID)
	assert.Equal(t, partners[0].ID, *q.AssignedUserID)
	require.NotNil(t, q.ChaseStartedAt)
	assert.Equal(t, partners[0].Name, q.ChaseStartedBy)
	// Assignment does not change the stage.
	assert.Equal(t, StagePaperworkPendingChase, q.Stage)

	require.Len(t, repo.history, 1)
	assert.Nil(t, repo.history[0].FromStage)
	assert.Equal(t, partners[0].Name, repo.history[0].ActorName)

	emails := repo.emailsOfType(EmailTypeAssignment)
	require.Len(t, emails, 1)
	assert.Equal(t, partners[0].Email, emails[0].RecipientEmail)
	assert.Equal(t, EmailStatusPending, emails[0].Status)
}

// ============================================================================
// QUARTER CREATION PASS
// ============================================================================

func TestCreateQuartersScenario(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	ref := date(2024, time.May, 1)

	svc := testService(t, repo, &mockDirectory{}, ref)
	run, err := svc.CreateQuarters(context.Background(), ref, false)
	require.NoError(t, err)

	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 1, run.Created)
	assert.Zero(t, run.Skipped)
	assert.Equal(t, 1, run.EmailsSent)
	creationEmails := repo.emailsOfType(EmailTypeCreation)
	require.Len(t, creationEmails, 1)
	assert.Equal(t, EmailStatusPending, creationEmails[0].Status)
	require.Len(t, run.Results, 1)
	result := run.Results[0]
	assert.Equal(t, OutcomeCreated, result.Outcome)
	require.NotNil(t, result.Period)
	assert.True(t, result.Period.Start.Equal(date(2024, time.February, 1)))
	assert.True(t, result.Period.End.Equal(date(2024, time.April, 30)))
	assert.True(t, result.Period.FilingDue.Equal(date(2024, time.May, 31)))

	require.Len(t, repo.quarters, 1)
	for _, q := range repo.quarters {
		assert.Equal(t, StageWaitingForQuarterEnd, q.Stage)
		assert.Nil(t, q.AssignedUserID)
	}

	// Second run with the same date is a no-op skip.
	run, err = svc.CreateQuarters(context.Background(), ref, false)
	require.NoError(t, err)
	assert.Zero(t, run.Created)
	assert.Equal(t, 1, run.Skipped)
	assert.Equal(t, OutcomeSkipped, run.Results[0].Outcome)
	assert.Contains(t, run.Results[0].Reason, "existing quarter")
	assert.Len(t, repo.quarters, 1)
}

func TestCreateQuartersDayGate(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())

	svc := testService(t, repo, &mockDirectory{}, date(2024, time.May, 2))
	run, err := svc.CreateQuarters(context.Background(), date(2024, time.May, 2), false)
	require.NoError(t, err)

	assert.Zero(t, run.Processed)
	assert.Zero(t, run.Created)
	assert.Zero(t, run.Skipped)
	// The gate closes before clients are even evaluated.
	assert.Zero(t, repo.listCalls)
}

func TestCreateQuartersMonthGate(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())

	// May creates for group 1/4/7/10 only; a 3/6/9/12 client is not evaluated.
	other := acme()
	other.ID = 8
	other.Code = "BRI002"
	other.CompanyName = "Briar & Co"
	other.QuarterGroup = GroupMarJunSepDec
	repo.addClient(other)

	ref := date(2024, time.May, 1)
	svc := testService(t, repo, &mockDirectory{}, ref)
	run, err := svc.CreateQuarters(context.Background(), ref, false)
	require.NoError(t, err)

	assert.Equal(t, 1, run.Processed)
	assert.Equal(t, 1, run.Created)
	require.Len(t, run.Results, 1)
	assert.Equal(t, int64(7), run.Results[0].ClientID)
}

func TestCreateQuartersSkipEmails(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	ref := date(2024, time.May, 1)

	svc := testService(t, repo, &mockDirectory{}, ref)
	run, err := svc.CreateQuarters(context.Background(), ref, true)
	require.NoError(t, err)

	assert.Equal(t, 1, run.Created)
	assert.Zero(t, run.EmailsSent)
	assert.Empty(t, repo.emails)
}

func TestCreateQuartersPerClientFailureIsolated(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	broken := acme()
	broken.ID = 9
	broken.Code = "FLT003"
	broken.CompanyName = "Fault Ltd"
	repo.addClient(broken)
	repo.createErrFor[9] = errors.New("insert failed")

	ref := date(2024, time.May, 1)
	svc := testService(t, repo, &mockDirectory{}, ref)
	run, err := svc.CreateQuarters(context.Background(), ref, true)
	require.NoError(t, err)

	assert.Equal(t, 2, run.Processed)
	assert.Equal(t, 1, run.Created)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, int64(9), run.Errors[0].ID)
	assert.Equal(t, "Fault Ltd", run.Errors[0].Name)
}

func TestCreateQuartersDuplicateInsertIsSkip(t *testing.T) {
	repo := newMockRepository()
	repo.addClient(acme())
	repo.createErrFor[7] = shared.ErrDuplicateQuarter

	ref := date(2024, time.May, 1)
	svc := testService(t, repo, &mockDirectory{}, ref)
	run, err := svc.CreateQuarters(context.Background(), ref, true)
	require.NoError(t, err)

	assert.Zero(t, run.Created)
	assert.Equal(t, 1, run.Skipped)
	assert.Empty(t, run.Errors)
}
