package vat

import (
	"time"

	"github.com/google/uuid"
)

// Stage is the position of a VAT quarter in its workflow.
type Stage string

// Workflow stages in forward order.
const (
	StageWaitingForQuarterEnd  Stage = "WAITING_FOR_QUARTER_END"
	StagePaperworkPendingChase Stage = "PAPERWORK_PENDING_CHASE"
	StagePaperworkReceived     Stage = "PAPERWORK_RECEIVED"
	StageWorkInProgress        Stage = "WORK_IN_PROGRESS"
	StageWorkFinished          Stage = "WORK_FINISHED"
	StageSentToClient          Stage = "SENT_TO_CLIENT"
	StageClientApproved        Stage = "CLIENT_APPROVED"
	StageFiledToHMRC           Stage = "FILED_TO_HMRC"
)

// ForwardSequence lists the stages in their normal forward order.
var ForwardSequence = []Stage{
	StageWaitingForQuarterEnd,
	StagePaperworkPendingChase,
	StagePaperworkReceived,
	StageWorkInProgress,
	StageWorkFinished,
	StageSentToClient,
	StageClientApproved,
	StageFiledToHMRC,
}

func stageIndex(s Stage) int {
	for i, candidate := range ForwardSequence {
		if candidate == s {
			return i
		}
	}
	return -1
}

// ValidStageTransition reports whether current->target is allowed: any forward
// move (skips included), or a backward move with an explicit override.
func ValidStageTransition(current, target Stage, hasOverride bool) bool {
	ci, ti := stageIndex(current), stageIndex(target)
	if ci < 0 || ti < 0 {
		return false
	}
	if ti > ci {
		return true
	}
	return ti < ci && hasOverride
}

// QuarterGroup identifies one of the three fixed 3-month VAT filing cycles,
// named after the months its quarters end in.
type QuarterGroup string

const (
	GroupJanAprJulOct QuarterGroup = "1_4_7_10"
	GroupFebMayAugNov QuarterGroup = "2_5_8_11"
	GroupMarJunSepDec QuarterGroup = "3_6_9_12"
)

// Client carries the identity and VAT configuration read by the automation
// passes. It is never mutated here.
type Client struct {
	ID           int64
	Code         string
	CompanyName  string
	ContactEmail string
	QuarterGroup QuarterGroup
	VATEnabled   bool
}

// Quarter represents one VAT filing obligation period for one client.
type Quarter struct {
	ID             int64
	ClientID       int64
	PeriodLabel    string
	StartDate      time.Time
	EndDate        time.Time
	FilingDueDate  time.Time
	Stage          Stage
	IsCompleted    bool
	AssignedUserID *int64

	// Chase milestone, stamped by auto-assignment. The later workflow
	// milestones are owned by the interactive app, not this automation.
	ChaseStartedAt *time.Time
	ChaseStartedBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TransitionCandidate joins a quarter with its owning client's identity for
// the transition and assignment passes.
type TransitionCandidate struct {
	Quarter
	Client Client
}

// HistoryEntry is one immutable stage-transition record. FromStage is nil for
// the creation entry and for auto-assignment entries.
type HistoryEntry struct {
	ID         int64
	QuarterID  int64
	FromStage  *Stage
	ToStage    Stage
	At         time.Time
	ActorID    *int64
	ActorName  string
	ActorEmail string
	ActorRole  string
	Note       string
}

// Email log statuses. This subsystem only ever writes PENDING rows; the
// delivery worker advances them.
const (
	EmailStatusPending = "PENDING"
	EmailStatusSent    = "SENT"
	EmailStatusFailed  = "FAILED"
)

// Email log types distinguishing what triggered the message.
const (
	EmailTypeTransition = "TRANSITION"
	EmailTypeAssignment = "ASSIGNMENT"
	EmailTypeCreation   = "CREATION"
)

// EmailLog represents one queued outbound message.
type EmailLog struct {
	ID             uuid.UUID
	ClientID       int64
	QuarterID      int64
	RecipientID    *int64
	RecipientName  string
	RecipientEmail string
	Subject        string
	Body           string
	Status         string
	Type           string
	CreatedAt      time.Time
}

// RunError captures one per-record failure with enough identity to act on.
type RunError struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// TransitionRun summarises one transition pass.
type TransitionRun struct {
	Checked      int        `json:"checked"`
	Transitioned int        `json:"transitioned"`
	Attempted    int        `json:"notificationsAttempted"`
	Notified     int        `json:"notificationsQueued"`
	Errors       []RunError `json:"errors"`
}

// AssignmentRun summarises one auto-assignment pass.
type AssignmentRun struct {
	Candidates int        `json:"candidates"`
	Assigned   int        `json:"assigned"`
	Errors     []RunError `json:"errors"`
}

// Creation outcomes per client.
const (
	OutcomeCreated = "CREATED"
	OutcomeSkipped = "SKIPPED"
)

// CreationResult reports what happened for one client during quarter creation.
type CreationResult struct {
	ClientID    int64   `json:"clientId"`
	ClientCode  string  `json:"clientCode"`
	CompanyName string  `json:"companyName"`
	Outcome     string  `json:"outcome"`
	Reason      string  `json:"reason,omitempty"`
	Period      *Period `json:"period,omitempty"`
}

// CreationRun summarises one quarter-creation pass.
type CreationRun struct {
	Processed  int              `json:"processed"`
	Created    int              `json:"created"`
	Skipped    int              `json:"skipped"`
	EmailsSent int              `json:"emailsQueued"`
	Errors     []RunError       `json:"errors"`
	Results    []CreationResult `json:"results"`
}
