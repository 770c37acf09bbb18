package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskTypeSendEmail is the task type for sending transactional emails.
	TaskTypeSendEmail = "mail:send"
	// TaskTypeEmailDispatch drains pending email log rows into send tasks.
	TaskTypeEmailDispatch = "mail:dispatch"
	// TaskTypeVATTransitionScan runs the daily quarter-end transition pass.
	TaskTypeVATTransitionScan = "vat:transition_scan"
	// TaskTypeVATQuarterCreate runs the monthly quarter creation pass.
	TaskTypeVATQuarterCreate = "vat:quarter_create"
)

// SendEmailPayload describes the information required to send an email.
type SendEmailPayload struct {
	EmailLogID string `json:"emailLogId"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// VATTransitionScanPayload configures one transition run.
type VATTransitionScanPayload struct {
	// AutoAssign chains the round-robin assignment pass after the scan.
	AutoAssign bool `json:"autoAssign"`
}

// VATQuarterCreatePayload configures one quarter creation run.
type VATQuarterCreatePayload struct {
	// SimulatedDate overrides "today" (YYYY-MM-DD) for deterministic test runs.
	SimulatedDate string `json:"simulatedDate,omitempty"`
	// SkipEmails suppresses creation notifications, used by dry runs.
	SkipEmails bool `json:"skipEmails"`
}

// NewSendEmailTask constructs an Asynq task.
func NewSendEmailTask(payload SendEmailPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeSendEmail, data), nil
}

// NewEmailDispatchTask constructs the periodic dispatch task.
func NewEmailDispatchTask() *asynq.Task {
	return asynq.NewTask(TaskTypeEmailDispatch, nil)
}

// NewVATTransitionScanTask constructs the daily transition scan task.
func NewVATTransitionScanTask(payload VATTransitionScanPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeVATTransitionScan, data), nil
}

// NewVATQuarterCreateTask constructs the monthly creation task.
func NewVATQuarterCreateTask(payload VATQuarterCreatePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTypeVATQuarterCreate, data), nil
}

// HandleSendEmailTask processes TaskTypeSendEmail tasks.
func HandleSendEmailTask(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	// Placeholder: SMTP transport is wired per environment.
	fmt.Printf("[jobs] send email to %s subject=%s\n", payload.To, payload.Subject)
	return nil
}
