package vat

import (
	"fmt"
	"time"

	"github.com/arden-pm/arden-pm/internal/users"
)

// Message is a composed notification ready for the email log.
type Message struct {
	Subject string
	Body    string
}

const dashboardPath = "/dashboard/clients"

const displayDate = "02 Jan 2006"

func quarterLink(clientID int64) string {
	return fmt.Sprintf("%s/%d/vat-quarters", dashboardPath, clientID)
}

// ComposeTransitionMessage builds the broadcast sent to partners when a
// quarter's period has elapsed and chase should begin.
func ComposeTransitionMessage(c TransitionCandidate, transitionedAt time.Time) Message {
	subject := fmt.Sprintf("VAT quarter ended: %s (%s)", c.Client.CompanyName, c.Client.Code)
	body := fmt.Sprintf(
		"The VAT quarter %s for %s (%s) has ended.\n\n"+
			"Quarter end: %s\n"+
			"Filing due: %s\n"+
			"Moved to paperwork chase on %s.\n\n"+
			"Review the quarter: %s\n",
		c.PeriodLabel,
		c.Client.CompanyName,
		c.Client.Code,
		c.EndDate.Format(displayDate),
		c.FilingDueDate.Format(displayDate),
		transitionedAt.Format(displayDate),
		quarterLink(c.ClientID),
	)
	return Message{Subject: subject, Body: body}
}

// ComposeAssignmentMessage builds the message sent only to the partner a
// quarter was auto-assigned to.
func ComposeAssignmentMessage(c TransitionCandidate, partner users.User, assignedAt time.Time) Message {
	subject := fmt.Sprintf("VAT quarter assigned to you: %s (%s)", c.Client.CompanyName, c.Client.Code)
	body := fmt.Sprintf(
		"Hi %s,\n\n"+
			"The VAT quarter %s for %s (%s) was assigned to you on %s.\n"+
			"Filing due: %s\n\n"+
			"Start the paperwork chase: %s\n",
		partner.Name,
		c.PeriodLabel,
		c.Client.CompanyName,
		c.Client.Code,
		assignedAt.Format(displayDate),
		c.FilingDueDate.Format(displayDate),
		quarterLink(c.ClientID),
	)
	return Message{Subject: subject, Body: body}
}

// ComposeCreationMessage builds the message sent to the client contact when a
// new quarter record is opened.
func ComposeCreationMessage(client Client, p Period) Message {
	subject := fmt.Sprintf("New VAT quarter opened for %s", client.CompanyName)
	body := fmt.Sprintf(
		"A new VAT quarter has been opened for %s (%s).\n\n"+
			"Period: %s to %s\n"+
			"Filing due: %s\n\n"+
			"We will be in touch once the quarter ends to collect your paperwork.\n",
		client.CompanyName,
		client.Code,
		p.Start.Format(displayDate),
		p.End.Format(displayDate),
		p.FilingDue.Format(displayDate),
	)
	return Message{Subject: subject, Body: body}
}
