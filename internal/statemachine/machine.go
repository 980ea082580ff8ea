package statemachine

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/model"
	"github.com/zaihebian/LeadGenNewVersion/pkg/metrics"
)

// LeadStore persists lead lifecycle mutations. UpdateLifecycle must apply
// the write only if the stored state still equals expectedState, and return
// ErrStaleState otherwise, so concurrent jobs fail loudly instead of
// double-applying an effect.
type LeadStore interface {
	UpdateLifecycle(ctx context.Context, lead *model.Lead, expectedState model.LeadState, reason string) error
}

// ThreadStore flags a lead's conversations for human attention.
type ThreadStore interface {
	MarkHumanRequired(ctx context.Context, leadID int64, sentiment model.ReplySentiment) error
}

// StatusSummary is a read-only snapshot for reporting. It must not be used
// for transition decisions.
type StatusSummary struct {
	State         string `json:"state"`
	EmailsSent    int    `json:"emails_sent"`
	MaxEmails     int    `json:"max_emails"`
	CanSendEmail  bool   `json:"can_send_email"`
	BlockedReason string `json:"email_blocked_reason,omitempty"`
	IsTerminal    bool   `json:"is_terminal"`
	RequiresHuman bool   `json:"requires_human"`
}

// Machine applies the transition table to individual leads. Every mutating
// operation validates its own precondition against the lead it is handed,
// and persistence re-validates against the stored state at write time.
// The machine never talks to the mail transport or the content generator:
// it only validates and records.
type Machine struct {
	leads   LeadStore
	threads ThreadStore
	logger  *zap.Logger
	now     func() time.Time
}

func New(leads LeadStore, threads ThreadStore, logger *zap.Logger) *Machine {
	return &Machine{
		leads:   leads,
		threads: threads,
		logger:  logger,
		now:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// transition moves lead to target after checking the edge table, persisting
// through the store. On failure the in-memory lead is left as it was handed
// in (check-then-act).
func (m *Machine) transition(ctx context.Context, lead *model.Lead, target model.LeadState, reason string) error {
	if !CanTransition(lead.State, target) {
		return &StateMachineError{LeadID: lead.ID, From: lead.State, To: target, Reason: "edge not in transition table"}
	}
	return m.apply(ctx, lead, target, reason)
}

// apply persists a state change without consulting the edge table. Only
// internal paths that have already established their own guard may call
// it; everything else goes through transition.
func (m *Machine) apply(ctx context.Context, lead *model.Lead, target model.LeadState, reason string) error {
	from := lead.State
	prevUpdatedAt := lead.UpdatedAt
	lead.State = target
	lead.UpdatedAt = m.now().UTC()

	if err := m.leads.UpdateLifecycle(ctx, lead, from, reason); err != nil {
		lead.State = from
		lead.UpdatedAt = prevUpdatedAt
		if errors.Is(err, ErrStaleState) {
			return &StateMachineError{LeadID: lead.ID, From: from, To: target, Reason: "persisted state changed concurrently"}
		}
		return err
	}

	metrics.IncrementTransition(from.String(), target.String())
	m.logger.Info("Lead transitioned",
		zap.Int64("lead_id", lead.ID),
		zap.String("from", from.String()),
		zap.String("to", target.String()),
		zap.String("reason", reason),
	)

	return nil
}

// ProcessCollected marks a COLLECTED lead as ENRICHED. Enrichment data is
// attached externally before this call; the machine only records the fact.
func (m *Machine) ProcessCollected(ctx context.Context, lead *model.Lead) error {
	if lead.State != model.StateCollected {
		return &StateMachineError{LeadID: lead.ID, From: lead.State, Reason: "lead must be COLLECTED"}
	}
	return m.transition(ctx, lead, model.StateEnriched, "enrichment complete")
}

// ProcessEnriched records the first email send and moves the lead to
// EMAILED_1. The caller must have already sent the email successfully.
func (m *Machine) ProcessEnriched(ctx context.Context, lead *model.Lead) error {
	if lead.State != model.StateEnriched {
		return &StateMachineError{LeadID: lead.ID, From: lead.State, Reason: "lead must be ENRICHED"}
	}
	if lead.EmailsSentCount >= model.MaxEmailsPerLead {
		return &StateMachineError{LeadID: lead.ID, From: lead.State, Reason: "max emails already sent"}
	}

	prevCount, prevLast := lead.EmailsSentCount, lead.LastEmailAt
	now := m.now().UTC()
	lead.EmailsSentCount = 1
	lead.LastEmailAt = &now

	if err := m.transition(ctx, lead, model.StateEmailed1, "first email sent"); err != nil {
		lead.EmailsSentCount, lead.LastEmailAt = prevCount, prevLast
		return err
	}
	return nil
}

// HandlePositiveReply moves an EMAILED_1 lead to INTERESTED and flags every
// thread for human takeover. No further automated email may be sent.
func (m *Machine) HandlePositiveReply(ctx context.Context, lead *model.Lead) error {
	if lead.State != model.StateEmailed1 {
		return &StateMachineError{LeadID: lead.ID, From: lead.State, Reason: "lead must be EMAILED_1"}
	}

	if err := m.transition(ctx, lead, model.StateInterested, "positive reply received"); err != nil {
		return err
	}

	if err := m.threads.MarkHumanRequired(ctx, lead.ID, model.SentimentPositive); err != nil {
		// The transition is already committed; surface the flagging failure.
		return err
	}
	return nil
}

// HandleNegativeReply moves an EMAILED_1 lead to NOT_INTERESTED. The caller
// is expected to send exactly one polite follow-up before closing.
func (m *Machine) HandleNegativeReply(ctx context.Context, lead *model.Lead) error {
	if lead.State != model.StateEmailed1 {
		return &StateMachineError{LeadID: lead.ID, From: lead.State, Reason: "lead must be EMAILED_1"}
	}
	return m.transition(ctx, lead, model.StateNotInterested, "negative reply received")
}

// HandleNoReply records the no-reply follow-up send and moves the lead to
// EMAILED_2, or closes it directly when no further send is allowed.
func (m *Machine) HandleNoReply(ctx context.Context, lead *model.Lead) error {
	if lead.State != model.StateEmailed1 {
		return &StateMachineError{LeadID: lead.ID, From: lead.State, Reason: "lead must be EMAILED_1"}
	}

	if lead.EmailsSentCount >= model.MaxEmailsPerLead {
		// Already at max: a second send is not possible, close instead.
		// EMAILED_1 -> CLOSED is not a public edge, so bypass the table
		// for this one guarded case.
		return m.apply(ctx, lead, model.StateClosed, "max emails reached")
	}

	prevCount, prevLast := lead.EmailsSentCount, lead.LastEmailAt
	now := m.now().UTC()
	lead.EmailsSentCount = 2
	lead.LastEmailAt = &now

	if err := m.transition(ctx, lead, model.StateEmailed2, "no reply - follow-up sent"); err != nil {
		lead.EmailsSentCount, lead.LastEmailAt = prevCount, prevLast
		return err
	}
	return nil
}

// CloseLead moves a lead from any awaiting-resolution state to CLOSED.
func (m *Machine) CloseLead(ctx context.Context, lead *model.Lead, reason string) error {
	switch lead.State {
	case model.StateInterested, model.StateNotInterested, model.StateEmailed2:
	default:
		return &StateMachineError{LeadID: lead.ID, From: lead.State, To: model.StateClosed, Reason: "can only close from INTERESTED, NOT_INTERESTED or EMAILED_2"}
	}
	if reason == "" {
		reason = "process complete"
	}
	return m.transition(ctx, lead, model.StateClosed, reason)
}

// CanSendEmail is the pure send guard. It never mutates the lead.
func (m *Machine) CanSendEmail(lead *model.Lead) (bool, string) {
	if lead.State == model.StateInterested {
		return false, "Lead is INTERESTED - human takeover required"
	}
	if lead.State == model.StateClosed {
		return false, "Lead is CLOSED"
	}
	if lead.State == model.StateNotInterested && lead.EmailsSentCount >= 2 {
		return false, "Polite follow-up already sent"
	}
	if lead.EmailsSentCount >= model.MaxEmailsPerLead {
		return false, "Max emails (2) already sent"
	}
	return true, ""
}

// Summary returns the reporting snapshot for a lead.
func (m *Machine) Summary(lead *model.Lead) StatusSummary {
	canSend, reason := m.CanSendEmail(lead)
	return StatusSummary{
		State:         lead.State.String(),
		EmailsSent:    lead.EmailsSentCount,
		MaxEmails:     model.MaxEmailsPerLead,
		CanSendEmail:  canSend,
		BlockedReason: reason,
		IsTerminal:    lead.State == model.StateClosed,
		RequiresHuman: lead.State == model.StateInterested,
	}
}
