package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/config"
	"github.com/zaihebian/LeadGenNewVersion/internal/mailer"
	"github.com/zaihebian/LeadGenNewVersion/internal/model"
	"github.com/zaihebian/LeadGenNewVersion/internal/policy"
	"github.com/zaihebian/LeadGenNewVersion/internal/ratelimit"
	"github.com/zaihebian/LeadGenNewVersion/internal/statemachine"
	"github.com/zaihebian/LeadGenNewVersion/pkg/metrics"
)

// LeadStore is the lead persistence surface the orchestrator needs.
type LeadStore interface {
	GetByID(ctx context.Context, id int64) (*model.Lead, error)
	ListByState(ctx context.Context, state model.LeadState, limit int) ([]*model.Lead, error)
	ListInStateOlderThan(ctx context.Context, state model.LeadState, cutoff time.Time, limit int) ([]*model.Lead, error)
	SetEnrichmentData(ctx context.Context, leadID int64, profilePosts []byte) error
	CountByState(ctx context.Context) (map[model.LeadState]int, error)
}

// ThreadStore is the thread persistence surface the orchestrator needs.
type ThreadStore interface {
	Create(ctx context.Context, t *model.EmailThread) (int64, error)
	ListByLead(ctx context.Context, leadID int64) ([]*model.EmailThread, error)
	ListUncheckedForLeads(ctx context.Context, limit int) ([]*model.EmailThread, error)
	SaveMessages(ctx context.Context, t *model.EmailThread) error
	RecordReply(ctx context.Context, t *model.EmailThread, sentiment model.ReplySentiment, confidence string) error
	MarkHumanRequired(ctx context.Context, leadID int64, sentiment model.ReplySentiment) error
}

// CampaignStore tracks per-campaign counters.
type CampaignStore interface {
	IncrementEmailed(ctx context.Context, campaignID int64) error
	IncrementReplied(ctx context.Context, campaignID int64) error
}

// ReplyDeduper guards exactly-once processing of a detected reply across
// process restarts.
type ReplyDeduper interface {
	AcquireOnce(ctx context.Context, step string, id int64) bool
	Release(ctx context.Context, step string, id int64)
}

// ItemResult is the per-lead outcome inside a batch run.
type ItemResult struct {
	LeadID int64  `json:"lead_id"`
	Action string `json:"action"`
	Error  string `json:"error,omitempty"`
}

// BatchReport is the explicit partial-failure summary of one driver run.
type BatchReport struct {
	Job       string       `json:"job"`
	Processed int          `json:"processed"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Skipped   int          `json:"skipped"`
	Results   []ItemResult `json:"results"`
	StartedAt time.Time    `json:"started_at"`
	Duration  string       `json:"duration"`
}

func (r *BatchReport) success(leadID int64, action string) {
	r.Processed++
	r.Succeeded++
	r.Results = append(r.Results, ItemResult{LeadID: leadID, Action: action})
}

func (r *BatchReport) failure(leadID int64, action string, err error) {
	r.Processed++
	r.Failed++
	r.Results = append(r.Results, ItemResult{LeadID: leadID, Action: action, Error: err.Error()})
}

func (r *BatchReport) skip(leadID int64, reason string) {
	r.Processed++
	r.Skipped++
	r.Results = append(r.Results, ItemResult{LeadID: leadID, Action: "skipped", Error: reason})
}

// Orchestrator owns the periodic outreach drivers. Each driver selects a
// batch of leads by state, applies the guard chain per lead (state guard,
// rate limit, external calls), and commits per lead before moving on. One
// lead's failure never aborts the batch.
type Orchestrator struct {
	machine    *statemachine.Machine
	leads      LeadStore
	threads    ThreadStore
	campaigns  CampaignStore
	generator  ContentGenerator
	mail       mailer.Client
	limiter    *ratelimit.Limiter
	attributor *policy.Attributor
	deduper    ReplyDeduper
	cfg        config.OutreachConfig
	logger     *zap.Logger
}

func NewOrchestrator(
	machine *statemachine.Machine,
	leads LeadStore,
	threads ThreadStore,
	campaigns CampaignStore,
	generator ContentGenerator,
	mail mailer.Client,
	limiter *ratelimit.Limiter,
	attributor *policy.Attributor,
	deduper ReplyDeduper,
	cfg config.OutreachConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		machine:    machine,
		leads:      leads,
		threads:    threads,
		campaigns:  campaigns,
		generator:  generator,
		mail:       mail,
		limiter:    limiter,
		attributor: attributor,
		deduper:    deduper,
		cfg:        cfg,
		logger:     logger,
	}
}

func (o *Orchestrator) newReport(job string) BatchReport {
	return BatchReport{Job: job, StartedAt: time.Now().UTC(), Results: []ItemResult{}}
}

func (o *Orchestrator) finishReport(report *BatchReport) {
	report.Duration = time.Since(report.StartedAt).String()
	o.logger.Info("Batch run finished",
		zap.String("job", report.Job),
		zap.Int("processed", report.Processed),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
	)
}

// EnrichCollectedLeads asks the agent for profile data for every COLLECTED
// lead and advances it to ENRICHED.
func (o *Orchestrator) EnrichCollectedLeads(ctx context.Context) BatchReport {
	report := o.newReport("enrich_collected")
	defer o.finishReport(&report)

	leads, err := o.leads.ListByState(ctx, model.StateCollected, o.cfg.MaxLeadsPerRun)
	if err != nil {
		o.logger.Error("Failed to list collected leads", zap.Error(err))
		return report
	}

	for _, lead := range leads {
		if ctx.Err() != nil {
			break
		}

		posts, err := o.generator.EnrichLead(ctx, lead)
		if err != nil {
			report.failure(lead.ID, "enrich", err)
			continue
		}
		if len(posts) > 0 {
			if err := o.leads.SetEnrichmentData(ctx, lead.ID, posts); err != nil {
				report.failure(lead.ID, "enrich", err)
				continue
			}
			lead.ProfilePostsJSON = posts
		}
		if err := o.machine.ProcessCollected(ctx, lead); err != nil {
			report.failure(lead.ID, "enrich", err)
			continue
		}
		report.success(lead.ID, "enriched")
	}
	return report
}

// SendInitialEmails sends the first outreach email to ENRICHED leads. The
// per-lead order is fixed: guard, rate limit, generate, send, record send,
// persist thread, transition. A failed send never advances state or
// consumes quota.
func (o *Orchestrator) SendInitialEmails(ctx context.Context) BatchReport {
	report := o.newReport("send_initial")
	defer o.finishReport(&report)

	if !o.mail.IsAuthenticated(ctx) {
		o.logger.Warn("Mail transport not authenticated, skipping send run")
		return report
	}

	leads, err := o.leads.ListByState(ctx, model.StateEnriched, o.cfg.MaxLeadsPerRun)
	if err != nil {
		o.logger.Error("Failed to list enriched leads", zap.Error(err))
		return report
	}

	for _, lead := range leads {
		if ctx.Err() != nil {
			break
		}

		if ok, reason := o.machine.CanSendEmail(lead); !ok {
			report.skip(lead.ID, reason)
			continue
		}
		if ok, reason := o.limiter.CanSend(); !ok {
			// Rate limit applies globally; the rest of the batch would
			// hit the same wall.
			o.logger.Info("Send run stopped by rate limiter", zap.String("reason", reason))
			report.skip(lead.ID, reason)
			break
		}

		subject, body, err := o.generator.GenerateOutreachEmail(ctx, lead)
		if err != nil {
			report.failure(lead.ID, "send_initial", err)
			continue
		}

		sent, err := o.mail.SendEmail(ctx, lead.Email, subject, body, "")
		if err != nil {
			metrics.EmailFailures.WithLabelValues("initial").Inc()
			report.failure(lead.ID, "send_initial", err)
			continue
		}
		o.limiter.RecordSend()
		metrics.EmailsSent.WithLabelValues("initial").Inc()

		thread := &model.EmailThread{
			LeadID:        lead.ID,
			MailThreadID:  sent.ThreadID,
			MailMessageID: sent.MailID,
			Subject:       subject,
		}
		thread.AppendMessage(model.RoleSent, body, sent.MailID, time.Now().UTC())
		if _, err := o.threads.Create(ctx, thread); err != nil {
			// The email is out; losing the thread record is a data gap,
			// not a reason to block the transition.
			o.logger.Error("Failed to persist thread after send",
				zap.Int64("lead_id", lead.ID),
				zap.Error(err),
			)
		}

		if err := o.machine.ProcessEnriched(ctx, lead); err != nil {
			report.failure(lead.ID, "send_initial", err)
			continue
		}
		if err := o.campaigns.IncrementEmailed(ctx, lead.CampaignID); err != nil {
			o.logger.Warn("Failed to bump campaign counter",
				zap.Int64("campaign_id", lead.CampaignID),
				zap.Error(err),
			)
		}
		report.success(lead.ID, "initial_sent")
	}
	return report
}

// SendFollowups sends the second-touch email to EMAILED_1 leads whose first
// email is older than the no-reply window.
func (o *Orchestrator) SendFollowups(ctx context.Context) BatchReport {
	report := o.newReport("send_followups")
	defer o.finishReport(&report)

	if !o.mail.IsAuthenticated(ctx) {
		o.logger.Warn("Mail transport not authenticated, skipping follow-up run")
		return report
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -o.cfg.NoReplyFollowupDays)
	leads, err := o.leads.ListInStateOlderThan(ctx, model.StateEmailed1, cutoff, o.cfg.MaxLeadsPerRun)
	if err != nil {
		o.logger.Error("Failed to list follow-up candidates", zap.Error(err))
		return report
	}

	for _, lead := range leads {
		if ctx.Err() != nil {
			break
		}

		if ok, reason := o.machine.CanSendEmail(lead); !ok {
			report.skip(lead.ID, reason)
			continue
		}
		if ok, reason := o.limiter.CanSend(); !ok {
			o.logger.Info("Follow-up run stopped by rate limiter", zap.String("reason", reason))
			report.skip(lead.ID, reason)
			break
		}

		thread, previousBody := o.latestThread(ctx, lead.ID)
		if thread != nil && thread.HasReply {
			// A reply arrived between selection and processing; the reply
			// monitor owns this lead now.
			report.skip(lead.ID, "reply already received")
			continue
		}

		body, err := o.generator.GenerateNoReplyFollowup(ctx, lead, previousBody)
		if err != nil {
			report.failure(lead.ID, "send_followup", err)
			continue
		}

		mailThreadID := ""
		subject := "Following up"
		if thread != nil {
			mailThreadID = thread.MailThreadID
			subject = thread.Subject
		}
		sent, err := o.mail.SendEmail(ctx, lead.Email, subject, body, mailThreadID)
		if err != nil {
			metrics.EmailFailures.WithLabelValues("followup").Inc()
			report.failure(lead.ID, "send_followup", err)
			continue
		}
		o.limiter.RecordSend()
		metrics.EmailsSent.WithLabelValues("followup").Inc()

		if thread != nil {
			thread.AppendMessage(model.RoleSent, body, sent.MailID, time.Now().UTC())
			if err := o.threads.SaveMessages(ctx, thread); err != nil {
				o.logger.Error("Failed to append follow-up to thread",
					zap.Int64("thread_id", thread.ID),
					zap.Error(err),
				)
			}
		}

		if err := o.machine.HandleNoReply(ctx, lead); err != nil {
			report.failure(lead.ID, "send_followup", err)
			continue
		}
		report.success(lead.ID, "followup_sent")
	}
	return report
}

// latestThread returns the newest thread of a lead and the body of the last
// message we sent on it, both zero-valued when the lead has no thread yet.
func (o *Orchestrator) latestThread(ctx context.Context, leadID int64) (*model.EmailThread, string) {
	threads, err := o.threads.ListByLead(ctx, leadID)
	if err != nil || len(threads) == 0 {
		return nil, ""
	}
	t := threads[len(threads)-1]
	return t, t.FirstSentBody()
}

// CheckReplies fetches conversation updates for threads without a recorded
// reply and routes any inbound message through the classification policy.
func (o *Orchestrator) CheckReplies(ctx context.Context) BatchReport {
	report := o.newReport("check_replies")
	defer o.finishReport(&report)

	if !o.mail.IsAuthenticated(ctx) {
		o.logger.Warn("Mail transport not authenticated, skipping reply check")
		return report
	}

	threads, err := o.threads.ListUncheckedForLeads(ctx, o.cfg.MaxLeadsPerRun)
	if err != nil {
		o.logger.Error("Failed to list reply candidates", zap.Error(err))
		return report
	}

	for _, thread := range threads {
		if ctx.Err() != nil {
			break
		}
		o.checkThread(ctx, thread, &report)
	}
	return report
}

func (o *Orchestrator) checkThread(ctx context.Context, thread *model.EmailThread, report *BatchReport) {
	lead, err := o.leads.GetByID(ctx, thread.LeadID)
	if err != nil {
		report.failure(thread.LeadID, "check_reply", err)
		return
	}
	if lead.State != model.StateEmailed1 && lead.State != model.StateEmailed2 {
		report.skip(lead.ID, "lead no longer awaiting reply")
		return
	}
	if thread.MailThreadID == "" {
		report.skip(lead.ID, "thread has no mailbox id")
		return
	}

	fetched, err := o.mail.GetThreadMessages(ctx, thread.MailThreadID)
	if err != nil {
		report.failure(lead.ID, "check_reply", err)
		return
	}

	reply, attribution := o.findNewReply(thread, fetched)
	if reply == nil {
		if err := o.threads.SaveMessages(ctx, thread); err != nil {
			o.logger.Warn("Failed to checkpoint thread",
				zap.Int64("thread_id", thread.ID),
				zap.Error(err),
			)
		}
		report.skip(lead.ID, "no new reply")
		return
	}

	if !o.deduper.AcquireOnce(ctx, "reply", thread.ID) {
		report.skip(lead.ID, "reply already being processed")
		return
	}

	sentiment, err := o.generator.ClassifyReplySentiment(ctx, reply.Body)
	if err != nil {
		// Nothing recorded yet, let the next run retry this reply.
		o.deduper.Release(ctx, "reply", thread.ID)
		report.failure(lead.ID, "classify_reply", err)
		return
	}
	metrics.IncrementReplyClassified(sentiment.String())

	thread.AppendMessage(model.RoleReceived, reply.Body, reply.MailID, reply.Timestamp)
	if err := o.threads.RecordReply(ctx, thread, sentiment, attribution.Confidence.String()); err != nil {
		o.deduper.Release(ctx, "reply", thread.ID)
		report.failure(lead.ID, "record_reply", err)
		return
	}
	if err := o.campaigns.IncrementReplied(ctx, lead.CampaignID); err != nil {
		o.logger.Warn("Failed to bump campaign replied counter",
			zap.Int64("campaign_id", lead.CampaignID),
			zap.Error(err),
		)
	}

	decision := policy.Decide(lead.State, sentiment)
	o.logger.Info("Reply classified",
		zap.Int64("lead_id", lead.ID),
		zap.String("state", lead.State.String()),
		zap.String("sentiment", sentiment.String()),
		zap.String("confidence", attribution.Confidence.String()),
		zap.String("action", decision.Action.String()),
	)

	switch decision.Action {
	case policy.ActionMarkInterested:
		if err := o.machine.HandlePositiveReply(ctx, lead); err != nil {
			report.failure(lead.ID, "positive_reply", err)
			return
		}
		report.success(lead.ID, "marked_interested")

	case policy.ActionRejectWithFollowup:
		if err := o.machine.HandleNegativeReply(ctx, lead); err != nil {
			report.failure(lead.ID, "negative_reply", err)
			return
		}
		o.sendPoliteFollowup(ctx, lead, thread, decision.CloseReason, report)

	case policy.ActionCloseAfterReply:
		if decision.RequiresHuman {
			if err := o.threads.MarkHumanRequired(ctx, lead.ID, sentiment); err != nil {
				o.logger.Error("Failed to flag threads for human attention",
					zap.Int64("lead_id", lead.ID),
					zap.Error(err),
				)
			}
		}
		if err := o.machine.CloseLead(ctx, lead, decision.CloseReason); err != nil {
			report.failure(lead.ID, "close_after_reply", err)
			return
		}
		report.success(lead.ID, "closed_after_reply")

	default:
		// Neutral on the first email: recorded, awaiting a further signal.
		report.success(lead.ID, "reply_recorded")
	}
}

// findNewReply scans fetched messages for the first inbound reply whose
// mail id is not yet in the local log.
func (o *Orchestrator) findNewReply(thread *model.EmailThread, fetched []mailer.FetchedMessage) (*mailer.FetchedMessage, policy.Attribution) {
	known := make(map[string]bool, len(thread.Messages))
	for _, m := range thread.Messages {
		if m.MailID != "" {
			known[m.MailID] = true
		}
	}

	for i := range fetched {
		msg := &fetched[i]
		if msg.MailID != "" && known[msg.MailID] {
			continue
		}
		verdict := o.attributor.Attribute(policy.InboundMessage{
			FromAddress: msg.FromAddress,
			SentByUs:    msg.SentByUs,
			MailID:      msg.MailID,
		})
		if verdict.IsReply {
			return msg, verdict
		}
	}
	return nil, policy.Attribution{}
}

// sendPoliteFollowup sends the single rejection acknowledgment and closes
// the lead. When the rate limiter blocks, the lead stays NOT_INTERESTED and
// the stale closer picks it up later.
func (o *Orchestrator) sendPoliteFollowup(ctx context.Context, lead *model.Lead, thread *model.EmailThread, closeReason string, report *BatchReport) {
	if ok, reason := o.machine.CanSendEmail(lead); !ok {
		report.skip(lead.ID, reason)
		return
	}
	if ok, reason := o.limiter.CanSend(); !ok {
		o.logger.Info("Polite follow-up deferred by rate limiter",
			zap.Int64("lead_id", lead.ID),
			zap.String("reason", reason),
		)
		report.skip(lead.ID, reason)
		return
	}

	body, err := o.generator.GeneratePoliteFollowup(ctx, lead, thread.FirstSentBody())
	if err != nil {
		report.failure(lead.ID, "polite_followup", err)
		return
	}

	sent, err := o.mail.SendEmail(ctx, lead.Email, thread.Subject, body, thread.MailThreadID)
	if err != nil {
		metrics.EmailFailures.WithLabelValues("polite_followup").Inc()
		report.failure(lead.ID, "polite_followup", err)
		return
	}
	o.limiter.RecordSend()
	metrics.EmailsSent.WithLabelValues("polite_followup").Inc()

	sentAt := time.Now().UTC()
	thread.AppendMessage(model.RoleSent, body, sent.MailID, sentAt)
	if err := o.threads.SaveMessages(ctx, thread); err != nil {
		o.logger.Error("Failed to append polite follow-up to thread",
			zap.Int64("thread_id", thread.ID),
			zap.Error(err),
		)
	}

	prevLast := lead.LastEmailAt
	lead.EmailsSentCount++
	lead.LastEmailAt = &sentAt
	if err := o.machine.CloseLead(ctx, lead, closeReason); err != nil {
		lead.EmailsSentCount--
		lead.LastEmailAt = prevLast
		report.failure(lead.ID, "polite_followup", err)
		return
	}
	report.success(lead.ID, "rejected_and_closed")
}

// CloseStaleLeads closes leads stuck past the no-reply window: EMAILED_2
// leads nobody answered, and NOT_INTERESTED leads whose polite follow-up
// never went out.
func (o *Orchestrator) CloseStaleLeads(ctx context.Context) BatchReport {
	report := o.newReport("close_stale")
	defer o.finishReport(&report)

	cutoff := time.Now().UTC().AddDate(0, 0, -o.cfg.NoReplyFollowupDays)

	for _, state := range []model.LeadState{model.StateEmailed2, model.StateNotInterested} {
		leads, err := o.leads.ListInStateOlderThan(ctx, state, cutoff, o.cfg.MaxLeadsPerRun)
		if err != nil {
			o.logger.Error("Failed to list stale leads",
				zap.String("state", state.String()),
				zap.Error(err),
			)
			continue
		}
		for _, lead := range leads {
			if ctx.Err() != nil {
				return report
			}
			if err := o.machine.CloseLead(ctx, lead, "no further activity"); err != nil {
				report.failure(lead.ID, "close_stale", err)
				continue
			}
			report.success(lead.ID, "closed_stale")
		}
	}
	return report
}

// SendManual is the interactive "send now" path. Guard and rate-limit
// refusals come back as distinguishable reasons, not generic errors.
func (o *Orchestrator) SendManual(ctx context.Context, leadID int64) (ItemResult, error) {
	lead, err := o.leads.GetByID(ctx, leadID)
	if err != nil {
		return ItemResult{}, err
	}

	if ok, reason := o.machine.CanSendEmail(lead); !ok {
		return ItemResult{LeadID: leadID, Action: "blocked", Error: reason}, nil
	}
	if ok, reason := o.limiter.CanSend(); !ok {
		return ItemResult{LeadID: leadID, Action: "rate_limited", Error: reason}, nil
	}

	switch lead.State {
	case model.StateEnriched:
		report := o.newReport("manual_send")
		o.sendManualInitial(ctx, lead, &report)
		if report.Failed > 0 {
			return report.Results[0], fmt.Errorf("%s", report.Results[0].Error)
		}
		return report.Results[0], nil
	default:
		return ItemResult{LeadID: leadID, Action: "blocked", Error: fmt.Sprintf("manual send not available in state %s", lead.State)}, nil
	}
}

func (o *Orchestrator) sendManualInitial(ctx context.Context, lead *model.Lead, report *BatchReport) {
	subject, body, err := o.generator.GenerateOutreachEmail(ctx, lead)
	if err != nil {
		report.failure(lead.ID, "manual_send", err)
		return
	}
	sent, err := o.mail.SendEmail(ctx, lead.Email, subject, body, "")
	if err != nil {
		metrics.EmailFailures.WithLabelValues("initial").Inc()
		report.failure(lead.ID, "manual_send", err)
		return
	}
	o.limiter.RecordSend()
	metrics.EmailsSent.WithLabelValues("initial").Inc()

	thread := &model.EmailThread{
		LeadID:        lead.ID,
		MailThreadID:  sent.ThreadID,
		MailMessageID: sent.MailID,
		Subject:       subject,
	}
	thread.AppendMessage(model.RoleSent, body, sent.MailID, time.Now().UTC())
	if _, err := o.threads.Create(ctx, thread); err != nil {
		o.logger.Error("Failed to persist thread after manual send",
			zap.Int64("lead_id", lead.ID),
			zap.Error(err),
		)
	}

	if err := o.machine.ProcessEnriched(ctx, lead); err != nil {
		report.failure(lead.ID, "manual_send", err)
		return
	}
	if err := o.campaigns.IncrementEmailed(ctx, lead.CampaignID); err != nil {
		o.logger.Warn("Failed to bump campaign counter",
			zap.Int64("campaign_id", lead.CampaignID),
			zap.Error(err),
		)
	}
	report.success(lead.ID, "manual_sent")
}

// RateStats exposes the limiter snapshot for the stats endpoint.
func (o *Orchestrator) RateStats() ratelimit.Stats {
	return o.limiter.Stats()
}

// LeadSummary returns the machine's reporting snapshot for one lead.
func (o *Orchestrator) LeadSummary(ctx context.Context, leadID int64) (*model.Lead, statemachine.StatusSummary, error) {
	lead, err := o.leads.GetByID(ctx, leadID)
	if err != nil {
		return nil, statemachine.StatusSummary{}, err
	}
	return lead, o.machine.Summary(lead), nil
}

// PipelineCounts returns lead counts per state for the stats endpoint.
func (o *Orchestrator) PipelineCounts(ctx context.Context) (map[model.LeadState]int, error) {
	return o.leads.CountByState(ctx)
}
