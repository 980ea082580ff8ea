package mqhandler

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/events"
	"github.com/zaihebian/LeadGenNewVersion/internal/mailer"
	"github.com/zaihebian/LeadGenNewVersion/pkg/util"
)

const maxAlertRetries = 5

// RequiresHumanHandler consumes lead.requires_human events and alerts the
// operator by email. The deduper keeps redelivered events from producing
// duplicate alerts; the retry counter caps redelivery loops on persistent
// send failures.
type RequiresHumanHandler struct {
	sender       mailer.Client
	deduper      *util.Deduper
	retryCounter *util.RetryCounter
	alertEmail   string
	logger       *zap.Logger
}

func NewRequiresHumanHandler(
	sender mailer.Client,
	deduper *util.Deduper,
	retryCounter *util.RetryCounter,
	alertEmail string,
	logger *zap.Logger,
) *RequiresHumanHandler {
	return &RequiresHumanHandler{
		sender:       sender,
		deduper:      deduper,
		retryCounter: retryCounter,
		alertEmail:   alertEmail,
		logger:       logger,
	}
}

func (h *RequiresHumanHandler) Handle(ctx context.Context, raw json.RawMessage) error {
	var p events.LeadRequiresHumanPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		h.logger.Error("Failed to unmarshal LeadRequiresHumanPayload", zap.Error(err))
		// Malformed payload will never parse; do not requeue.
		return nil
	}

	h.logger.Info("Handling lead.requires_human event",
		zap.Int64("lead_id", p.LeadID),
		zap.String("reason", p.Reason),
	)

	if h.alertEmail == "" {
		h.logger.Warn("No operator alert email configured, dropping alert",
			zap.Int64("lead_id", p.LeadID),
		)
		return nil
	}

	if !h.deduper.AcquireOnce(ctx, "human_alert", p.LeadID) {
		h.logger.Debug("Duplicate requires_human event skipped",
			zap.Int64("lead_id", p.LeadID),
		)
		return nil
	}

	subject := fmt.Sprintf("Lead #%d needs your attention", p.LeadID)
	body := fmt.Sprintf(
		"Lead %s <%s> requires human follow-up.\n\nReason: %s\nFlagged at: %s\n",
		p.LeadName, p.LeadEmail, p.Reason, p.At.Format("2006-01-02 15:04 UTC"),
	)

	if _, err := h.sender.SendEmail(ctx, h.alertEmail, subject, body, ""); err != nil {
		retryable, kind := util.IsRetryableError(err)
		retries, cerr := h.retryCounter.IncrementAndGet(ctx, util.FormatRetryKey("human_alert", p.LeadID))
		if cerr != nil {
			h.logger.Warn("Retry counter unavailable", zap.Error(cerr))
		}

		if util.ShouldRetry(retries, maxAlertRetries, retryable) {
			// Let the redelivered event through the dedup gate again.
			h.deduper.Release(ctx, "human_alert", p.LeadID)
			h.logger.Warn("Operator alert failed, requeueing",
				zap.Int64("lead_id", p.LeadID),
				zap.String("error_kind", kind),
				zap.Int64("attempt", retries),
				zap.Error(err),
			)
			return err
		}

		h.logger.Error("Operator alert dropped after retries",
			zap.Int64("lead_id", p.LeadID),
			zap.String("error_kind", kind),
			zap.Error(err),
		)
		return nil
	}

	if err := h.retryCounter.Reset(ctx, util.FormatRetryKey("human_alert", p.LeadID)); err != nil {
		h.logger.Debug("Failed to reset retry counter", zap.Error(err))
	}
	return nil
}
