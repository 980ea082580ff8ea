package policy

import (
	"strings"

	"go.uber.org/zap"
)

// Confidence grades how sure the attribution heuristic is.
type Confidence int

const (
	// ConfidenceHigh means the sender address was extracted and compared.
	ConfidenceHigh Confidence = iota
	// ConfidenceLow means address extraction failed and only the sent flag
	// was available. Low-confidence inbound verdicts may misclassify CC'd
	// third parties or list bounces as replies.
	ConfidenceLow
)

func (c Confidence) String() string {
	if c == ConfidenceHigh {
		return "high"
	}
	return "low"
}

// InboundMessage is the slice of a fetched mail message attribution needs.
type InboundMessage struct {
	FromAddress string
	SentByUs    bool
	MailID      string
}

// Attribution is the verdict for one fetched message.
type Attribution struct {
	IsReply    bool
	Confidence Confidence
}

// Attributor decides whether a fetched message is an inbound reply or one
// of our own sent messages echoed back by the mailbox.
type Attributor struct {
	mailboxAddress string
	requireHigh    bool
	logger         *zap.Logger
}

// NewAttributor builds an attributor for the authenticated mailbox address.
// With requireHighConfidence set, low-confidence inbound verdicts are
// downgraded to non-replies so the policy layer never auto-transitions on
// the weak heuristic.
func NewAttributor(mailboxAddress string, requireHighConfidence bool, logger *zap.Logger) *Attributor {
	return &Attributor{
		mailboxAddress: strings.ToLower(strings.TrimSpace(mailboxAddress)),
		requireHigh:    requireHighConfidence,
		logger:         logger,
	}
}

// Attribute classifies a single message. Address comparison is
// case-insensitive. When the sender address is missing the fallback uses
// the transport's sent flag and the verdict carries low confidence.
func (a *Attributor) Attribute(msg InboundMessage) Attribution {
	from := strings.ToLower(strings.TrimSpace(msg.FromAddress))

	if from != "" && a.mailboxAddress != "" {
		return Attribution{
			IsReply:    from != a.mailboxAddress,
			Confidence: ConfidenceHigh,
		}
	}

	// Fallback: no usable address, trust the sent flag.
	verdict := Attribution{
		IsReply:    !msg.SentByUs,
		Confidence: ConfidenceLow,
	}

	a.logger.Warn("Reply attribution fell back to sent-flag heuristic",
		zap.String("mail_id", msg.MailID),
		zap.Bool("sent_by_us", msg.SentByUs),
		zap.Bool("is_reply", verdict.IsReply),
	)

	if a.requireHigh && verdict.IsReply {
		a.logger.Info("Low-confidence reply suppressed by strict attribution",
			zap.String("mail_id", msg.MailID),
		)
		verdict.IsReply = false
	}

	return verdict
}
