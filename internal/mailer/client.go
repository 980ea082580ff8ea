// Package mailer abstracts the mail transport. The relay client covers the
// full conversation flow (send + thread fetch); the SMTP sender is a
// send-only fallback for operator alerts and deployments without a relay.
package mailer

import (
	"context"
	"errors"
	"time"
)

// ErrThreadFetchUnsupported is returned by transports that can send but
// cannot read a mailbox.
var ErrThreadFetchUnsupported = errors.New("mail transport does not support thread fetching")

// SendResult identifies the sent message in the external mailbox.
type SendResult struct {
	MailID   string
	ThreadID string
}

// FetchedMessage is one message pulled from an external thread.
type FetchedMessage struct {
	MailID      string
	FromAddress string
	Body        string
	SentByUs    bool
	Timestamp   time.Time
}

// Client is the mail transport the orchestrator depends on.
type Client interface {
	// SendEmail delivers one message. threadID is empty for a new
	// conversation and set when replying within an existing one.
	SendEmail(ctx context.Context, to, subject, body, threadID string) (SendResult, error)
	// GetThreadMessages fetches the full message list of a conversation.
	GetThreadMessages(ctx context.Context, threadID string) ([]FetchedMessage, error)
	// IsAuthenticated reports whether the transport can currently send.
	IsAuthenticated(ctx context.Context) bool
	// Address is the authenticated mailbox address, used for reply
	// attribution.
	Address() string
}
