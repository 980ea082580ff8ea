package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ReplySentiment classifies an inbound reply. Textual values are stable
// storage identifiers.
type ReplySentiment string

const (
	SentimentPositive ReplySentiment = "POSITIVE"
	SentimentNegative ReplySentiment = "NEGATIVE"
	SentimentNeutral  ReplySentiment = "NEUTRAL"
	SentimentUnknown  ReplySentiment = "UNKNOWN"
)

// IsValid reports whether s is a member of the sentiment enum.
func (s ReplySentiment) IsValid() bool {
	switch s {
	case SentimentPositive, SentimentNegative, SentimentNeutral, SentimentUnknown:
		return true
	}
	return false
}

func (s ReplySentiment) String() string { return string(s) }

// ParseReplySentiment converts a stored or classified label into a sentiment.
func ParseReplySentiment(v string) (ReplySentiment, error) {
	s := ReplySentiment(v)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown reply sentiment: %q", v)
	}
	return s, nil
}

// Message roles within a thread.
const (
	RoleSent     = "sent"
	RoleReceived = "received"
)

// ThreadMessage is one message in a conversation, stored as a JSON array
// element on the thread row.
type ThreadMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	MailID    string    `json:"mail_id,omitempty"`
}

// EmailThread is one outreach conversation owned by a lead. has_reply and
// requires_human only ever move false -> true.
type EmailThread struct {
	ID       int64     `json:"id"`
	PublicID uuid.UUID `json:"public_id"`
	LeadID   int64     `json:"lead_id"`

	// Identifiers assigned by the mail transport.
	MailThreadID  string `json:"mail_thread_id,omitempty"`
	MailMessageID string `json:"mail_message_id,omitempty"`

	Subject  string          `json:"subject"`
	Messages []ThreadMessage `json:"messages"`

	ReplySentiment ReplySentiment `json:"reply_sentiment"` // SentimentUnknown until classified
	HasReply       bool           `json:"has_reply"`
	RequiresHuman  bool           `json:"requires_human"`

	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

// AppendMessage adds a message to the in-memory thread. The caller persists
// the thread afterwards.
func (t *EmailThread) AppendMessage(role, content, mailID string, at time.Time) {
	t.Messages = append(t.Messages, ThreadMessage{
		Role:      role,
		Content:   content,
		Timestamp: at,
		MailID:    mailID,
	})
}

// FirstSentBody returns the body of the first outbound message, used as
// context for follow-up generation.
func (t *EmailThread) FirstSentBody() string {
	for _, m := range t.Messages {
		if m.Role == RoleSent {
			return m.Content
		}
	}
	return ""
}
