// Package events defines the MQ payload contracts emitted by the lead
// lifecycle. Routing keys ride on the shared "events" topic exchange.
package events

import "time"

// Routing keys.
const (
	KeyLeadTransitioned  = "lead.transitioned"
	KeyLeadReplyReceived = "lead.reply.received"
	KeyLeadRequiresHuman = "lead.requires_human"
)

type LeadTransitionedPayload struct {
	LeadID    int64     `json:"lead_id"`
	FromState string    `json:"from_state"`
	ToState   string    `json:"to_state"`
	Reason    string    `json:"reason,omitempty"`
	At        time.Time `json:"at"`
}

type LeadReplyReceivedPayload struct {
	LeadID     int64     `json:"lead_id"`
	ThreadID   int64     `json:"thread_id"`
	Sentiment  string    `json:"sentiment"`
	Confidence string    `json:"confidence"` // high / low
	ReceivedAt time.Time `json:"received_at"`
}

type LeadRequiresHumanPayload struct {
	LeadID    int64     `json:"lead_id"`
	ThreadID  int64     `json:"thread_id,omitempty"`
	LeadName  string    `json:"lead_name"`
	LeadEmail string    `json:"lead_email"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}
