package model

import (
	"fmt"
	"time"
)

// LeadState is the lifecycle state of a lead. The textual values are stable
// storage identifiers and must not be renamed without a migration.
type LeadState string

const (
	StateCollected     LeadState = "COLLECTED"      // returned by the lead finder
	StateEnriched      LeadState = "ENRICHED"       // profile post data attached
	StateEmailed1      LeadState = "EMAILED_1"      // first email sent, waiting for reply
	StateInterested    LeadState = "INTERESTED"     // positive reply, human takeover
	StateNotInterested LeadState = "NOT_INTERESTED" // negative reply handled
	StateEmailed2      LeadState = "EMAILED_2"      // final follow-up sent
	StateClosed        LeadState = "CLOSED"         // terminal
)

// AllLeadStates lists every state in canonical pipeline order.
var AllLeadStates = []LeadState{
	StateCollected,
	StateEnriched,
	StateEmailed1,
	StateInterested,
	StateNotInterested,
	StateEmailed2,
	StateClosed,
}

// IsValid reports whether s is a member of the state enum.
func (s LeadState) IsValid() bool {
	for _, st := range AllLeadStates {
		if s == st {
			return true
		}
	}
	return false
}

func (s LeadState) String() string { return string(s) }

// ParseLeadState converts a stored value back into a LeadState.
func ParseLeadState(v string) (LeadState, error) {
	s := LeadState(v)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown lead state: %q", v)
	}
	return s, nil
}

// MaxEmailsPerLead caps automated sends for a single lead.
const MaxEmailsPerLead = 2

// Lead is a contact progressing through the outreach pipeline. Identity
// fields are immutable after creation; lifecycle fields are only mutated
// through the state machine.
type Lead struct {
	ID         int64 `json:"id"`
	CampaignID int64 `json:"campaign_id"`

	State LeadState `json:"state"`

	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	ProfileURL  string `json:"profile_url,omitempty"`
	JobTitle    string `json:"job_title,omitempty"`
	CompanyName string `json:"company_name,omitempty"`
	Industry    string `json:"industry,omitempty"`

	// Enrichment payload (profile posts), JSON as stored.
	ProfilePostsJSON []byte `json:"-"`

	EmailsSentCount int        `json:"emails_sent_count"`
	LastEmailAt     *time.Time `json:"last_email_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName is a display helper for logs and generated email context.
func (l *Lead) FullName() string {
	if l.LastName == "" {
		return l.FirstName
	}
	return l.FirstName + " " + l.LastName
}

// LeadCreateParams carries the immutable identity fields for ingestion.
type LeadCreateParams struct {
	CampaignID  int64
	FirstName   string
	LastName    string
	Email       string
	ProfileURL  string
	JobTitle    string
	CompanyName string
	Industry    string
}
