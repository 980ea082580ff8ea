package model

import "time"

// Campaign is a batch of leads sourced together. Counters are advanced by
// the outreach drivers.
type Campaign struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	LeadsCollected int `json:"leads_collected"`
	LeadsEmailed   int `json:"leads_emailed"`
	LeadsReplied   int `json:"leads_replied"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
