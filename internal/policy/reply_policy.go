package policy

import (
	"fmt"

	"github.com/zaihebian/LeadGenNewVersion/internal/model"
)

// Action is the closed set of things the orchestrator may do in response
// to a classified reply.
type Action int

const (
	// ActionNone leaves the lead untouched awaiting a further signal.
	ActionNone Action = iota
	// ActionMarkInterested transitions the lead to INTERESTED for human takeover.
	ActionMarkInterested
	// ActionRejectWithFollowup transitions the lead to NOT_INTERESTED, sends
	// one polite acknowledgment email, then closes the lead.
	ActionRejectWithFollowup
	// ActionCloseAfterReply closes the lead with no further automated email.
	ActionCloseAfterReply
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionMarkInterested:
		return "mark_interested"
	case ActionRejectWithFollowup:
		return "reject_with_followup"
	case ActionCloseAfterReply:
		return "close_after_reply"
	default:
		return "unknown"
	}
}

// Decision is what the policy tells the orchestrator to do for one reply.
type Decision struct {
	Action        Action
	RequiresHuman bool
	CloseReason   string
}

// Decide maps a classified sentiment and the lead's current state to the
// orchestrator's next move. States outside EMAILED_1 and EMAILED_2 never
// receive automated reply handling; their decision is ActionNone.
func Decide(state model.LeadState, sentiment model.ReplySentiment) Decision {
	switch state {
	case model.StateEmailed1:
		switch sentiment {
		case model.SentimentPositive:
			return Decision{Action: ActionMarkInterested, RequiresHuman: true}
		case model.SentimentNegative:
			return Decision{
				Action:      ActionRejectWithFollowup,
				CloseReason: "polite followup sent after rejection",
			}
		default:
			// Neutral stays put until a clearer signal or the no-reply timeout.
			return Decision{Action: ActionNone}
		}
	case model.StateEmailed2:
		// Past the second email any reply goes to a human; sentiment only
		// colors the close reason.
		return Decision{
			Action:        ActionCloseAfterReply,
			RequiresHuman: true,
			CloseReason:   fmt.Sprintf("reply after follow-up (%s)", sentiment),
		}
	default:
		return Decision{Action: ActionNone}
	}
}
