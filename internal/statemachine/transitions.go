package statemachine

import "github.com/zaihebian/LeadGenNewVersion/internal/model"

// ValidTransitions is the complete edge table of the lead lifecycle.
// CLOSED is the unique terminal state; there are no cycles, no self-loops,
// and no edge skips a pipeline stage.
var ValidTransitions = map[model.LeadState][]model.LeadState{
	model.StateCollected:     {model.StateEnriched},
	model.StateEnriched:      {model.StateEmailed1},
	model.StateEmailed1:      {model.StateInterested, model.StateNotInterested, model.StateEmailed2},
	model.StateInterested:    {model.StateClosed},
	model.StateNotInterested: {model.StateClosed},
	model.StateEmailed2:      {model.StateClosed},
	model.StateClosed:        {},
}

// CanTransition reports whether from -> to is a legal edge.
func CanTransition(from, to model.LeadState) bool {
	for _, target := range ValidTransitions[from] {
		if target == to {
			return true
		}
	}
	return false
}
