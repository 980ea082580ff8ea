package statemachine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zaihebian/LeadGenNewVersion/internal/model"
)

func TestTransitionTableEdges(t *testing.T) {
	allowed := []struct{ from, to model.LeadState }{
		{model.StateCollected, model.StateEnriched},
		{model.StateEnriched, model.StateEmailed1},
		{model.StateEmailed1, model.StateInterested},
		{model.StateEmailed1, model.StateNotInterested},
		{model.StateEmailed1, model.StateEmailed2},
		{model.StateInterested, model.StateClosed},
		{model.StateNotInterested, model.StateClosed},
		{model.StateEmailed2, model.StateClosed},
	}
	for _, e := range allowed {
		assert.True(t, CanTransition(e.from, e.to), "%s -> %s should be legal", e.from, e.to)
	}
}

func TestTransitionTableRejectsReverseAndSkips(t *testing.T) {
	denied := []struct{ from, to model.LeadState }{
		{model.StateEnriched, model.StateCollected},
		{model.StateCollected, model.StateEmailed1},
		{model.StateCollected, model.StateClosed},
		{model.StateEmailed1, model.StateClosed},
		{model.StateEmailed2, model.StateEmailed1},
		{model.StateInterested, model.StateEmailed2},
	}
	for _, e := range denied {
		assert.False(t, CanTransition(e.from, e.to), "%s -> %s must be illegal", e.from, e.to)
	}
}

func TestClosedIsTerminal(t *testing.T) {
	for _, target := range model.AllLeadStates {
		assert.False(t, CanTransition(model.StateClosed, target),
			"CLOSED -> %s must be illegal", target)
	}
}

func TestEveryStateHasARow(t *testing.T) {
	for _, s := range model.AllLeadStates {
		_, ok := ValidTransitions[s]
		assert.True(t, ok, "state %s missing from transition table", s)
	}
}
