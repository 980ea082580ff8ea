package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/model"
)

func TestDecideEmailed1Positive(t *testing.T) {
	d := Decide(model.StateEmailed1, model.SentimentPositive)
	assert.Equal(t, ActionMarkInterested, d.Action)
	assert.True(t, d.RequiresHuman)
}

func TestDecideEmailed1Negative(t *testing.T) {
	d := Decide(model.StateEmailed1, model.SentimentNegative)
	assert.Equal(t, ActionRejectWithFollowup, d.Action)
	assert.False(t, d.RequiresHuman)
	assert.Equal(t, "polite followup sent after rejection", d.CloseReason)
}

func TestDecideEmailed1NeutralStaysPut(t *testing.T) {
	d := Decide(model.StateEmailed1, model.SentimentNeutral)
	assert.Equal(t, ActionNone, d.Action)
}

func TestDecideEmailed2AnySentimentCloses(t *testing.T) {
	for _, s := range []model.ReplySentiment{
		model.SentimentPositive,
		model.SentimentNegative,
		model.SentimentNeutral,
	} {
		d := Decide(model.StateEmailed2, s)
		assert.Equal(t, ActionCloseAfterReply, d.Action, "sentiment %s", s)
		assert.True(t, d.RequiresHuman, "sentiment %s", s)
		assert.Contains(t, d.CloseReason, string(s))
	}
}

func TestDecideOtherStatesIgnored(t *testing.T) {
	for _, st := range []model.LeadState{
		model.StateCollected,
		model.StateEnriched,
		model.StateInterested,
		model.StateNotInterested,
		model.StateClosed,
	} {
		d := Decide(st, model.SentimentPositive)
		assert.Equal(t, ActionNone, d.Action, "state %s", st)
	}
}

func TestAttributeAddressMatch(t *testing.T) {
	a := NewAttributor("Outreach@Example.com", false, zap.NewNop())

	got := a.Attribute(InboundMessage{FromAddress: "prospect@corp.com"})
	assert.True(t, got.IsReply)
	assert.Equal(t, ConfidenceHigh, got.Confidence)

	// Case-insensitive self match.
	got = a.Attribute(InboundMessage{FromAddress: "OUTREACH@example.COM"})
	assert.False(t, got.IsReply)
	assert.Equal(t, ConfidenceHigh, got.Confidence)
}

func TestAttributeFallbackUsesSentFlag(t *testing.T) {
	a := NewAttributor("outreach@example.com", false, zap.NewNop())

	got := a.Attribute(InboundMessage{SentByUs: false, MailID: "m1"})
	assert.True(t, got.IsReply)
	assert.Equal(t, ConfidenceLow, got.Confidence)

	got = a.Attribute(InboundMessage{SentByUs: true, MailID: "m2"})
	assert.False(t, got.IsReply)
	assert.Equal(t, ConfidenceLow, got.Confidence)
}

func TestAttributeStrictSuppressesLowConfidence(t *testing.T) {
	a := NewAttributor("outreach@example.com", true, zap.NewNop())

	got := a.Attribute(InboundMessage{SentByUs: false, MailID: "m3"})
	assert.False(t, got.IsReply)
	assert.Equal(t, ConfidenceLow, got.Confidence)

	// High-confidence verdicts are unaffected by strict mode.
	got = a.Attribute(InboundMessage{FromAddress: "prospect@corp.com"})
	assert.True(t, got.IsReply)
}
