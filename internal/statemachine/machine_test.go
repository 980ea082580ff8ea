package statemachine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/model"
)

type fakeLeadStore struct {
	updates    int
	failWith   error
	lastReason string
}

func (s *fakeLeadStore) UpdateLifecycle(_ context.Context, lead *model.Lead, expectedState model.LeadState, reason string) error {
	if s.failWith != nil {
		return s.failWith
	}
	s.updates++
	s.lastReason = reason
	return nil
}

type fakeThreadStore struct {
	flagged   []int64
	sentiment model.ReplySentiment
}

func (s *fakeThreadStore) MarkHumanRequired(_ context.Context, leadID int64, sentiment model.ReplySentiment) error {
	s.flagged = append(s.flagged, leadID)
	s.sentiment = sentiment
	return nil
}

func newTestMachine() (*Machine, *fakeLeadStore, *fakeThreadStore) {
	leads := &fakeLeadStore{}
	threads := &fakeThreadStore{}
	m := New(leads, threads, zap.NewNop()).WithClock(func() time.Time {
		return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	})
	return m, leads, threads
}

func newLead(state model.LeadState, sent int) *model.Lead {
	return &model.Lead{ID: 42, State: state, EmailsSentCount: sent}
}

func TestProcessCollected(t *testing.T) {
	m, store, _ := newTestMachine()
	lead := newLead(model.StateCollected, 0)

	require.NoError(t, m.ProcessCollected(context.Background(), lead))
	assert.Equal(t, model.StateEnriched, lead.State)
	assert.Equal(t, 1, store.updates)
}

func TestProcessCollectedIdempotenceFailsSecondCall(t *testing.T) {
	m, _, _ := newTestMachine()
	lead := newLead(model.StateCollected, 0)

	require.NoError(t, m.ProcessCollected(context.Background(), lead))
	err := m.ProcessCollected(context.Background(), lead)
	require.Error(t, err)
	assert.True(t, IsStateMachineError(err))
	assert.Equal(t, model.StateEnriched, lead.State)
}

func TestProcessEnrichedRecordsFirstSend(t *testing.T) {
	m, _, _ := newTestMachine()
	lead := newLead(model.StateEnriched, 0)

	require.NoError(t, m.ProcessEnriched(context.Background(), lead))
	assert.Equal(t, model.StateEmailed1, lead.State)
	assert.Equal(t, 1, lead.EmailsSentCount)
	require.NotNil(t, lead.LastEmailAt)
	assert.Equal(t, time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC), *lead.LastEmailAt)
}

func TestProcessEnrichedRejectsWrongState(t *testing.T) {
	m, _, _ := newTestMachine()
	lead := newLead(model.StateEmailed1, 1)

	err := m.ProcessEnriched(context.Background(), lead)
	assert.True(t, IsStateMachineError(err))
	assert.Equal(t, 1, lead.EmailsSentCount)
}

func TestPositiveReplyFlagsHuman(t *testing.T) {
	m, _, threads := newTestMachine()
	lead := newLead(model.StateEmailed1, 1)

	require.NoError(t, m.HandlePositiveReply(context.Background(), lead))
	assert.Equal(t, model.StateInterested, lead.State)
	assert.Equal(t, []int64{42}, threads.flagged)
	assert.Equal(t, model.SentimentPositive, threads.sentiment)
}

func TestNegativeReplyThenClose(t *testing.T) {
	m, store, _ := newTestMachine()
	lead := newLead(model.StateEmailed1, 1)

	require.NoError(t, m.HandleNegativeReply(context.Background(), lead))
	assert.Equal(t, model.StateNotInterested, lead.State)

	require.NoError(t, m.CloseLead(context.Background(), lead, "polite followup sent"))
	assert.Equal(t, model.StateClosed, lead.State)
	assert.Equal(t, "polite followup sent", store.lastReason)

	err := m.HandleNoReply(context.Background(), lead)
	assert.True(t, IsStateMachineError(err))
}

func TestNoReplySendsFollowup(t *testing.T) {
	m, _, _ := newTestMachine()
	lead := newLead(model.StateEmailed1, 1)

	require.NoError(t, m.HandleNoReply(context.Background(), lead))
	assert.Equal(t, model.StateEmailed2, lead.State)
	assert.Equal(t, 2, lead.EmailsSentCount)

	err := m.HandleNoReply(context.Background(), lead)
	require.Error(t, err)
	assert.True(t, IsStateMachineError(err))
}

func TestNoReplyAtMaxClosesDirectly(t *testing.T) {
	m, store, _ := newTestMachine()
	lead := newLead(model.StateEmailed1, 2)

	require.NoError(t, m.HandleNoReply(context.Background(), lead))
	assert.Equal(t, model.StateClosed, lead.State)
	assert.Equal(t, 2, lead.EmailsSentCount)
	assert.Equal(t, "max emails reached", store.lastReason)

	// The close is a guarded internal shortcut; the edge table itself
	// must not allow EMAILED_1 -> CLOSED for external callers.
	assert.False(t, CanTransition(model.StateEmailed1, model.StateClosed))
}

func TestCloseLeadOnlyFromResolutionStates(t *testing.T) {
	m, _, _ := newTestMachine()

	for _, st := range []model.LeadState{model.StateInterested, model.StateNotInterested, model.StateEmailed2} {
		lead := newLead(st, 2)
		require.NoError(t, m.CloseLead(context.Background(), lead, ""), "close from %s", st)
		assert.Equal(t, model.StateClosed, lead.State)
	}

	for _, st := range []model.LeadState{model.StateCollected, model.StateEnriched, model.StateEmailed1, model.StateClosed} {
		lead := newLead(st, 0)
		err := m.CloseLead(context.Background(), lead, "")
		assert.True(t, IsStateMachineError(err), "close from %s must fail", st)
	}
}

func TestStaleStateRevertsInMemoryMutation(t *testing.T) {
	m, store, _ := newTestMachine()
	store.failWith = ErrStaleState
	lead := newLead(model.StateEnriched, 0)

	err := m.ProcessEnriched(context.Background(), lead)
	require.Error(t, err)
	assert.True(t, IsStateMachineError(err))
	assert.Equal(t, model.StateEnriched, lead.State)
	assert.Equal(t, 0, lead.EmailsSentCount)
	assert.Nil(t, lead.LastEmailAt)
}

func TestCanSendEmailGuardMatrix(t *testing.T) {
	m, _, _ := newTestMachine()

	cases := []struct {
		state  model.LeadState
		sent   int
		want   bool
		reason string
	}{
		{model.StateEnriched, 0, true, ""},
		{model.StateEmailed1, 1, true, ""},
		{model.StateInterested, 1, false, "Lead is INTERESTED - human takeover required"},
		{model.StateClosed, 2, false, "Lead is CLOSED"},
		{model.StateNotInterested, 2, false, "Polite follow-up already sent"},
		{model.StateNotInterested, 1, true, ""},
		{model.StateEmailed2, 2, false, "Max emails (2) already sent"},
	}
	for _, c := range cases {
		got, reason := m.CanSendEmail(newLead(c.state, c.sent))
		assert.Equal(t, c.want, got, "state=%s sent=%d", c.state, c.sent)
		assert.Equal(t, c.reason, reason, "state=%s sent=%d", c.state, c.sent)
	}
}

func TestSummary(t *testing.T) {
	m, _, _ := newTestMachine()

	s := m.Summary(newLead(model.StateInterested, 1))
	assert.Equal(t, "INTERESTED", s.State)
	assert.False(t, s.CanSendEmail)
	assert.True(t, s.RequiresHuman)
	assert.False(t, s.IsTerminal)

	s = m.Summary(newLead(model.StateClosed, 2))
	assert.True(t, s.IsTerminal)
	assert.Equal(t, 2, s.EmailsSent)
	assert.Equal(t, model.MaxEmailsPerLead, s.MaxEmails)
}
