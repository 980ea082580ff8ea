package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/config"
	"github.com/zaihebian/LeadGenNewVersion/internal/mailer"
	"github.com/zaihebian/LeadGenNewVersion/internal/model"
	"github.com/zaihebian/LeadGenNewVersion/internal/policy"
	"github.com/zaihebian/LeadGenNewVersion/internal/ratelimit"
	"github.com/zaihebian/LeadGenNewVersion/internal/statemachine"
)

type mockLeadStore struct {
	mock.Mock
}

func (m *mockLeadStore) GetByID(ctx context.Context, id int64) (*model.Lead, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Lead), args.Error(1)
}

func (m *mockLeadStore) ListByState(ctx context.Context, state model.LeadState, limit int) ([]*model.Lead, error) {
	args := m.Called(ctx, state, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Lead), args.Error(1)
}

func (m *mockLeadStore) ListInStateOlderThan(ctx context.Context, state model.LeadState, cutoff time.Time, limit int) ([]*model.Lead, error) {
	args := m.Called(ctx, state, cutoff, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Lead), args.Error(1)
}

func (m *mockLeadStore) SetEnrichmentData(ctx context.Context, leadID int64, posts []byte) error {
	args := m.Called(ctx, leadID, posts)
	return args.Error(0)
}

func (m *mockLeadStore) CountByState(ctx context.Context) (map[model.LeadState]int, error) {
	args := m.Called(ctx)
	return args.Get(0).(map[model.LeadState]int), args.Error(1)
}

type mockThreadStore struct {
	mock.Mock
}

func (m *mockThreadStore) Create(ctx context.Context, t *model.EmailThread) (int64, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockThreadStore) ListByLead(ctx context.Context, leadID int64) ([]*model.EmailThread, error) {
	args := m.Called(ctx, leadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.EmailThread), args.Error(1)
}

func (m *mockThreadStore) ListUncheckedForLeads(ctx context.Context, limit int) ([]*model.EmailThread, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.EmailThread), args.Error(1)
}

func (m *mockThreadStore) SaveMessages(ctx context.Context, t *model.EmailThread) error {
	args := m.Called(ctx, t)
	return args.Error(0)
}

func (m *mockThreadStore) RecordReply(ctx context.Context, t *model.EmailThread, sentiment model.ReplySentiment, confidence string) error {
	args := m.Called(ctx, t, sentiment, confidence)
	return args.Error(0)
}

func (m *mockThreadStore) MarkHumanRequired(ctx context.Context, leadID int64, sentiment model.ReplySentiment) error {
	args := m.Called(ctx, leadID, sentiment)
	return args.Error(0)
}

type mockCampaignStore struct {
	mock.Mock
}

func (m *mockCampaignStore) IncrementEmailed(ctx context.Context, campaignID int64) error {
	args := m.Called(ctx, campaignID)
	return args.Error(0)
}

func (m *mockCampaignStore) IncrementReplied(ctx context.Context, campaignID int64) error {
	args := m.Called(ctx, campaignID)
	return args.Error(0)
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) EnrichLead(ctx context.Context, lead *model.Lead) ([]byte, error) {
	args := m.Called(ctx, lead)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *mockGenerator) GenerateOutreachEmail(ctx context.Context, lead *model.Lead) (string, string, error) {
	args := m.Called(ctx, lead)
	return args.String(0), args.String(1), args.Error(2)
}

func (m *mockGenerator) GenerateNoReplyFollowup(ctx context.Context, lead *model.Lead, prev string) (string, error) {
	args := m.Called(ctx, lead, prev)
	return args.String(0), args.Error(1)
}

func (m *mockGenerator) GeneratePoliteFollowup(ctx context.Context, lead *model.Lead, prev string) (string, error) {
	args := m.Called(ctx, lead, prev)
	return args.String(0), args.Error(1)
}

func (m *mockGenerator) ClassifyReplySentiment(ctx context.Context, body string) (model.ReplySentiment, error) {
	args := m.Called(ctx, body)
	return args.Get(0).(model.ReplySentiment), args.Error(1)
}

type mockMailClient struct {
	mock.Mock
}

func (m *mockMailClient) SendEmail(ctx context.Context, to, subject, body, threadID string) (mailer.SendResult, error) {
	args := m.Called(ctx, to, subject, body, threadID)
	return args.Get(0).(mailer.SendResult), args.Error(1)
}

func (m *mockMailClient) GetThreadMessages(ctx context.Context, threadID string) ([]mailer.FetchedMessage, error) {
	args := m.Called(ctx, threadID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]mailer.FetchedMessage), args.Error(1)
}

func (m *mockMailClient) IsAuthenticated(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

func (m *mockMailClient) Address() string {
	args := m.Called()
	return args.String(0)
}

type stubDeduper struct {
	denied   bool
	held     map[int64]bool
	released int
}

func (d *stubDeduper) AcquireOnce(_ context.Context, _ string, id int64) bool {
	if d.denied {
		return false
	}
	if d.held == nil {
		d.held = make(map[int64]bool)
	}
	if d.held[id] {
		return false
	}
	d.held[id] = true
	return true
}

func (d *stubDeduper) Release(_ context.Context, _ string, id int64) {
	delete(d.held, id)
	d.released++
}

// memoryLeadStore backs the state machine in tests with a no-op write.
type memoryLeadStore struct {
	staleOn map[int64]bool
}

func (s *memoryLeadStore) UpdateLifecycle(_ context.Context, lead *model.Lead, _ model.LeadState, _ string) error {
	if s.staleOn != nil && s.staleOn[lead.ID] {
		return statemachine.ErrStaleState
	}
	return nil
}

type memoryThreadStore struct {
	flagged []int64
}

func (s *memoryThreadStore) MarkHumanRequired(_ context.Context, leadID int64, _ model.ReplySentiment) error {
	s.flagged = append(s.flagged, leadID)
	return nil
}

type fixture struct {
	orch      *Orchestrator
	leads     *mockLeadStore
	threads   *mockThreadStore
	campaigns *mockCampaignStore
	generator *mockGenerator
	mail      *mockMailClient
	deduper   *stubDeduper
	smThreads *memoryThreadStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()

	f := &fixture{
		leads:     &mockLeadStore{},
		threads:   &mockThreadStore{},
		campaigns: &mockCampaignStore{},
		generator: &mockGenerator{},
		mail:      &mockMailClient{},
		deduper:   &stubDeduper{},
		smThreads: &memoryThreadStore{},
	}

	machine := statemachine.New(&memoryLeadStore{}, f.smThreads, logger)
	limiter := ratelimit.New(50, 0, ratelimit.RealClock(), logger)
	attributor := policy.NewAttributor("outreach@example.com", false, logger)

	f.orch = NewOrchestrator(
		machine,
		f.leads,
		f.threads,
		f.campaigns,
		f.generator,
		f.mail,
		limiter,
		attributor,
		f.deduper,
		config.OutreachConfig{NoReplyFollowupDays: 14, MaxLeadsPerRun: 10},
		logger,
	)
	return f
}

func enrichedLead(id int64) *model.Lead {
	return &model.Lead{
		ID:         id,
		CampaignID: 7,
		State:      model.StateEnriched,
		FirstName:  "Ada",
		LastName:   "Lovelace",
		Email:      "ada@corp.com",
	}
}

func TestSendInitialEmailsHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(1)

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.leads.On("ListByState", ctx, model.StateEnriched, 10).Return([]*model.Lead{lead}, nil)
	f.generator.On("GenerateOutreachEmail", ctx, lead).Return("Hello Ada", "body", nil)
	f.mail.On("SendEmail", ctx, "ada@corp.com", "Hello Ada", "body", "").
		Return(mailer.SendResult{MailID: "m-1", ThreadID: "t-1"}, nil)
	f.threads.On("Create", ctx, mock.AnythingOfType("*model.EmailThread")).Return(int64(100), nil)
	f.campaigns.On("IncrementEmailed", ctx, int64(7)).Return(nil)

	report := f.orch.SendInitialEmails(ctx)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, model.StateEmailed1, lead.State)
	assert.Equal(t, 1, lead.EmailsSentCount)
	f.mail.AssertExpectations(t)
	f.threads.AssertExpectations(t)
}

func TestSendInitialEmailsSendFailureDoesNotAdvance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(2)

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.leads.On("ListByState", ctx, model.StateEnriched, 10).Return([]*model.Lead{lead}, nil)
	f.generator.On("GenerateOutreachEmail", ctx, lead).Return("s", "b", nil)
	f.mail.On("SendEmail", ctx, "ada@corp.com", "s", "b", "").
		Return(mailer.SendResult{}, errors.New("smtp down"))

	report := f.orch.SendInitialEmails(ctx)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, model.StateEnriched, lead.State)
	assert.Equal(t, 0, lead.EmailsSentCount)
	assert.Equal(t, 0, f.orch.RateStats().SentToday)
}

func TestSendInitialEmailsSkipsGuardedLeads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	blocked := enrichedLead(3)
	blocked.EmailsSentCount = 2

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.leads.On("ListByState", ctx, model.StateEnriched, 10).Return([]*model.Lead{blocked}, nil)

	report := f.orch.SendInitialEmails(ctx)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Succeeded)
	f.generator.AssertNotCalled(t, "GenerateOutreachEmail", mock.Anything, mock.Anything)
}

func TestSendInitialEmailsStopsWhenUnauthenticated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.mail.On("IsAuthenticated", ctx).Return(false)

	report := f.orch.SendInitialEmails(ctx)
	assert.Equal(t, 0, report.Processed)
	f.leads.AssertNotCalled(t, "ListByState", mock.Anything, mock.Anything, mock.Anything)
}

func TestSendFollowupsAdvancesToEmailed2(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(4)
	lead.State = model.StateEmailed1
	lead.EmailsSentCount = 1

	thread := &model.EmailThread{ID: 200, LeadID: 4, MailThreadID: "t-4", Subject: "Hello"}
	thread.AppendMessage(model.RoleSent, "first email", "m-4", time.Now().UTC())

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.leads.On("ListInStateOlderThan", ctx, model.StateEmailed1, mock.AnythingOfType("time.Time"), 10).
		Return([]*model.Lead{lead}, nil)
	f.threads.On("ListByLead", ctx, int64(4)).Return([]*model.EmailThread{thread}, nil)
	f.generator.On("GenerateNoReplyFollowup", ctx, lead, "first email").Return("bump", nil)
	f.mail.On("SendEmail", ctx, "ada@corp.com", "Hello", "bump", "t-4").
		Return(mailer.SendResult{MailID: "m-5"}, nil)
	f.threads.On("SaveMessages", ctx, thread).Return(nil)

	report := f.orch.SendFollowups(ctx)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, model.StateEmailed2, lead.State)
	assert.Equal(t, 2, lead.EmailsSentCount)
	assert.Len(t, thread.Messages, 2)
}

func TestSendFollowupsSkipsThreadWithReply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(5)
	lead.State = model.StateEmailed1
	lead.EmailsSentCount = 1

	thread := &model.EmailThread{ID: 201, LeadID: 5, MailThreadID: "t-5", HasReply: true}

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.leads.On("ListInStateOlderThan", ctx, model.StateEmailed1, mock.AnythingOfType("time.Time"), 10).
		Return([]*model.Lead{lead}, nil)
	f.threads.On("ListByLead", ctx, int64(5)).Return([]*model.EmailThread{thread}, nil)

	report := f.orch.SendFollowups(ctx)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, model.StateEmailed1, lead.State)
	f.mail.AssertNotCalled(t, "SendEmail", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func replyFixtureThread(leadID int64) *model.EmailThread {
	thread := &model.EmailThread{ID: 300, LeadID: leadID, MailThreadID: "t-reply", Subject: "Hello"}
	thread.AppendMessage(model.RoleSent, "our email", "m-out", time.Now().UTC())
	return thread
}

func TestCheckRepliesPositiveMarksInterested(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(6)
	lead.State = model.StateEmailed1
	lead.EmailsSentCount = 1
	thread := replyFixtureThread(6)

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.threads.On("ListUncheckedForLeads", ctx, 10).Return([]*model.EmailThread{thread}, nil)
	f.leads.On("GetByID", ctx, int64(6)).Return(lead, nil)
	f.mail.On("GetThreadMessages", ctx, "t-reply").Return([]mailer.FetchedMessage{
		{MailID: "m-out", FromAddress: "outreach@example.com", Body: "our email", SentByUs: true},
		{MailID: "m-in", FromAddress: "ada@corp.com", Body: "sounds great!", SentByUs: false},
	}, nil)
	f.generator.On("ClassifyReplySentiment", ctx, "sounds great!").Return(model.SentimentPositive, nil)
	f.threads.On("RecordReply", ctx, thread, model.SentimentPositive, "high").Return(nil)
	f.campaigns.On("IncrementReplied", ctx, int64(7)).Return(nil)

	report := f.orch.CheckReplies(ctx)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, model.StateInterested, lead.State)
	assert.Equal(t, []int64{6}, f.smThreads.flagged)
}

func TestCheckRepliesNegativeSendsPoliteFollowupAndCloses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(7)
	lead.State = model.StateEmailed1
	lead.EmailsSentCount = 1
	thread := replyFixtureThread(7)

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.threads.On("ListUncheckedForLeads", ctx, 10).Return([]*model.EmailThread{thread}, nil)
	f.leads.On("GetByID", ctx, int64(7)).Return(lead, nil)
	f.mail.On("GetThreadMessages", ctx, "t-reply").Return([]mailer.FetchedMessage{
		{MailID: "m-in", FromAddress: "ada@corp.com", Body: "not interested", SentByUs: false},
	}, nil)
	f.generator.On("ClassifyReplySentiment", ctx, "not interested").Return(model.SentimentNegative, nil)
	f.threads.On("RecordReply", ctx, thread, model.SentimentNegative, "high").Return(nil)
	f.campaigns.On("IncrementReplied", ctx, int64(7)).Return(nil)
	f.generator.On("GeneratePoliteFollowup", ctx, lead, "our email").Return("thanks anyway", nil)
	f.mail.On("SendEmail", ctx, "ada@corp.com", "Hello", "thanks anyway", "t-reply").
		Return(mailer.SendResult{MailID: "m-polite"}, nil)
	f.threads.On("SaveMessages", ctx, thread).Return(nil)

	report := f.orch.CheckReplies(ctx)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, model.StateClosed, lead.State)
	assert.Equal(t, 2, lead.EmailsSentCount)
	require.NotNil(t, lead.LastEmailAt)
	assert.WithinDuration(t, time.Now().UTC(), *lead.LastEmailAt, time.Minute)
}

func TestCheckRepliesNeutralRecordsWithoutTransition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(8)
	lead.State = model.StateEmailed1
	lead.EmailsSentCount = 1
	thread := replyFixtureThread(8)

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.threads.On("ListUncheckedForLeads", ctx, 10).Return([]*model.EmailThread{thread}, nil)
	f.leads.On("GetByID", ctx, int64(8)).Return(lead, nil)
	f.mail.On("GetThreadMessages", ctx, "t-reply").Return([]mailer.FetchedMessage{
		{MailID: "m-in", FromAddress: "ada@corp.com", Body: "maybe later", SentByUs: false},
	}, nil)
	f.generator.On("ClassifyReplySentiment", ctx, "maybe later").Return(model.SentimentNeutral, nil)
	f.threads.On("RecordReply", ctx, thread, model.SentimentNeutral, "high").Return(nil)
	f.campaigns.On("IncrementReplied", ctx, int64(7)).Return(nil)

	report := f.orch.CheckReplies(ctx)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, model.StateEmailed1, lead.State)
}

func TestCheckRepliesAfterSecondEmailClosesWithHumanFlag(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(9)
	lead.State = model.StateEmailed2
	lead.EmailsSentCount = 2
	thread := replyFixtureThread(9)

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.threads.On("ListUncheckedForLeads", ctx, 10).Return([]*model.EmailThread{thread}, nil)
	f.leads.On("GetByID", ctx, int64(9)).Return(lead, nil)
	f.mail.On("GetThreadMessages", ctx, "t-reply").Return([]mailer.FetchedMessage{
		{MailID: "m-in", FromAddress: "ada@corp.com", Body: "ok tell me more", SentByUs: false},
	}, nil)
	f.generator.On("ClassifyReplySentiment", ctx, "ok tell me more").Return(model.SentimentPositive, nil)
	f.threads.On("RecordReply", ctx, thread, model.SentimentPositive, "high").Return(nil)
	f.campaigns.On("IncrementReplied", ctx, int64(7)).Return(nil)
	f.threads.On("MarkHumanRequired", ctx, int64(9), model.SentimentPositive).Return(nil)

	report := f.orch.CheckReplies(ctx)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, model.StateClosed, lead.State)
	f.threads.AssertExpectations(t)
}

func TestCheckRepliesNoNewReplyCheckpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(10)
	lead.State = model.StateEmailed1
	lead.EmailsSentCount = 1
	thread := replyFixtureThread(10)

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.threads.On("ListUncheckedForLeads", ctx, 10).Return([]*model.EmailThread{thread}, nil)
	f.leads.On("GetByID", ctx, int64(10)).Return(lead, nil)
	f.mail.On("GetThreadMessages", ctx, "t-reply").Return([]mailer.FetchedMessage{
		{MailID: "m-out", FromAddress: "outreach@example.com", Body: "our email", SentByUs: true},
	}, nil)
	f.threads.On("SaveMessages", ctx, thread).Return(nil)

	report := f.orch.CheckReplies(ctx)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, model.StateEmailed1, lead.State)
	f.generator.AssertNotCalled(t, "ClassifyReplySentiment", mock.Anything, mock.Anything)
}

func TestCheckRepliesDeduperSuppressesDoubleProcessing(t *testing.T) {
	f := newFixture(t)
	f.deduper.denied = true
	ctx := context.Background()
	lead := enrichedLead(11)
	lead.State = model.StateEmailed1
	lead.EmailsSentCount = 1
	thread := replyFixtureThread(11)

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.threads.On("ListUncheckedForLeads", ctx, 10).Return([]*model.EmailThread{thread}, nil)
	f.leads.On("GetByID", ctx, int64(11)).Return(lead, nil)
	f.mail.On("GetThreadMessages", ctx, "t-reply").Return([]mailer.FetchedMessage{
		{MailID: "m-in", FromAddress: "ada@corp.com", Body: "hi", SentByUs: false},
	}, nil)

	report := f.orch.CheckReplies(ctx)

	assert.Equal(t, 1, report.Skipped)
	f.generator.AssertNotCalled(t, "ClassifyReplySentiment", mock.Anything, mock.Anything)
}

func TestCheckRepliesClassifyFailureReleasesDedupForRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(14)
	lead.State = model.StateEmailed1
	lead.EmailsSentCount = 1
	thread := replyFixtureThread(14)

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.threads.On("ListUncheckedForLeads", ctx, 10).Return([]*model.EmailThread{thread}, nil)
	f.leads.On("GetByID", ctx, int64(14)).Return(lead, nil)
	f.mail.On("GetThreadMessages", ctx, "t-reply").Return([]mailer.FetchedMessage{
		{MailID: "m-in", FromAddress: "ada@corp.com", Body: "sounds great!", SentByUs: false},
	}, nil)
	f.generator.On("ClassifyReplySentiment", ctx, "sounds great!").
		Return(model.SentimentUnknown, errors.New("agent service 5xx: 503")).Once()

	report := f.orch.CheckReplies(ctx)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, f.deduper.released)
	assert.Equal(t, model.StateEmailed1, lead.State)

	// The agent recovered, so the next run must process the same reply.
	f.generator.On("ClassifyReplySentiment", ctx, "sounds great!").
		Return(model.SentimentPositive, nil)
	f.threads.On("RecordReply", ctx, thread, model.SentimentPositive, "high").Return(nil)
	f.campaigns.On("IncrementReplied", ctx, int64(7)).Return(nil)

	report = f.orch.CheckReplies(ctx)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, model.StateInterested, lead.State)
}

func TestCheckRepliesRecordFailureReleasesDedupForRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(15)
	lead.State = model.StateEmailed1
	lead.EmailsSentCount = 1
	thread := replyFixtureThread(15)

	f.mail.On("IsAuthenticated", ctx).Return(true)
	f.threads.On("ListUncheckedForLeads", ctx, 10).Return([]*model.EmailThread{thread}, nil)
	f.leads.On("GetByID", ctx, int64(15)).Return(lead, nil)
	f.mail.On("GetThreadMessages", ctx, "t-reply").Return([]mailer.FetchedMessage{
		{MailID: "m-in", FromAddress: "ada@corp.com", Body: "maybe later", SentByUs: false},
	}, nil)
	f.generator.On("ClassifyReplySentiment", ctx, "maybe later").Return(model.SentimentNeutral, nil)
	f.threads.On("RecordReply", ctx, thread, model.SentimentNeutral, "high").
		Return(errors.New("db down"))

	report := f.orch.CheckReplies(ctx)

	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, f.deduper.released)
	assert.Equal(t, model.StateEmailed1, lead.State)
}

func TestCloseStaleLeads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stale := enrichedLead(12)
	stale.State = model.StateEmailed2
	stale.EmailsSentCount = 2

	f.leads.On("ListInStateOlderThan", ctx, model.StateEmailed2, mock.AnythingOfType("time.Time"), 10).
		Return([]*model.Lead{stale}, nil)
	f.leads.On("ListInStateOlderThan", ctx, model.StateNotInterested, mock.AnythingOfType("time.Time"), 10).
		Return([]*model.Lead{}, nil)

	report := f.orch.CloseStaleLeads(ctx)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, model.StateClosed, stale.State)
}

func TestEnrichCollectedLeads(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(13)
	lead.State = model.StateCollected

	f.leads.On("ListByState", ctx, model.StateCollected, 10).Return([]*model.Lead{lead}, nil)
	f.generator.On("EnrichLead", ctx, lead).Return([]byte(`[{"post":"hi"}]`), nil)
	f.leads.On("SetEnrichmentData", ctx, int64(13), []byte(`[{"post":"hi"}]`)).Return(nil)

	report := f.orch.EnrichCollectedLeads(ctx)

	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, model.StateEnriched, lead.State)
}

func TestSendManualSurfacesGuardReason(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(14)
	lead.State = model.StateInterested
	lead.EmailsSentCount = 1

	f.leads.On("GetByID", ctx, int64(14)).Return(lead, nil)

	result, err := f.orch.SendManual(ctx, 14)
	require.NoError(t, err)
	assert.Equal(t, "blocked", result.Action)
	assert.Equal(t, "Lead is INTERESTED - human takeover required", result.Error)
}

func TestSendManualHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	lead := enrichedLead(15)

	f.leads.On("GetByID", ctx, int64(15)).Return(lead, nil)
	f.generator.On("GenerateOutreachEmail", ctx, lead).Return("s", "b", nil)
	f.mail.On("SendEmail", ctx, "ada@corp.com", "s", "b", "").
		Return(mailer.SendResult{MailID: "m-15", ThreadID: "t-15"}, nil)
	f.threads.On("Create", ctx, mock.AnythingOfType("*model.EmailThread")).Return(int64(400), nil)
	f.campaigns.On("IncrementEmailed", ctx, int64(7)).Return(nil)

	result, err := f.orch.SendManual(ctx, 15)
	require.NoError(t, err)
	assert.Equal(t, "manual_sent", result.Action)
	assert.Equal(t, model.StateEmailed1, lead.State)
}
