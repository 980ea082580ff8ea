package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/config"
	"github.com/zaihebian/LeadGenNewVersion/internal/model"
	"github.com/zaihebian/LeadGenNewVersion/pkg/circuitbreaker"
	"github.com/zaihebian/LeadGenNewVersion/pkg/metrics"
)

// ContentGenerator produces outreach copy and classifies replies. The
// concrete implementation talks to the external agent service.
type ContentGenerator interface {
	EnrichLead(ctx context.Context, lead *model.Lead) ([]byte, error)
	GenerateOutreachEmail(ctx context.Context, lead *model.Lead) (subject, body string, err error)
	GenerateNoReplyFollowup(ctx context.Context, lead *model.Lead, previousBody string) (string, error)
	GeneratePoliteFollowup(ctx context.Context, lead *model.Lead, previousBody string) (string, error)
	ClassifyReplySentiment(ctx context.Context, replyBody string) (model.ReplySentiment, error)
}

// AgentClient is the HTTP client to the agent service. Calls go through a
// circuit breaker so a dead agent fails fast instead of stalling every
// batch driver on its timeout.
type AgentClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

func NewAgentClient(cfg config.AgentConfig, logger *zap.Logger) *AgentClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AgentClient{
		baseURL:    cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		breaker:    circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:     logger,
	}
}

type enrichRequest struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	ProfileURL  string `json:"profile_url"`
	JobTitle    string `json:"job_title"`
	CompanyName string `json:"company_name"`
	Industry    string `json:"industry"`
}

type enrichResponse struct {
	ProfilePosts json.RawMessage `json:"profile_posts"`
}

type generateRequest struct {
	FirstName    string          `json:"first_name"`
	LastName     string          `json:"last_name"`
	JobTitle     string          `json:"job_title"`
	CompanyName  string          `json:"company_name"`
	Industry     string          `json:"industry"`
	ProfilePosts json.RawMessage `json:"profile_posts,omitempty"`
}

type generateResponse struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type followupRequest struct {
	FirstName    string `json:"first_name"`
	CompanyName  string `json:"company_name"`
	PreviousBody string `json:"previous_body"`
}

type followupResponse struct {
	Body string `json:"body"`
}

type classifyRequest struct {
	Body string `json:"body"`
}

type classifyResponse struct {
	Sentiment string `json:"sentiment"`
}

// post sends one JSON request through the breaker and decodes into out.
func (c *AgentClient) post(ctx context.Context, endpoint string, in, out interface{}) error {
	b, err := json.Marshal(in)
	if err != nil {
		return err
	}

	start := time.Now()
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(b))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("agent service 5xx: %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("agent service error: %d", resp.StatusCode)
		}

		return json.NewDecoder(resp.Body).Decode(out)
	})

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordAgentCallLatency(endpoint, status, time.Since(start))

	if err != nil {
		c.logger.Warn("Agent call failed",
			zap.String("endpoint", endpoint),
			zap.Error(err),
		)
	}
	return err
}

func (c *AgentClient) EnrichLead(ctx context.Context, lead *model.Lead) ([]byte, error) {
	req := enrichRequest{
		FirstName:   lead.FirstName,
		LastName:    lead.LastName,
		ProfileURL:  lead.ProfileURL,
		JobTitle:    lead.JobTitle,
		CompanyName: lead.CompanyName,
		Industry:    lead.Industry,
	}
	var resp enrichResponse
	if err := c.post(ctx, "/enrich", req, &resp); err != nil {
		return nil, err
	}
	return resp.ProfilePosts, nil
}

func (c *AgentClient) GenerateOutreachEmail(ctx context.Context, lead *model.Lead) (string, string, error) {
	req := generateRequest{
		FirstName:    lead.FirstName,
		LastName:     lead.LastName,
		JobTitle:     lead.JobTitle,
		CompanyName:  lead.CompanyName,
		Industry:     lead.Industry,
		ProfilePosts: lead.ProfilePostsJSON,
	}
	var resp generateResponse
	if err := c.post(ctx, "/generate-email", req, &resp); err != nil {
		return "", "", err
	}
	if resp.Subject == "" || resp.Body == "" {
		return "", "", fmt.Errorf("agent service returned empty email content")
	}
	return resp.Subject, resp.Body, nil
}

// GenerateNoReplyFollowup produces the second-touch email for a lead that
// never answered the first one.
func (c *AgentClient) GenerateNoReplyFollowup(ctx context.Context, lead *model.Lead, previousBody string) (string, error) {
	return c.generateFollowup(ctx, "/generate-followup", lead, previousBody)
}

// GeneratePoliteFollowup produces the rejection-acknowledgment email sent
// once after a negative reply.
func (c *AgentClient) GeneratePoliteFollowup(ctx context.Context, lead *model.Lead, previousBody string) (string, error) {
	return c.generateFollowup(ctx, "/generate-polite-followup", lead, previousBody)
}

func (c *AgentClient) generateFollowup(ctx context.Context, endpoint string, lead *model.Lead, previousBody string) (string, error) {
	req := followupRequest{
		FirstName:    lead.FirstName,
		CompanyName:  lead.CompanyName,
		PreviousBody: previousBody,
	}
	var resp followupResponse
	if err := c.post(ctx, endpoint, req, &resp); err != nil {
		return "", err
	}
	if resp.Body == "" {
		return "", fmt.Errorf("agent service returned empty followup content")
	}
	return resp.Body, nil
}

func (c *AgentClient) ClassifyReplySentiment(ctx context.Context, replyBody string) (model.ReplySentiment, error) {
	var resp classifyResponse
	if err := c.post(ctx, "/classify-reply", classifyRequest{Body: replyBody}, &resp); err != nil {
		return model.SentimentUnknown, err
	}
	sentiment, err := model.ParseReplySentiment(resp.Sentiment)
	if err != nil {
		c.logger.Warn("Agent returned unrecognized sentiment, treating as NEUTRAL",
			zap.String("raw", resp.Sentiment),
		)
		return model.SentimentNeutral, nil
	}
	return sentiment, nil
}
