package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/config"
)

// RelayClient talks to the mail relay service that owns the authenticated
// mailbox. The relay exposes send, thread fetch and a whoami endpoint.
type RelayClient struct {
	baseURL    string
	token      string
	address    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewRelayClient(cfg config.MailboxConfig, logger *zap.Logger) *RelayClient {
	return &RelayClient{
		baseURL:    cfg.RelayURL,
		token:      cfg.RelayToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (c *RelayClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body *bytes.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("mail relay returned error: %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mail relay rejected request: %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

type relaySendRequest struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	Body     string `json:"body"`
	ThreadID string `json:"thread_id,omitempty"`
}

type relaySendResponse struct {
	MailID   string `json:"mail_id"`
	ThreadID string `json:"thread_id"`
}

func (c *RelayClient) SendEmail(ctx context.Context, to, subject, body, threadID string) (SendResult, error) {
	req := relaySendRequest{To: to, Subject: subject, Body: body, ThreadID: threadID}

	var resp relaySendResponse
	if err := c.do(ctx, http.MethodPost, "/messages/send", req, &resp); err != nil {
		c.logger.Error("Relay send failed",
			zap.String("to", to),
			zap.Error(err),
		)
		return SendResult{}, err
	}

	c.logger.Info("Email sent via relay",
		zap.String("to", to),
		zap.String("mail_id", resp.MailID),
		zap.String("thread_id", resp.ThreadID),
	)
	return SendResult{MailID: resp.MailID, ThreadID: resp.ThreadID}, nil
}

type relayMessage struct {
	MailID    string    `json:"mail_id"`
	From      string    `json:"from"`
	Body      string    `json:"body"`
	IsSent    bool      `json:"is_sent"`
	Timestamp time.Time `json:"timestamp"`
}

type relayThreadResponse struct {
	Messages []relayMessage `json:"messages"`
}

func (c *RelayClient) GetThreadMessages(ctx context.Context, threadID string) ([]FetchedMessage, error) {
	path := "/threads/" + url.PathEscape(threadID) + "/messages"

	var resp relayThreadResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		c.logger.Warn("Relay thread fetch failed",
			zap.String("thread_id", threadID),
			zap.Error(err),
		)
		return nil, err
	}

	messages := make([]FetchedMessage, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		messages = append(messages, FetchedMessage{
			MailID:      m.MailID,
			FromAddress: m.From,
			Body:        m.Body,
			SentByUs:    m.IsSent,
			Timestamp:   m.Timestamp,
		})
	}
	return messages, nil
}

type relayWhoamiResponse struct {
	Address string `json:"address"`
}

// IsAuthenticated probes the relay and caches the mailbox address on
// success.
func (c *RelayClient) IsAuthenticated(ctx context.Context) bool {
	var resp relayWhoamiResponse
	if err := c.do(ctx, http.MethodGet, "/me", nil, &resp); err != nil {
		c.logger.Warn("Relay authentication check failed", zap.Error(err))
		return false
	}
	c.address = resp.Address
	return resp.Address != ""
}

func (c *RelayClient) Address() string {
	return c.address
}
