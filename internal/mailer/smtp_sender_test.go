package mailer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/config"
)

func TestNewSMTPSenderCarriesCredentials(t *testing.T) {
	cfg := config.SMTPConfig{
		Host:     "smtp.example.com",
		Port:     587,
		User:     "outreach@example.com",
		Password: "hunter2",
		From:     "outreach@example.com",
	}

	s := NewSMTPSender(cfg, zap.NewNop())

	assert.Equal(t, "smtp.example.com", s.host)
	assert.Equal(t, 587, s.port)
	assert.Equal(t, "outreach@example.com", s.username)
	assert.Equal(t, "hunter2", s.password)
	assert.Equal(t, "outreach@example.com", s.from)
	assert.Equal(t, "outreach@example.com", s.Address())
}

func TestSMTPSenderCannotFetchThreads(t *testing.T) {
	s := NewSMTPSender(config.SMTPConfig{From: "a@b.c"}, zap.NewNop())

	_, err := s.GetThreadMessages(context.Background(), "thread-1")
	assert.ErrorIs(t, err, ErrThreadFetchUnsupported)
}
