package mailer

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/zaihebian/LeadGenNewVersion/internal/config"
)

// SMTPSender is a send-only transport over plain SMTP. It cannot read the
// mailbox, so reply monitoring needs the relay; alerts and single-shot
// sends work fine.
type SMTPSender struct {
	host     string
	port     int
	username string
	password string
	from     string
	logger   *zap.Logger
}

func NewSMTPSender(cfg config.SMTPConfig, logger *zap.Logger) *SMTPSender {
	return &SMTPSender{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.User,
		password: cfg.Password,
		from:     cfg.From,
		logger:   logger,
	}
}

// SendEmail dials and sends with exponential backoff. SMTP has no thread
// concept, so the returned ids are empty.
func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body, _ string) (SendResult, error) {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	d := gomail.NewDialer(s.host, s.port, s.username, s.password)

	operation := func() error {
		return d.DialAndSend(m)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = 30 * time.Second

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		s.logger.Error("SMTP send failed",
			zap.String("to", to),
			zap.Error(err),
		)
		return SendResult{}, err
	}

	s.logger.Info("Email sent via SMTP", zap.String("to", to))
	return SendResult{}, nil
}

func (s *SMTPSender) GetThreadMessages(_ context.Context, _ string) ([]FetchedMessage, error) {
	return nil, ErrThreadFetchUnsupported
}

func (s *SMTPSender) IsAuthenticated(_ context.Context) bool {
	return s.host != "" && s.from != ""
}

func (s *SMTPSender) Address() string {
	return s.from
}
