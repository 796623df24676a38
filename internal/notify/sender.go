package notify

import (
	"context"
	"errors"
	"strings"

	"github.com/resend/resend-go/v2"
	"go.uber.org/zap"
)

// Message is one transactional email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a message through an email provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// ResendSender delivers email through the Resend API.
type ResendSender struct {
	client *resend.Client
	from   string
}

// NewResendSender constructs a sender. client is required.
func NewResendSender(client *resend.Client, from string) (*ResendSender, error) {
	if client == nil {
		return nil, errors.New("resend sender: nil client")
	}
	if strings.TrimSpace(from) == "" {
		return nil, errors.New("resend sender: empty from address")
	}
	return &ResendSender{client: client, from: from}, nil
}

// Send implements Sender.
func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	if s == nil || s.client == nil {
		return errors.New("resend sender: nil client")
	}
	_, err := s.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
	})
	return err
}

// LogSender logs messages instead of delivering them. It is used when no
// email provider is configured.
type LogSender struct {
	logger *zap.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *zap.Logger) *LogSender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSender{logger: logger}
}

// Send implements Sender.
func (s *LogSender) Send(ctx context.Context, msg Message) error {
	s.logger.Info("email not delivered: no provider configured",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
