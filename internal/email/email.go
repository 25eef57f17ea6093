// Package email delivers rendered notifications to a mailbox.
package email

import (
	"context"
	"fmt"

	"github.com/Domenick1991/roombooking/config"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/wneessen/go-mail"
)

// Channel sends one message and returns the id the channel assigned to it.
type Channel interface {
	Send(ctx context.Context, to, subject, htmlBody string) (string, error)
}

func NewChannel(cfg config.NotificationConfig, logger *logrus.Logger) (Channel, error) {
	if cfg.Channel == config.ChannelSMTP {
		sender, err := NewSMTPSender(cfg)
		if err != nil {
			return nil, err
		}
		return sender, nil
	}
	return NewLogSender(logger), nil
}

type SMTPSender struct {
	from string
	send func(ctx context.Context, msg *mail.Msg) error
}

func NewSMTPSender(cfg config.NotificationConfig) (*SMTPSender, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.SMTPPort),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.SMTPUser != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.SMTPUser),
			mail.WithPassword(cfg.SMTPPass),
		)
	}
	client, err := mail.NewClient(cfg.SMTPHost, opts...)
	if err != nil {
		return nil, fmt.Errorf("smtp client: %w", err)
	}
	return &SMTPSender{
		from: cfg.FromEmail,
		send: func(ctx context.Context, msg *mail.Msg) error {
			return client.DialAndSendWithContext(ctx, msg)
		},
	}, nil
}

func (s *SMTPSender) Send(ctx context.Context, to, subject, htmlBody string) (string, error) {
	msg, err := newMessage(s.from, to, subject, htmlBody)
	if err != nil {
		return "", err
	}
	if err := s.send(ctx, msg); err != nil {
		return "", fmt.Errorf("smtp send to %s: %w", to, err)
	}
	return msg.GetMessageID(), nil
}

// newMessage builds an HTML message. Header values are encoded by go-mail, so a room name
// cannot break out of the Subject line.
func newMessage(from, to, subject, htmlBody string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.From(from); err != nil {
		return nil, fmt.Errorf("invalid sender %q: %w", from, err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("invalid recipient %q: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetDate()
	msg.SetMessageID()
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)
	return msg, nil
}

// LogSender writes messages to the log instead of sending them. Used for local runs.
type LogSender struct {
	log *logrus.Entry
}

func NewLogSender(logger *logrus.Logger) *LogSender {
	return &LogSender{log: logger.WithField("component", "email.log")}
}

func (s *LogSender) Send(_ context.Context, to, subject, htmlBody string) (string, error) {
	id := "log-" + uuid.NewString()
	s.log.WithFields(logrus.Fields{
		"to":         to,
		"subject":    subject,
		"message_id": id,
		"bytes":      len(htmlBody),
	}).Info("email")
	return id, nil
}

var (
	_ Channel = (*SMTPSender)(nil)
	_ Channel = (*LogSender)(nil)
)
