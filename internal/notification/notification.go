// Package notification delivers membership lifecycle messages.
package notification

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
)

// Message is one rendered notification for one recipient.
type Message struct {
	UserID    snowflake.ID
	EventType string
	Subject   string
	Body      string
}

// Sink delivers rendered messages over one channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// LogSink writes notifications to the application log. It is always wired,
// so lifecycle messages remain observable without an SMTP server.
type LogSink struct {
	log *zap.Logger
}

func NewLogSink(log *zap.Logger) *LogSink {
	return &LogSink{log: log.Named("notification.log")}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(_ context.Context, msg Message) error {
	s.log.Info("notification",
		zap.String("user_id", msg.UserID.String()),
		zap.String("event_type", msg.EventType),
		zap.String("subject", msg.Subject),
	)
	return nil
}

// AddressResolver maps a user id to a deliverable address. The bool is false
// when no address is known; the message is then skipped for that sink.
type AddressResolver func(userID snowflake.ID) (string, bool)

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
}

// SMTPSink delivers messages over SMTP.
type SMTPSink struct {
	cfg     SMTPConfig
	resolve AddressResolver
	log     *zap.Logger
}

func NewSMTPSink(cfg SMTPConfig, resolve AddressResolver, log *zap.Logger) *SMTPSink {
	return &SMTPSink{
		cfg:     cfg,
		resolve: resolve,
		log:     log.Named("notification.smtp"),
	}
}

func (s *SMTPSink) Name() string { return "smtp" }

func (s *SMTPSink) Deliver(_ context.Context, msg Message) error {
	to, ok := s.resolve(msg.UserID)
	if !ok || strings.TrimSpace(to) == "" {
		s.log.Debug("no address for user, skipping",
			zap.String("user_id", msg.UserID.String()),
		)
		return nil
	}

	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	addr := fmt.Sprintf("%s:%s", s.cfg.Host, s.cfg.Port)

	mime := "MIME-version: 1.0;\nContent-Type: text/plain; charset=\"UTF-8\";\n\n"
	raw := []byte(fmt.Sprintf("To: %s\r\nSubject: %s\r\n%s\r\n%s", to, msg.Subject, mime, msg.Body))

	return smtp.SendMail(addr, auth, s.cfg.From, []string{to}, raw)
}
