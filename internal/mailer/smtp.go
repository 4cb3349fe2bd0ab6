package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/emersion/go-sasl"
	gomail "github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"go.uber.org/zap"

	"github.com/Skynetiks/skydesk/internal/config"
)

// SMTPSender delivers mail through an SMTP submission server.
type SMTPSender struct {
	cfg    config.SMTPConfig
	from   *gomail.Address
	domain string
	logger *zap.Logger
	now    func() time.Time
}

// NewSMTPSender constructs a sender for cfg.
func NewSMTPSender(cfg config.SMTPConfig, domain string, logger *zap.Logger) *SMTPSender {
	return &SMTPSender{
		cfg:    cfg,
		from:   &gomail.Address{Name: cfg.FromName, Address: cfg.From},
		domain: domain,
		logger: logger.Named("smtp"),
		now:    time.Now,
	}
}

// Send delivers msg. Failures are returned as *SendError.
func (s *SMTPSender) Send(ctx context.Context, msg Outbound) (Receipt, error) {
	raw, messageID, err := Build(s.from, msg, s.now(), s.domain)
	if err != nil {
		return Receipt{}, &SendError{Kind: KindUnknown, Hint: "could not build message", Err: err}
	}
	if err := s.deliver(ctx, msg.To, raw); err != nil {
		classified := Classify(err)
		s.logger.Warn("delivery failed",
			zap.String("to", msg.To),
			zap.String("kind", classified.Kind),
			zap.Error(err))
		return Receipt{}, classified
	}
	s.logger.Debug("delivered", zap.String("to", msg.To), zap.String("message_id", messageID))
	return Receipt{MessageID: messageID, AcceptedAt: s.now()}, nil
}

func (s *SMTPSender) deliver(ctx context.Context, to string, raw []byte) error {
	c, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	if s.cfg.Timeout > 0 {
		c.CommandTimeout = s.cfg.Timeout
		c.SubmissionTimeout = s.cfg.Timeout
	}
	if s.cfg.Username != "" {
		if err := c.Auth(sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}
	if err := c.Mail(s.cfg.From, nil); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	if err := c.Rcpt(to, nil); err != nil {
		return fmt.Errorf("set recipient: %w", err)
	}
	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("start data: %w", err)
	}
	if _, err := wc.Write(raw); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("finish data: %w", err)
	}
	if err := c.Quit(); err != nil {
		// The message is already accepted.
		s.logger.Debug("quit failed", zap.Error(err))
	}
	return nil
}

func (s *SMTPSender) dial(ctx context.Context) (*smtp.Client, error) {
	dialer := &net.Dialer{Timeout: s.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Addr())
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", s.cfg.Addr(), err)
	}
	tlsConfig := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}

	switch s.cfg.Security {
	case config.SMTPSecurityTLS:
		return smtp.NewClient(tls.Client(conn, tlsConfig)), nil
	case config.SMTPSecurityStartTLS:
		c, err := smtp.NewClientStartTLS(conn, tlsConfig)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("starttls: %w", err)
		}
		return c, nil
	default:
		return smtp.NewClient(conn), nil
	}
}

// LogSender logs messages instead of delivering them. Useful when no SMTP
// server is configured.
type LogSender struct {
	logger *zap.Logger
	from   *gomail.Address
	domain string
}

// NewLogSender constructs a LogSender.
func NewLogSender(from, domain string, logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("mail"), from: &gomail.Address{Address: from}, domain: domain}
}

// Send renders msg and logs it.
func (s *LogSender) Send(_ context.Context, msg Outbound) (Receipt, error) {
	raw, messageID, err := Build(s.from, msg, time.Now(), s.domain)
	if err != nil {
		return Receipt{}, &SendError{Kind: KindUnknown, Hint: "could not build message", Err: err}
	}
	s.logger.Info("outbound email (not delivered)",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("message_id", messageID),
		zap.Int("bytes", len(raw)))
	return Receipt{MessageID: messageID, AcceptedAt: time.Now()}, nil
}

var (
	_ Sender = (*SMTPSender)(nil)
	_ Sender = (*LogSender)(nil)
)
