package mailer

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/dmitrijs2005/socialauth/internal/logging"
	"github.com/dmitrijs2005/socialauth/internal/server/models"
	"github.com/sethvargo/go-retry"
)

// SMTPConfig describes the outbound relay. smtp.SendMail upgrades the
// connection with STARTTLS whenever the server offers it.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Attempts bounds delivery tries; 0 means one try.
	Attempts uint64
	Backoff  time.Duration
}

type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPSender delivers passcodes through an SMTP relay.
type SMTPSender struct {
	cfg      SMTPConfig
	log      logging.Logger
	sendMail sendMailFunc
}

func NewSMTPSender(cfg SMTPConfig, log logging.Logger) *SMTPSender {
	if cfg.Backoff <= 0 {
		cfg.Backoff = 200 * time.Millisecond
	}
	return &SMTPSender{cfg: cfg, log: log.With("module", "mailer"), sendMail: smtp.SendMail}
}

func (s *SMTPSender) SendOTP(ctx context.Context, email, code string, purpose models.OTPPurpose) error {
	msg, err := buildMessage(s.cfg.From, email, code, purpose)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	var auth smtp.Auth
	if s.cfg.Username != "" {
		auth = smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	}

	retries := uint64(0)
	if s.cfg.Attempts > 1 {
		retries = s.cfg.Attempts - 1
	}
	backoff := retry.WithMaxRetries(retries, retry.NewExponential(s.cfg.Backoff))

	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := s.sendMail(addr, auth, s.cfg.From, []string{email}, msg); err != nil {
			s.log.Warn(ctx, "smtp delivery attempt failed", "to", email, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}

	s.log.Info(ctx, "otp email sent", "to", email, "purpose", purpose)
	return nil
}
