package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/shineum/spoofcheck/internal/email"
	smtptls "github.com/shineum/spoofcheck/internal/tls"
)

// dialTimeout bounds the TCP (and TLS) connect phase.
const dialTimeout = 30 * time.Second

// SMTPSender delivers over a single SMTP session per Send call.
type SMTPSender struct {
	name   string
	cfg    DirectSMTP
	dialer *net.Dialer
	logger *slog.Logger
}

// NewSMTP creates a sender for a direct SMTP server. A nil logger uses
// slog.Default().
func NewSMTP(cfg DirectSMTP, logger *slog.Logger) *SMTPSender {
	return newSMTP(cfg.Method(), cfg, logger)
}

// NewRelay creates a sender for the fixed relay profile.
func NewRelay(cfg RelayProfile, logger *slog.Logger) *SMTPSender {
	return newSMTP(cfg.Method(), cfg.SMTP(), logger)
}

func newSMTP(name string, cfg DirectSMTP, logger *slog.Logger) *SMTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	return &SMTPSender{
		name:   name,
		cfg:    cfg,
		dialer: &net.Dialer{Timeout: dialTimeout},
		logger: logger,
	}
}

// Name returns the strategy name.
func (s *SMTPSender) Name() string {
	return s.name
}

// Send opens a connection, optionally upgrades and authenticates, runs one
// MAIL/RCPT/DATA transaction and quits. The connection is closed on every
// path, including cancellation of ctx.
func (s *SMTPSender) Send(ctx context.Context, env *email.Outbound) error {
	if err := Validate(s.name, env); err != nil {
		return err
	}

	addr := s.cfg.Addr()
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return s.fail(ctx, KindConnect, "dial "+addr, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	c := smtp.NewClient(conn)
	defer c.Close()

	if err := c.Hello(s.cfg.HeloName); err != nil {
		return s.fail(ctx, KindConnect, "greeting", err)
	}

	if s.cfg.Security == StartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			return s.fail(ctx, KindProtocol, "server does not advertise STARTTLS", nil)
		}
		if err := c.StartTLS(s.tlsConfig()); err != nil {
			return s.fail(ctx, KindConnect, "starttls", err)
		}
	}

	if creds := s.cfg.Credentials; creds != nil {
		if err := c.Auth(s.saslClient(c, creds)); err != nil {
			return s.fail(ctx, KindAuth, "authenticate as "+creds.Username, err)
		}
	}

	if err := c.Mail(env.From, nil); err != nil {
		return s.fail(ctx, KindProtocol, "MAIL FROM", err)
	}
	for _, rcpt := range env.To {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return s.fail(ctx, KindProtocol, "RCPT TO "+rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return s.fail(ctx, KindProtocol, "DATA", err)
	}
	if _, err := w.Write(env.Payload); err != nil {
		w.Close()
		return s.fail(ctx, KindProtocol, "write message", err)
	}
	if err := w.Close(); err != nil {
		return s.fail(ctx, KindProtocol, "end of data", err)
	}

	if err := c.Quit(); err != nil {
		s.logger.Debug("QUIT failed after delivery", "transport", s.name, "error", err)
	}

	s.logger.Info("message sent",
		"transport", s.name,
		"server", addr,
		"security", s.cfg.Security.String(),
		"from", env.From,
		"recipients", env.To,
		"bytes", len(env.Payload),
	)
	return nil
}

func (s *SMTPSender) dial(ctx context.Context, addr string) (net.Conn, error) {
	if s.cfg.Security == ImplicitTLS {
		d := &tls.Dialer{NetDialer: s.dialer, Config: s.tlsConfig()}
		return d.DialContext(ctx, "tcp", addr)
	}
	return s.dialer.DialContext(ctx, "tcp", addr)
}

func (s *SMTPSender) tlsConfig() *tls.Config {
	return smtptls.ClientConfig(s.cfg.Server, s.cfg.InsecureSkipVerify)
}

// saslClient prefers PLAIN and falls back to LOGIN when only LOGIN is
// advertised.
func (s *SMTPSender) saslClient(c *smtp.Client, creds *Credentials) sasl.Client {
	if ok, mechs := c.Extension("AUTH"); ok {
		upper := strings.Fields(strings.ToUpper(mechs))
		hasPlain, hasLogin := false, false
		for _, m := range upper {
			switch m {
			case sasl.Plain:
				hasPlain = true
			case sasl.Login:
				hasLogin = true
			}
		}
		if !hasPlain && hasLogin {
			return sasl.NewLoginClient(creds.Username, creds.Password)
		}
	}
	return sasl.NewPlainClient("", creds.Username, creds.Password)
}

func (s *SMTPSender) fail(ctx context.Context, kind ErrorKind, reason string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		switch {
		case err == nil:
			err = ctxErr
		case !errors.Is(err, ctxErr):
			err = fmt.Errorf("%w (after %v)", ctxErr, err)
		}
	}
	s.logger.Warn("send failed",
		"transport", s.name,
		"server", s.cfg.Addr(),
		"kind", kind.String(),
		"reason", reason,
		"error", err,
	)
	return NewSendError(kind, s.name, reason, err)
}
