package smtp

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"github.com/shineum/spoofcheck/internal/parser"
)

// backend creates one session per connection.
type backend struct {
	server  *Server
	baseCtx context.Context
}

func (b *backend) NewSession(c *gosmtp.Conn) (gosmtp.Session, error) {
	remote := ""
	if conn := c.Conn(); conn != nil {
		remote = conn.RemoteAddr().String()
	}
	return &session{
		server: b.server,
		ctx:    b.baseCtx,
		logger: b.server.logger.With("remote", remote),
	}, nil
}

// session holds the state of one SMTP transaction. It is only touched by
// the goroutine serving its connection.
type session struct {
	server *Server
	ctx    context.Context
	logger *slog.Logger

	authenticated bool
	from          string
	recipients    []string
}

var errAuthRequired = &gosmtp.SMTPError{
	Code:         530,
	EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
	Message:      "Authentication required",
}

var errInvalidCredentials = &gosmtp.SMTPError{
	Code:         535,
	EnhancedCode: gosmtp.EnhancedCode{5, 7, 8},
	Message:      "Authentication credentials invalid",
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(mech string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if err := s.server.auth.Verify(username, password); err != nil {
			s.logger.Warn("authentication failed", "username", username)
			return errInvalidCredentials
		}
		s.authenticated = true
		s.logger.Debug("authenticated", "username", username)
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if s.server.auth.Enabled() && !s.authenticated {
		return errAuthRequired
	}
	s.from = from
	s.recipients = nil
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.recipients = append(s.recipients, to)
	return nil
}

// Data reads the message, decodes it and reports it. Decode failures are
// reported in degraded form; the client always gets 250.
func (s *session) Data(r io.Reader) error {
	raw, err := io.ReadAll(r)
	if err != nil {
		s.logger.Warn("error reading DATA", "error", err)
		return err
	}

	env := parser.Capture(s.from, s.recipients, raw)
	env.ID = uuid.NewString()
	env.ReceivedAt = time.Now().UTC()

	if env.Degraded() {
		s.logger.Warn("MIME decode failed, reporting raw message", "id", env.ID, "error", env.DecodeErr)
	}
	s.server.config.Sink.Capture(s.ctx, env)
	return nil
}

func (s *session) Reset() {
	s.from = ""
	s.recipients = nil
}

func (s *session) Logout() error {
	return nil
}
