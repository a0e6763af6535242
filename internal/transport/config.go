package transport

import (
	"fmt"
	"log/slog"
	"net"
	"strconv"
)

// Relay provider constants. The relay is reached over SMTP with a fixed
// host and username; the API key is the password.
const (
	RelayHost        = "smtp.resend.com"
	RelayUsername    = "resend"
	DefaultRelayPort = 465
)

// Security selects how an SMTP connection is protected.
type Security int

const (
	Plain Security = iota
	StartTLS
	ImplicitTLS
)

func (s Security) String() string {
	switch s {
	case StartTLS:
		return "starttls"
	case ImplicitTLS:
		return "tls"
	default:
		return "plain"
	}
}

// ParseSecurity maps a configuration string to a Security mode.
func ParseSecurity(s string) (Security, error) {
	switch s {
	case "", "plain", "none":
		return Plain, nil
	case "starttls":
		return StartTLS, nil
	case "tls", "ssl", "implicit":
		return ImplicitTLS, nil
	default:
		return Plain, fmt.Errorf("unknown security mode %q", s)
	}
}

// Config is one of DirectSMTP, RelayProfile, SESProfile or GraphProfile.
type Config interface {
	// Method names the strategy for logs and errors.
	Method() string
	isConfig()
}

// Credentials authenticate an SMTP session.
type Credentials struct {
	Username string
	Password string
}

// DirectSMTP sends through an arbitrary SMTP server.
type DirectSMTP struct {
	Server   string
	Port     int
	Security Security

	// Credentials is nil when the server needs no authentication.
	Credentials *Credentials

	// HeloName is sent with EHLO; empty means "localhost".
	HeloName string

	// InsecureSkipVerify disables certificate checks for lab servers.
	InsecureSkipVerify bool
}

func (DirectSMTP) Method() string { return "smtp" }
func (DirectSMTP) isConfig()      {}

// Addr returns host:port.
func (d DirectSMTP) Addr() string {
	return net.JoinHostPort(d.Server, strconv.Itoa(d.Port))
}

// RelayProfile is the fixed relay provider. Build it with NewRelayProfile
// so the security mode always matches the port.
type RelayProfile struct {
	Port     int
	Security Security
	APIKey   string
}

func (RelayProfile) Method() string { return "resend" }
func (RelayProfile) isConfig()      {}

// RelaySecurity returns the security mode implied by a relay port. ok is
// false for ports the relay does not serve.
func RelaySecurity(port int) (sec Security, ok bool) {
	switch port {
	case 465, 2465:
		return ImplicitTLS, true
	case 25, 587, 2587:
		return StartTLS, true
	default:
		return ImplicitTLS, false
	}
}

// NewRelayProfile derives the relay configuration for port. Unsupported
// ports are replaced by DefaultRelayPort with implicit TLS and a warning is
// logged. A nil logger uses slog.Default().
func NewRelayProfile(port int, apiKey string, logger *slog.Logger) RelayProfile {
	if logger == nil {
		logger = slog.Default()
	}
	sec, ok := RelaySecurity(port)
	if !ok {
		logger.Warn("unsupported relay port, defaulting",
			"port", port,
			"default_port", DefaultRelayPort,
			"security", ImplicitTLS.String(),
		)
		port = DefaultRelayPort
	}
	return RelayProfile{Port: port, Security: sec, APIKey: apiKey}
}

// SMTP expands the profile into the equivalent DirectSMTP settings.
func (r RelayProfile) SMTP() DirectSMTP {
	return DirectSMTP{
		Server:      RelayHost,
		Port:        r.Port,
		Security:    r.Security,
		Credentials: &Credentials{Username: RelayUsername, Password: r.APIKey},
	}
}

// SESProfile relays the raw message through the AWS SES v2 API. Empty keys
// use the default AWS credential chain.
type SESProfile struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

func (SESProfile) Method() string { return "ses" }
func (SESProfile) isConfig()      {}

// GraphProfile relays the raw message through Microsoft Graph sendMail
// on behalf of Sender, using OAuth2 client credentials.
type GraphProfile struct {
	TenantID     string
	ClientID     string
	ClientSecret string
	Sender       string
}

func (GraphProfile) Method() string { return "graph" }
func (GraphProfile) isConfig()      {}
