// Package config loads spoofcheck settings from an optional YAML file with
// environment variables taking precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shineum/spoofcheck/internal/transport"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// ErrIncomplete is returned by SenderConfig when the selected method lacks a
// required setting.
var ErrIncomplete = errors.New("incomplete transport configuration")

// Config holds the complete application configuration.
type Config struct {
	Capture   CaptureConfig   `yaml:"capture"`
	TLS       TLSConfig       `yaml:"tls"`
	DNS       DNSConfig       `yaml:"dns"`
	Transport TransportConfig `yaml:"transport"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// CaptureConfig holds capture server configuration.
type CaptureConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	ImplicitTLS    bool   `yaml:"implicit_tls"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// DNSConfig selects the nameserver used for DMARC lookups. Empty values
// take the host's resolv.conf settings.
type DNSConfig struct {
	Nameserver string        `yaml:"nameserver"`
	Timeout    time.Duration `yaml:"timeout"`
}

// TransportConfig selects and configures the outbound delivery method.
type TransportConfig struct {
	Method string       `yaml:"method"`
	SMTP   SMTPConfig   `yaml:"smtp"`
	Resend ResendConfig `yaml:"resend"`
	SES    SESConfig    `yaml:"ses"`
	Graph  GraphConfig  `yaml:"graph"`
}

// SMTPConfig holds direct SMTP settings.
type SMTPConfig struct {
	Server             string `yaml:"server"`
	Port               int    `yaml:"port"`
	Security           string `yaml:"security"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	HeloName           string `yaml:"helo_name"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// ResendConfig holds relay profile settings.
type ResendConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// SESConfig holds AWS SES settings.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvVars()

	return cfg, nil
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	g := c.Transport.Graph
	return g.TenantID != "" && g.ClientID != "" && g.ClientSecret != "" && g.Sender != ""
}

// CaptureAuthEnabled returns true if both capture username and password
// are set.
func (c *Config) CaptureAuthEnabled() bool {
	return c.Capture.Username != "" && c.Capture.Password != ""
}

// SenderConfig converts the selected method into a transport configuration.
// For the relay method an unsupported port is replaced with the default
// and a warning is logged on logger.
func (c *Config) SenderConfig(logger *slog.Logger) (transport.Config, error) {
	t := c.Transport
	switch strings.ToLower(t.Method) {
	case "", "smtp":
		if t.SMTP.Server == "" {
			return nil, fmt.Errorf("%w: smtp.server is required", ErrIncomplete)
		}
		sec, err := transport.ParseSecurity(strings.ToLower(t.SMTP.Security))
		if err != nil {
			return nil, fmt.Errorf("smtp.security: %w", err)
		}
		d := transport.DirectSMTP{
			Server:             t.SMTP.Server,
			Port:               t.SMTP.Port,
			Security:           sec,
			HeloName:           t.SMTP.HeloName,
			InsecureSkipVerify: t.SMTP.InsecureSkipVerify,
		}
		if t.SMTP.Username != "" && t.SMTP.Password != "" {
			d.Credentials = &transport.Credentials{Username: t.SMTP.Username, Password: t.SMTP.Password}
		}
		return d, nil

	case "resend":
		if t.Resend.APIKey == "" {
			return nil, fmt.Errorf("%w: resend.api_key is required", ErrIncomplete)
		}
		return transport.NewRelayProfile(t.Resend.Port, t.Resend.APIKey, logger), nil

	case "ses":
		return transport.SESProfile{
			Region:          t.SES.Region,
			AccessKeyID:     t.SES.AccessKeyID,
			SecretAccessKey: t.SES.SecretAccessKey,
		}, nil

	case "graph":
		if !c.GraphConfigured() {
			return nil, fmt.Errorf("%w: graph needs tenant_id, client_id, client_secret and sender", ErrIncomplete)
		}
		return transport.GraphProfile{
			TenantID:     t.Graph.TenantID,
			ClientID:     t.Graph.ClientID,
			ClientSecret: t.Graph.ClientSecret,
			Sender:       t.Graph.Sender,
		}, nil

	default:
		return nil, fmt.Errorf("unknown transport method %q", t.Method)
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Capture.Listen = "0.0.0.0:1025"
	c.Capture.MaxMessageSize = defaultMaxMessageSize
	c.Transport.Method = "smtp"
	c.Transport.SMTP.Port = 25
	c.Transport.Resend.Port = transport.DefaultRelayPort
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	setString(&c.Capture.Listen, "CAPTURE_LISTEN")
	setString(&c.Capture.Hostname, "CAPTURE_HOSTNAME")
	setBool(&c.Capture.ImplicitTLS, "CAPTURE_IMPLICIT_TLS")
	setString(&c.Capture.Username, "CAPTURE_USERNAME")
	setString(&c.Capture.Password, "CAPTURE_PASSWORD")
	if v := os.Getenv("CAPTURE_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Capture.MaxMessageSize = size
		}
	}

	setString(&c.TLS.CertFile, "TLS_CERT_FILE")
	setString(&c.TLS.KeyFile, "TLS_KEY_FILE")

	setString(&c.DNS.Nameserver, "DNS_NAMESERVER")
	if v := os.Getenv("DNS_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.DNS.Timeout = d
		}
	}

	if v := os.Getenv("TRANSPORT_METHOD"); v != "" {
		c.Transport.Method = strings.ToLower(v)
	}

	setString(&c.Transport.SMTP.Server, "SMTP_SERVER")
	setInt(&c.Transport.SMTP.Port, "SMTP_PORT")
	setString(&c.Transport.SMTP.Security, "SMTP_SECURITY")
	setString(&c.Transport.SMTP.Username, "SMTP_USERNAME")
	setString(&c.Transport.SMTP.Password, "SMTP_PASSWORD")
	setString(&c.Transport.SMTP.HeloName, "SMTP_HELO_NAME")
	setBool(&c.Transport.SMTP.InsecureSkipVerify, "SMTP_INSECURE_SKIP_VERIFY")

	setInt(&c.Transport.Resend.Port, "RESEND_PORT")
	setString(&c.Transport.Resend.APIKey, "RESEND_API_KEY")

	setString(&c.Transport.SES.Region, "SES_REGION")
	setString(&c.Transport.SES.AccessKeyID, "SES_ACCESS_KEY_ID")
	setString(&c.Transport.SES.SecretAccessKey, "SES_SECRET_ACCESS_KEY")

	setString(&c.Transport.Graph.TenantID, "GRAPH_TENANT_ID")
	setString(&c.Transport.Graph.ClientID, "GRAPH_CLIENT_ID")
	setString(&c.Transport.Graph.ClientSecret, "GRAPH_CLIENT_SECRET")
	setString(&c.Transport.Graph.Sender, "GRAPH_SENDER")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// setInt ignores values that do not parse.
func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
