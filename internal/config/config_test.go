package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shineum/spoofcheck/internal/transport"
)

var allEnvVars = []string{
	"CAPTURE_LISTEN", "CAPTURE_HOSTNAME", "CAPTURE_IMPLICIT_TLS",
	"CAPTURE_USERNAME", "CAPTURE_PASSWORD", "CAPTURE_MAX_MESSAGE_SIZE",
	"TLS_CERT_FILE", "TLS_KEY_FILE",
	"DNS_NAMESERVER", "DNS_TIMEOUT",
	"TRANSPORT_METHOD",
	"SMTP_SERVER", "SMTP_PORT", "SMTP_SECURITY", "SMTP_USERNAME", "SMTP_PASSWORD",
	"SMTP_HELO_NAME", "SMTP_INSECURE_SKIP_VERIFY",
	"RESEND_PORT", "RESEND_API_KEY",
	"SES_REGION", "SES_ACCESS_KEY_ID", "SES_SECRET_ACCESS_KEY",
	"GRAPH_TENANT_ID", "GRAPH_CLIENT_ID", "GRAPH_CLIENT_SECRET", "GRAPH_SENDER",
	"LOG_LEVEL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, env := range allEnvVars {
		t.Setenv(env, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoad_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Capture.Listen != "0.0.0.0:1025" {
		t.Errorf("Capture.Listen: got %q, want %q", cfg.Capture.Listen, "0.0.0.0:1025")
	}
	if cfg.Capture.MaxMessageSize != 26214400 {
		t.Errorf("Capture.MaxMessageSize: got %d, want %d", cfg.Capture.MaxMessageSize, 26214400)
	}
	if cfg.CaptureAuthEnabled() {
		t.Error("capture auth should be disabled by default")
	}
	if cfg.Transport.Method != "smtp" {
		t.Errorf("Transport.Method: got %q, want %q", cfg.Transport.Method, "smtp")
	}
	if cfg.Transport.SMTP.Port != 25 {
		t.Errorf("Transport.SMTP.Port: got %d, want 25", cfg.Transport.SMTP.Port)
	}
	if cfg.Transport.Resend.Port != 465 {
		t.Errorf("Transport.Resend.Port: got %d, want 465", cfg.Transport.Resend.Port)
	}
	if cfg.DNS.Nameserver != "" || cfg.DNS.Timeout != 0 {
		t.Errorf("DNS: got %+v, want zero value", cfg.DNS)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAPTURE_LISTEN", "127.0.0.1:2525")
	t.Setenv("CAPTURE_IMPLICIT_TLS", "true")
	t.Setenv("CAPTURE_USERNAME", "admin")
	t.Setenv("CAPTURE_PASSWORD", "secret123")
	t.Setenv("CAPTURE_MAX_MESSAGE_SIZE", "10485760")
	t.Setenv("DNS_NAMESERVER", "1.1.1.1:53")
	t.Setenv("DNS_TIMEOUT", "2s")
	t.Setenv("TRANSPORT_METHOD", "RESEND")
	t.Setenv("RESEND_PORT", "587")
	t.Setenv("RESEND_API_KEY", "re_123")
	t.Setenv("SMTP_INSECURE_SKIP_VERIFY", "1")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Capture.Listen != "127.0.0.1:2525" {
		t.Errorf("Capture.Listen: got %q", cfg.Capture.Listen)
	}
	if !cfg.Capture.ImplicitTLS {
		t.Error("Capture.ImplicitTLS: got false, want true")
	}
	if !cfg.CaptureAuthEnabled() {
		t.Error("capture auth should be enabled")
	}
	if cfg.Capture.MaxMessageSize != 10485760 {
		t.Errorf("Capture.MaxMessageSize: got %d, want %d", cfg.Capture.MaxMessageSize, 10485760)
	}
	if cfg.DNS.Nameserver != "1.1.1.1:53" {
		t.Errorf("DNS.Nameserver: got %q", cfg.DNS.Nameserver)
	}
	if cfg.DNS.Timeout != 2*time.Second {
		t.Errorf("DNS.Timeout: got %v, want 2s", cfg.DNS.Timeout)
	}
	if cfg.Transport.Method != "resend" {
		t.Errorf("Transport.Method: got %q, want %q", cfg.Transport.Method, "resend")
	}
	if cfg.Transport.Resend.Port != 587 || cfg.Transport.Resend.APIKey != "re_123" {
		t.Errorf("Transport.Resend: got %+v", cfg.Transport.Resend)
	}
	if !cfg.Transport.SMTP.InsecureSkipVerify {
		t.Error("Transport.SMTP.InsecureSkipVerify: got false, want true")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestLoad_InvalidNumbersIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAPTURE_MAX_MESSAGE_SIZE", "not-a-number")
	t.Setenv("SMTP_PORT", "abc")
	t.Setenv("DNS_TIMEOUT", "soon")
	t.Setenv("CAPTURE_IMPLICIT_TLS", "maybe")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Capture.MaxMessageSize != 26214400 {
		t.Errorf("Capture.MaxMessageSize: got %d, want default", cfg.Capture.MaxMessageSize)
	}
	if cfg.Transport.SMTP.Port != 25 {
		t.Errorf("Transport.SMTP.Port: got %d, want default", cfg.Transport.SMTP.Port)
	}
	if cfg.DNS.Timeout != 0 {
		t.Errorf("DNS.Timeout: got %v, want 0", cfg.DNS.Timeout)
	}
	if cfg.Capture.ImplicitTLS {
		t.Error("Capture.ImplicitTLS: got true, want false")
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
capture:
  listen: ":3025"
  hostname: "capture.lab"
  username: "yamluser"
  password: "yamlpass"
  max_message_size: 5242880
tls:
  cert_file: "/yaml/cert.pem"
  key_file: "/yaml/key.pem"
dns:
  nameserver: "9.9.9.9"
  timeout: 3s
transport:
  method: graph
  graph:
    tenant_id: "yaml-tenant"
    client_id: "yaml-client"
    client_secret: "yaml-secret"
    sender: "yaml@example.com"
logging:
  level: "warn"
`)

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Capture.Listen != ":3025" {
		t.Errorf("Capture.Listen: got %q, want %q", cfg.Capture.Listen, ":3025")
	}
	if cfg.Capture.Hostname != "capture.lab" {
		t.Errorf("Capture.Hostname: got %q", cfg.Capture.Hostname)
	}
	if cfg.Capture.MaxMessageSize != 5242880 {
		t.Errorf("Capture.MaxMessageSize: got %d, want %d", cfg.Capture.MaxMessageSize, 5242880)
	}
	if cfg.TLS.CertFile != "/yaml/cert.pem" || cfg.TLS.KeyFile != "/yaml/key.pem" {
		t.Errorf("TLS: got %+v", cfg.TLS)
	}
	if cfg.DNS.Nameserver != "9.9.9.9" || cfg.DNS.Timeout != 3*time.Second {
		t.Errorf("DNS: got %+v", cfg.DNS)
	}
	if !cfg.GraphConfigured() {
		t.Error("expected Graph to be configured")
	}
	if cfg.Transport.Resend.Port != 465 {
		t.Errorf("defaults should survive a partial file: Resend.Port = %d", cfg.Transport.Resend.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level: got %q, want %q", cfg.Logging.Level, "warn")
	}
}

func TestLoadFromFile_EnvOverridesYAML(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
capture:
  listen: ":3025"
  username: "yamluser"
logging:
  level: "warn"
`)

	t.Setenv("CAPTURE_LISTEN", ":9025")
	t.Setenv("LOG_LEVEL", "error")

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Capture.Listen != ":9025" {
		t.Errorf("Capture.Listen: got %q, want %q (env should override YAML)", cfg.Capture.Listen, ":9025")
	}
	if cfg.Capture.Username != "yamluser" {
		t.Errorf("Capture.Username: got %q, want %q (empty env should not override YAML)", cfg.Capture.Username, "yamluser")
	}
	if cfg.Logging.Level != "error" {
		t.Errorf("Logging.Level: got %q, want %q (env should override YAML)", cfg.Logging.Level, "error")
	}
}

func TestLoadFromFile_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := LoadFromFile("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for missing file, got nil")
	}
}

func TestLoadFromFile_InvalidYAML(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, "{{invalid yaml")
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestSenderConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		transport TransportConfig
		check     func(t *testing.T, got transport.Config)
		wantErr   error
	}{
		{
			name: "direct smtp with auth",
			transport: TransportConfig{Method: "smtp", SMTP: SMTPConfig{
				Server: "mx.example.com", Port: 587, Security: "STARTTLS", Username: "u", Password: "p",
			}},
			check: func(t *testing.T, got transport.Config) {
				d, ok := got.(transport.DirectSMTP)
				if !ok {
					t.Fatalf("got %T, want DirectSMTP", got)
				}
				if d.Addr() != "mx.example.com:587" || d.Security != transport.StartTLS {
					t.Errorf("DirectSMTP: got %+v", d)
				}
				if d.Credentials == nil || d.Credentials.Username != "u" {
					t.Errorf("Credentials: got %+v", d.Credentials)
				}
			},
		},
		{
			name:      "direct smtp without auth",
			transport: TransportConfig{Method: "smtp", SMTP: SMTPConfig{Server: "mx.example.com", Port: 25}},
			check: func(t *testing.T, got transport.Config) {
				d := got.(transport.DirectSMTP)
				if d.Credentials != nil || d.Security != transport.Plain {
					t.Errorf("DirectSMTP: got %+v", d)
				}
			},
		},
		{
			name: "username without password sends no auth",
			transport: TransportConfig{Method: "smtp", SMTP: SMTPConfig{
				Server: "mx.example.com", Port: 25, Username: "u",
			}},
			check: func(t *testing.T, got transport.Config) {
				d := got.(transport.DirectSMTP)
				if d.Credentials != nil {
					t.Errorf("Credentials: got %+v, want nil", d.Credentials)
				}
			},
		},
		{
			name: "ipv6 server",
			transport: TransportConfig{Method: "smtp", SMTP: SMTPConfig{Server: "2001:db8::25", Port: 587}},
			check: func(t *testing.T, got transport.Config) {
				d := got.(transport.DirectSMTP)
				if got, want := d.Addr(), "[2001:db8::25]:587"; got != want {
					t.Errorf("Addr(): got %q, want %q", got, want)
				}
			},
		},
		{
			name:      "smtp missing server",
			transport: TransportConfig{Method: "smtp"},
			wantErr:   ErrIncomplete,
		},
		{
			name:      "relay port derivation",
			transport: TransportConfig{Method: "resend", Resend: ResendConfig{Port: 2587, APIKey: "re_x"}},
			check: func(t *testing.T, got transport.Config) {
				r, ok := got.(transport.RelayProfile)
				if !ok {
					t.Fatalf("got %T, want RelayProfile", got)
				}
				if r.Port != 2587 || r.Security != transport.StartTLS {
					t.Errorf("RelayProfile: got %+v", r)
				}
			},
		},
		{
			name:      "relay unsupported port",
			transport: TransportConfig{Method: "resend", Resend: ResendConfig{Port: 9999, APIKey: "re_x"}},
			check: func(t *testing.T, got transport.Config) {
				r := got.(transport.RelayProfile)
				if r.Port != 465 || r.Security != transport.ImplicitTLS {
					t.Errorf("RelayProfile: got %+v", r)
				}
			},
		},
		{
			name:      "relay missing key",
			transport: TransportConfig{Method: "resend", Resend: ResendConfig{Port: 465}},
			wantErr:   ErrIncomplete,
		},
		{
			name:      "ses",
			transport: TransportConfig{Method: "ses", SES: SESConfig{Region: "eu-west-1"}},
			check: func(t *testing.T, got transport.Config) {
				if s, ok := got.(transport.SESProfile); !ok || s.Region != "eu-west-1" {
					t.Errorf("got %#v", got)
				}
			},
		},
		{
			name:      "graph incomplete",
			transport: TransportConfig{Method: "graph", Graph: GraphConfig{TenantID: "t"}},
			wantErr:   ErrIncomplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := &Config{Transport: tt.transport}
			got, err := cfg.SenderConfig(nil)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error: got %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			tt.check(t, got)
		})
	}
}

func TestSenderConfig_UnknownMethod(t *testing.T) {
	t.Parallel()

	cfg := &Config{Transport: TransportConfig{Method: "pigeon"}}
	if _, err := cfg.SenderConfig(nil); err == nil {
		t.Error("expected an error for an unknown method")
	}
}

func TestSenderConfig_BadSecurity(t *testing.T) {
	t.Parallel()

	cfg := &Config{Transport: TransportConfig{Method: "smtp", SMTP: SMTPConfig{Server: "x", Security: "quantum"}}}
	if _, err := cfg.SenderConfig(nil); err == nil {
		t.Error("expected an error for an unknown security mode")
	}
}
