// Package spoofcheck assesses whether a domain's DMARC policy lets spoofed
// mail through, builds and sends test messages, and captures what arrives.
package spoofcheck

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/shineum/spoofcheck/internal/builder"
	"github.com/shineum/spoofcheck/internal/dmarc"
	"github.com/shineum/spoofcheck/internal/email"
	"github.com/shineum/spoofcheck/internal/smtp"
	"github.com/shineum/spoofcheck/internal/transport"
	"github.com/shineum/spoofcheck/internal/transport/graph"
	"github.com/shineum/spoofcheck/internal/transport/ses"
)

// Re-exported types so callers never import internal packages.
type (
	DomainPolicy     = dmarc.DomainPolicy
	Policy           = dmarc.Policy
	SpoofMessage     = email.SpoofMessage
	CapturedEnvelope = email.CapturedEnvelope
	DecodedPart      = email.DecodedPart
	TransportConfig  = transport.Config
	DirectSMTP       = transport.DirectSMTP
	RelayProfile     = transport.RelayProfile
	SESProfile       = transport.SESProfile
	GraphProfile     = transport.GraphProfile
	Credentials      = transport.Credentials
	Sender           = transport.Sender
	SendError        = transport.SendError
	CaptureConfig    = smtp.ServerConfig
)

// ResolvePolicy looks up and classifies the DMARC policy of domain using
// the host's first configured nameserver.
func ResolvePolicy(ctx context.Context, domain string) DomainPolicy {
	return dmarc.NewResolver(dmarc.NewDNSLookuper("", 0), nil).Resolve(ctx, domain)
}

// BuildMessage renders msg as a multipart MIME document. It fails only when
// the requested attachment cannot be read.
func BuildMessage(msg SpoofMessage) ([]byte, error) {
	return builder.Build(msg)
}

// NewSender returns the delivery strategy for cfg. A nil logger uses
// slog.Default().
func NewSender(ctx context.Context, cfg TransportConfig, logger *slog.Logger) (Sender, error) {
	switch c := cfg.(type) {
	case transport.DirectSMTP:
		return transport.NewSMTP(c, logger), nil
	case transport.RelayProfile:
		return transport.NewRelay(c, logger), nil
	case transport.SESProfile:
		s, err := ses.New(ctx, c, logger)
		if err != nil {
			return nil, err
		}
		return s, nil
	case transport.GraphProfile:
		return graph.New(c, logger), nil
	default:
		return nil, fmt.Errorf("unsupported transport configuration %T", cfg)
	}
}

// Send delivers payload once through cfg. Failures are *SendError values.
func Send(ctx context.Context, payload []byte, from string, to []string, cfg TransportConfig) error {
	sender, err := NewSender(ctx, cfg, nil)
	if err != nil {
		return err
	}
	return sender.Send(ctx, &email.Outbound{From: from, To: to, Payload: payload})
}

// CaptureServer is a running capture endpoint.
type CaptureServer struct {
	addr   string
	cancel context.CancelFunc
	done   chan error

	stopOnce sync.Once
	err      error
}

// StartCaptureServer binds cfg.ListenAddr and serves in the background
// until Stop is called. Bind errors are returned immediately.
func StartCaptureServer(cfg CaptureConfig) (*CaptureServer, error) {
	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.ListenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cs := &CaptureServer{
		addr:   ln.Addr().String(),
		cancel: cancel,
		done:   make(chan error, 1),
	}
	srv := smtp.New(cfg)
	go func() { cs.done <- srv.Serve(ctx, ln) }()
	return cs, nil
}

// Addr returns the bound listener address.
func (c *CaptureServer) Addr() string {
	return c.addr
}

// Stop stops accepting connections, waits for in-flight sessions within
// the configured shutdown timeout and releases the listener. It is safe to
// call more than once.
func (c *CaptureServer) Stop() error {
	c.stopOnce.Do(func() {
		c.cancel()
		c.err = <-c.done
	})
	return c.err
}
