package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/spoofcheck/internal/report"
)

const (
	// defaultShutdownTimeout bounds how long in-flight sessions may run
	// after shutdown starts.
	defaultShutdownTimeout = 30 * time.Second

	// idleTimeout closes connections that stop talking.
	idleTimeout = 60 * time.Second

	// DefaultMaxMessageBytes is used when ServerConfig.MaxMessageBytes is 0.
	DefaultMaxMessageBytes = 25 * 1024 * 1024
)

// ServerConfig holds the configuration for a capture server.
type ServerConfig struct {
	// ListenAddr is the address to listen on (e.g., "0.0.0.0:1025").
	ListenAddr string

	// Hostname is the server hostname used in the greeting and EHLO.
	Hostname string

	// Sink receives every captured envelope. Nil reports through a
	// report.LogSink on Logger.
	Sink report.Sink

	// TLSConfig enables STARTTLS, or implicit TLS when ImplicitTLS is set.
	TLSConfig   *tls.Config
	ImplicitTLS bool

	// AuthUsername and AuthPassword make AUTH PLAIN mandatory. Unless both
	// are set, AUTH is optional and any credentials are accepted.
	AuthUsername string
	AuthPassword string

	MaxMessageBytes int64
	ShutdownTimeout time.Duration

	Logger *slog.Logger
}

// Server accepts SMTP sessions concurrently and reports every message it
// receives. Sessions share no mutable state.
type Server struct {
	config ServerConfig
	auth   *Authenticator
	logger *slog.Logger

	mu       sync.Mutex
	listener net.Listener
}

// New creates a new capture Server with the given configuration.
func New(cfg ServerConfig) *Server {
	if cfg.Hostname == "" {
		cfg.Hostname = "localhost"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Sink == nil {
		cfg.Sink = report.NewLogSink(cfg.Logger)
	}
	if cfg.MaxMessageBytes == 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = defaultShutdownTimeout
	}

	return &Server{
		config: cfg,
		auth:   NewAuthenticator(cfg.AuthUsername, cfg.AuthPassword),
		logger: cfg.Logger,
	}
}

// ListenAndServe listens on ListenAddr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled. On cancellation
// it stops accepting, waits up to ShutdownTimeout for in-flight sessions
// and then closes whatever remains. Serve owns ln.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.config.ImplicitTLS {
		if s.config.TLSConfig == nil {
			ln.Close()
			return errors.New("implicit TLS requires a TLS configuration")
		}
		ln = tls.NewListener(ln, s.config.TLSConfig)
	}

	srv := gosmtp.NewServer(&backend{server: s, baseCtx: context.WithoutCancel(ctx)})
	srv.Domain = s.config.Hostname
	srv.MaxMessageBytes = s.config.MaxMessageBytes
	srv.ReadTimeout = idleTimeout
	srv.WriteTimeout = idleTimeout
	srv.AllowInsecureAuth = true
	if !s.config.ImplicitTLS {
		srv.TLSConfig = s.config.TLSConfig
	}

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Info("capture server listening",
		"addr", ln.Addr().String(),
		"auth_enabled", s.auth.Enabled(),
		"starttls", s.config.TLSConfig != nil && !s.config.ImplicitTLS,
		"implicit_tls", s.config.ImplicitTLS,
	)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, gosmtp.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down capture server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("shutdown timeout reached, forcing close", "error", err)
		srv.Close()
	} else {
		s.logger.Info("all sessions completed")
	}
	<-errCh
	return nil
}

// Addr returns the listener address, or empty string if not listening.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}
