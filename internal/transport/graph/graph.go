// Package graph implements a transport that submits raw MIME messages via
// the Microsoft Graph sendMail endpoint.
package graph

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shineum/spoofcheck/internal/email"
	"github.com/shineum/spoofcheck/internal/transport"
)

const (
	defaultGraphBase = "https://graph.microsoft.com/v1.0"
	defaultLoginBase = "https://login.microsoftonline.com"
	requestTimeout   = 30 * time.Second
)

// Sender posts the built payload to /users/{sender}/sendMail. Graph takes
// the recipients from the MIME headers, so the envelope recipient list is
// only validated and logged.
type Sender struct {
	sendURL    string
	httpClient *http.Client
	tokens     *tokenSource
	logger     *slog.Logger
}

// New creates a Sender for the given profile. A nil logger uses
// slog.Default().
func New(cfg transport.GraphProfile, logger *slog.Logger) *Sender {
	return newWithEndpoints(cfg, defaultGraphBase, defaultLoginBase, &http.Client{Timeout: requestTimeout}, logger)
}

// newWithEndpoints lets tests point both endpoints at a local server.
func newWithEndpoints(cfg transport.GraphProfile, graphBase, loginBase string, client *http.Client, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	tokenURL := fmt.Sprintf("%s/%s/oauth2/v2.0/token", loginBase, url.PathEscape(cfg.TenantID))
	return &Sender{
		sendURL:    fmt.Sprintf("%s/users/%s/sendMail", graphBase, url.PathEscape(cfg.Sender)),
		httpClient: client,
		tokens:     newTokenSource(tokenURL, cfg.ClientID, cfg.ClientSecret, client),
		logger:     logger,
	}
}

// Name returns the strategy name.
func (s *Sender) Name() string {
	return "graph"
}

// Send performs one token lookup and one sendMail request.
func (s *Sender) Send(ctx context.Context, env *email.Outbound) error {
	if err := transport.Validate(s.Name(), env); err != nil {
		return err
	}

	token, err := s.tokens.Token(ctx)
	if err != nil {
		kind := transport.KindConnect
		var te *tokenError
		if errors.As(err, &te) && te.status != 0 {
			kind = transport.KindAuth
		}
		return s.fail(kind, "acquire token", err)
	}

	body := base64.StdEncoding.EncodeToString(env.Payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sendURL, strings.NewReader(body))
	if err != nil {
		return s.fail(transport.KindProtocol, "create request", err)
	}
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return s.fail(transport.KindConnect, "POST sendMail", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		s.logger.Info("message sent",
			"transport", s.Name(),
			"status", resp.StatusCode,
			"from", env.From,
			"recipients", env.To,
			"bytes", len(env.Payload),
		)
		return nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	kind := transport.KindProtocol
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		kind = transport.KindAuth
	}
	return s.fail(kind, fmt.Sprintf("sendMail returned HTTP %d", resp.StatusCode), errors.New(errorMessage(respBody)))
}

func (s *Sender) fail(kind transport.ErrorKind, reason string, err error) error {
	s.logger.Warn("send failed",
		"transport", s.Name(),
		"kind", kind.String(),
		"reason", reason,
		"error", err,
	)
	return transport.NewSendError(kind, s.Name(), reason, err)
}

// errorMessage extracts the Graph error message, falling back to the raw
// body.
func errorMessage(body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		if er.Error.Code != "" {
			return er.Error.Code + ": " + er.Error.Message
		}
		return er.Error.Message
	}
	if msg := string(bytes.TrimSpace(body)); msg != "" {
		return msg
	}
	return "empty response"
}
