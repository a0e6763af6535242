// Package report emits decoded capture envelopes to observers.
package report

import (
	"context"
	"log/slog"

	"github.com/shineum/spoofcheck/internal/email"
)

// Sink receives one call per captured envelope. Implementations must be
// safe for concurrent use; capture sessions run in parallel.
type Sink interface {
	Capture(ctx context.Context, env *email.CapturedEnvelope)
}

// LogSink reports envelopes as structured slog events.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink returns a LogSink. A nil logger uses slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

// Capture logs one "captured envelope" event followed by one "part" event
// per decoded leaf. A degraded envelope is logged at WARN and carries the
// full raw text.
func (s *LogSink) Capture(ctx context.Context, env *email.CapturedEnvelope) {
	attrs := []any{
		"id", env.ID,
		"sender", env.Sender,
		"recipients", env.Recipients,
		"subject", env.Subject,
		"parts", len(env.Parts),
		"received_at", env.ReceivedAt,
	}

	if env.Degraded() {
		attrs = append(attrs,
			"decode_error", env.DecodeErr.Error(),
			"raw_bytes", len(env.Raw),
			"raw", env.Raw,
		)
		s.logger.WarnContext(ctx, "captured envelope", attrs...)
	} else {
		s.logger.InfoContext(ctx, "captured envelope", attrs...)
	}

	for i, p := range env.Parts {
		partAttrs := []any{
			"id", env.ID,
			"index", i,
			"content_type", p.ContentType,
			"attachment", p.IsAttachment,
			"size", p.SizeBytes,
		}
		if p.Filename != "" {
			partAttrs = append(partAttrs, "filename", p.Filename)
		}
		if p.HasText {
			partAttrs = append(partAttrs, "text", p.Text)
		}
		s.logger.InfoContext(ctx, "part", partAttrs...)
	}
}

// Multi fans a capture out to several sinks in order.
type Multi []Sink

// Capture forwards env to every sink.
func (m Multi) Capture(ctx context.Context, env *email.CapturedEnvelope) {
	for _, s := range m {
		s.Capture(ctx, env)
	}
}
