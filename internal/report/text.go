package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/shineum/spoofcheck/internal/email"
)

const separator = "========================================\n"

// TextSink prints envelopes as human-readable blocks.
type TextSink struct {
	mu     sync.Mutex
	writer io.Writer
	logger *slog.Logger
}

// NewTextSink creates a TextSink writing to os.Stdout.
func NewTextSink() *TextSink {
	return NewTextSinkWithWriter(os.Stdout)
}

// NewTextSinkWithWriter creates a TextSink writing to w.
func NewTextSinkWithWriter(w io.Writer) *TextSink {
	return &TextSink{writer: w, logger: slog.Default()}
}

// Capture writes one block per envelope. Blocks from concurrent sessions
// are never interleaved.
func (s *TextSink) Capture(_ context.Context, env *email.CapturedEnvelope) {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "ID: %s\n", env.ID)
	fmt.Fprintf(&b, "Received: %s\n", env.ReceivedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "From: %s\n", env.Sender)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(env.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\n", env.Subject)

	for _, p := range env.TextParts() {
		if p.IsAttachment {
			continue
		}
		fmt.Fprintf(&b, "Body (%s):\n", p.ContentType)
		b.WriteString(p.Text + "\n")
	}
	if atts := env.Attachments(); len(atts) > 0 {
		names := make([]string, 0, len(atts))
		for _, a := range atts {
			names = append(names, fmt.Sprintf("%s (%s, %s)", displayName(a), a.ContentType, formatSize(a.SizeBytes)))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(names, ", "))
	}
	var other []string
	for _, p := range env.Parts {
		if !p.HasText && !p.IsAttachment {
			other = append(other, fmt.Sprintf("%s (%s)", p.ContentType, formatSize(p.SizeBytes)))
		}
	}
	if len(other) > 0 {
		fmt.Fprintf(&b, "Other parts: %s\n", strings.Join(other, ", "))
	}

	if env.Degraded() {
		fmt.Fprintf(&b, "Decode error: %v\n", env.DecodeErr)
		b.WriteString("Raw:\n")
		b.WriteString(env.Raw)
		if !strings.HasSuffix(env.Raw, "\n") {
			b.WriteString("\n")
		}
	}

	b.WriteString(separator)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.writer, b.String()); err != nil {
		s.logger.Warn("failed to write capture report", "id", env.ID, "error", err)
	}
}

func displayName(p email.DecodedPart) string {
	if p.Filename == "" {
		return "(unnamed)"
	}
	return p.Filename
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
