// Package builder assembles spoofed messages into transport-ready MIME
// documents.
package builder

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/google/uuid"

	"github.com/shineum/spoofcheck/internal/email"
)

// attachmentContentType is used for every attachment regardless of extension.
const attachmentContentType = "application/octet-stream"

// ErrAttachmentUnreadable is matched by errors.Is when the requested
// attachment could not be read.
var ErrAttachmentUnreadable = errors.New("attachment unreadable")

// AttachmentError reports the path that could not be read.
type AttachmentError struct {
	Path string
	Err  error
}

func (e *AttachmentError) Error() string {
	return fmt.Sprintf("%v: %s: %v", ErrAttachmentUnreadable, e.Path, e.Err)
}

func (e *AttachmentError) Unwrap() []error {
	return []error{ErrAttachmentUnreadable, e.Err}
}

// Build renders msg as a multipart/mixed MIME document with a text/plain
// body and, if requested, one attachment. No bytes are returned on error.
func Build(msg email.SpoofMessage) ([]byte, error) {
	return build(msg, time.Now())
}

func build(msg email.SpoofMessage, now time.Time) ([]byte, error) {
	var (
		content  []byte
		filename string
	)
	if msg.HasAttachment() {
		data, err := os.ReadFile(msg.AttachmentPath)
		if err != nil {
			return nil, &AttachmentError{Path: msg.AttachmentPath, Err: err}
		}
		content = data
		filename = filepath.Base(msg.AttachmentPath)
	}

	var h message.Header
	h.Set("From", msg.From)
	h.Set("To", msg.To)
	h.Set("Subject", msg.Subject)
	h.Set("Date", now.Format(time.RFC1123Z))
	h.Set("Message-Id", messageID(msg.From))
	h.Set("MIME-Version", "1.0")
	h.SetContentType("multipart/mixed", nil)

	var buf bytes.Buffer
	w, err := message.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}

	var bodyHeader message.Header
	bodyHeader.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	// base64 preserves bare LF and CR in the body.
	bodyHeader.Set("Content-Transfer-Encoding", "base64")
	if err := writePart(w, bodyHeader, []byte(msg.Body)); err != nil {
		return nil, fmt.Errorf("failed to write body part: %w", err)
	}

	if msg.HasAttachment() {
		var attHeader message.Header
		attHeader.SetContentType(attachmentContentType, map[string]string{"name": filename})
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, quoteEscaper.Replace(filename)))
		if err := writePart(w, attHeader, content); err != nil {
			return nil, fmt.Errorf("failed to write attachment part: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close message writer: %w", err)
	}
	return buf.Bytes(), nil
}

var quoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func writePart(w *message.Writer, h message.Header, content []byte) error {
	pw, err := w.CreatePart(h)
	if err != nil {
		return err
	}
	if _, err := io.Copy(pw, bytes.NewReader(content)); err != nil {
		pw.Close()
		return err
	}
	return pw.Close()
}

// messageID builds a Message-Id in the From address's domain.
func messageID(from string) string {
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(from))
}

func senderDomain(from string) string {
	addr := from
	if parsed, err := mail.ParseAddress(from); err == nil {
		addr = parsed.Address
	}
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		if domain := strings.Trim(addr[i+1:], "<> "); domain != "" {
			return domain
		}
	}
	return "localhost"
}
