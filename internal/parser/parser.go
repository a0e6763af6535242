// Package parser decodes raw RFC 5322 messages into a flat list of MIME
// leaves for capture reports.
package parser

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/shineum/spoofcheck/internal/email"
)

// maxDepth bounds multipart nesting.
const maxDepth = 32

// Decoded is the structured view of one message.
type Decoded struct {
	Subject string
	Parts   []email.DecodedPart
}

// Capture decodes raw into an envelope. Whatever could be decoded is kept;
// if decoding stopped early the envelope also carries the raw text and the
// decode error.
func Capture(sender string, recipients []string, raw []byte) *email.CapturedEnvelope {
	env := &email.CapturedEnvelope{
		Sender:     sender,
		Recipients: recipients,
	}

	decoded, err := Decode(raw)
	if decoded != nil {
		env.Subject = decoded.Subject
		env.Parts = decoded.Parts
	}
	if err != nil {
		env.DecodeErr = err
		env.Raw = toValidUTF8(raw)
	}
	return env
}

// Decode parses raw. Multipart messages are walked depth first and every
// non-container leaf becomes one part, in document order. A single-part
// message yields one text part holding the whole body.
//
// When the headers parse but the body breaks partway, Decode returns the
// subject and the leaves read so far together with the error. A nil
// result means the headers themselves could not be parsed.
func Decode(raw []byte) (*Decoded, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !recoverable(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &Decoded{Subject: subject(entity.Header)}

	mr := entity.MultipartReader()
	if mr == nil {
		body, readErr := io.ReadAll(entity.Body)
		mediaType, _, ctErr := entity.Header.ContentType()
		if ctErr != nil || mediaType == "" {
			mediaType = "text/plain"
		}
		result.Parts = append(result.Parts, email.DecodedPart{
			ContentType: mediaType,
			SizeBytes:   len(body),
			Text:        toValidUTF8(body),
			HasText:     true,
		})
		if readErr != nil {
			return result, fmt.Errorf("failed to read message body: %w", readErr)
		}
		return result, nil
	}

	if err := walk(mr, &result.Parts, 0); err != nil {
		return result, fmt.Errorf("failed to parse multipart message: %w", err)
	}
	return result, nil
}

// walk appends the leaves under mr to parts.
func walk(mr message.MultipartReader, parts *[]email.DecodedPart, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("multipart nesting deeper than %d", maxDepth)
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil && !recoverable(err) {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		if nested := p.MultipartReader(); nested != nil {
			if err := walk(nested, parts, depth+1); err != nil {
				return err
			}
			continue
		}

		leaf, err := decodeLeaf(p, message.IsUnknownCharset(err))
		*parts = append(*parts, leaf)
		if err != nil {
			return err
		}
	}
}

// decodeLeaf reads one leaf. rawCharset is true when go-message left the
// body in its declared charset. On a read error the part holds the bytes
// read before the failure.
func decodeLeaf(p *message.Entity, rawCharset bool) (email.DecodedPart, error) {
	mediaType, params, err := p.Header.ContentType()
	if err != nil || mediaType == "" {
		mediaType = "text/plain"
	}

	body, readErr := io.ReadAll(p.Body)

	disposition, dispParams, _ := p.Header.ContentDisposition()
	filename := dispParams["filename"]
	if filename == "" {
		filename = params["name"]
	}

	part := email.DecodedPart{
		ContentType: mediaType,
		Filename:    filename,
		SizeBytes:   len(body),
	}

	switch mediaType {
	case "text/plain", "text/html":
		part.HasText = true
		if rawCharset {
			part.Text = decodeCharset(body, params["charset"])
		} else {
			part.Text = toValidUTF8(body)
		}
		part.IsAttachment = strings.EqualFold(disposition, "attachment")
	default:
		part.IsAttachment = strings.EqualFold(disposition, "attachment") || filename != ""
	}
	if readErr != nil {
		return part, fmt.Errorf("failed to read %s part: %w", mediaType, readErr)
	}
	return part, nil
}

// decodeCharset converts body from charset to UTF-8. Unknown charsets fall
// back to UTF-8; invalid sequences are replaced.
func decodeCharset(body []byte, charset string) string {
	if charset == "" {
		return toValidUTF8(body)
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return toValidUTF8(body)
	}
	out, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return toValidUTF8(body)
	}
	return toValidUTF8(out)
}

func subject(h message.Header) string {
	mh := mail.Header{Header: h}
	s, err := mh.Subject()
	if err != nil {
		return h.Get("Subject")
	}
	return s
}

func recoverable(err error) bool {
	return message.IsUnknownCharset(err) || message.IsUnknownEncoding(err)
}

func toValidUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return strings.ToValidUTF8(string(b), string(utf8.RuneError))
}
