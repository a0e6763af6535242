// Package email defines the core data model shared by the builder, the
// transports and the capture server.
package email

import "time"

// SpoofMessage is the caller's description of a message to build. All
// header values are used verbatim.
type SpoofMessage struct {
	From    string
	To      string
	Subject string
	Body    string

	// AttachmentPath is optional. When set, the file is read once at build
	// time and attached under its base name.
	AttachmentPath string
}

// HasAttachment reports whether the message requests an attachment.
func (m SpoofMessage) HasAttachment() bool {
	return m.AttachmentPath != ""
}

// Outbound is one message ready for a transport: the SMTP envelope plus
// the built MIME payload.
type Outbound struct {
	From    string
	To      []string
	Payload []byte
}

// CapturedEnvelope is the decoded view of one inbound SMTP transaction.
type CapturedEnvelope struct {
	ID         string
	Sender     string
	Recipients []string
	Subject    string
	Parts      []DecodedPart
	ReceivedAt time.Time

	// Raw holds the undecoded message text when MIME parsing failed and
	// DecodeErr is set.
	Raw       string
	DecodeErr error
}

// Degraded reports whether the envelope fell back to raw reporting.
func (e *CapturedEnvelope) Degraded() bool {
	return e.DecodeErr != nil
}

// TextParts returns the parts that carry decoded text.
func (e *CapturedEnvelope) TextParts() []DecodedPart {
	var out []DecodedPart
	for _, p := range e.Parts {
		if p.HasText {
			out = append(out, p)
		}
	}
	return out
}

// Attachments returns the binary parts that declare a filename.
func (e *CapturedEnvelope) Attachments() []DecodedPart {
	var out []DecodedPart
	for _, p := range e.Parts {
		if p.IsAttachment {
			out = append(out, p)
		}
	}
	return out
}

// DecodedPart is one leaf of a MIME tree.
type DecodedPart struct {
	ContentType  string
	IsAttachment bool
	Filename     string
	SizeBytes    int

	// Text is only populated for text/plain and text/html leaves.
	Text    string
	HasText bool
}
