// Package transport sends built messages through one of several delivery
// strategies: direct SMTP, the fixed relay profile, or an API relay.
package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/shineum/spoofcheck/internal/email"
)

// Sender is the interface that delivery strategies implement. Each call
// performs exactly one delivery attempt.
type Sender interface {
	// Send delivers one envelope. Failures are returned as *SendError.
	Send(ctx context.Context, env *email.Outbound) error

	// Name returns the human-readable name of this strategy.
	Name() string
}

// ErrorKind classifies a failed send.
type ErrorKind int

const (
	KindConnect ErrorKind = iota
	KindAuth
	KindProtocol
)

func (k ErrorKind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindAuth:
		return "auth"
	default:
		return "protocol"
	}
}

// Sentinels matched by errors.Is against a *SendError of the same kind.
var (
	ErrConnect  = errors.New("transport: connect failure")
	ErrAuth     = errors.New("transport: authentication failure")
	ErrProtocol = errors.New("transport: protocol failure")
)

// SendError is the single error type returned by every Sender.
type SendError struct {
	Kind      ErrorKind
	Transport string
	Reason    string
	Err       error
}

// NewSendError builds a SendError; err may be nil.
func NewSendError(kind ErrorKind, transport, reason string, err error) *SendError {
	return &SendError{Kind: kind, Transport: transport, Reason: reason, Err: err}
}

func (e *SendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s failed: %s: %v", e.Transport, e.Kind, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s failed: %s", e.Transport, e.Kind, e.Reason)
}

func (e *SendError) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *SendError) Is(target error) bool {
	switch target {
	case ErrConnect:
		return e.Kind == KindConnect
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrProtocol:
		return e.Kind == KindProtocol
	}
	return false
}

// Validate rejects envelopes that cannot produce a transaction.
func Validate(name string, env *email.Outbound) error {
	if env == nil || len(env.Payload) == 0 {
		return NewSendError(KindProtocol, name, "empty payload", nil)
	}
	if len(env.To) == 0 {
		return NewSendError(KindProtocol, name, "no recipients", nil)
	}
	return nil
}

