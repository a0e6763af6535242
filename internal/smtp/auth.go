// Package smtp implements the permissive capture server: it accepts any
// envelope, decodes the message and hands it to a report sink.
package smtp

import (
	"crypto/subtle"
	"errors"
)

var errAuthFailed = errors.New("authentication failed")

// Authenticator checks AUTH PLAIN credentials. With no credentials
// configured every login is accepted.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator creates an Authenticator with the given credentials.
// Authentication is disabled unless both are set.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{
		username: username,
		password: password,
	}
}

// Enabled returns true if authentication credentials are configured.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// Verify reports whether username and password match. It always succeeds
// when authentication is disabled.
func (a *Authenticator) Verify(username, password string) error {
	if !a.Enabled() {
		return nil
	}
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(a.password)) == 1
	if !userOK || !passOK {
		return errAuthFailed
	}
	return nil
}
