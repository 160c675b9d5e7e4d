// Package auth signs outbound API requests. Three variants exist: a static
// bearer token, a bearer token obtained once through the application-only
// client credentials exchange, and per-request OAuth1 HMAC-SHA1 signatures
// for endpoints that need user context.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
)

// ErrAuth matches every credential or exchange failure.
var ErrAuth = errors.New("authentication failed")

// Error describes a failed credential exchange or signing attempt. It is
// fatal and never retried by the client.
type Error struct {
	Op         string
	StatusCode int
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("auth %s (status %d): %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("auth %s: status %d", e.Op, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("auth %s: %v", e.Op, e.Err)
	default:
		return "auth " + e.Op + " failed"
	}
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every *Error match ErrAuth.
func (e *Error) Is(target error) bool {
	return target == ErrAuth
}

// Signer writes the Authorization header of a request. form holds the
// url-encoded body parameters of a POST and is nil for GET; query
// parameters are read from req.URL.
type Signer interface {
	Sign(req *http.Request, form url.Values) error
}

// BearerSigner sends a static bearer token.
type BearerSigner struct {
	token string
}

// NewBearerSigner returns a signer for token.
func NewBearerSigner(token string) *BearerSigner {
	return &BearerSigner{token: token}
}

// Sign sets "Authorization: Bearer <token>".
func (s *BearerSigner) Sign(req *http.Request, _ url.Values) error {
	if s.token == "" {
		return &Error{Op: "sign", Err: errors.New("empty bearer token")}
	}
	req.Header.Set("Authorization", "Bearer "+s.token)
	return nil
}

// Token returns the bearer token.
func (s *BearerSigner) Token() string {
	return s.token
}
