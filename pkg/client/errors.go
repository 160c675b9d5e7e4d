package client

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors other than 429.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassRateLimit represents 429 responses.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassNetwork represents transient connection faults.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassFatal represents everything else: unknown transport
	// failures, unexpected statuses and undecodable bodies.
	ErrorClassFatal ErrorClass = "fatal"
)

// Common errors returned by the client.
var (
	// ErrClient matches 4xx responses other than 429.
	ErrClient = errors.New("client error")

	// ErrRateLimit matches 429 responses.
	ErrRateLimit = errors.New("rate limited")

	// ErrServer matches 5xx responses and transient network faults.
	ErrServer = errors.New("server error")

	// ErrFatal matches failures that are never retried.
	ErrFatal = errors.New("fatal request error")

	// ErrRetryExhausted is returned when all retry attempts are exhausted.
	ErrRetryExhausted = errors.New("retry attempts exhausted")
)

// RequestError is a failed request with enough context to diagnose it.
type RequestError struct {
	Class      ErrorClass
	StatusCode int
	Endpoint   string
	Params     url.Values
	Body       string
	Err        error
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	msg := fmt.Sprintf("%s error on %s", e.Class, e.Endpoint)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if len(e.Params) > 0 {
		msg += " params=" + e.Params.Encode()
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the error class.
func (e *RequestError) Is(target error) bool {
	switch target {
	case ErrClient:
		return e.Class == ErrorClassClient
	case ErrRateLimit:
		return e.Class == ErrorClassRateLimit
	case ErrServer:
		return e.Class == ErrorClassServer || e.Class == ErrorClassNetwork
	case ErrFatal:
		return e.Class == ErrorClassFatal || e.Class == ErrorClassClient
	default:
		return false
	}
}

// shouldRetry determines if an error class is retried.
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassRateLimit, ErrorClassServer, ErrorClassNetwork:
		return true
	default:
		return false
	}
}
