package agent

import (
	"context"
	"errors"
	"fmt"
)

// Backend is the connection to the conversational agent service.
// Implementations handle protocol-specific details such as request
// formatting, authentication, and stream parsing.
type Backend interface {
	// Open starts an exchange, passing req.SessionID as a resume hint.
	Open(ctx context.Context, req ExchangeRequest) (Exchange, error)
}

// Exchange streams backend output for a single request/response cycle.
type Exchange interface {
	// Next returns the next stream event. After an EventToolRequest the
	// backend is paused: Next will not yield further events until Decide is
	// called for the pending tool. Next returns io.EOF after EventResult.
	Next(ctx context.Context) (*StreamEvent, error)

	// Decide resolves the pending tool request identified by callID.
	Decide(ctx context.Context, callID string, d Decision) error

	// Close aborts the exchange. Safe to call after completion.
	Close() error
}

// ErrorKind classifies backend failures without string matching.
type ErrorKind string

const (
	// ErrorKindStaleSession means the resume hint is unknown to the backend,
	// e.g. after backend-side expiry.
	ErrorKindStaleSession ErrorKind = "stale_session"
	ErrorKindUnavailable  ErrorKind = "unavailable"
	ErrorKindTimeout      ErrorKind = "timeout"
	ErrorKindProtocol     ErrorKind = "protocol"
)

// Error is a kinded backend error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("backend %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("backend %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the backend ErrorKind of err, or "" for unkinded errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
