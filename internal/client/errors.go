package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Kind classifies a failed protocol call. Only timeout and network failures
// are retryable; authorization and validation outcomes are terminal.
type Kind string

const (
	KindTimeout       Kind = "timeout"
	KindNetwork       Kind = "network"
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindServer        Kind = "server"
)

type Error struct {
	Kind    Kind
	Message string
	Status  int
	cause   error
}

func (e *Error) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("client: %s (%d): %s", e.Kind, e.Status, e.Message)
	}
	return fmt.Sprintf("client: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Retryable() bool {
	return e.Kind == KindTimeout || e.Kind == KindNetwork
}

func classifyStatus(status int, message string) *Error {
	var kind Kind
	switch {
	case status == 401 || status == 403:
		kind = KindAuthorization
	case status >= 400 && status < 500:
		kind = KindValidation
	default:
		kind = KindServer
	}
	return &Error{Kind: kind, Message: message, Status: status}
}

func classifyTransport(err error) *Error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindTimeout, Message: "request timed out", cause: err}
	case errors.As(err, &netErr) && netErr.Timeout():
		return &Error{Kind: KindTimeout, Message: "request timed out", cause: err}
	default:
		return &Error{Kind: KindNetwork, Message: err.Error(), cause: err}
	}
}
