// Package brokererr implements the §7/§9 error taxonomy: a single BrokerError
// sum type covering Transient, ExchangeReject, BadRequest, and Cancelled,
// so the rate limiter's retry classifier can switch on Kind alone instead of
// pattern-matching error strings at every call site.
//
// Grounded on internal/binance/client.go's plain fmt.Errorf("%w", ...)
// chains, generalized into a typed classification per §9's design note.
package brokererr

import (
	"errors"
	"strings"
)

// Kind classifies a BrokerError for retry/propagation policy (§7).
type Kind int

const (
	// Transient covers connection reset/timeout/refused/unknown-host/
	// socket-disconnected/network errors. Retried with bounded backoff.
	Transient Kind = iota
	// ExchangeReject covers a non-2xx REST response or an order rejection.
	// Logged at error level with the request echoed; never retried.
	ExchangeReject
	// BadRequest covers invalid renderer input (missing/invalid fields).
	// Logged at warn level and dropped silently.
	BadRequest
	// Cancelled covers a caller-initiated cancellation (e.g. context done).
	Cancelled
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case ExchangeReject:
		return "exchange_reject"
	case BadRequest:
		return "bad_request"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// BrokerError is the broker's single structured error type.
type BrokerError struct {
	Kind       Kind
	Message    string
	HTTPStatus int    // set for ExchangeReject
	Body       string // set for ExchangeReject
	Err        error  // wrapped cause, if any
}

func (e *BrokerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *BrokerError) Unwrap() error { return e.Err }

// NewTransient wraps err as a Transient BrokerError.
func NewTransient(err error) *BrokerError {
	return &BrokerError{Kind: Transient, Message: err.Error(), Err: err}
}

// NewExchangeReject builds an ExchangeReject BrokerError carrying the
// remote's status code and body for the log-at-error-with-request-echo policy.
func NewExchangeReject(status int, body string) *BrokerError {
	return &BrokerError{Kind: ExchangeReject, HTTPStatus: status, Body: body, Message: "exchange rejected request"}
}

// NewBadRequest builds a BadRequest BrokerError for invalid renderer input.
func NewBadRequest(msg string) *BrokerError {
	return &BrokerError{Kind: BadRequest, Message: msg}
}

// NewCancelled builds a Cancelled BrokerError.
func NewCancelled() *BrokerError {
	return &BrokerError{Kind: Cancelled, Message: "cancelled"}
}

// transientSubstrings are the §4.1/§7 markers used to classify a raw error
// (typically from net/http or gorilla/websocket) as transient.
var transientSubstrings = []string{
	"connection reset",
	"econnreset",
	"timeout",
	"timed out",
	"connection refused",
	"econnrefused",
	"no such host",
	"unknown host",
	"socket disconnected",
	"network is unreachable",
	"network",
	"i/o timeout",
	"eof",
	"broken pipe",
	"tls",
}

// Classify inspects a raw error and returns the BrokerError the retry
// classifier should act on. Errors already wrapping a *BrokerError are
// returned as-is.
func Classify(err error) *BrokerError {
	if err == nil {
		return nil
	}
	var be *BrokerError
	if errors.As(err, &be) {
		return be
	}

	lower := strings.ToLower(err.Error())
	for _, marker := range transientSubstrings {
		if strings.Contains(lower, marker) {
			return NewTransient(err)
		}
	}
	return &BrokerError{Kind: ExchangeReject, Message: err.Error(), Err: err}
}

// IsTransient reports whether err (or a wrapped *BrokerError within it) is Transient.
func IsTransient(err error) bool {
	var be *BrokerError
	if errors.As(err, &be) {
		return be.Kind == Transient
	}
	return false
}
