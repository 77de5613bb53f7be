package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
	"time"
)

// Kind classifies failures for retry and propagation decisions.
type Kind int

const (
	// KindUnknown is an unclassified error. It is not retried.
	KindUnknown Kind = iota
	// KindNetwork covers timeouts, connection resets and 5xx responses. Retryable.
	KindNetwork
	// KindRateLimited covers 429s and block pages. Retryable after a longer wait.
	KindRateLimited
	// KindAuth is a route authentication failure. Terminal for the route.
	KindAuth
	// KindMalformed is an unparseable response body. Retryable a bounded number of times.
	KindMalformed
	// KindValidation is a per-record failure. The record is dropped.
	KindValidation
	// KindPersistence is a batch write failure. Retried per batch.
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindRateLimited:
		return "rate_limited"
	case KindAuth:
		return "auth"
	case KindMalformed:
		return "malformed_response"
	case KindValidation:
		return "validation"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with its Kind and optional HTTP context.
type Error struct {
	Kind       Kind
	Err        error
	StatusCode int
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with the given kind.
func NewError(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// NewHTTPError wraps err with a kind and the response status code.
func NewHTTPError(kind Kind, err error, statusCode int) *Error {
	return &Error{Kind: kind, Err: err, StatusCode: statusCode}
}

// KindOf returns the Kind of err. Errors without an explicit *Error in their
// chain are classified by the transient-network heuristics.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if IsTransient(err) {
		return KindNetwork
	}
	return KindUnknown
}

// RetryAfterOf returns the server-provided retry delay carried by err, if any.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// IsRetryable reports whether err may succeed on a later attempt.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindRateLimited, KindMalformed, KindPersistence:
		return true
	}
	return false
}

// IsTransient returns true if the error (or any error in its chain) is a
// network-kind *Error, or matches common transient error patterns (network
// timeouts, connection resets, DNS failures).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind == KindNetwork || e.Kind == KindRateLimited
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	msg := strings.ToLower(err.Error())
	transientPatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
		"unexpected eof",
	}
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// KindForStatus maps an HTTP status code to an error kind. Zero means the
// status is not an error.
func KindForStatus(statusCode int) Kind {
	switch {
	case statusCode == 407, statusCode == 401:
		return KindAuth
	case statusCode == 429:
		return KindRateLimited
	case statusCode == 408, statusCode >= 500:
		return KindNetwork
	case statusCode == 403:
		return KindAuth
	case statusCode >= 400:
		return KindMalformed
	default:
		return KindUnknown
	}
}
