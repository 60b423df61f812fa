package translation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/sashabaranov/go-openai"
	"github.com/sony/gobreaker"
)

// ErrorKind classifies a failed translation
type ErrorKind string

const (
	KindTimeout       ErrorKind = "timeout"
	KindNetwork       ErrorKind = "network"
	KindRateLimited   ErrorKind = "rate_limited"
	KindServer        ErrorKind = "server"
	KindCircuitOpen   ErrorKind = "circuit_open"
	KindEmptyResponse ErrorKind = "empty_response"
	KindAuth          ErrorKind = "auth"
	KindBadRequest    ErrorKind = "bad_request"

	// Assigned when the run stops before an item is done
	KindCancelled       ErrorKind = "cancelled"
	KindBudgetExhausted ErrorKind = "budget_exhausted"
)

// Retryable reports whether another attempt may succeed
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindTimeout, KindNetwork, KindRateLimited, KindServer, KindCircuitOpen, KindEmptyResponse:
		return true
	}
	return false
}

// Fatal reports whether the request itself is unusable (bad credentials
// or a malformed request), so retrying is pointless.
func (k ErrorKind) Fatal() bool {
	return k == KindAuth || k == KindBadRequest
}

// Error is the failure recorded for an item
type Error struct {
	Kind       ErrorKind
	StatusCode int // HTTP status, 0 if none was received
	Err        error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure is transient
func (e *Error) Retryable() bool {
	return e.Kind.Retryable()
}

// IsRetryable reports whether err is a transient translation failure
func IsRetryable(err error) bool {
	var tErr *Error
	return errors.As(err, &tErr) && tErr.Retryable()
}

// IsFatal reports whether err is an authentication or malformed-request failure
func IsFatal(err error) bool {
	var tErr *Error
	return errors.As(err, &tErr) && tErr.Kind.Fatal()
}

var errEmptyResponse = errors.New("model returned no translation")

// classify maps an error from one attempt to an Error. attemptTimedOut is
// true when the per-attempt deadline expired.
func classify(err error, attemptTimedOut bool) *Error {
	if err == nil {
		return nil
	}

	var tErr *Error
	if errors.As(err, &tErr) {
		return tErr
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Kind: KindCircuitOpen, Err: err}
	}
	if errors.Is(err, errEmptyResponse) {
		return &Error{Kind: KindEmptyResponse, Err: err}
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &Error{Kind: kindForStatus(apiErr.HTTPStatusCode), StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &Error{Kind: kindForStatus(reqErr.HTTPStatusCode), StatusCode: reqErr.HTTPStatusCode, Err: err}
	}

	if attemptTimedOut || errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &Error{Kind: KindCancelled, Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, Err: err}
	}

	return &Error{Kind: KindNetwork, Err: err}
}

func kindForStatus(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusTooManyRequests:
		return KindRateLimited
	case status == http.StatusRequestTimeout || status == http.StatusConflict:
		return KindServer
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindBadRequest
	}
	return KindServer
}
