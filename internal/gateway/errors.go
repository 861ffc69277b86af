// File: internal/gateway/errors.go
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v58/github"
)

// Kind classifies a gateway failure. The reconciler's retry and isolation
// behavior keys off this, never off raw HTTP status codes.
type Kind string

// Constants for the gateway error taxonomy.
const (
	KindNotFound         Kind = "not_found"         // Repository or issue does not exist.
	KindPermissionDenied Kind = "permission_denied" // Token lacks access.
	KindRateLimited      Kind = "rate_limited"      // Primary or secondary rate limit hit.
	KindTransient        Kind = "transient"         // Timeouts, 5xx, connection resets.
	KindInvalidInput     Kind = "invalid_input"     // The tracker rejected the payload.
)

// Error is the normalized failure returned by every gateway call.
type Error struct {
	Kind Kind
	Op   string // The gateway operation that failed, e.g. "createIssue".

	// RetryAfter is the tracker-suggested wait before the next attempt. Only
	// meaningful for KindRateLimited; zero means no suggestion.
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("gateway %s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("gateway %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable reports whether another attempt could plausibly succeed.
func (e *Error) Retryable() bool {
	return e.Kind == KindRateLimited || e.Kind == KindTransient
}

// IsRetryable reports whether err is a retryable gateway error.
func IsRetryable(err error) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Retryable()
}

// KindOf extracts the error kind, or "" when err is not a gateway error.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

// classify normalizes a go-github (or plain network) error into the taxonomy.
// Context cancellation passes through untouched so the caller can distinguish
// an aborted run from a tracker failure.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return &Error{Kind: KindRateLimited, Op: op, RetryAfter: time.Until(rateErr.Rate.Reset.Time), Err: err}
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		var after time.Duration
		if abuseErr.RetryAfter != nil {
			after = *abuseErr.RetryAfter
		}
		return &Error{Kind: KindRateLimited, Op: op, RetryAfter: after, Err: err}
	}

	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		switch code := respErr.Response.StatusCode; {
		case code == http.StatusNotFound || code == http.StatusGone:
			return &Error{Kind: KindNotFound, Op: op, Err: err}
		case code == http.StatusUnauthorized || code == http.StatusForbidden:
			return &Error{Kind: KindPermissionDenied, Op: op, Err: err}
		case code == http.StatusUnprocessableEntity || code == http.StatusBadRequest:
			return &Error{Kind: KindInvalidInput, Op: op, Err: err}
		case code >= 500:
			return &Error{Kind: KindTransient, Op: op, Err: err}
		}
	}

	// Anything else (DNS failures, resets, unexpected codes) is worth one
	// more attempt.
	return &Error{Kind: KindTransient, Op: op, Err: err}
}
