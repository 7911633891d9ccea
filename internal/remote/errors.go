package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
)

type Kind string

const (
	KindAuth      Kind = "auth"
	KindNotFound  Kind = "not_found"
	KindForbidden Kind = "forbidden"
	KindTransient Kind = "transient"
)

var (
	// ErrRetriesExhausted wraps the last transient error once the attempt
	// cap is reached.
	ErrRetriesExhausted = errors.New("retries exhausted")

	// ErrOffline is returned when a retry is abandoned because the service
	// is no longer reachable.
	ErrOffline = errors.New("offline")

	// ErrNotSent accompanies ErrOffline when the monitor already reported
	// offline before the first attempt, so nothing reached the calendar.
	ErrNotSent = errors.New("request not sent")
)

// Error is a classified remote failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Fatal reports whether retrying cannot change the outcome.
func (e *Error) Fatal() bool {
	return e.Kind != KindTransient
}

// Classify maps an API error to a Kind. Unknown errors are transient.
func Classify(op string, err error) *Error {
	var re *Error
	if errors.As(err, &re) {
		return re
	}

	kind := KindTransient
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		kind = kindForStatus(apiErr)
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func kindForStatus(apiErr *googleapi.Error) Kind {
	switch apiErr.Code {
	case http.StatusUnauthorized:
		return KindAuth
	case http.StatusForbidden:
		// quota errors come back as 403 and clear up on their own
		for _, item := range apiErr.Errors {
			if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
				return KindTransient
			}
		}
		return KindForbidden
	case http.StatusNotFound, http.StatusGone:
		return KindNotFound
	default:
		return KindTransient
	}
}

// IsFatal reports whether err is a classified remote error that must not be
// retried.
func IsFatal(err error) bool {
	var re *Error
	return errors.As(err, &re) && re.Fatal()
}

// KindOf returns the classification of err, or "" when err is not a remote
// error.
func KindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

func isConflict(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
