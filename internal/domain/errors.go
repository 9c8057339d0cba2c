package domain

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// Model client errors. These propagate to the orchestration boundary.
	ErrEmptyResponse    = errors.New("empty response from model")
	ErrRetriesExhausted = errors.New("model call failed after multiple retries")

	// Agent-level errors. Agents turn these into user-facing answers.
	ErrSchemaInference = errors.New("could not understand analytics request")
	ErrNoValidMetrics  = errors.New("no valid GA4 metrics inferred")
	ErrDataUnavailable = errors.New("seo data unavailable")
)

// ModelError is a failure reported by a model backend.
type ModelError struct {
	Backend    string
	StatusCode int // 0 when the failure happened before an HTTP status was known
	Err        error
}

func (e *ModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Backend, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Backend, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// RateLimited reports whether the backend asked us to slow down.
func (e *ModelError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsRateLimited reports whether err carries a rate-limited ModelError.
func IsRateLimited(err error) bool {
	var me *ModelError
	return errors.As(err, &me) && me.RateLimited()
}
