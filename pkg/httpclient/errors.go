package httpclient

import (
	"errors"
	"fmt"
)

// RetryableError is returned when a request failed with a retryable
// status. Exhausted is set once the retry budget is spent.
type RetryableError struct {
	StatusCode int
	Message    string
	RateLimit  bool
	Exhausted  bool
	Err        error
}

func (e *RetryableError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
	}
	return e.Message
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a rate-limit failure whose retry
// budget was exhausted.
func IsRateLimited(err error) bool {
	var re *RetryableError
	return errors.As(err, &re) && re.RateLimit
}
