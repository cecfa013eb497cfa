package fetch

import (
	"fmt"
	"time"
)

// TransientError marks a failure worth retrying: network errors, 5xx
// responses and explicit rate-limit responses. It never escapes the client;
// after retries are exhausted it is wrapped in a PermanentError.
type TransientError struct {
	Status     int           // HTTP status, 0 for transport errors
	RetryAfter time.Duration // server-provided hint, 0 if absent
	Err        error
}

func (e *TransientError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("transient: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure the client will not retry: a non-rate-limit
// 4xx, a malformed response body, or a transient failure that outlived the
// retry budget. The engine treats it as "no quote from this source".
type PermanentError struct {
	Status int
	Err    error
}

func (e *PermanentError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("permanent: status %d: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("permanent: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }
