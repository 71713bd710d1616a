package upstream

import (
	"errors"
	"fmt"
)

// ErrTransport wraps network-level failures after retries are exhausted.
var ErrTransport = errors.New("upstream transport error")

// ErrRateLimited means the upstream rejected the call for exceeding its own
// limits even after backoff.
var ErrRateLimited = errors.New("upstream rate limited")

// ErrServer means the upstream returned 5xx after retries.
var ErrServer = errors.New("upstream server error")

// ClientError is a non-retryable upstream rejection (bad parameters, auth,
// unknown method). Raw response bodies never leave the client; only the
// documented code and message do.
type ClientError struct {
	Code    string
	Message string
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("upstream client error %s: %s", e.Code, e.Message)
}

// AsClientError unwraps err into a *ClientError if it is one.
func AsClientError(err error) (*ClientError, bool) {
	var ce *ClientError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
