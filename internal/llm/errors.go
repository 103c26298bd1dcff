package llm

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
)

// ErrBudgetExceeded is returned when a completion would push period spend
// past the configured budget. No network request is made.
var ErrBudgetExceeded = errors.New("completion budget exceeded")

// HTTPError is a non-2xx response from the completion endpoint
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("completion endpoint returned %d: %s", e.StatusCode, e.Body)
}

// retryable classifies transport failures. Rate limiting and server errors
// are worth retrying; auth failures and malformed requests are not.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests || httpErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	return false
}
