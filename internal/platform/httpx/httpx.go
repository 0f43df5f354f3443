package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPStatusCoder is implemented by client errors that carry the upstream
// status code, so retry decisions can be made without string matching.
type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

// Statuses the pipeline's providers use for permanent conditions. The
// queue service answers 412 when the queue quota is exhausted and the
// media service answers 413 for oversized inputs; retrying either only
// burns the delivery budget.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	case http.StatusPreconditionFailed, http.StatusRequestEntityTooLarge:
		return false
	case http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Retryable reports whether another in-process attempt can help. Context
// errors are final here: the delivery is being torn down and the queue's
// redelivery is the retry vehicle for anything cut off.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return retryableStatus(sc.HTTPStatusCode())
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout() || netErr.Temporary()
	}
	return false
}

// NextDelay computes the sleep before attempt+1: exponential from base
// with full-range jitter, capped at max. A Retry-After header from the
// provider overrides the computed value, still subject to the cap.
func NextDelay(resp *http.Response, attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base << uint(attempt)
	if max > 0 && d > max {
		d = max
	}
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				d = time.Duration(secs) * time.Second
				if max > 0 && d > max {
					d = max
				}
				return d
			}
		}
	}
	// Full jitter keeps concurrent deliveries for the same user from
	// hammering a recovering provider in lockstep.
	return time.Duration(rand.Int63n(int64(d) + 1))
}
