package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// Pipeline error kinds. Callers match them with errors.Is.
var (
	ErrSiteSuppressed     = errors.New("site suppressed")
	ErrDisallowedByRobots = errors.New("disallowed by robots.txt")
	ErrFetchFailed        = errors.New("fetch failed")
	ErrExtractionFailed   = errors.New("extraction failed")
	ErrInvalidURL         = errors.New("invalid url")
	ErrIgnoredHost        = errors.New("host is ignored")
)

// Kind returns a stable machine-readable name for a pipeline error.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSiteSuppressed):
		return "site_suppressed"
	case errors.Is(err, ErrDisallowedByRobots):
		return "disallowed_by_robots"
	case errors.Is(err, ErrFetchFailed):
		return "fetch_failed"
	case errors.Is(err, ErrExtractionFailed):
		return "extraction_failed"
	case errors.Is(err, ErrInvalidURL):
		return "invalid_url"
	case errors.Is(err, ErrIgnoredHost):
		return "ignored_host"
	default:
		return "internal"
	}
}

// StatusError reports a completed exchange with a non-2xx status.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// StatusCode extracts the HTTP status from err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}

// IsConnectionError reports whether err is a transport-level failure:
// timeouts, refused or reset connections and DNS failures. HTTP status
// errors and caller cancellation are not connection errors.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return false
}
