package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// ErrNoData signals an expected empty result (404, empty result set). It is
// never retried and never counted as a failure; callers translate it into a
// nil field.
var ErrNoData = errors.New("no data")

// TransientError wraps an error that is safe to retry (429, 5xx, network
// timeout). Provider clients wrap their retryable failures in this type so
// the retry layer can tell them apart from hard 4xx errors.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string {
	return e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// NewTransientError wraps an error as transient with an optional HTTP status.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsNoData reports whether err is (or wraps) the no-data sentinel.
func IsNoData(err error) bool {
	return errors.Is(err, ErrNoData)
}

// IsTransient reports whether the error is safe to retry: an explicit
// TransientError, a network timeout, a connection-level failure, or a wrapped
// error matching common transport failure strings.
func IsTransient(err error) bool {
	if err == nil || IsNoData(err) {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return true
	}

	// Wrapped transport errors from net/http lose their type; fall back to
	// string matching.
	msg := strings.ToLower(err.Error())
	for _, p := range []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
	} {
		if strings.Contains(msg, p) {
			return true
		}
	}

	return false
}

// IsTransientHTTPStatus reports whether an HTTP status code indicates a
// server-side condition worth retrying.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
