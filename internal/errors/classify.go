package errors

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
)

// FromStatus maps an upstream HTTP status to a QanoonError.
func FromStatus(status int, message string, cause error) *QanoonError {
	var code string
	switch {
	case status == http.StatusTooManyRequests:
		code = ErrCodeRateLimited
	case status == http.StatusRequestEntityTooLarge:
		code = ErrCodePayloadTooLarge
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		code = ErrCodeNetworkTimeout
	case status >= 500:
		code = ErrCodeUpstreamUnavailable
	default:
		code = ErrCodeUpstreamRejected
	}
	return New(code, fmt.Sprintf("upstream returned %d: %s", status, message), cause).
		WithDetail("status", fmt.Sprint(status))
}

// FromTransport classifies a transport-level failure. Deadline and network
// errors become retryable QanoonErrors; cancellation and unknown errors are
// returned unchanged.
func FromTransport(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeNetworkTimeout, "request timed out", err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return New(ErrCodeNetworkTimeout, "request timed out", err)
		}
		return New(ErrCodeNetworkUnavailable, err.Error(), err)
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return New(ErrCodeNetworkUnavailable, "connection closed by upstream", err)
	}
	return err
}
