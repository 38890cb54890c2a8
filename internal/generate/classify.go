package generate

import (
	"context"
	"errors"
	"strings"

	qerrors "github.com/Aman-CERP/qanoon/internal/errors"
)

// failure is how the orchestrator reacts to an attempt error.
type failure int

const (
	// failureTransient covers rate limits, timeouts, and temporary
	// unavailability: rotate, back off, retry.
	failureTransient failure = iota
	// failureTooLarge is a permanent payload rejection.
	failureTooLarge
	// failureOther ends the request with the error cause.
	failureOther
)

func (f failure) String() string {
	switch f {
	case failureTransient:
		return "transient"
	case failureTooLarge:
		return "too_large"
	default:
		return "other"
	}
}

func classify(err error) failure {
	if qerrors.HasCode(err, qerrors.ErrCodePayloadTooLarge) {
		return failureTooLarge
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		qerrors.HasCode(err, qerrors.ErrCodeRateLimited) ||
		qerrors.HasCode(err, qerrors.ErrCodeNetworkTimeout) ||
		qerrors.HasCode(err, qerrors.ErrCodeNetworkUnavailable) ||
		qerrors.HasCode(err, qerrors.ErrCodeUpstreamUnavailable) {
		return failureTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "413"),
		strings.Contains(msg, "too large"),
		strings.Contains(msg, "context_length_exceeded"):
		return failureTooLarge
	case strings.Contains(msg, "429"),
		strings.Contains(msg, "rate_limit"),
		strings.Contains(msg, "rate limit"):
		return failureTransient
	}
	return failureOther
}

// causeText is the error text shown after APIErrorPrefix.
func causeText(err error) string {
	if qe, ok := qerrors.As(err); ok && qe.Message != "" {
		return qe.Message
	}
	return err.Error()
}
