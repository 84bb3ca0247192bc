package chainclient

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/onchainrisk/monitor/internal/domain"
)

// stringsReader adapts a JSON ABI string to the io.Reader abi.JSON expects.
func stringsReader(s string) io.Reader {
	return strings.NewReader(s)
}

// classifyTransportErr buckets a raw transport error from go-ethereum into
// the taxonomy described in §4.1: context errors and connection-level
// failures are retryable, everything else conservatively is not.
func classifyTransportErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &domain.TransportError{Retryable: true, Err: err}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "eof"),
		strings.Contains(msg, "reset by peer"),
		strings.Contains(msg, "too many requests"),
		strings.Contains(msg, "rate limit"):
		return &domain.TransportError{Retryable: true, Err: err}
	case strings.Contains(msg, "execution reverted"):
		return &domain.RevertError{Reason: err.Error()}
	default:
		return &domain.TransportError{Retryable: false, Err: err}
	}
}
