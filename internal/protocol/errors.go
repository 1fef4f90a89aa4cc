package protocol

import (
	"context"
	"errors"

	"tickbridge.ai/internal/protect"
	"tickbridge.ai/internal/sched"
)

const (
	// Submission.
	ErrInvalidTask = "E_INVALID_TASK"
	ErrClosed      = "E_CLOSED"

	// Result bridge.
	ErrDoubleResolution = "E_DOUBLE_RESOLUTION"
	ErrDeadlock         = "E_DEADLOCK"
	ErrTaskFailed       = "E_TASK_FAILED"
	ErrCancelled        = "E_CANCELLED"
	ErrTimeout          = "E_TIMEOUT"

	// Capability layer.
	ErrProviderUnavailable = "E_PROVIDER_UNAVAILABLE"
	ErrProviderTimeout     = "E_PROVIDER_TIMEOUT"

	ErrBadRequest = "E_BAD_REQUEST"
	ErrInternal   = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrInvalidTask:         {},
	ErrClosed:              {},
	ErrDoubleResolution:    {},
	ErrDeadlock:            {},
	ErrTaskFailed:          {},
	ErrCancelled:           {},
	ErrTimeout:             {},
	ErrProviderUnavailable: {},
	ErrProviderTimeout:     {},
	ErrBadRequest:          {},
	ErrInternal:            {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// CodeOf maps an error from the scheduler or the protection layer to its
// stable code. nil maps to "".
func CodeOf(err error) string {
	var te *sched.TaskError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, sched.ErrInvalidTask):
		return ErrInvalidTask
	case errors.Is(err, sched.ErrClosed):
		return ErrClosed
	case errors.Is(err, sched.ErrDoubleResolution):
		return ErrDoubleResolution
	case errors.Is(err, sched.ErrDeadlock):
		return ErrDeadlock
	case errors.Is(err, sched.ErrCancelled):
		return ErrCancelled
	case errors.Is(err, protect.ErrProviderTimeout):
		return ErrProviderTimeout
	case errors.Is(err, protect.ErrProviderUnavailable), errors.Is(err, protect.ErrIncompatible):
		return ErrProviderUnavailable
	case errors.As(err, &te):
		return ErrTaskFailed
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrTimeout
	default:
		return ErrInternal
	}
}
