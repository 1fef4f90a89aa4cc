package sched

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTask is returned synchronously by Submit for malformed tasks.
	ErrInvalidTask = errors.New("sched: invalid task")
	// ErrDoubleResolution reports a second resolve of the same handle.
	ErrDoubleResolution = errors.New("sched: handle already resolved")
	// ErrDeadlock is returned by Await when the authoritative goroutine waits
	// on authoritative work that can only run after it returns.
	ErrDeadlock = errors.New("sched: await would deadlock the authoritative goroutine")
	// ErrCancelled is the outcome of a task cancelled before it started.
	ErrCancelled = errors.New("sched: task cancelled")
	// ErrClosed is returned once the scheduler stopped accepting work.
	ErrClosed = errors.New("sched: scheduler closed")
	// ErrNotAuthoritative is returned when the barrier is bound twice.
	ErrNotAuthoritative = errors.New("sched: not the authoritative goroutine")
)

// TaskError is the failure outcome of a payload that returned an error or
// panicked while executing.
type TaskError struct {
	Seq   uint64
	Name  string
	Kind  Kind
	Cause error
	Panic any
}

func (e *TaskError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("sched: task %d (%s) panicked: %v", e.Seq, e.Name, e.Panic)
	}
	return fmt.Sprintf("sched: task %d (%s) failed: %v", e.Seq, e.Name, e.Cause)
}

func (e *TaskError) Unwrap() error { return e.Cause }
