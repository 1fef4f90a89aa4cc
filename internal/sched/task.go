package sched

import (
	"context"
	"fmt"
)

// Kind classifies where a task's payload is allowed to run.
type Kind string

const (
	// AuthoritativeOnly tasks run on the authoritative (tick) goroutine, in
	// submission order, when the host drains the barrier.
	AuthoritativeOnly Kind = "AUTHORITATIVE_ONLY"
	// WorkerSafe tasks run on the worker pool as soon as a worker is free.
	WorkerSafe Kind = "WORKER_SAFE"
)

func (k Kind) Valid() bool {
	return k == AuthoritativeOnly || k == WorkerSafe
}

// Func is a task payload. The context is the scheduler's base context.
type Func func(ctx context.Context) (any, error)

// Task is a unit of deferred work handed to Submit.
type Task struct {
	Kind Kind
	Name string
	Fn   Func
}

func (t Task) validate() error {
	if t.Fn == nil {
		return fmt.Errorf("%w: nil payload (name=%q)", ErrInvalidTask, t.Name)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q (name=%q)", ErrInvalidTask, t.Kind, t.Name)
	}
	return nil
}
