package sched

import (
	"context"
	"sync/atomic"
	"time"
)

const (
	statePending int32 = iota
	stateRunning
	stateFinished
)

// Outcome is the single, immutable result of a task.
type Outcome struct {
	Value    any
	Err      error
	Resolved time.Time
}

// Handle is the caller-facing token of a submitted task. Any goroutine may
// observe it; only the scheduler writes its outcome, and only once.
type Handle struct {
	seq       uint64
	kind      Kind
	name      string
	submitted time.Time
	fn        Func
	owner     *Scheduler

	state    atomic.Int32
	runner   atomic.Uint64 // goroutine that claimed the task
	resolved atomic.Bool
	done     chan struct{}
	outcome  Outcome
}

func newHandle(s *Scheduler, seq uint64, t Task) *Handle {
	return &Handle{
		seq:       seq,
		kind:      t.Kind,
		name:      t.Name,
		submitted: time.Now(),
		fn:        t.Fn,
		owner:     s,
		done:      make(chan struct{}),
	}
}

func (h *Handle) Seq() uint64           { return h.seq }
func (h *Handle) Kind() Kind            { return h.kind }
func (h *Handle) Name() string          { return h.name }
func (h *Handle) Submitted() time.Time  { return h.submitted }
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome returns the recorded outcome without blocking.
func (h *Handle) Outcome() (Outcome, bool) {
	select {
	case <-h.done:
		return h.outcome, true
	default:
		return Outcome{}, false
	}
}

// Cancel prevents execution if the task has not started yet. It reports
// whether it did; cancelling a running or finished task is a no-op.
func (h *Handle) Cancel() bool {
	if !h.state.CompareAndSwap(statePending, stateFinished) {
		return false
	}
	if err := h.resolve(Outcome{Err: ErrCancelled}); err != nil {
		return false
	}
	if h.owner != nil {
		h.owner.noteCancelled(h)
	}
	return true
}

// Await blocks until the task resolves or ctx is done. It returns
// ErrDeadlock instead of blocking when the task can only finish after the
// caller's own goroutine makes progress: a task awaiting itself, the
// authoritative goroutine awaiting queued AuthoritativeOnly work, or a chain
// of awaits (across workers and the drain) that leads back to the caller.
// Waits on a saturated worker pool are not detected; pass a deadline.
func (h *Handle) Await(ctx context.Context) (any, error) {
	select {
	case <-h.done:
		return h.outcome.Value, h.outcome.Err
	default:
	}
	if h.owner != nil {
		leave, err := h.owner.enterWait(h)
		if err != nil {
			return nil, err
		}
		defer leave()
	}
	select {
	case <-h.done:
		return h.outcome.Value, h.outcome.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// start claims the task for execution on the calling goroutine.
func (h *Handle) start() bool {
	if !h.state.CompareAndSwap(statePending, stateRunning) {
		return false
	}
	h.runner.Store(goroutineID())
	return true
}

// resolve records the outcome exactly once and wakes every observer.
func (h *Handle) resolve(o Outcome) error {
	if !h.resolved.CompareAndSwap(false, true) {
		return ErrDoubleResolution
	}
	if o.Resolved.IsZero() {
		o.Resolved = time.Now()
	}
	h.outcome = o
	h.state.Store(stateFinished)
	close(h.done)
	return nil
}
