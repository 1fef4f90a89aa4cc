package sched

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestAwaitDeadlockOnWorkerSelfAwait(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	self := make(chan *Handle, 1)
	h, _ := s.SubmitFunc(WorkerSafe, "self-await", func(ctx context.Context) (any, error) {
		return (<-self).Await(ctx)
	})
	self <- h

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := h.Await(ctx); !errors.Is(err, ErrDeadlock) {
		t.Fatalf("worker self await: %v", err)
	}
}

// An authoritative task waits on a worker which in turn waits on new
// authoritative work: the drain can never reach it.
func TestAwaitDeadlockAcrossWorkerChain(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var inner atomic.Pointer[Handle]
	outer, _ := s.SubmitFunc(AuthoritativeOnly, "outer", func(context.Context) (any, error) {
		w, err := s.SubmitFunc(WorkerSafe, "lookup", func(context.Context) (any, error) {
			h, err := s.SubmitFunc(AuthoritativeOnly, "inner", value(1))
			if err != nil {
				return nil, err
			}
			inner.Store(h)
			return h.Await(ctx)
		})
		if err != nil {
			return nil, err
		}
		return w.Await(ctx)
	})

	start := time.Now()
	s.Drain(Unlimited())
	if _, err := outer.Await(ctx); !errors.Is(err, ErrDeadlock) {
		t.Fatalf("outer: %v", err)
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("deadlock reported only after %s", took)
	}

	// Whichever side detected it, the inner task still runs on a later drain.
	deadline := time.Now().Add(2 * time.Second)
	for inner.Load() == nil && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	s.Drain(Unlimited())
	h := inner.Load()
	if h == nil {
		t.Fatalf("inner task never submitted")
	}
	if v, err := h.Await(ctx); err != nil || v != 1 {
		t.Fatalf("inner: v=%v err=%v", v, err)
	}
}

func TestAwaitAcrossGoroutinesIsNotADeadlock(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 2})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	release := make(chan struct{})
	slow, _ := s.SubmitFunc(WorkerSafe, "slow", func(context.Context) (any, error) {
		<-release
		return 7, nil
	})
	waiter, _ := s.SubmitFunc(WorkerSafe, "waiter", func(ctx context.Context) (any, error) {
		return slow.Await(ctx)
	})
	time.Sleep(10 * time.Millisecond)
	close(release)
	if v, err := waiter.Await(ctx); err != nil || v != 7 {
		t.Fatalf("waiter: v=%v err=%v", v, err)
	}
}
