package sched

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tickbridge.ai/internal/telemetry"
)

// Config tunes a Scheduler. Zero values pick the defaults.
type Config struct {
	// Workers bounds the WorkerSafe pool; defaults to runtime.NumCPU().
	Workers int
	// StarvationTicks is the number of consecutive budget-exhausted drains
	// with a non-shrinking backlog before a backpressure warning is logged.
	StarvationTicks int
	// WarnInterval rate-limits backpressure warnings.
	WarnInterval time.Duration
	// FailureSink receives failed tasks and double resolutions (optional).
	FailureSink FailureSink
	// Instruments receives OpenTelemetry measurements (optional).
	Instruments *telemetry.Instruments
}

// Failure is one journaled task failure.
type Failure struct {
	Seq   uint64    `json:"seq"`
	Name  string    `json:"name"`
	Kind  Kind      `json:"kind"`
	Error string    `json:"error"`
	Panic bool      `json:"panic,omitempty"`
	At    time.Time `json:"at"`
}

type FailureSink interface {
	RecordFailure(f Failure) error
}

// Scheduler accepts tasks from any goroutine. WorkerSafe tasks run on a
// bounded pool; AuthoritativeOnly tasks wait in a single FIFO queue that
// only Drain consumes.
type Scheduler struct {
	cfg  Config
	log  *log.Logger
	inst *telemetry.Instruments

	ctx    context.Context
	cancel context.CancelFunc

	// seq is the single sequence allocation point. AuthoritativeOnly
	// sequence numbers are taken while holding qmu so queue order == seq order.
	seq atomic.Uint64

	qmu    sync.Mutex
	queue  []*Handle
	closed atomic.Bool

	wmu     sync.Mutex
	wcond   *sync.Cond
	wqueue  []*Handle
	wclosed bool
	wg      sync.WaitGroup

	authID atomic.Uint64

	// waiting maps a goroutine id to the handle it is blocked in Await on.
	waitMu  sync.Mutex
	waiting map[uint64]*Handle

	warn *rate.Limiter

	stats counters
}

func New(cfg Config, logger *log.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.StarvationTicks <= 0 {
		cfg.StarvationTicks = 20
	}
	if cfg.WarnInterval <= 0 {
		cfg.WarnInterval = 10 * time.Second
	}
	if logger == nil {
		logger = log.Default()
	}
	inst := cfg.Instruments
	if inst == nil {
		inst = telemetry.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cfg:    cfg,
		log:    logger,
		inst:   inst,
		ctx:    ctx,
		cancel: cancel,
		warn:   rate.NewLimiter(rate.Every(cfg.WarnInterval), 1),

		waiting: make(map[uint64]*Handle),
	}
	s.wcond = sync.NewCond(&s.wmu)
	for i := 0; i < cfg.Workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.worker()
		}()
	}
	return s
}

// Submit hands a task to the scheduler. It never blocks. Malformed tasks
// are rejected here with ErrInvalidTask instead of through a handle.
func (s *Scheduler) Submit(t Task) (*Handle, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, ErrClosed
	}
	switch t.Kind {
	case AuthoritativeOnly:
		s.qmu.Lock()
		if s.closed.Load() {
			s.qmu.Unlock()
			return nil, ErrClosed
		}
		h := newHandle(s, s.seq.Add(1), t)
		s.queue = append(s.queue, h)
		s.qmu.Unlock()
		s.stats.submitted(t.Kind)
		s.inst.TaskSubmitted(s.ctx, string(t.Kind))
		return h, nil
	default:
		h := newHandle(s, s.seq.Add(1), t)
		s.wmu.Lock()
		if s.wclosed {
			s.wmu.Unlock()
			return nil, ErrClosed
		}
		s.wqueue = append(s.wqueue, h)
		s.wmu.Unlock()
		s.wcond.Signal()
		s.stats.submitted(t.Kind)
		s.inst.TaskSubmitted(s.ctx, string(t.Kind))
		return h, nil
	}
}

// SubmitFunc is shorthand for Submit(Task{...}).
func (s *Scheduler) SubmitFunc(kind Kind, name string, fn Func) (*Handle, error) {
	return s.Submit(Task{Kind: kind, Name: name, Fn: fn})
}

// BindAuthoritative marks the calling goroutine as the authoritative one.
// Binding again from the same goroutine is a no-op.
func (s *Scheduler) BindAuthoritative() error {
	id := goroutineID()
	if s.authID.CompareAndSwap(0, id) || s.authID.Load() == id {
		return nil
	}
	return fmt.Errorf("%w: bound to goroutine %d, caller is %d", ErrNotAuthoritative, s.authID.Load(), id)
}

// IsAuthoritative reports whether the caller runs on the bound
// authoritative goroutine.
func (s *Scheduler) IsAuthoritative() bool {
	id := s.authID.Load()
	return id != 0 && id == goroutineID()
}

// QueueLen is the number of AuthoritativeOnly tasks waiting for a drain,
// cancelled ones included until a drain skips them.
func (s *Scheduler) QueueLen() int {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	return len(s.queue)
}

// Close stops accepting work and waits (bounded by ctx) for workers to
// finish what they already hold. Queued AuthoritativeOnly tasks that were
// not drained resolve with ErrClosed.
func (s *Scheduler) Close(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.wmu.Lock()
	s.wclosed = true
	s.wmu.Unlock()
	s.wcond.Broadcast()

	s.qmu.Lock()
	left := s.queue
	s.queue = nil
	s.qmu.Unlock()
	for _, h := range left {
		if h.start() {
			s.finish(h, nil, ErrClosed)
		}
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		return ctx.Err()
	}
}

func (s *Scheduler) worker() {
	for {
		s.wmu.Lock()
		for len(s.wqueue) == 0 && !s.wclosed {
			s.wcond.Wait()
		}
		if len(s.wqueue) == 0 {
			s.wmu.Unlock()
			return
		}
		h := s.wqueue[0]
		s.wqueue[0] = nil
		s.wqueue = s.wqueue[1:]
		s.wmu.Unlock()

		if !h.start() {
			continue
		}
		s.stats.inflight.Add(1)
		s.execute(h)
		s.stats.inflight.Add(-1)
	}
}

// execute runs a claimed task and resolves its handle. Payload errors and
// panics are captured as *TaskError and never escape.
func (s *Scheduler) execute(h *Handle) {
	v, err := s.invoke(h)
	s.finish(h, v, err)
}

func (s *Scheduler) invoke(h *Handle) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v = nil
			err = &TaskError{Seq: h.seq, Name: h.name, Kind: h.kind, Panic: r}
		}
	}()
	v, err = h.fn(s.ctx)
	if err != nil {
		err = &TaskError{Seq: h.seq, Name: h.name, Kind: h.kind, Cause: err}
	}
	return v, err
}

func (s *Scheduler) finish(h *Handle, v any, err error) {
	if rerr := s.resolve(h, Outcome{Value: v, Err: err}); rerr != nil {
		return
	}
	var te *TaskError
	switch {
	case err == nil:
		s.stats.executed(h.kind)
		s.inst.TaskCompleted(s.ctx, string(h.kind), "ok")
	case errors.As(err, &te):
		s.stats.failed(h.kind)
		s.inst.TaskCompleted(s.ctx, string(h.kind), "failed")
		s.recordFailure(Failure{Seq: h.seq, Name: h.name, Kind: h.kind, Error: err.Error(), Panic: te.Panic != nil})
	default:
		s.inst.TaskCompleted(s.ctx, string(h.kind), "closed")
	}
}

// resolve is the only writer of handle outcomes. A second resolution is
// rejected and journaled; the first outcome stands.
func (s *Scheduler) resolve(h *Handle, o Outcome) error {
	if err := h.resolve(o); err != nil {
		s.log.Printf("double resolution rejected: task=%d name=%s", h.seq, h.name)
		s.recordFailure(Failure{Seq: h.seq, Name: h.name, Kind: h.kind, Error: err.Error()})
		return err
	}
	return nil
}

func (s *Scheduler) noteCancelled(h *Handle) {
	s.stats.cancelled(h.kind)
	s.inst.TaskCompleted(s.ctx, string(h.kind), "cancelled")
}

func (s *Scheduler) recordFailure(f Failure) {
	if s.cfg.FailureSink == nil {
		return
	}
	if f.At.IsZero() {
		f.At = time.Now().UTC()
	}
	if err := s.cfg.FailureSink.RecordFailure(f); err != nil {
		s.log.Printf("failure journal: %v", err)
	}
}
