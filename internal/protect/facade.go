package protect

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"tickbridge.ai/internal/sched"
	"tickbridge.ai/internal/telemetry"
)

type FacadeConfig struct {
	// ProviderTimeout bounds every single provider call.
	ProviderTimeout time.Duration
	// CacheTTL and CacheSize configure the environment-answer cache; zero
	// disables it.
	CacheTTL  time.Duration
	CacheSize int
	// DecisionSink journals every computed answer (optional).
	DecisionSink DecisionSink
	Instruments  *telemetry.Instruments
}

// Facade answers "is this location protected" by asking the active
// providers in registration order. The first provider that blocks wins;
// slow or failing providers are logged and left out (fail-open).
type Facade struct {
	reg   *Registry
	sched *sched.Scheduler
	cfg   FacadeConfig
	log   *log.Logger
	inst  *telemetry.Instruments
	cache *answerCache

	now func() time.Time
}

func NewFacade(reg *Registry, s *sched.Scheduler, cfg FacadeConfig, logger *log.Logger) *Facade {
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = 50 * time.Millisecond
	}
	if logger == nil {
		logger = log.Default()
	}
	inst := cfg.Instruments
	if inst == nil {
		inst = telemetry.Default()
	}
	return &Facade{
		reg:   reg,
		sched: s,
		cfg:   cfg,
		log:   logger,
		inst:  inst,
		cache: newAnswerCache(cfg.CacheTTL, cfg.CacheSize),
		now:   time.Now,
	}
}

// IsBlocked submits the query as a WorkerSafe task, even from the
// authoritative goroutine, because providers may do I/O. The handle
// resolves to an Answer.
func (f *Facade) IsBlocked(ctx context.Context, q Query) (*sched.Handle, error) {
	q = q.normalized()
	qctx := context.WithoutCancel(ctx)
	return f.sched.Submit(sched.Task{
		Kind: sched.WorkerSafe,
		Name: "protect.is_blocked",
		Fn: func(context.Context) (any, error) {
			return f.Evaluate(qctx, q), nil
		},
	})
}

// IsBlockedSync submits and awaits the query. It is safe on the
// authoritative goroutine since the work is WorkerSafe.
func (f *Facade) IsBlockedSync(ctx context.Context, q Query) (Answer, error) {
	h, err := f.IsBlocked(ctx, q)
	if err != nil {
		return Answer{}, err
	}
	v, err := h.Await(ctx)
	if err != nil {
		return Answer{}, err
	}
	a, _ := v.(Answer)
	return a, nil
}

// ClearCache drops every memoised answer.
func (f *Facade) ClearCache() { f.cache.clear() }

// Evaluate runs the provider fan-out on the calling goroutine. Callers that
// might be on the authoritative goroutine should use IsBlocked instead.
func (f *Facade) Evaluate(ctx context.Context, q Query) Answer {
	q = q.normalized()
	start := f.now()
	snap := f.reg.current()

	cacheable := q.Actor == uuid.Nil
	key := cacheKey(q)
	if cacheable {
		if a, ok := f.cache.get(key, snap.gen, start); ok {
			a.Cached = true
			return a
		}
	}

	ctx, span := telemetry.Tracer().Start(ctx, "protect.is_blocked", trace.WithAttributes(
		attribute.String("world", q.World),
		attribute.String("action", string(q.Action)),
		attribute.Int("providers", len(snap.active)),
	))
	defer span.End()

	var ans Answer
	for _, d := range snap.active {
		ans.Consulted = append(ans.Consulted, d.ID())
		blocked, err := f.consult(ctx, d, q)
		switch {
		case errors.Is(err, ErrProviderTimeout):
			f.log.Printf("provider %s timed out after %s at %s %s; excluded", d.ID(), f.cfg.ProviderTimeout, q.World, q.Pos)
			ans.TimedOut = append(ans.TimedOut, d.ID())
		case err != nil:
			f.log.Printf("provider %s failed at %s %s: %v; excluded", d.ID(), q.World, q.Pos, err)
			ans.Failed = append(ans.Failed, d.ID())
		case blocked:
			ans.Blocked = true
			ans.BlockedBy = d.ID()
		}
		if ans.Blocked {
			break
		}
	}
	span.SetAttributes(attribute.Bool("blocked", ans.Blocked), attribute.String("blocked_by", ans.BlockedBy))

	if cacheable && len(ans.TimedOut) == 0 && len(ans.Failed) == 0 {
		f.cache.put(key, snap.gen, ans, f.now())
	}
	f.record(q, ans, time.Since(start))
	return ans
}

// consult calls one provider under its own deadline. A hung provider is
// abandoned when the deadline fires; its goroutine finishes on its own.
func (f *Facade) consult(ctx context.Context, d Descriptor, q Query) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, f.cfg.ProviderTimeout)
	defer cancel()

	type result struct {
		blocked bool
		err     error
	}
	start := time.Now()
	ch := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- result{err: fmt.Errorf("%w: panic: %v", ErrProviderFailed, r)}
			}
		}()
		b, err := d.checker.Check(cctx, q)
		ch <- result{blocked: b, err: err}
	}()

	var r result
	select {
	case r = <-ch:
		if r.err != nil && errors.Is(r.err, context.DeadlineExceeded) {
			r.err = fmt.Errorf("%s: %w", d.ID(), ErrProviderTimeout)
		} else if r.err != nil && !errors.Is(r.err, ErrProviderFailed) {
			r.err = fmt.Errorf("%w: %v", ErrProviderFailed, r.err)
		}
	case <-cctx.Done():
		r.err = fmt.Errorf("%s: %w", d.ID(), ErrProviderTimeout)
	}

	outcome := "allow"
	switch {
	case errors.Is(r.err, ErrProviderTimeout):
		outcome = "timeout"
	case r.err != nil:
		outcome = "error"
	case r.blocked:
		outcome = "block"
	}
	f.inst.ProviderQueried(ctx, d.ID(), outcome, time.Since(start))
	return r.blocked, r.err
}

func (f *Facade) record(q Query, a Answer, took time.Duration) {
	if f.cfg.DecisionSink == nil {
		return
	}
	d := Decision{
		World:  q.World,
		Pos:    [3]int{q.Pos.X, q.Pos.Y, q.Pos.Z},
		Action: q.Action,
		Answer: a,
		TookMS: float64(took.Microseconds()) / 1000.0,
	}
	if q.Actor != uuid.Nil {
		d.Actor = q.Actor.String()
	}
	if err := f.cfg.DecisionSink.RecordDecision(d); err != nil {
		f.log.Printf("decision journal: %v", err)
	}
}
