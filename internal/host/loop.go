package host

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tickbridge.ai/internal/sched"
)

// DrainPhase places the barrier relative to the world step.
type DrainPhase string

const (
	BeforeStep DrainPhase = "before_step"
	AfterStep  DrainPhase = "after_step"
)

func ParseDrainPhase(s string) (DrainPhase, error) {
	switch DrainPhase(strings.ToLower(strings.TrimSpace(s))) {
	case BeforeStep, "":
		return BeforeStep, nil
	case AfterStep:
		return AfterStep, nil
	}
	return "", fmt.Errorf("host: unknown drain phase %q", s)
}

type LoopConfig struct {
	TickRateHz int
	Budget     sched.Budget
	Phase      DrainPhase
}

// TickReport is published after every tick.
type TickReport struct {
	Tick  uint64
	Drain sched.DrainReport
	Step  StepStats
	Took  time.Duration
}

// Loop is the host's authoritative tick loop. The goroutine running Run is
// the only one that drains the barrier and steps the world.
type Loop struct {
	cfg   LoopConfig
	sched *sched.Scheduler
	world *World
	log   *log.Logger

	tick     atomic.Uint64
	stop     chan struct{}
	stopOnce sync.Once

	hmu   sync.Mutex
	hooks []func(TickReport)
}

func NewLoop(cfg LoopConfig, s *sched.Scheduler, w *World, logger *log.Logger) *Loop {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if cfg.Phase == "" {
		cfg.Phase = BeforeStep
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Loop{cfg: cfg, sched: s, world: w, log: logger, stop: make(chan struct{})}
}

// OnTick registers a callback run on the tick goroutine after each tick.
// Callbacks must not block.
func (l *Loop) OnTick(fn func(TickReport)) {
	l.hmu.Lock()
	l.hooks = append(l.hooks, fn)
	l.hmu.Unlock()
}

func (l *Loop) CurrentTick() uint64 { return l.tick.Load() }

// Resume sets the next tick number, e.g. after restoring a snapshot. Call
// it before Run.
func (l *Loop) Resume(next uint64) { l.tick.Store(next) }
func (l *Loop) Config() LoopConfig  { return l.cfg }

func (l *Loop) Stop() { l.stopOnce.Do(func() { close(l.stop) }) }

// Run ticks until ctx is done or Stop is called, then drains whatever
// authoritative work is still queued.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.sched.BindAuthoritative(); err != nil {
		return err
	}
	interval := time.Second / time.Duration(l.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	l.log.Printf("tick loop started: %d Hz, budget %s, drain %s", l.cfg.TickRateHz, l.cfg.Budget, l.cfg.Phase)
	for {
		select {
		case <-ctx.Done():
			l.shutdownDrain()
			return ctx.Err()
		case <-l.stop:
			l.shutdownDrain()
			return nil
		case <-ticker.C:
			rep := l.Step()
			if rep.Took > interval {
				l.log.Printf("tick %d overran: took %s (drain %s, %d left)", rep.Tick, rep.Took, rep.Drain.Elapsed, rep.Drain.Remaining)
			}
		}
	}
}

// Step runs one tick on the calling goroutine, which must be the
// authoritative one.
func (l *Loop) Step() TickReport {
	start := time.Now()
	tick := l.tick.Load()
	var rep TickReport
	rep.Tick = tick
	if l.cfg.Phase == BeforeStep {
		rep.Drain = l.sched.Drain(l.cfg.Budget)
		rep.Step = l.world.Step(tick)
	} else {
		rep.Step = l.world.Step(tick)
		rep.Drain = l.sched.Drain(l.cfg.Budget)
	}
	rep.Took = time.Since(start)
	l.tick.Add(1)

	l.hmu.Lock()
	hooks := l.hooks
	l.hmu.Unlock()
	for _, fn := range hooks {
		fn(rep)
	}
	return rep
}

func (l *Loop) shutdownDrain() {
	rep := l.sched.Drain(sched.Unlimited())
	if rep.Executed+rep.Failed+rep.Cancelled > 0 {
		l.log.Printf("shutdown drain: executed=%d failed=%d cancelled=%d", rep.Executed, rep.Failed, rep.Cancelled)
	}
}
