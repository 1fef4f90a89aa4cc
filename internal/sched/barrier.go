package sched

import (
	"fmt"
	"time"
)

// NoTaskLimit disables the task-count part of a Budget.
const NoTaskLimit = -1

// Budget is the per-tick allowance of the barrier. MaxTasks of zero means
// nothing runs this tick; MaxTime of zero disables the time limit. The time
// limit is checked between tasks: a started task always runs to completion.
type Budget struct {
	MaxTasks int
	MaxTime  time.Duration
}

func TaskBudget(n int) Budget           { return Budget{MaxTasks: n} }
func TimeBudget(d time.Duration) Budget { return Budget{MaxTasks: NoTaskLimit, MaxTime: d} }
func Unlimited() Budget                 { return Budget{MaxTasks: NoTaskLimit} }

func (b Budget) String() string {
	tasks := "unlimited"
	if b.MaxTasks >= 0 {
		tasks = fmt.Sprint(b.MaxTasks)
	}
	if b.MaxTime <= 0 {
		return fmt.Sprintf("tasks=%s", tasks)
	}
	return fmt.Sprintf("tasks=%s time=%s", tasks, b.MaxTime)
}

// allowance is the remaining budget within one drain; reset every tick and
// clamped so it never goes negative.
type allowance struct {
	tasks    int
	limited  bool
	deadline time.Time
}

func (b Budget) start(now time.Time) allowance {
	a := allowance{tasks: b.MaxTasks, limited: b.MaxTasks != NoTaskLimit}
	if a.limited && a.tasks < 0 {
		a.tasks = 0
	}
	if b.MaxTime > 0 {
		a.deadline = now.Add(b.MaxTime)
	}
	return a
}

func (a *allowance) exhausted(now time.Time) bool {
	if a.limited && a.tasks <= 0 {
		return true
	}
	return !a.deadline.IsZero() && !now.Before(a.deadline)
}

func (a *allowance) consume() {
	if a.limited && a.tasks > 0 {
		a.tasks--
	}
}

// DrainReport summarises one barrier pass.
type DrainReport struct {
	Executed  int           `json:"executed"`
	Failed    int           `json:"failed"`
	Cancelled int           `json:"cancelled"`
	Remaining int           `json:"remaining"`
	Elapsed   time.Duration `json:"elapsed_ns"`
	Exhausted bool          `json:"exhausted"`
}

// Drain is the tick synchronization barrier. It must be called from the
// authoritative goroutine (the first caller becomes it). Tasks run in FIFO
// order until the queue is empty or the budget is used up; whatever is left
// stays at the head of the same queue for the next tick. A failing task is
// delivered through its handle and never interrupts the drain.
func (s *Scheduler) Drain(b Budget) DrainReport {
	if err := s.BindAuthoritative(); err != nil {
		panic(fmt.Sprintf("sched: Drain off the authoritative goroutine: %v", err))
	}
	start := time.Now()
	left := b.start(start)
	var rep DrainReport
	for {
		if left.exhausted(time.Now()) {
			rep.Exhausted = true
			break
		}
		h := s.pop()
		if h == nil {
			break
		}
		if !h.start() {
			rep.Cancelled++
			continue
		}
		left.consume()
		s.execute(h)
		if o, _ := h.Outcome(); o.Err != nil {
			rep.Failed++
		} else {
			rep.Executed++
		}
	}
	rep.Remaining = s.QueueLen()
	if rep.Remaining == 0 {
		rep.Exhausted = false
	}
	rep.Elapsed = time.Since(start)
	s.observeDrain(rep)
	return rep
}

func (s *Scheduler) pop() *Handle {
	s.qmu.Lock()
	defer s.qmu.Unlock()
	if len(s.queue) == 0 {
		return nil
	}
	h := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	if cap(s.queue) > 1024 && len(s.queue) < cap(s.queue)/4 {
		q := make([]*Handle, len(s.queue), len(s.queue)*2+64)
		copy(q, s.queue)
		s.queue = q
	}
	return h
}

// observeDrain tracks starvation: the budget ran out and the backlog grew,
// so tasks arrive faster than they drain. Nothing is dropped; a warning is
// logged (rate limited) once the streak reaches StarvationTicks.
func (s *Scheduler) observeDrain(rep DrainReport) {
	s.stats.lastDrain.Store(&rep)
	s.inst.DrainObserved(s.ctx, rep.Elapsed, rep.Remaining)

	prev := s.stats.lastRemaining.Swap(int64(rep.Remaining))
	if !rep.Exhausted || int64(rep.Remaining) <= prev {
		s.stats.starved.Store(0)
		return
	}
	n := s.stats.starved.Add(1)
	if int(n) >= s.cfg.StarvationTicks && s.warn.Allow() {
		s.log.Printf("backpressure: authoritative queue starved for %d ticks (backlog=%d, executed=%d last tick)", n, rep.Remaining, rep.Executed+rep.Failed)
	}
}
