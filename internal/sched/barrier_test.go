package sched

import (
	"bytes"
	"context"
	"log"
	"strings"
	"testing"
	"time"
)

func TestDrainRespectsTaskBudget(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	var ran []int
	for i := 0; i < 5; i++ {
		i := i
		s.SubmitFunc(AuthoritativeOnly, "n", func(context.Context) (any, error) {
			ran = append(ran, i)
			return nil, nil
		})
	}

	rep := s.Drain(TaskBudget(2))
	if rep.Executed != 2 || rep.Remaining != 3 || !rep.Exhausted {
		t.Fatalf("first drain=%+v", rep)
	}
	// New work queues behind the leftovers.
	s.SubmitFunc(AuthoritativeOnly, "n", func(context.Context) (any, error) {
		ran = append(ran, 99)
		return nil, nil
	})
	rep = s.Drain(TaskBudget(10))
	if rep.Executed != 4 || rep.Remaining != 0 || rep.Exhausted {
		t.Fatalf("second drain=%+v", rep)
	}
	want := []int{0, 1, 2, 3, 4, 99}
	for i := range want {
		if ran[i] != want[i] {
			t.Fatalf("order=%v want %v", ran, want)
		}
	}
}

func TestZeroTaskBudgetDequeuesNothing(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	s.SubmitFunc(AuthoritativeOnly, "n", value(1))
	for _, b := range []Budget{TaskBudget(0), {MaxTasks: -7}} {
		rep := s.Drain(b)
		if rep.Executed != 0 || rep.Remaining != 1 || !rep.Exhausted {
			t.Fatalf("budget %s: report=%+v", b, rep)
		}
	}
	if s.QueueLen() != 1 {
		t.Fatalf("queue=%d", s.QueueLen())
	}
}

func TestDrainStopsOnTimeBudgetBetweenTasks(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	for i := 0; i < 10; i++ {
		s.SubmitFunc(AuthoritativeOnly, "slow", func(context.Context) (any, error) {
			time.Sleep(5 * time.Millisecond)
			return nil, nil
		})
	}
	rep := s.Drain(TimeBudget(12 * time.Millisecond))
	if rep.Executed < 1 || rep.Executed >= 10 {
		t.Fatalf("executed=%d", rep.Executed)
	}
	if rep.Remaining != 10-rep.Executed || !rep.Exhausted {
		t.Fatalf("report=%+v", rep)
	}
}

func TestEmptyDrain(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	rep := s.Drain(TaskBudget(0))
	if rep.Exhausted || rep.Remaining != 0 {
		t.Fatalf("empty queue reported as exhausted: %+v", rep)
	}
}

func TestDrainFromAnotherGoroutinePanics(t *testing.T) {
	s := newTestScheduler(t, Config{Workers: 1})
	s.Drain(Unlimited())

	got := make(chan any, 1)
	go func() {
		defer func() { got <- recover() }()
		s.Drain(Unlimited())
	}()
	r := <-got
	if r == nil || !strings.Contains(r.(string), "authoritative") {
		t.Fatalf("recovered=%v", r)
	}
	if !s.IsAuthoritative() {
		t.Fatalf("binding moved away from the first drainer")
	}
}

func TestStarvationWarning(t *testing.T) {
	var buf bytes.Buffer
	s := New(Config{Workers: 1, StarvationTicks: 3}, log.New(&buf, "", 0))
	defer s.Close(context.Background())

	for tick := 0; tick < 5; tick++ {
		for i := 0; i < 4; i++ {
			s.SubmitFunc(AuthoritativeOnly, "flood", value(i))
		}
		s.Drain(TaskBudget(2))
	}
	if !strings.Contains(buf.String(), "backpressure") {
		t.Fatalf("no backpressure warning, log=%q", buf.String())
	}
	// rate limited: only one warning within the interval
	if n := strings.Count(buf.String(), "backpressure"); n != 1 {
		t.Fatalf("warnings=%d want 1", n)
	}
	m := s.Metrics()
	if m.StarvedTicks != 5 || m.QueueDepth != 10 {
		t.Fatalf("metrics=%+v", m)
	}

	// Draining the backlog resets the streak.
	s.Drain(Unlimited())
	if s.Metrics().StarvedTicks != 0 {
		t.Fatalf("streak not reset")
	}
}

func TestSteadyBacklogIsNotStarvation(t *testing.T) {
	var buf bytes.Buffer
	s := New(Config{Workers: 1, StarvationTicks: 2}, log.New(&buf, "", 0))
	defer s.Close(context.Background())

	for i := 0; i < 4; i++ {
		s.SubmitFunc(AuthoritativeOnly, "backlog", value(i))
	}
	// Arrivals match the drain rate: the backlog stays at 4.
	for tick := 0; tick < 6; tick++ {
		s.SubmitFunc(AuthoritativeOnly, "steady", value(tick))
		s.SubmitFunc(AuthoritativeOnly, "steady", value(tick))
		if rep := s.Drain(TaskBudget(2)); rep.Remaining != 4 || !rep.Exhausted {
			t.Fatalf("tick %d: report=%+v", tick, rep)
		}
	}
	// A zero budget with no arrivals does not grow the backlog either.
	for tick := 0; tick < 4; tick++ {
		s.Drain(TaskBudget(0))
	}
	if m := s.Metrics(); m.StarvedTicks != 0 {
		t.Fatalf("starved ticks=%d", m.StarvedTicks)
	}
	if strings.Contains(buf.String(), "backpressure") {
		t.Fatalf("unexpected warning: %q", buf.String())
	}
}

func TestBudgetString(t *testing.T) {
	if got := Unlimited().String(); got != "tasks=unlimited" {
		t.Fatalf("got %q", got)
	}
	if got := (Budget{MaxTasks: 3, MaxTime: time.Millisecond}).String(); got != "tasks=3 time=1ms" {
		t.Fatalf("got %q", got)
	}
}
