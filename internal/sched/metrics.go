package sched

import "sync/atomic"

type kindCounters struct {
	Submitted atomic.Uint64
	Executed  atomic.Uint64
	Failed    atomic.Uint64
	Cancelled atomic.Uint64
}

type counters struct {
	authoritative kindCounters
	worker        kindCounters

	inflight      atomic.Int64
	starved       atomic.Int64
	lastRemaining atomic.Int64
	lastDrain     atomic.Pointer[DrainReport]
}

func (c *counters) of(k Kind) *kindCounters {
	if k == AuthoritativeOnly {
		return &c.authoritative
	}
	return &c.worker
}

func (c *counters) submitted(k Kind) { c.of(k).Submitted.Add(1) }
func (c *counters) executed(k Kind)  { c.of(k).Executed.Add(1) }
func (c *counters) failed(k Kind)    { c.of(k).Failed.Add(1) }
func (c *counters) cancelled(k Kind) { c.of(k).Cancelled.Add(1) }

// KindMetrics are lifetime counters for one task kind.
type KindMetrics struct {
	Submitted uint64 `json:"submitted"`
	Executed  uint64 `json:"executed"`
	Failed    uint64 `json:"failed"`
	Cancelled uint64 `json:"cancelled"`
}

// Metrics is a point-in-time view safe to read from any goroutine.
type Metrics struct {
	Authoritative KindMetrics `json:"authoritative"`
	Worker        KindMetrics `json:"worker"`

	QueueDepth     int         `json:"queue_depth"`
	WorkerInflight int64       `json:"worker_inflight"`
	Workers        int         `json:"workers"`
	StarvedTicks   int64       `json:"starved_ticks"`
	LastDrain      DrainReport `json:"last_drain"`
}

func (k *kindCounters) snapshot() KindMetrics {
	return KindMetrics{
		Submitted: k.Submitted.Load(),
		Executed:  k.Executed.Load(),
		Failed:    k.Failed.Load(),
		Cancelled: k.Cancelled.Load(),
	}
}

func (s *Scheduler) Metrics() Metrics {
	if s == nil {
		return Metrics{}
	}
	m := Metrics{
		Authoritative:  s.stats.authoritative.snapshot(),
		Worker:         s.stats.worker.snapshot(),
		QueueDepth:     s.QueueLen(),
		WorkerInflight: s.stats.inflight.Load(),
		Workers:        s.cfg.Workers,
		StarvedTicks:   s.stats.starved.Load(),
	}
	if d := s.stats.lastDrain.Load(); d != nil {
		m.LastDrain = *d
	}
	return m
}
