package protect

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"tickbridge.ai/internal/sched"
)

type memSink struct{ got []Decision }

func (m *memSink) RecordDecision(d Decision) error {
	m.got = append(m.got, d)
	return nil
}

func newTestFacade(t *testing.T, adapters []Adapter, host PluginHost, cfg FacadeConfig) (*Facade, *Registry) {
	t.Helper()
	s := sched.New(sched.Config{Workers: 2}, quietLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Close(ctx)
	})
	reg := NewRegistry(adapters, quietLogger())
	reg.Detect(host, nil)
	return NewFacade(reg, s, cfg, quietLogger()), reg
}

func everything() stubHost {
	h := stubHost{}
	for _, k := range Kinds() {
		h[string(k)] = Plugin{Name: string(k), Version: "1.0.0", Enabled: true}
	}
	return h
}

func TestNoProvidersMeansNotBlocked(t *testing.T) {
	f, _ := newTestFacade(t, nil, stubHost{}, FacadeConfig{})
	a, err := f.IsBlockedSync(context.Background(), Query{World: "w"})
	if err != nil {
		t.Fatalf("IsBlockedSync: %v", err)
	}
	if a.Blocked || len(a.Consulted) != 0 {
		t.Fatalf("answer=%+v", a)
	}
}

func TestFirstBlockerShortCircuits(t *testing.T) {
	var lateCalls atomic.Int32
	late := func(context.Context, Query) (bool, error) {
		lateCalls.Add(1)
		return true, nil
	}
	f, _ := newTestFacade(t, []Adapter{
		stubAdapter{kind: Residence, check: allow},
		stubAdapter{kind: Dominion, check: deny},
		stubAdapter{kind: WorldGuard, check: late},
	}, everything(), FacadeConfig{})

	a, err := f.IsBlockedSync(context.Background(), Query{World: "w", Pos: BlockPos{X: 1, Y: 2, Z: 3}})
	if err != nil {
		t.Fatalf("IsBlockedSync: %v", err)
	}
	if !a.Blocked || a.BlockedBy != string(Dominion) {
		t.Fatalf("answer=%+v want blocked by Dominion", a)
	}
	if len(a.Consulted) != 2 {
		t.Fatalf("consulted=%v", a.Consulted)
	}
	if lateCalls.Load() != 0 {
		t.Fatalf("provider after the blocker was consulted")
	}
}

func TestSlowProviderIsAbandoned(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	hung := func(context.Context, Query) (bool, error) {
		<-release
		return true, nil
	}
	f, _ := newTestFacade(t, []Adapter{
		stubAdapter{kind: Residence, check: hung},
		stubAdapter{kind: Dominion, check: allow},
	}, everything(), FacadeConfig{ProviderTimeout: 20 * time.Millisecond})

	start := time.Now()
	a, err := f.IsBlockedSync(context.Background(), Query{World: "w"})
	if err != nil {
		t.Fatalf("IsBlockedSync: %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("query waited for the hung provider")
	}
	if a.Blocked {
		t.Fatalf("timed-out provider must not block")
	}
	if len(a.TimedOut) != 1 || a.TimedOut[0] != string(Residence) {
		t.Fatalf("timed out=%v", a.TimedOut)
	}
}

func TestFailingProvidersFailOpen(t *testing.T) {
	f, _ := newTestFacade(t, []Adapter{
		stubAdapter{kind: Residence, check: func(context.Context, Query) (bool, error) { return true, errors.New("db gone") }},
		stubAdapter{kind: Dominion, check: func(context.Context, Query) (bool, error) { panic("npe") }},
	}, everything(), FacadeConfig{})

	a, err := f.IsBlockedSync(context.Background(), Query{World: "w"})
	if err != nil {
		t.Fatalf("IsBlockedSync: %v", err)
	}
	if a.Blocked || len(a.Failed) != 2 {
		t.Fatalf("answer=%+v", a)
	}
}

func TestCacheOnlyForEnvironmentQueries(t *testing.T) {
	var calls atomic.Int32
	counting := func(context.Context, Query) (bool, error) {
		calls.Add(1)
		return true, nil
	}
	sink := &memSink{}
	f, reg := newTestFacade(t, []Adapter{stubAdapter{kind: Lands, check: counting}}, everything(),
		FacadeConfig{CacheTTL: time.Minute, CacheSize: 10, DecisionSink: sink})
	ctx := context.Background()
	q := Query{World: "w", Pos: BlockPos{X: 5, Y: 6, Z: 7}}

	a1 := f.Evaluate(ctx, q)
	a2 := f.Evaluate(ctx, q)
	if calls.Load() != 1 {
		t.Fatalf("provider calls=%d want 1", calls.Load())
	}
	if a1.Cached || !a2.Cached || !a2.Blocked {
		t.Fatalf("a1=%+v a2=%+v", a1, a2)
	}

	withActor := q
	withActor.Actor = uuid.New()
	f.Evaluate(ctx, withActor)
	f.Evaluate(ctx, withActor)
	if calls.Load() != 3 {
		t.Fatalf("actor queries must bypass the cache; calls=%d", calls.Load())
	}

	reg.Reload(everything(), nil)
	if a := f.Evaluate(ctx, q); a.Cached {
		t.Fatalf("cache survived a registry reload")
	}
	if calls.Load() != 4 {
		t.Fatalf("calls=%d want 4", calls.Load())
	}
	// cached answers are not journaled again
	if len(sink.got) != 4 {
		t.Fatalf("decisions=%d want 4", len(sink.got))
	}
	if sink.got[2].Actor != withActor.Actor.String() {
		t.Fatalf("decision actor=%q", sink.got[2].Actor)
	}
}

func TestAnswerCacheSweepsWhenFull(t *testing.T) {
	c := newAnswerCache(time.Second, 2)
	now := time.Unix(100, 0)
	c.put("a", 1, Answer{}, now)
	c.put("b", 1, Answer{}, now)
	c.put("c", 1, Answer{}, now)
	if c.len() != 2 {
		t.Fatalf("len=%d want 2 (full cache with live entries refuses)", c.len())
	}
	later := now.Add(2 * time.Second)
	c.put("c", 1, Answer{Blocked: true}, later)
	if c.len() != 1 {
		t.Fatalf("len=%d want 1 after sweep", c.len())
	}
	if a, ok := c.get("c", 1, later); !ok || !a.Blocked {
		t.Fatalf("get c: %+v %v", a, ok)
	}
	if _, ok := c.get("c", 2, later); ok {
		t.Fatalf("stale generation served")
	}
	if newAnswerCache(0, 10) != nil {
		t.Fatalf("zero ttl should disable the cache")
	}
}

func TestCachedAnswersDoNotShareLists(t *testing.T) {
	c := newAnswerCache(time.Second, 4)
	now := time.Unix(100, 0)
	orig := Answer{Consulted: make([]string, 1, 8), Failed: []string{"Lands"}}
	orig.Consulted[0] = "Residence"
	c.put("k", 1, orig, now)
	orig.Failed[0] = "mutated"

	first, _ := c.get("k", 1, now)
	first.Consulted = append(first.Consulted, "appended")
	first.Failed[0] = "mutated"

	second, ok := c.get("k", 1, now)
	if !ok || len(second.Consulted) != 1 || second.Failed[0] != "Lands" {
		t.Fatalf("cached answer aliased: %+v", second)
	}
	if cap(first.Consulted) > 0 && &first.Consulted[0] == &second.Consulted[0] {
		t.Fatalf("hits share a backing array")
	}
}
