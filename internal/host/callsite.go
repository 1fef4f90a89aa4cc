package host

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/agnivade/levenshtein"

	"tickbridge.ai/internal/sched"
)

// Mode decides whether a call site waits for its task.
type Mode string

const (
	Sync  Mode = "sync"
	Async Mode = "async"
)

// Well-known call sites.
const (
	SiteSetBlock        = "set_block"
	SiteLoadChunk       = "load_chunk"
	SiteInventoryMutate = "inventory_mutate"
	SiteProtectionQuery = "protection_query"
	SiteExplosion       = "explosion"
)

// Site is one interception point of the host: the kind of work it produces
// and whether the caller waits for it.
type Site struct {
	Name string
	Kind sched.Kind
	Mode Mode
}

func DefaultSites() map[string]Site {
	return map[string]Site{
		SiteSetBlock:        {Name: SiteSetBlock, Kind: sched.AuthoritativeOnly, Mode: Async},
		SiteLoadChunk:       {Name: SiteLoadChunk, Kind: sched.AuthoritativeOnly, Mode: Async},
		SiteInventoryMutate: {Name: SiteInventoryMutate, Kind: sched.AuthoritativeOnly, Mode: Async},
		SiteProtectionQuery: {Name: SiteProtectionQuery, Kind: sched.WorkerSafe, Mode: Sync},
		SiteExplosion:       {Name: SiteExplosion, Kind: sched.WorkerSafe, Mode: Async},
	}
}

func SiteNames() []string {
	out := make([]string, 0, 8)
	for n := range DefaultSites() {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Suggest returns the candidate closest to name, or "" when nothing is
// plausibly a typo of it.
func Suggest(name string, candidates []string) string {
	best, bestDist := "", len(name)/2+2
	for _, c := range candidates {
		if d := levenshtein.ComputeDistance(name, c); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

// Call is the result of invoking a call site. Value is only set for sync
// sites; async callers observe Handle.
type Call struct {
	Site   Site
	Handle *sched.Handle
	Value  any
}

// CallSites routes host operations through the scheduler according to
// each site's configured mode.
type CallSites struct {
	sched *sched.Scheduler

	mu    sync.RWMutex
	sites map[string]Site
}

func NewCallSites(s *sched.Scheduler) *CallSites {
	return &CallSites{sched: s, sites: DefaultSites()}
}

// Configure overrides site modes by name.
func (c *CallSites) Configure(modes map[string]string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := make(map[string]Site, len(c.sites))
	for k, v := range c.sites {
		next[k] = v
	}
	for name, mode := range modes {
		site, ok := next[name]
		if !ok {
			if s := Suggest(name, SiteNames()); s != "" {
				return fmt.Errorf("host: unknown call site %q (did you mean %q?)", name, s)
			}
			return fmt.Errorf("host: unknown call site %q", name)
		}
		switch Mode(mode) {
		case Sync, Async:
			site.Mode = Mode(mode)
		default:
			return fmt.Errorf("host: call site %s: mode must be sync or async, got %q", name, mode)
		}
		next[name] = site
	}
	c.sites = next
	return nil
}

func (c *CallSites) Site(name string) (Site, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sites[name]
	return s, ok
}

// Invoke submits fn as the site's kind of task. Sync sites wait for the
// outcome under ctx. A sync wait that could only finish after the caller's
// own goroutine moves on (an AuthoritativeOnly site invoked on the tick, or
// a worker waiting on work the blocked tick must run) fails with
// sched.ErrDeadlock; a saturated worker pool is not detected, so give ctx a
// deadline.
func (c *CallSites) Invoke(ctx context.Context, name string, fn sched.Func) (Call, error) {
	site, ok := c.Site(name)
	if !ok {
		return Call{}, fmt.Errorf("host: unknown call site %q", name)
	}
	h, err := c.sched.Submit(sched.Task{Kind: site.Kind, Name: site.Name, Fn: fn})
	if err != nil {
		return Call{Site: site}, err
	}
	call := Call{Site: site, Handle: h}
	if site.Mode == Async {
		return call, nil
	}
	v, err := h.Await(ctx)
	call.Value = v
	return call, err
}
