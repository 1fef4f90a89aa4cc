package protect

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
)

// Status is the detection outcome of one provider.
type Status string

const (
	StatusAvailable    Status = "AVAILABLE"
	StatusIncompatible Status = "INCOMPATIBLE"
	StatusAbsent       Status = "ABSENT"
	StatusDisabled     Status = "DISABLED"
	StatusProbeFailed  Status = "PROBE_FAILED"
)

// Descriptor is the immutable detection record of one provider.
type Descriptor struct {
	Kind    ProviderKind `json:"kind"`
	Status  Status       `json:"status"`
	Version string       `json:"version,omitempty"`
	Reason  string       `json:"reason,omitempty"`

	checker Checker
}

func (d Descriptor) ID() string      { return string(d.Kind) }
func (d Descriptor) Available() bool { return d.Status == StatusAvailable && d.checker != nil }

type registrySnapshot struct {
	gen         uint64
	descriptors []Descriptor
	active      []Descriptor
}

// Registry holds the detected providers. Detect builds a complete new
// snapshot and publishes it with a single atomic store, so readers never
// see a partially rebuilt registry.
type Registry struct {
	adapters []Adapter
	log      *log.Logger

	mu   sync.Mutex // serialises Detect/Reload
	snap atomic.Pointer[registrySnapshot]
}

func NewRegistry(adapters []Adapter, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	r := &Registry{adapters: adapters, log: logger}
	r.snap.Store(&registrySnapshot{})
	return r
}

// Detect probes every adapter once. A failing or panicking probe only
// affects its own descriptor. enabled filters which providers may be probed
// (empty means all).
func (r *Registry) Detect(host PluginHost, enabled []string) []Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()

	allow := map[ProviderKind]bool{}
	for _, name := range enabled {
		if k, ok := ParseProviderKind(name); ok {
			allow[k] = true
		}
	}

	next := &registrySnapshot{gen: r.snap.Load().gen + 1}
	for _, a := range r.adapters {
		d := Descriptor{Kind: a.Kind()}
		if len(enabled) > 0 && !allow[d.Kind] {
			d.Status = StatusDisabled
			d.Reason = "not in enabled_providers"
		} else {
			d = probe(a, host)
		}
		next.descriptors = append(next.descriptors, d)
		if d.Available() {
			next.active = append(next.active, d)
		}
	}
	r.snap.Store(next)
	r.logSummary(next)
	return r.Snapshot()
}

// Reload re-runs detection; it is the only way availability changes.
func (r *Registry) Reload(host PluginHost, enabled []string) []Descriptor {
	r.log.Printf("reloading provider registry")
	return r.Detect(host, enabled)
}

func probe(a Adapter, host PluginHost) (d Descriptor) {
	d.Kind = a.Kind()
	defer func() {
		if rec := recover(); rec != nil {
			d = Descriptor{Kind: a.Kind(), Status: StatusProbeFailed, Reason: fmt.Sprintf("probe panicked: %v", rec)}
		}
	}()
	c, version, err := a.Probe(host)
	d.Version = version
	switch {
	case err == nil && c != nil:
		d.Status = StatusAvailable
		d.checker = c
	case err == nil:
		d.Status = StatusProbeFailed
		d.Reason = "probe returned no checker"
	case errors.Is(err, ErrProviderUnavailable):
		d.Status = StatusAbsent
		d.Reason = err.Error()
	case errors.Is(err, ErrIncompatible):
		d.Status = StatusIncompatible
		d.Reason = err.Error()
	default:
		d.Status = StatusProbeFailed
		d.Reason = err.Error()
	}
	return d
}

func (r *Registry) logSummary(s *registrySnapshot) {
	var b strings.Builder
	fmt.Fprintf(&b, "land protection providers (generation %d):", s.gen)
	for _, d := range s.descriptors {
		fmt.Fprintf(&b, "\n  - %s: %s", d.Kind, d.Status)
		if d.Version != "" {
			fmt.Fprintf(&b, " v%s", d.Version)
		}
		if d.Reason != "" && d.Status != StatusAbsent {
			fmt.Fprintf(&b, " (%s)", d.Reason)
		}
	}
	if len(s.active) == 0 {
		b.WriteString("\n  no active providers: every location is unprotected")
	}
	r.log.Print(b.String())
}

// Snapshot returns every descriptor in registration order.
func (r *Registry) Snapshot() []Descriptor {
	return append([]Descriptor(nil), r.snap.Load().descriptors...)
}

// Active returns the available providers in registration order.
func (r *Registry) Active() []Descriptor {
	return append([]Descriptor(nil), r.snap.Load().active...)
}

func (r *Registry) Lookup(k ProviderKind) (Descriptor, bool) {
	for _, d := range r.snap.Load().descriptors {
		if d.Kind == k {
			return d, true
		}
	}
	return Descriptor{}, false
}

// Generation increases with every Detect/Reload.
func (r *Registry) Generation() uint64 { return r.snap.Load().gen }

func (r *Registry) current() *registrySnapshot { return r.snap.Load() }
