package host

import (
	"sort"
	"sync"

	"tickbridge.ai/internal/protect"
)

// Plugins is the host's installed plugin set. Capability detection reads it
// through protect.PluginHost.
type Plugins struct {
	mu     sync.RWMutex
	byName map[string]protect.Plugin
}

func NewPlugins() *Plugins {
	return &Plugins{byName: map[string]protect.Plugin{}}
}

// Register installs or replaces a plugin. Replacing only affects providers
// after the next registry reload.
func (p *Plugins) Register(pl protect.Plugin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.byName[pl.Name] = pl
}

func (p *Plugins) Unregister(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byName[name]
	delete(p.byName, name)
	return ok
}

func (p *Plugins) SetEnabled(name string, enabled bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	pl, ok := p.byName[name]
	if !ok {
		return false
	}
	pl.Enabled = enabled
	p.byName[name] = pl
	return true
}

func (p *Plugins) Lookup(name string) (protect.Plugin, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pl, ok := p.byName[name]
	return pl, ok
}

func (p *Plugins) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, 0, len(p.byName))
	for n := range p.byName {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

var _ protect.PluginHost = (*Plugins)(nil)
