package protect

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrProviderUnavailable marks a provider whose plugin is not installed
	// or not enabled. It only shows up in the registry; queries skip it.
	ErrProviderUnavailable = errors.New("protect: provider unavailable")
	// ErrIncompatible marks a provider that is installed in a version or
	// shape this build cannot talk to.
	ErrIncompatible = errors.New("protect: provider incompatible")
	// ErrProviderTimeout is recorded when a provider misses its deadline.
	ErrProviderTimeout = errors.New("protect: provider timed out")
	// ErrProviderFailed is recorded when a provider returns an error or panics.
	ErrProviderFailed = errors.New("protect: provider failed")
)

// ProviderKind is the closed set of land-protection integrations, listed in
// registration (query) order.
type ProviderKind string

const (
	Residence  ProviderKind = "Residence"
	Dominion   ProviderKind = "Dominion"
	WorldGuard ProviderKind = "WorldGuard"
	Lands      ProviderKind = "Lands"
	KariClaims ProviderKind = "KariClaims"
)

// Kinds returns every known provider in registration order.
func Kinds() []ProviderKind {
	return []ProviderKind{Residence, Dominion, WorldGuard, Lands, KariClaims}
}

// ParseProviderKind matches a configured provider name case-insensitively.
func ParseProviderKind(name string) (ProviderKind, bool) {
	name = strings.TrimSpace(name)
	for _, k := range Kinds() {
		if strings.EqualFold(string(k), name) {
			return k, true
		}
	}
	return "", false
}

// Action is what the actor (or the environment) is about to do at a position.
type Action string

const (
	ActionExplode Action = "EXPLODE"
	ActionBuild   Action = "BUILD"
	ActionBreak   Action = "BREAK"
)

// ParseAction accepts an action name in any case.
func ParseAction(s string) (Action, bool) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionExplode, ActionBuild, ActionBreak:
		return a, true
	}
	return "", false
}

type BlockPos struct{ X, Y, Z int }

func (p BlockPos) ChunkX() int { return p.X >> 4 }
func (p BlockPos) ChunkZ() int { return p.Z >> 4 }

func (p BlockPos) String() string { return fmt.Sprintf("%d,%d,%d", p.X, p.Y, p.Z) }

// Query asks whether Action at World/Pos is blocked for Actor. A nil Actor
// is the environment (explosions, fire).
type Query struct {
	World  string
	Pos    BlockPos
	Actor  uuid.UUID
	Action Action
}

func (q Query) normalized() Query {
	if q.Action == "" {
		q.Action = ActionExplode
	}
	return q
}

// Checker answers queries for one available provider. Implementations may
// block on I/O and should honor ctx.
type Checker interface {
	Check(ctx context.Context, q Query) (blocked bool, err error)
}

// Plugin is one entry in the host's registered plugin set.
type Plugin struct {
	Name    string
	Version string
	Enabled bool
	API     any
}

// PluginHost is the host's plugin registry as seen by detection.
type PluginHost interface {
	Lookup(name string) (Plugin, bool)
}

// Adapter detects one provider kind and binds its checker.
type Adapter interface {
	Kind() ProviderKind
	Probe(host PluginHost) (c Checker, version string, err error)
}
