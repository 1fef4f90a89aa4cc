package adapters

import (
	"context"

	"github.com/google/uuid"

	"tickbridge.ai/internal/protect"
)

// RegionState is the result of a WorldGuard state-flag test. The empty
// state means no region sets the flag.
type RegionState string

const (
	StateAllow RegionState = "ALLOW"
	StateDeny  RegionState = "DENY"
)

type WorldGuardAPI interface {
	// TestState evaluates a state flag at the position for the actor
	// (uuid.Nil for the environment).
	TestState(ctx context.Context, world string, x, y, z int, actor uuid.UUID, flag string) (RegionState, error)
}

var worldGuardFlags = map[protect.Action]string{
	protect.ActionExplode: "tnt",
	protect.ActionBuild:   "block-place",
	protect.ActionBreak:   "block-break",
}

type worldGuard struct{ base }

func NewWorldGuard() protect.Adapter {
	return worldGuard{newBase(protect.WorldGuard, "WorldGuard", ">= 7.0.0, < 8.0.0")}
}

func (a worldGuard) Probe(host protect.PluginHost) (protect.Checker, string, error) {
	api, v, err := lookup[WorldGuardAPI](a.base, host)
	if err != nil {
		return nil, v, err
	}
	return worldGuardChecker{api: api}, v, nil
}

type worldGuardChecker struct{ api WorldGuardAPI }

// Check blocks only on an explicit non-ALLOW state.
func (c worldGuardChecker) Check(ctx context.Context, q protect.Query) (bool, error) {
	st, err := c.api.TestState(ctx, q.World, q.Pos.X, q.Pos.Y, q.Pos.Z, q.Actor, worldGuardFlags[q.Action])
	if err != nil {
		return false, err
	}
	return st != "" && st != StateAllow, nil
}
