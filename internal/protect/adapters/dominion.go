package adapters

import (
	"context"

	"tickbridge.ai/internal/protect"
)

// DominionFlag names the environment and privilege flags of Dominion.
type DominionFlag string

const (
	DominionTNTExplode DominionFlag = "TNT_EXPLODE"
	DominionPlace      DominionFlag = "PLACE"
	DominionBreak      DominionFlag = "BREAK"
)

type DominionAPI interface {
	DominionByLoc(ctx context.Context, world string, x, y, z int) (Dominion, error)
}

type Dominion interface {
	// FlagValue reports whether the flag is allowed in the dominion.
	FlagValue(flag DominionFlag) bool
}

var dominionFlags = map[protect.Action]DominionFlag{
	protect.ActionExplode: DominionTNTExplode,
	protect.ActionBuild:   DominionPlace,
	protect.ActionBreak:   DominionBreak,
}

type dominion struct{ base }

func NewDominion() protect.Adapter {
	return dominion{newBase(protect.Dominion, "Dominion", ">= 3.0.0, < 5.0.0")}
}

func (a dominion) Probe(host protect.PluginHost) (protect.Checker, string, error) {
	api, v, err := lookup[DominionAPI](a.base, host)
	if err != nil {
		return nil, v, err
	}
	return dominionChecker{api: api}, v, nil
}

type dominionChecker struct{ api DominionAPI }

func (c dominionChecker) Check(ctx context.Context, q protect.Query) (bool, error) {
	d, err := c.api.DominionByLoc(ctx, q.World, q.Pos.X, q.Pos.Y, q.Pos.Z)
	if err != nil || absent(d) {
		return false, err
	}
	return !d.FlagValue(dominionFlags[q.Action]), nil
}
