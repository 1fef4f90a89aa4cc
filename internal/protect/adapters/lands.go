package adapters

import (
	"context"

	"github.com/google/uuid"

	"tickbridge.ai/internal/protect"
)

type LandsAPI interface {
	// LandByChunk returns the land owning the chunk, or an untyped nil for
	// wilderness. A typed nil pointer is treated as wilderness too.
	LandByChunk(ctx context.Context, world string, chunkX, chunkZ int) (Land, error)
}

type Land interface {
	// HasRoleFlag reports whether the actor's role (the visitor role for
	// uuid.Nil) has the flag. def is returned when the land does not set it.
	HasRoleFlag(actor uuid.UUID, flag string, def bool) bool
}

var landsFlags = map[protect.Action]string{
	protect.ActionExplode: "block_ignite",
	protect.ActionBuild:   "block_place",
	protect.ActionBreak:   "block_break",
}

type lands struct{ base }

func NewLands() protect.Adapter {
	return lands{newBase(protect.Lands, "Lands", ">= 6.0.0, < 8.0.0")}
}

func (a lands) Probe(host protect.PluginHost) (protect.Checker, string, error) {
	api, v, err := lookup[LandsAPI](a.base, host)
	if err != nil {
		return nil, v, err
	}
	return landsChecker{api: api}, v, nil
}

type landsChecker struct{ api LandsAPI }

func (c landsChecker) Check(ctx context.Context, q protect.Query) (bool, error) {
	land, err := c.api.LandByChunk(ctx, q.World, q.Pos.ChunkX(), q.Pos.ChunkZ())
	if err != nil || absent(land) {
		return false, err
	}
	return !land.HasRoleFlag(q.Actor, landsFlags[q.Action], true), nil
}

