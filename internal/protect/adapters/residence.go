package adapters

import (
	"context"

	"tickbridge.ai/internal/protect"
)

// ResidenceAPI is what the Residence plugin exposes.
type ResidenceAPI interface {
	// ByLoc returns the residence covering the position, or nil (typed nil
	// pointers included).
	ByLoc(ctx context.Context, world string, x, y, z int) (ClaimedResidence, error)
}

type ClaimedResidence interface {
	HasFlag(flag string) bool
}

var residenceFlags = map[protect.Action]string{
	protect.ActionExplode: "tnt",
	protect.ActionBuild:   "build",
	protect.ActionBreak:   "destroy",
}

type residence struct{ base }

func NewResidence() protect.Adapter {
	return residence{newBase(protect.Residence, "Residence", ">= 5.0.0, < 6.0.0")}
}

func (a residence) Probe(host protect.PluginHost) (protect.Checker, string, error) {
	api, v, err := lookup[ResidenceAPI](a.base, host)
	if err != nil {
		return nil, v, err
	}
	return residenceChecker{api: api}, v, nil
}

type residenceChecker struct{ api ResidenceAPI }

// Check blocks inside a residence unless the action's flag is set there.
func (c residenceChecker) Check(ctx context.Context, q protect.Query) (bool, error) {
	res, err := c.api.ByLoc(ctx, q.World, q.Pos.X, q.Pos.Y, q.Pos.Z)
	if err != nil || absent(res) {
		return false, err
	}
	return !res.HasFlag(residenceFlags[q.Action]), nil
}
