// Package host is a minimal single-writer game host: a tick loop, chunked
// world state, an installed plugin set and the call sites that route world
// access through the scheduler.
package host

import (
	"context"
	"log"

	"github.com/google/uuid"

	"tickbridge.ai/internal/protect"
	"tickbridge.ai/internal/sched"
)

type Host struct {
	Plugins *Plugins
	World   *World
	Sites   *CallSites

	sched  *sched.Scheduler
	facade *protect.Facade
	log    *log.Logger
}

func New(s *sched.Scheduler, plugins *Plugins, facade *protect.Facade, logger *log.Logger) *Host {
	if plugins == nil {
		plugins = NewPlugins()
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Host{
		Plugins: plugins,
		World:   NewWorld(s),
		Sites:   NewCallSites(s),
		sched:   s,
		facade:  facade,
		log:     logger,
	}
}

func (h *Host) SetBlock(ctx context.Context, world string, p protect.BlockPos, id BlockID) (Call, error) {
	return h.Sites.Invoke(ctx, SiteSetBlock, func(context.Context) (any, error) {
		return nil, h.World.SetBlock(world, p, id)
	})
}

func (h *Host) LoadChunk(ctx context.Context, world string, cx, cz int) (Call, error) {
	return h.Sites.Invoke(ctx, SiteLoadChunk, func(context.Context) (any, error) {
		c, err := h.World.LoadChunk(world, cx, cz)
		if err != nil {
			return nil, err
		}
		return c.Key, nil
	})
}

func (h *Host) AdjustItem(ctx context.Context, player uuid.UUID, item string, delta int) (Call, error) {
	return h.Sites.Invoke(ctx, SiteInventoryMutate, func(context.Context) (any, error) {
		return h.World.AdjustItem(player, item, delta)
	})
}

// IsProtected asks the land-protection facade through the
// protection_query call site.
func (h *Host) IsProtected(ctx context.Context, q protect.Query) (Call, error) {
	qctx := context.WithoutCancel(ctx)
	return h.Sites.Invoke(ctx, SiteProtectionQuery, func(context.Context) (any, error) {
		return h.facade.Evaluate(qctx, q), nil
	})
}

// Explosion is the value of an explosion call.
type Explosion struct {
	Answer protect.Answer
	// Apply clears the blocks; nil when the explosion was blocked.
	Apply *sched.Handle
}

// Explode checks protection at the center off the tick, then schedules
// the block removal on the authoritative goroutine if nothing blocks it.
func (h *Host) Explode(ctx context.Context, world string, center protect.BlockPos, radius int) (Call, error) {
	qctx := context.WithoutCancel(ctx)
	return h.Sites.Invoke(ctx, SiteExplosion, func(context.Context) (any, error) {
		ans := h.facade.Evaluate(qctx, protect.Query{World: world, Pos: center, Action: protect.ActionExplode})
		if ans.Blocked {
			h.log.Printf("explosion at %s %s blocked by %s", world, center, ans.BlockedBy)
			return Explosion{Answer: ans}, nil
		}
		apply, err := h.sched.Submit(sched.Task{
			Kind: sched.AuthoritativeOnly,
			Name: "explosion.apply",
			Fn: func(context.Context) (any, error) {
				return h.clearSphere(world, center, radius)
			},
		})
		if err != nil {
			return nil, err
		}
		return Explosion{Answer: ans, Apply: apply}, nil
	})
}

func (h *Host) clearSphere(world string, c protect.BlockPos, r int) (int, error) {
	removed := 0
	for dx := -r; dx <= r; dx++ {
		for dy := -r; dy <= r; dy++ {
			for dz := -r; dz <= r; dz++ {
				if dx*dx+dy*dy+dz*dz > r*r {
					continue
				}
				p := protect.BlockPos{X: c.X + dx, Y: c.Y + dy, Z: c.Z + dz}
				if p.Y < 0 || p.Y >= chunkHeight {
					continue
				}
				id, err := h.World.Block(world, p)
				if err != nil {
					return removed, err
				}
				if id == Air {
					continue
				}
				if err := h.World.SetBlock(world, p, Air); err != nil {
					return removed, err
				}
				removed++
			}
		}
	}
	return removed, nil
}
