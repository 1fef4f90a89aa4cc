package adapters

import (
	"context"
	"time"

	"github.com/google/uuid"

	"tickbridge.ai/internal/protect"
)

// KariClaim is one claimed chunk as reported by the KariClaims store.
type KariClaim struct {
	ID        int64       `json:"id"`
	Owner     uuid.UUID   `json:"owner"`
	World     string      `json:"world"`
	ChunkX    int         `json:"chunk_x"`
	ChunkZ    int         `json:"chunk_z"`
	ClaimedAt time.Time   `json:"claimed_at"`
	TNT       bool        `json:"tnt"`
	Explosion bool        `json:"explosion"`
	Members   []uuid.UUID `json:"members,omitempty"`
}

// Trusted reports whether the actor owns the claim or is a member of it.
func (c *KariClaim) Trusted(actor uuid.UUID) bool {
	if actor == uuid.Nil {
		return false
	}
	if actor == c.Owner {
		return true
	}
	for _, m := range c.Members {
		if m == actor {
			return true
		}
	}
	return false
}

type KariClaimsAPI interface {
	// FindChunkClaimAt returns the claim on the chunk, or nil.
	FindChunkClaimAt(ctx context.Context, world string, chunkX, chunkZ int) (*KariClaim, error)
}

type kariClaims struct{ base }

func NewKariClaims() protect.Adapter {
	return kariClaims{newBase(protect.KariClaims, "KariClaims", ">= 1.0.0")}
}

func (a kariClaims) Probe(host protect.PluginHost) (protect.Checker, string, error) {
	api, v, err := lookup[KariClaimsAPI](a.base, host)
	if err != nil {
		return nil, v, err
	}
	return kariClaimsChecker{api: api}, v, nil
}

type kariClaimsChecker struct{ api KariClaimsAPI }

// Check blocks explosions in a claim unless it allows tnt or explosions.
// Building and breaking are reserved to the owner and members.
func (c kariClaimsChecker) Check(ctx context.Context, q protect.Query) (bool, error) {
	claim, err := c.api.FindChunkClaimAt(ctx, q.World, q.Pos.ChunkX(), q.Pos.ChunkZ())
	if err != nil || claim == nil {
		return false, err
	}
	if q.Action == protect.ActionExplode {
		return !(claim.TNT || claim.Explosion), nil
	}
	return !claim.Trusted(q.Actor), nil
}
