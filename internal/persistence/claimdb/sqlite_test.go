package claimdb

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"tickbridge.ai/internal/protect"
	"tickbridge.ai/internal/protect/adapters"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "claims.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestClaimRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner, friend := uuid.New(), uuid.New()

	id, err := s.Claim(ctx, owner, "overworld", 3, -2, Flags{TNT: true})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.Claim(ctx, uuid.New(), "overworld", 3, -2, Flags{}); !errors.Is(err, ErrAlreadyClaimed) {
		t.Fatalf("double claim: %v", err)
	}
	if err := s.AddMember(ctx, "overworld", 3, -2, friend); err != nil {
		t.Fatalf("add member: %v", err)
	}

	c, err := s.FindChunkClaimAt(ctx, "overworld", 3, -2)
	if err != nil || c == nil {
		t.Fatalf("find: c=%v err=%v", c, err)
	}
	if c.ID != id || c.Owner != owner || !c.TNT || c.Explosion || c.ClaimedAt.IsZero() {
		t.Fatalf("claim=%+v", c)
	}
	if len(c.Members) != 1 || c.Members[0] != friend {
		t.Fatalf("members=%v", c.Members)
	}

	if err := s.SetFlags(ctx, "overworld", 3, -2, Flags{Explosion: true}); err != nil {
		t.Fatalf("set flags: %v", err)
	}
	c, _ = s.FindChunkClaimAt(ctx, "overworld", 3, -2)
	if c.TNT || !c.Explosion {
		t.Fatalf("flags not updated: %+v", c)
	}

	if c, err := s.FindChunkClaimAt(ctx, "nether", 3, -2); err != nil || c != nil {
		t.Fatalf("other world: c=%v err=%v", c, err)
	}

	if err := s.Unclaim(ctx, "overworld", 3, -2); err != nil {
		t.Fatalf("unclaim: %v", err)
	}
	if err := s.Unclaim(ctx, "overworld", 3, -2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second unclaim: %v", err)
	}
}

func TestListOrdersByWorldAndChunk(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	for _, c := range []struct {
		world string
		x, z  int
	}{{"b", 0, 0}, {"a", 5, 1}, {"a", -1, 9}} {
		if _, err := s.Claim(ctx, owner, c.world, c.x, c.z, Flags{}); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}
	all, err := s.List(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 || all[0].World != "a" || all[0].ChunkX != -1 || all[2].World != "b" {
		t.Fatalf("list=%+v", all)
	}
	onlyA, _ := s.List(ctx, "a")
	if len(onlyA) != 2 {
		t.Fatalf("list a=%d", len(onlyA))
	}
}

type host map[string]protect.Plugin

func (h host) Lookup(name string) (protect.Plugin, bool) {
	p, ok := h[name]
	return p, ok
}

func TestStoreServesKariClaimsAdapter(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if _, err := s.Claim(ctx, uuid.New(), "w", 0, 0, Flags{}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	c, v, err := adapters.NewKariClaims().Probe(host{PluginName: s.Plugin()})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if v != PluginVersion {
		t.Fatalf("version=%q", v)
	}
	blocked, err := c.Check(ctx, protect.Query{World: "w", Pos: protect.BlockPos{X: 7, Y: 60, Z: 15}, Action: protect.ActionExplode})
	if err != nil || !blocked {
		t.Fatalf("claimed chunk: blocked=%v err=%v", blocked, err)
	}
	blocked, _ = c.Check(ctx, protect.Query{World: "w", Pos: protect.BlockPos{X: 16, Y: 60, Z: 0}, Action: protect.ActionExplode})
	if blocked {
		t.Fatalf("free chunk should not block")
	}
}
