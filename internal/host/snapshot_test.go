package host

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"tickbridge.ai/internal/persistence/snapshot"
	"tickbridge.ai/internal/protect"
)

func TestSnapshotRoundTrip(t *testing.T) {
	h, loop, _ := newTestHost(t, nil)
	player := uuid.MustParse("00000000-0000-0000-0000-00000000000a")
	ctx := context.Background()
	for _, p := range []protect.BlockPos{{X: 1, Y: 64, Z: 1}, {X: -17, Y: 0, Z: 40}, {X: 31, Y: 255, Z: 15}} {
		if _, err := h.SetBlock(ctx, "w", p, 9); err != nil {
			t.Fatalf("set block: %v", err)
		}
	}
	if _, err := h.AdjustItem(ctx, player, "tnt", 4); err != nil {
		t.Fatalf("adjust: %v", err)
	}
	loop.Step() // binds this goroutine and applies the queued mutations

	snap, err := h.World.ExportSnapshot(loop.CurrentTick())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(snap.Chunks) != 3 || len(snap.Inventories) != 1 {
		t.Fatalf("snapshot: %d chunks, %d inventories", len(snap.Chunks), len(snap.Inventories))
	}

	h2, loop2, _ := newTestHost(t, nil)
	loop2.Step()
	if err := h2.World.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if got := h2.World.ChunkKeys(); len(got) != 3 {
		t.Fatalf("chunks after import: %v", got)
	}
	for _, p := range []protect.BlockPos{{X: 1, Y: 64, Z: 1}, {X: -17, Y: 0, Z: 40}, {X: 31, Y: 255, Z: 15}} {
		if id, err := h2.World.Block("w", p); err != nil || id != 9 {
			t.Fatalf("block %s: id=%d err=%v", p, id, err)
		}
	}
	if id, _ := h2.World.Block("w", protect.BlockPos{X: 2, Y: 64, Z: 1}); id != Air {
		t.Fatalf("expected air, got %d", id)
	}
	items, err := h2.World.Items(player)
	if err != nil || items["tnt"] != 4 {
		t.Fatalf("items: %v err=%v", items, err)
	}
}

func TestSnapshotRejectsOffTickAndCorruptInput(t *testing.T) {
	h, loop, _ := newTestHost(t, nil)
	if _, err := h.World.ExportSnapshot(0); !errors.Is(err, ErrOffTick) {
		t.Fatalf("export off tick: %v", err)
	}
	loop.Step()

	if _, err := h.SetBlock(context.Background(), "w", protect.BlockPos{Y: 3}, 2); err != nil {
		t.Fatalf("set block: %v", err)
	}
	loop.Step()

	bad := snapshot.SnapshotV1{Chunks: []snapshot.ChunkV1{{World: "w", Blocks: snapshot.EncodeBlocks([]uint16{1, 2, 3})}}}
	if err := h.World.ImportSnapshot(bad); err == nil {
		t.Fatalf("expected error for short chunk")
	}
	// A failed import leaves the world untouched.
	if id, err := h.World.Block("w", protect.BlockPos{Y: 3}); err != nil || id != 2 {
		t.Fatalf("world changed by failed import: id=%d err=%v", id, err)
	}
}
