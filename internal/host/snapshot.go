package host

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"tickbridge.ai/internal/persistence/snapshot"
)

const chunkVolume = chunkSize * chunkSize * chunkHeight

// ExportSnapshot captures the world. Like every World accessor it must run
// on the authoritative goroutine; the returned value shares nothing with the
// live world and can be written from any goroutine.
func (w *World) ExportSnapshot(tick uint64) (snapshot.SnapshotV1, error) {
	if err := w.check("export_snapshot"); err != nil {
		return snapshot.SnapshotV1{}, err
	}
	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{Tick: tick, CreatedAt: time.Now().UTC()},
	}
	dense := make([]uint16, chunkVolume)
	for _, k := range w.ChunkKeys() {
		c := w.chunks[k]
		clear(dense)
		for idx, id := range c.blocks {
			dense[idx] = uint16(id)
		}
		snap.Chunks = append(snap.Chunks, snapshot.ChunkV1{
			World:  k.World,
			CX:     k.X,
			CZ:     k.Z,
			Blocks: snapshot.EncodeBlocks(dense),
		})
	}
	for player, inv := range w.inventories {
		if len(inv) == 0 {
			continue
		}
		items := make(map[string]int, len(inv))
		for k, v := range inv {
			items[k] = v
		}
		snap.Inventories = append(snap.Inventories, snapshot.InventoryV1{Player: player.String(), Items: items})
	}
	sort.Slice(snap.Inventories, func(i, j int) bool { return snap.Inventories[i].Player < snap.Inventories[j].Player })
	return snap, nil
}

// ImportSnapshot replaces the world with snap. Nothing changes unless the
// whole snapshot decodes.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if err := w.check("import_snapshot"); err != nil {
		return err
	}
	chunks := make(map[ChunkKey]*Chunk, len(snap.Chunks))
	for _, cs := range snap.Chunks {
		ids, err := snapshot.DecodeBlocks(cs.Blocks, chunkVolume)
		if err != nil {
			return fmt.Errorf("host: chunk %s %d,%d: %w", cs.World, cs.CX, cs.CZ, err)
		}
		k := ChunkKey{World: cs.World, X: cs.CX, Z: cs.CZ}
		c := &Chunk{Key: k, blocks: map[int]BlockID{}}
		for idx, id := range ids {
			if BlockID(id) != Air {
				c.blocks[idx] = BlockID(id)
			}
		}
		chunks[k] = c
	}
	inventories := make(map[uuid.UUID]map[string]int, len(snap.Inventories))
	for _, inv := range snap.Inventories {
		id, err := uuid.Parse(inv.Player)
		if err != nil {
			return fmt.Errorf("host: inventory player %q: %w", inv.Player, err)
		}
		items := make(map[string]int, len(inv.Items))
		for k, v := range inv.Items {
			if v > 0 {
				items[k] = v
			}
		}
		inventories[id] = items
	}

	w.chunks = chunks
	w.inventories = inventories
	w.dirty = map[ChunkKey]struct{}{}
	w.tick = snap.Header.Tick
	return nil
}
