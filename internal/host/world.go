package host

import (
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"tickbridge.ai/internal/protect"
	"tickbridge.ai/internal/sched"
)

// ErrOffTick is returned by World mutators called off the authoritative
// goroutine.
var ErrOffTick = errors.New("host: world accessed off the authoritative goroutine")

type BlockID uint16

const Air BlockID = 0

const (
	chunkSize   = 16
	chunkHeight = 256
)

type ChunkKey struct {
	World string
	X, Z  int
}

type Chunk struct {
	Key    ChunkKey
	blocks map[int]BlockID
}

func (c *Chunk) Len() int { return len(c.blocks) }

// StepStats describes one world step.
type StepStats struct {
	Tick        uint64 `json:"tick"`
	DirtyChunks int    `json:"dirty_chunks"`
	Chunks      int    `json:"chunks"`
}

// World is the authoritative state of the host: chunk-keyed blocks and
// player inventories. Every accessor checks that it runs on the
// scheduler's authoritative goroutine.
type World struct {
	sched *sched.Scheduler

	chunks      map[ChunkKey]*Chunk
	dirty       map[ChunkKey]struct{}
	inventories map[uuid.UUID]map[string]int
	tick        uint64
}

func NewWorld(s *sched.Scheduler) *World {
	return &World{
		sched:       s,
		chunks:      map[ChunkKey]*Chunk{},
		dirty:       map[ChunkKey]struct{}{},
		inventories: map[uuid.UUID]map[string]int{},
	}
}

func (w *World) check(op string) error {
	if !w.sched.IsAuthoritative() {
		return fmt.Errorf("%w: %s", ErrOffTick, op)
	}
	return nil
}

func keyOf(world string, p protect.BlockPos) (ChunkKey, int) {
	lx, lz := p.X&(chunkSize-1), p.Z&(chunkSize-1)
	return ChunkKey{World: world, X: p.ChunkX(), Z: p.ChunkZ()}, (p.Y*chunkSize+lz)*chunkSize + lx
}

// LoadChunk makes sure the chunk exists and returns it.
func (w *World) LoadChunk(world string, cx, cz int) (*Chunk, error) {
	if err := w.check("load_chunk"); err != nil {
		return nil, err
	}
	return w.chunk(ChunkKey{World: world, X: cx, Z: cz}), nil
}

func (w *World) chunk(k ChunkKey) *Chunk {
	c := w.chunks[k]
	if c == nil {
		c = &Chunk{Key: k, blocks: map[int]BlockID{}}
		w.chunks[k] = c
	}
	return c
}

func (w *World) SetBlock(world string, p protect.BlockPos, id BlockID) error {
	if err := w.check("set_block"); err != nil {
		return err
	}
	if p.Y < 0 || p.Y >= chunkHeight {
		return fmt.Errorf("host: y=%d outside [0,%d)", p.Y, chunkHeight)
	}
	k, idx := keyOf(world, p)
	c := w.chunk(k)
	if id == Air {
		delete(c.blocks, idx)
	} else {
		c.blocks[idx] = id
	}
	w.dirty[k] = struct{}{}
	return nil
}

func (w *World) Block(world string, p protect.BlockPos) (BlockID, error) {
	if err := w.check("block"); err != nil {
		return Air, err
	}
	k, idx := keyOf(world, p)
	c := w.chunks[k]
	if c == nil {
		return Air, nil
	}
	return c.blocks[idx], nil
}

// AdjustItem adds delta (may be negative) to a player's item count. The
// count never drops below zero.
func (w *World) AdjustItem(player uuid.UUID, item string, delta int) (int, error) {
	if err := w.check("inventory_mutate"); err != nil {
		return 0, err
	}
	inv := w.inventories[player]
	if inv == nil {
		inv = map[string]int{}
		w.inventories[player] = inv
	}
	n := inv[item] + delta
	if n < 0 {
		return inv[item], fmt.Errorf("host: %s has %d %s, cannot remove %d", player, inv[item], item, -delta)
	}
	if n == 0 {
		delete(inv, item)
	} else {
		inv[item] = n
	}
	return n, nil
}

func (w *World) Items(player uuid.UUID) (map[string]int, error) {
	if err := w.check("inventory_read"); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(w.inventories[player]))
	for k, v := range w.inventories[player] {
		out[k] = v
	}
	return out, nil
}

// Step advances the world by one tick and reports the chunks touched since
// the previous step.
func (w *World) Step(tick uint64) StepStats {
	w.tick = tick
	st := StepStats{Tick: tick, DirtyChunks: len(w.dirty), Chunks: len(w.chunks)}
	for k := range w.dirty {
		delete(w.dirty, k)
	}
	return st
}

// ChunkKeys lists loaded chunks, sorted; for tests and the admin surface.
func (w *World) ChunkKeys() []ChunkKey {
	out := make([]ChunkKey, 0, len(w.chunks))
	for k := range w.chunks {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.World != b.World {
			return a.World < b.World
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Z < b.Z
	})
	return out
}
