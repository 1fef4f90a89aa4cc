// Package snapshot persists the host world (chunks and inventories) as a
// zstd-compressed file: one JSON header line followed by a gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version   int       `json:"version"`
	Tick      uint64    `json:"tick"`
	CreatedAt time.Time `json:"created_at"`
	Chunks    int       `json:"chunks"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Chunks      []ChunkV1     `json:"chunks"`
	Inventories []InventoryV1 `json:"inventories"`
}

// ChunkV1 stores a chunk's dense block array run-length encoded
// (see EncodeBlocks).
type ChunkV1 struct {
	World  string `json:"world"`
	CX     int    `json:"cx"`
	CZ     int    `json:"cz"`
	Blocks string `json:"blocks"`
}

type InventoryV1 struct {
	Player string         `json:"player"`
	Items  map[string]int `json:"items"`
}

// FileName is the on-disk name of the snapshot taken at tick.
func FileName(tick uint64) string { return fmt.Sprintf("%d.snap.zst", tick) }

func WriteSnapshot(path string, snap SnapshotV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	snap.Header.Version = Version
	snap.Header.Chunks = len(snap.Chunks)

	// Write to a temp file so a crash never leaves a truncated latest.
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The header line is for tools; gob carries it too.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("snapshot %s: unsupported version %d", path, snap.Header.Version)
	}
	return snap, nil
}

type entry struct {
	tick uint64
	path string
}

// list returns the snapshots in dir, newest first.
func list(dir string) []entry {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []entry
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, ".snap.zst") {
			continue
		}
		tick, err := strconv.ParseUint(strings.TrimSuffix(name, ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		out = append(out, entry{tick: tick, path: filepath.Join(dir, name)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].tick > out[j].tick })
	return out
}

// Latest returns the snapshot with the highest tick in dir, or "" when
// there is none.
func Latest(dir string) string {
	if l := list(dir); len(l) > 0 {
		return l[0].path
	}
	return ""
}

// Prune deletes all but the newest keep snapshots in dir and returns the
// removed paths. keep <= 0 keeps everything.
func Prune(dir string, keep int) ([]string, error) {
	if keep <= 0 {
		return nil, nil
	}
	l := list(dir)
	if len(l) <= keep {
		return nil, nil
	}
	var removed []string
	for _, e := range l[keep:] {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return removed, err
		}
		removed = append(removed, e.path)
	}
	return removed, nil
}
