// Package claimdb is the sqlite-backed chunk claim store that serves as the
// KariClaims plugin of the in-process host.
package claimdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"tickbridge.ai/internal/protect"
	"tickbridge.ai/internal/protect/adapters"
)

// PluginName and PluginVersion are what the store registers as.
const (
	PluginName    = "KariClaims"
	PluginVersion = "1.4.0"
)

var (
	ErrAlreadyClaimed = errors.New("claimdb: chunk already claimed")
	ErrNotFound       = errors.New("claimdb: claim not found")
)

// Flags are the per-claim environment permissions.
type Flags struct {
	TNT       bool
	Explosion bool
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS chunk_claims (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			owner TEXT NOT NULL,
			world TEXT NOT NULL,
			chunk_x INTEGER NOT NULL,
			chunk_z INTEGER NOT NULL,
			claimed_at TEXT NOT NULL,
			tnt INTEGER NOT NULL DEFAULT 0,
			explosion INTEGER NOT NULL DEFAULT 0,
			UNIQUE (world, chunk_x, chunk_z)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_claims_owner ON chunk_claims(owner);`,
		`CREATE TABLE IF NOT EXISTS chunk_claim_members (
			claim_id INTEGER NOT NULL REFERENCES chunk_claims(id) ON DELETE CASCADE,
			member TEXT NOT NULL,
			PRIMARY KEY (claim_id, member)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Plugin describes the store as a host plugin entry.
func (s *Store) Plugin() protect.Plugin {
	return protect.Plugin{Name: PluginName, Version: PluginVersion, Enabled: true, API: s}
}

var _ adapters.KariClaimsAPI = (*Store)(nil)

// Claim records a new chunk claim and returns its id.
func (s *Store) Claim(ctx context.Context, owner uuid.UUID, world string, chunkX, chunkZ int, f Flags) (int64, error) {
	if owner == uuid.Nil || world == "" {
		return 0, fmt.Errorf("claimdb: owner and world are required")
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chunk_claims(owner,world,chunk_x,chunk_z,claimed_at,tnt,explosion) VALUES(?,?,?,?,?,?,?)`,
		owner.String(), world, chunkX, chunkZ, time.Now().UTC().Format(time.RFC3339Nano), boolInt(f.TNT), boolInt(f.Explosion))
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return 0, fmt.Errorf("%w: %s %d,%d", ErrAlreadyClaimed, world, chunkX, chunkZ)
		}
		return 0, err
	}
	return res.LastInsertId()
}

func (s *Store) Unclaim(ctx context.Context, world string, chunkX, chunkZ int) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM chunk_claims WHERE world=? AND chunk_x=? AND chunk_z=?`, world, chunkX, chunkZ)
	if err != nil {
		return err
	}
	return expectOne(res, world, chunkX, chunkZ)
}

func (s *Store) SetFlags(ctx context.Context, world string, chunkX, chunkZ int, f Flags) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE chunk_claims SET tnt=?, explosion=? WHERE world=? AND chunk_x=? AND chunk_z=?`,
		boolInt(f.TNT), boolInt(f.Explosion), world, chunkX, chunkZ)
	if err != nil {
		return err
	}
	return expectOne(res, world, chunkX, chunkZ)
}

func (s *Store) AddMember(ctx context.Context, world string, chunkX, chunkZ int, member uuid.UUID) error {
	c, err := s.FindChunkClaimAt(ctx, world, chunkX, chunkZ)
	if err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: %s %d,%d", ErrNotFound, world, chunkX, chunkZ)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chunk_claim_members(claim_id,member) VALUES(?,?)`, c.ID, member.String())
	return err
}

// FindChunkClaimAt returns the claim on the chunk or nil when it is free.
func (s *Store) FindChunkClaimAt(ctx context.Context, world string, chunkX, chunkZ int) (*adapters.KariClaim, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,owner,world,chunk_x,chunk_z,claimed_at,tnt,explosion FROM chunk_claims WHERE world=? AND chunk_x=? AND chunk_z=?`,
		world, chunkX, chunkZ)
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if c.Members, err = s.members(ctx, c.ID); err != nil {
		return nil, err
	}
	return c, nil
}

// List returns the claims of a world (all worlds when empty), ordered by
// world and chunk.
func (s *Store) List(ctx context.Context, world string) ([]adapters.KariClaim, error) {
	q := `SELECT id,owner,world,chunk_x,chunk_z,claimed_at,tnt,explosion FROM chunk_claims`
	var args []any
	if world != "" {
		q += ` WHERE world=?`
		args = append(args, world)
	}
	q += ` ORDER BY world, chunk_x, chunk_z`
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []adapters.KariClaim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()
	for i := range out {
		if out[i].Members, err = s.members(ctx, out[i].ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Store) members(ctx context.Context, id int64) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT member FROM chunk_claim_members WHERE claim_id=? ORDER BY member`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		m, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("claimdb: member %q: %w", raw, err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClaim(r scanner) (*adapters.KariClaim, error) {
	var (
		c            adapters.KariClaim
		owner, at    string
		tnt, explode int
	)
	if err := r.Scan(&c.ID, &owner, &c.World, &c.ChunkX, &c.ChunkZ, &at, &tnt, &explode); err != nil {
		return nil, err
	}
	var err error
	if c.Owner, err = uuid.Parse(owner); err != nil {
		return nil, fmt.Errorf("claimdb: owner %q: %w", owner, err)
	}
	if c.ClaimedAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
		return nil, fmt.Errorf("claimdb: claimed_at %q: %w", at, err)
	}
	c.TNT, c.Explosion = tnt != 0, explode != 0
	return &c, nil
}

func expectOne(res sql.Result, world string, chunkX, chunkZ int) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %d,%d", ErrNotFound, world, chunkX, chunkZ)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
