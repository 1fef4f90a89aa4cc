package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"tickbridge.ai/internal/persistence/claimdb"
	"tickbridge.ai/internal/protect"
)

// claimsCmd manages the KariClaims store offline. The server holds the
// database open, so edits are best made while it is stopped (sqlite WAL
// tolerates a concurrent reader).
func claimsCmd(args []string) {
	fs := flag.NewFlagSet("claims", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "claims sqlite path (default: <data>/claims.sqlite)")
	world := fs.String("world", "world", "world name")
	chunk := fs.String("chunk", "", "chunk coordinates cx,cz")
	at := fs.String("at", "", "block position x,y,z (alternative to -chunk)")
	owner := fs.String("owner", "", "owner uuid (add)")
	member := fs.String("member", "", "member uuid (trust)")
	tnt := fs.Bool("tnt", false, "allow tnt in the claim")
	explosion := fs.Bool("explosion", false, "allow other explosions in the claim")
	_ = fs.Parse(args)

	op := "ls"
	if fs.NArg() > 0 {
		op = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "claims.sqlite")
	}
	store, err := claimdb.Open(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if op == "ls" {
		w := *world
		if w == "*" {
			w = ""
		}
		claims, err := store.List(ctx, w)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		enc := json.NewEncoder(os.Stdout)
		for _, c := range claims {
			_ = enc.Encode(c)
		}
		return
	}

	cx, cz, err := claimTarget(*chunk, *at)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	flags := claimdb.Flags{TNT: *tnt, Explosion: *explosion}

	switch op {
	case "add":
		id, err := uuid.Parse(*owner)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -owner:", err)
			os.Exit(2)
		}
		claimID, err := store.Claim(ctx, id, *world, cx, cz, flags)
		if err != nil {
			fmt.Fprintln(os.Stderr, "claim:", err)
			os.Exit(1)
		}
		fmt.Printf("claimed %s %d,%d (id=%d)\n", *world, cx, cz, claimID)
	case "rm":
		if err := store.Unclaim(ctx, *world, cx, cz); err != nil {
			fmt.Fprintln(os.Stderr, "unclaim:", err)
			os.Exit(1)
		}
		fmt.Printf("unclaimed %s %d,%d\n", *world, cx, cz)
	case "flags":
		if err := store.SetFlags(ctx, *world, cx, cz, flags); err != nil {
			fmt.Fprintln(os.Stderr, "flags:", err)
			os.Exit(1)
		}
		fmt.Printf("flags %s %d,%d: tnt=%t explosion=%t\n", *world, cx, cz, flags.TNT, flags.Explosion)
	case "trust":
		id, err := uuid.Parse(*member)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -member:", err)
			os.Exit(2)
		}
		if err := store.AddMember(ctx, *world, cx, cz, id); err != nil {
			fmt.Fprintln(os.Stderr, "trust:", err)
			os.Exit(1)
		}
		fmt.Printf("trusted %s on %s %d,%d\n", id, *world, cx, cz)
	default:
		fmt.Fprintln(os.Stderr, "unknown claims op:", op, "(ls|add|rm|flags|trust)")
		os.Exit(2)
	}
}

// claimTarget resolves -chunk or -at to chunk coordinates.
func claimTarget(chunk, at string) (int, int, error) {
	switch {
	case strings.TrimSpace(chunk) != "":
		return parseChunk(chunk)
	case strings.TrimSpace(at) != "":
		v, err := parseVec3(at)
		if err != nil {
			return 0, 0, fmt.Errorf("bad -at: %w", err)
		}
		p := protect.BlockPos{X: v[0], Y: v[1], Z: v[2]}
		return p.ChunkX(), p.ChunkZ(), nil
	}
	return 0, 0, fmt.Errorf("missing -chunk or -at")
}
