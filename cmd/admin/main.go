package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	persistlog "tickbridge.ai/internal/persistence/log"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "claims":
			claimsCmd(os.Args[2:])
			return
		case "journal":
			journalCmd(os.Args[2:])
			return
		case "status":
			statusCmd(os.Args[2:])
			return
		case "reload":
			reloadCmd(os.Args[2:])
			return
		case "protect":
			protectCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: admin <claims|journal|status|reload|protect> [flags]")
	os.Exit(2)
}

// journalCmd dumps a decision or failure journal as plain JSON lines.
func journalCmd(args []string) {
	fs := flag.NewFlagSet("journal", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	kind := fs.String("kind", "decisions", "journal kind: decisions|failures")
	limit := fs.Int("limit", 0, "stop after n lines (0 = all)")
	_ = fs.Parse(args)

	k := strings.TrimSpace(*kind)
	if k != "decisions" && k != "failures" {
		fmt.Fprintln(os.Stderr, "bad -kind:", k)
		os.Exit(2)
	}
	files, err := persistlog.Files(filepath.Join(*dataDir, k), k)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list:", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	n := 0
	errStop := fmt.Errorf("limit reached")
	for _, path := range files {
		err := persistlog.ReadAll(path, func(line json.RawMessage) error {
			if *limit > 0 && n >= *limit {
				return errStop
			}
			n++
			return enc.Encode(line)
		})
		if err == errStop {
			break
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
			os.Exit(1)
		}
	}
}

func parseVec3(s string) ([3]int, error) {
	var v [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return v, fmt.Errorf("expected x,y,z")
	}
	for i := 0; i < 3; i++ {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return v, err
		}
		v[i] = n
	}
	return v, nil
}

// parseChunk accepts "cx,cz" chunk coordinates.
func parseChunk(s string) (cx, cz int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("expected cx,cz")
	}
	if cx, err = strconv.Atoi(strings.TrimSpace(parts[0])); err != nil {
		return 0, 0, err
	}
	if cz, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
		return 0, 0, err
	}
	return cx, cz, nil
}
