package log

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"tickbridge.ai/internal/protect"
	"tickbridge.ai/internal/sched"
)

func TestWriterRotatesHourly(t *testing.T) {
	dir := t.TempDir()
	var closed []string
	w := NewJSONLZstdWriterWithOptions(dir, "x", LoggerOptions{OnClose: func(p string) { closed = append(closed, filepath.Base(p)) }})
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if err := w.Write(map[string]int{"i": i}); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	clock = clock.Add(2 * time.Minute)
	if err := w.Write(map[string]int{"i": 3}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := Files(dir, "x")
	if err != nil {
		t.Fatalf("files: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "x-2026-03-01-10.jsonl.zst" {
		t.Fatalf("files=%v", files)
	}
	var counts []int
	for _, f := range files {
		n := 0
		if err := ReadAll(f, func(json.RawMessage) error { n++; return nil }); err != nil {
			t.Fatalf("read %s: %v", f, err)
		}
		counts = append(counts, n)
	}
	if counts[0] != 3 || counts[1] != 1 {
		t.Fatalf("counts=%v", counts)
	}
	if w.Written() != 4 {
		t.Fatalf("written=%d", w.Written())
	}
	if len(closed) != 2 || closed[0] != "x-2026-03-01-10.jsonl.zst" || closed[1] != "x-2026-03-01-11.jsonl.zst" {
		t.Fatalf("closed=%v", closed)
	}
}

func TestJournalsRoundTrip(t *testing.T) {
	dir := t.TempDir()
	dl := NewDecisionLogger(dir)
	fl := NewFailureLogger(dir)

	if err := dl.RecordDecision(protect.Decision{World: "w", Pos: [3]int{1, 2, 3}, Action: protect.ActionExplode,
		Answer: protect.Answer{Blocked: true, BlockedBy: "Lands"}}); err != nil {
		t.Fatalf("decision: %v", err)
	}
	if err := fl.RecordFailure(sched.Failure{Seq: 9, Name: "set_block", Kind: sched.AuthoritativeOnly, Error: "boom", Panic: true}); err != nil {
		t.Fatalf("failure: %v", err)
	}
	_ = dl.Close()
	_ = fl.Close()

	files, _ := Files(filepath.Join(dir, "decisions"), "decisions")
	if len(files) != 1 {
		t.Fatalf("decision files=%v", files)
	}
	var d protect.Decision
	if err := ReadAll(files[0], func(line json.RawMessage) error { return json.Unmarshal(line, &d) }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if !d.Answer.Blocked || d.Answer.BlockedBy != "Lands" || d.Pos != [3]int{1, 2, 3} {
		t.Fatalf("decision=%+v", d)
	}

	files, _ = Files(filepath.Join(dir, "failures"), "failures")
	var f sched.Failure
	if err := ReadAll(files[0], func(line json.RawMessage) error { return json.Unmarshal(line, &f) }); err != nil {
		t.Fatalf("read: %v", err)
	}
	if f.Seq != 9 || !f.Panic || f.Kind != sched.AuthoritativeOnly {
		t.Fatalf("failure=%+v", f)
	}
}
