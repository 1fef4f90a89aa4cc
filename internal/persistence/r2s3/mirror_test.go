package r2s3

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"
)

type fakeUploader struct {
	mu    sync.Mutex
	fails int
	calls int
	keys  []string
}

func (f *fakeUploader) PutFile(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fails > 0 {
		f.fails--
		return errors.New("503 slow down")
	}
	f.keys = append(f.keys, key)
	return nil
}

func touch(t *testing.T, p string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestMirrorUploadsRelativeKeys(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{fails: 2}
	m := NewMirror(up, dir, "/prod/", 1, 8, nil)
	m.backoff = func(int) time.Duration { return 0 }

	m.Enqueue(touch(t, filepath.Join(dir, "snapshots", "40.snap.zst")))
	m.Enqueue(touch(t, filepath.Join(dir, "decisions", "decisions-2026-03-01-10.jsonl.zst")))
	m.Enqueue(touch(t, filepath.Join(t.TempDir(), "elsewhere.txt")))
	m.Close()

	sort.Strings(up.keys)
	want := []string{"prod/decisions/decisions-2026-03-01-10.jsonl.zst", "prod/snapshots/40.snap.zst"}
	if len(up.keys) != 2 || up.keys[0] != want[0] || up.keys[1] != want[1] {
		t.Fatalf("keys=%v", up.keys)
	}
	st := m.Stats()
	if st.UploadSuccessTotal != 2 || st.UploadFailTotal != 1 || st.EnqueuedTotal != 3 {
		t.Fatalf("stats=%+v", st)
	}
	if up.calls != 4 {
		t.Fatalf("calls=%d (two retries expected)", up.calls)
	}
}

func TestMirrorGivesUpAfterAttempts(t *testing.T) {
	dir := t.TempDir()
	up := &fakeUploader{fails: 100}
	m := NewMirror(up, dir, "", 1, 1, nil)
	m.backoff = func(int) time.Duration { return 0 }
	m.Enqueue(touch(t, filepath.Join(dir, "a")))
	m.Close()
	if up.calls != 4 || m.Stats().UploadFailTotal != 1 || m.Stats().LastErrorUnix == 0 {
		t.Fatalf("calls=%d stats=%+v", up.calls, m.Stats())
	}
}

func TestNilMirrorIsNoop(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	if m.Stats() != (Stats{}) {
		t.Fatalf("stats on nil mirror")
	}
}

func TestNormalizeObjectKey(t *testing.T) {
	for in, want := range map[string]string{
		"a/b":       "a/b",
		"/a//b/":    "a/b",
		`a\b`:       "a/b",
		"../escape": "escape",
		"":          "",
		"  ":        "",
	} {
		if got := normalizeObjectKey(in); got != want {
			t.Fatalf("normalizeObjectKey(%q)=%q want %q", in, got, want)
		}
	}
}

func TestNewRequiresCredentials(t *testing.T) {
	if _, err := New("r2.example.com", "bucket", "", "secret"); err == nil {
		t.Fatalf("expected error without access key")
	}
	if _, err := New("https://acct.r2.example.com", "bucket", "id", "secret"); err != nil {
		t.Fatalf("new: %v", err)
	}
}

func TestEndpointURL(t *testing.T) {
	if got, err := endpointURL(" acct.r2.example.com/ "); err != nil || got != "https://acct.r2.example.com" {
		t.Fatalf("got %q err=%v", got, err)
	}
	if _, err := endpointURL("ftp://acct.r2.example.com"); err == nil {
		t.Fatalf("ftp endpoint accepted")
	}
}

func TestContentType(t *testing.T) {
	if ct := contentType("snapshots/40.snap.zst"); ct != "application/zstd" {
		t.Fatalf("snapshot content type %q", ct)
	}
	if ct := contentType("notes"); ct != "application/octet-stream" {
		t.Fatalf("fallback content type %q", ct)
	}
}
