// Package log journals protection decisions and task failures as
// hourly-rotated, zstd-compressed JSONL.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"tickbridge.ai/internal/protect"
	"tickbridge.ai/internal/sched"
)

// LoggerOptions tunes a journal writer.
type LoggerOptions struct {
	// OnClose is called with the path of every file the writer finishes
	// (hourly rotation and Close), e.g. to mirror it off-host.
	OnClose func(path string)
}

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time
	onClose func(path string)

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
	written uint64
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return NewJSONLZstdWriterWithOptions(baseDir, prefix, LoggerOptions{})
}

func NewJSONLZstdWriterWithOptions(baseDir, prefix string, opts LoggerOptions) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
		onClose: opts.OnClose,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

// Write appends one JSON line, opening a new file when the UTC hour changes.
func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour || w.w == nil {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	w.written++
	return w.w.Flush()
}

// Written is the number of entries accepted since the writer was created.
func (w *JSONLZstdWriter) Written() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		path := w.f.Name()
		_ = w.f.Close()
		w.f = nil
		if w.onClose != nil {
			w.onClose(path)
		}
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// Files lists the journal files of a prefix in dir, oldest first.
func Files(dir, prefix string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, prefix+"-*.jsonl.zst"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// ReadAll decodes every line of a journal file and calls fn with it.
func ReadAll(path string, fn func(line json.RawMessage) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(json.RawMessage(append([]byte(nil), line...))); err != nil {
			return err
		}
	}
	return sc.Err()
}

// DecisionLogger journals every computed protection answer.
type DecisionLogger struct{ w *JSONLZstdWriter }

func NewDecisionLogger(dataDir string) *DecisionLogger {
	return NewDecisionLoggerWithOptions(dataDir, LoggerOptions{})
}

func NewDecisionLoggerWithOptions(dataDir string, opts LoggerOptions) *DecisionLogger {
	return &DecisionLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(dataDir, "decisions"), "decisions", opts)}
}

func (l *DecisionLogger) RecordDecision(d protect.Decision) error { return l.w.Write(d) }
func (l *DecisionLogger) Close() error                            { return l.w.Close() }

// FailureLogger journals failed tasks and rejected double resolutions.
type FailureLogger struct{ w *JSONLZstdWriter }

func NewFailureLogger(dataDir string) *FailureLogger {
	return NewFailureLoggerWithOptions(dataDir, LoggerOptions{})
}

func NewFailureLoggerWithOptions(dataDir string, opts LoggerOptions) *FailureLogger {
	return &FailureLogger{w: NewJSONLZstdWriterWithOptions(filepath.Join(dataDir, "failures"), "failures", opts)}
}

func (l *FailureLogger) RecordFailure(f sched.Failure) error { return l.w.Write(f) }
func (l *FailureLogger) Close() error                        { return l.w.Close() }

var (
	_ protect.DecisionSink = (*DecisionLogger)(nil)
	_ sched.FailureSink    = (*FailureLogger)(nil)
)
