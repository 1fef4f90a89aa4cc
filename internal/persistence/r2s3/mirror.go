package r2s3

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultAttempts   = 4
	defaultQueueSize  = 256
	uploadTimeout     = 2 * time.Minute
	enqueueGracePause = 25 * time.Millisecond
)

var errOutsideDataDir = errors.New("r2s3: file is outside the data dir")

type Stats struct {
	QueueDepth         int
	QueueCapacity      int
	EnqueuedTotal      uint64
	DroppedTotal       uint64
	UploadSuccessTotal uint64
	UploadFailTotal    uint64
	LastSuccessUnix    int64
	LastErrorUnix      int64
	// LastQueueDelay is how long the most recent successful upload waited
	// in the queue before a worker picked it up.
	LastQueueDelay time.Duration
}

type job struct {
	local  string
	queued time.Time
}

type mirrorCounters struct {
	enqueued, dropped, ok, failed atomic.Uint64
	lastOK, lastErr               atomic.Int64
	lastDelay                     atomic.Int64
}

// Mirror uploads files below dataDir in the background. Object keys are the
// path relative to dataDir, under prefix.
type Mirror struct {
	up      Uploader
	dataDir string
	prefix  string
	logger  *log.Logger

	queue    chan job
	attempts int
	backoff  func(attempt int) time.Duration

	workers sync.WaitGroup
	closed  sync.Once
	n       mirrorCounters
}

func NewMirror(up Uploader, dataDir, prefix string, workers, queueCapacity int, logger *log.Logger) *Mirror {
	if queueCapacity <= 0 {
		queueCapacity = defaultQueueSize
	}
	m := &Mirror{
		up:       up,
		dataDir:  dataDir,
		prefix:   normalizeObjectKey(prefix),
		logger:   logger,
		queue:    make(chan job, queueCapacity),
		attempts: defaultAttempts,
		backoff: func(attempt int) time.Duration {
			return time.Duration(attempt*attempt) * 200 * time.Millisecond
		},
	}
	for i := 0; i < max(workers, 1); i++ {
		m.workers.Add(1)
		go m.work()
	}
	return m
}

func (m *Mirror) work() {
	defer m.workers.Done()
	for j := range m.queue {
		m.handle(j)
	}
}

// Enqueue schedules localPath for upload. When the queue is full it waits a
// short grace period and then drops the file; callers on the tick path never
// block longer than that.
func (m *Mirror) Enqueue(localPath string) {
	if m == nil || m.up == nil {
		return
	}
	m.n.enqueued.Add(1)
	j := job{local: localPath, queued: time.Now()}
	select {
	case m.queue <- j:
		return
	default:
	}
	t := time.NewTimer(enqueueGracePause)
	defer t.Stop()
	select {
	case m.queue <- j:
	case <-t.C:
		m.logf("mirror: queue full, dropped %s (dropped_total=%d)", localPath, m.n.dropped.Add(1))
	}
}

// Close stops accepting work and waits for queued uploads.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.closed.Do(func() { close(m.queue) })
	m.workers.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:         len(m.queue),
		QueueCapacity:      cap(m.queue),
		EnqueuedTotal:      m.n.enqueued.Load(),
		DroppedTotal:       m.n.dropped.Load(),
		UploadSuccessTotal: m.n.ok.Load(),
		UploadFailTotal:    m.n.failed.Load(),
		LastSuccessUnix:    m.n.lastOK.Load(),
		LastErrorUnix:      m.n.lastErr.Load(),
		LastQueueDelay:     time.Duration(m.n.lastDelay.Load()),
	}
}

func (m *Mirror) handle(j job) {
	delay := time.Since(j.queued)
	key, err := m.objectKey(j.local)
	if err == nil {
		err = m.put(key, j.local)
	}
	now := time.Now().UTC().Unix()
	if err != nil {
		m.n.failed.Add(1)
		m.n.lastErr.Store(now)
		m.logf("mirror: upload %s failed: %v", j.local, err)
		return
	}
	m.n.ok.Add(1)
	m.n.lastOK.Store(now)
	m.n.lastDelay.Store(int64(delay))
}

// put retries transient failures with quadratic backoff.
func (m *Mirror) put(key, local string) error {
	var err error
	for attempt := 1; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), uploadTimeout)
		err = m.up.PutFile(ctx, key, local)
		cancel()
		if err == nil || attempt >= m.attempts {
			return err
		}
		time.Sleep(m.backoff(attempt))
	}
}

func (m *Mirror) objectKey(local string) (string, error) {
	if _, err := os.Stat(local); err != nil {
		return "", err
	}
	base, err := filepath.Abs(m.dataDir)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(local)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(base, abs)
	if err != nil {
		return "", err
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %s", errOutsideDataDir, abs)
	}
	return path.Join(m.prefix, rel), nil
}

func (m *Mirror) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
