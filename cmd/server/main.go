package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"tickbridge.ai/internal/config"
	"tickbridge.ai/internal/host"
	"tickbridge.ai/internal/persistence/claimdb"
	persistlog "tickbridge.ai/internal/persistence/log"
	"tickbridge.ai/internal/persistence/r2s3"
	"tickbridge.ai/internal/persistence/snapshot"
	"tickbridge.ai/internal/protect"
	"tickbridge.ai/internal/protect/adapters"
	"tickbridge.ai/internal/protocol"
	"tickbridge.ai/internal/sched"
	"tickbridge.ai/internal/transport/observer"
)

func main() {
	var (
		configPath  = flag.String("config", "./configs/tickbridge.yaml", "path to tickbridge.yaml (missing file means defaults)")
		addr        = flag.String("addr", "", "http listen address (overrides http_addr)")
		claimsDB    = flag.String("claims_db", "", "KariClaims sqlite path (default: <data>/claims.sqlite, \"off\" to disable)")
		enablePprof = flag.Bool("pprof", false, "expose /debug/pprof on the http listener")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		logger.Fatalf("data dir: %v", err)
	}

	var mirror *r2s3.Mirror
	logOpts := persistlog.LoggerOptions{}
	if cfg.MirrorEnabled() {
		cl, err := r2s3.New(cfg.MirrorEndpoint, cfg.MirrorBucket, cfg.MirrorAccessKeyID, cfg.MirrorSecretAccessKey)
		if err != nil {
			logger.Fatalf("mirror: %v", err)
		}
		mirror = r2s3.NewMirror(cl, cfg.DataDir, cfg.MirrorPrefix, 2, 256, log.New(os.Stdout, "[mirror] ", log.LstdFlags|log.Lmicroseconds))
		// Runs after the journals below are closed, so their last files upload.
		defer mirror.Close()
		logOpts.OnClose = mirror.Enqueue
		logger.Printf("mirroring %s to %s/%s", cfg.DataDir, cfg.MirrorBucket, cfg.MirrorPrefix)
	}

	failures := persistlog.NewFailureLoggerWithOptions(cfg.DataDir, logOpts)
	defer failures.Close()
	decisions := persistlog.NewDecisionLoggerWithOptions(cfg.DataDir, logOpts)
	defer decisions.Close()

	s := sched.New(sched.Config{
		Workers:         cfg.WorkerPoolSize,
		StarvationTicks: cfg.StarvationTicks,
		FailureSink:     failures,
	}, log.New(os.Stdout, "[sched] ", log.LstdFlags|log.Lmicroseconds))

	plugins := host.NewPlugins()
	var store *claimdb.Store
	if p := strings.TrimSpace(*claimsDB); p != "off" {
		if p == "" {
			p = filepath.Join(cfg.DataDir, "claims.sqlite")
		}
		store, err = claimdb.Open(p)
		if err != nil {
			logger.Fatalf("claims db: %v", err)
		}
		defer store.Close()
		plugins.Register(store.Plugin())
	}

	protectLog := log.New(os.Stdout, "[protect] ", log.LstdFlags|log.Lmicroseconds)
	reg := protect.NewRegistry(adapters.All(), protectLog)
	reg.Detect(plugins, cfg.EnabledProviders)
	facade := protect.NewFacade(reg, s, protect.FacadeConfig{
		ProviderTimeout: cfg.ProviderTimeout(),
		CacheTTL:        cfg.CacheTTL(),
		CacheSize:       cfg.ProtectionCacheSize,
		DecisionSink:    decisions,
	}, protectLog)

	h := host.New(s, plugins, facade, log.New(os.Stdout, "[host] ", log.LstdFlags|log.Lmicroseconds))
	if err := h.Sites.Configure(cfg.CallSites); err != nil {
		logger.Fatalf("call sites: %v", err)
	}
	loop := host.NewLoop(host.LoopConfig{
		TickRateHz: cfg.TickRateHz,
		Budget:     cfg.Budget(),
		Phase:      cfg.Phase(),
	}, s, h.World, log.New(os.Stdout, "[loop] ", log.LstdFlags|log.Lmicroseconds))

	ctx, cancel := signalContext()
	defer cancel()

	// Restore the latest world snapshot on the first tick; the world may
	// only be touched from the authoritative goroutine.
	snapDir := filepath.Join(cfg.DataDir, "snapshots")
	if path := snapshot.Latest(snapDir); path != "" {
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			logger.Fatalf("load snapshot: %v", err)
		}
		loop.Resume(snap.Header.Tick + 1)
		if _, err := s.Submit(sched.Task{
			Kind: sched.AuthoritativeOnly,
			Name: "world.restore",
			Fn: func(context.Context) (any, error) {
				return nil, h.World.ImportSnapshot(snap)
			},
		}); err != nil {
			logger.Fatalf("restore: %v", err)
		}
		logger.Printf("restoring snapshot %s (tick %d, %d chunks)", path, snap.Header.Tick, len(snap.Chunks))
	}

	// Snapshot writer.
	snapCh := make(chan snapshot.SnapshotV1, 2)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case snap := <-snapCh:
				writeSnapshot(logger, snapDir, snap, mirror)
				if removed, err := snapshot.Prune(snapDir, cfg.SnapshotKeep); err != nil {
					logger.Printf("snapshot prune: %v", err)
				} else if len(removed) > 0 {
					logger.Printf("pruned %d old snapshots", len(removed))
				}
			}
		}
	}()

	obs := observer.NewServer(logger)
	loop.OnTick(func(rep host.TickReport) {
		if every := uint64(cfg.SnapshotEveryTicks); every > 0 && rep.Tick > 0 && rep.Tick%every == 0 {
			snap, err := h.World.ExportSnapshot(rep.Tick)
			if err != nil {
				logger.Printf("snapshot: %v", err)
			} else {
				select {
				case snapCh <- snap:
				default:
					logger.Printf("snapshot writer busy; skipped tick %d", rep.Tick)
				}
			}
		}
		_ = obs.Publish(protocol.StatusMsg{
			Tick:       rep.Tick,
			TickRateHz: cfg.TickRateHz,
			DrainPhase: string(cfg.Phase()),
			Budget:     cfg.Budget().String(),
			Scheduler:  s.Metrics(),
			Providers:  protocol.ProviderStates(reg.Snapshot()),
			Generation: reg.Generation(),
		})
	})

	// SIGHUP re-runs provider detection; nothing else changes availability.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				reg.Reload(plugins, cfg.EnabledProviders)
				facade.ClearCache()
			}
		}
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			logger.Printf("tick loop stopped: %v", err)
			return
		}
		// Still the authoritative goroutine: take the final snapshot.
		if snap, err := h.World.ExportSnapshot(loop.CurrentTick()); err != nil {
			logger.Printf("final snapshot: %v", err)
		} else {
			writeSnapshot(logger, snapDir, snap, mirror)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, loop.CurrentTick(), s.Metrics(), reg)
		writeMirrorMetrics(rw, mirror)
	})
	mux.HandleFunc("/v1/status", obs.StatusHandler())
	mux.HandleFunc("/v1/stream", obs.StreamHandler())

	// Local-only admin endpoints.
	mux.HandleFunc("/admin/v1/providers/reload", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ds := reg.Reload(plugins, cfg.EnabledProviders)
		facade.ClearCache()
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(map[string]any{
			"generation": reg.Generation(),
			"providers":  protocol.ProviderStates(ds),
		})
	})
	mux.HandleFunc("/admin/v1/protection", func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		q, err := parseQuery(r)
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			rw.WriteHeader(http.StatusBadRequest)
			msg := protocol.NewErrorMsg(err)
			msg.Code = protocol.ErrBadRequest
			_ = json.NewEncoder(rw).Encode(msg)
			return
		}
		ctx2, cancel2 := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel2()
		ans, err := facade.IsBlockedSync(ctx2, q)
		if err != nil {
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(protocol.NewErrorMsg(err))
			return
		}
		_ = json.NewEncoder(rw).Encode(ans)
	})
	if *enablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		<-loopDone
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		if err := s.Close(ctx2); err != nil {
			logger.Printf("scheduler close: %v", err)
		}
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", cfg.HTTPAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
	<-loopDone
}

func writeSnapshot(logger *log.Logger, dir string, snap snapshot.SnapshotV1, mirror *r2s3.Mirror) {
	path := filepath.Join(dir, snapshot.FileName(snap.Header.Tick))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		logger.Printf("snapshot write: %v", err)
		return
	}
	logger.Printf("snapshot %s (%d chunks)", path, len(snap.Chunks))
	mirror.Enqueue(path)
}

func parseQuery(r *http.Request) (protect.Query, error) {
	v := r.URL.Query()
	q := protect.Query{World: strings.TrimSpace(v.Get("world"))}
	if q.World == "" {
		return q, fmt.Errorf("bad request: missing world")
	}
	coords := []*int{&q.Pos.X, &q.Pos.Y, &q.Pos.Z}
	for i, name := range []string{"x", "y", "z"} {
		n, err := strconv.Atoi(v.Get(name))
		if err != nil {
			return q, fmt.Errorf("bad request: %s: %v", name, err)
		}
		*coords[i] = n
	}
	if a := v.Get("action"); a != "" {
		act, ok := protect.ParseAction(a)
		if !ok {
			return q, fmt.Errorf("bad request: unknown action %q", a)
		}
		q.Action = act
	}
	if a := v.Get("actor"); a != "" {
		id, err := uuid.Parse(a)
		if err != nil {
			return q, fmt.Errorf("bad request: actor: %v", err)
		}
		q.Actor = id
	}
	return q, nil
}

func writeMetrics(rw http.ResponseWriter, tick uint64, m sched.Metrics, reg *protect.Registry) {
	// Minimal Prometheus exposition format.
	fmt.Fprintf(rw, "# HELP tickbridge_tick Current tick.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_tick gauge\n")
	fmt.Fprintf(rw, "tickbridge_tick %d\n", tick)

	fmt.Fprintf(rw, "# HELP tickbridge_tasks_total Tasks by kind and result.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_tasks_total counter\n")
	for _, k := range []struct {
		kind string
		m    sched.KindMetrics
	}{{string(sched.AuthoritativeOnly), m.Authoritative}, {string(sched.WorkerSafe), m.Worker}} {
		fmt.Fprintf(rw, "tickbridge_tasks_total{kind=%q,result=%q} %d\n", k.kind, "submitted", k.m.Submitted)
		fmt.Fprintf(rw, "tickbridge_tasks_total{kind=%q,result=%q} %d\n", k.kind, "executed", k.m.Executed)
		fmt.Fprintf(rw, "tickbridge_tasks_total{kind=%q,result=%q} %d\n", k.kind, "failed", k.m.Failed)
		fmt.Fprintf(rw, "tickbridge_tasks_total{kind=%q,result=%q} %d\n", k.kind, "cancelled", k.m.Cancelled)
	}

	fmt.Fprintf(rw, "# HELP tickbridge_queue_depth Authoritative tasks waiting for the barrier.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_queue_depth gauge\n")
	fmt.Fprintf(rw, "tickbridge_queue_depth %d\n", m.QueueDepth)

	fmt.Fprintf(rw, "# HELP tickbridge_worker_inflight WorkerSafe tasks queued or running.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_worker_inflight gauge\n")
	fmt.Fprintf(rw, "tickbridge_worker_inflight %d\n", m.WorkerInflight)

	fmt.Fprintf(rw, "# HELP tickbridge_starved_ticks Consecutive budget-exhausted drains without progress.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_starved_ticks gauge\n")
	fmt.Fprintf(rw, "tickbridge_starved_ticks %d\n", m.StarvedTicks)

	fmt.Fprintf(rw, "# HELP tickbridge_drain_ms Last barrier drain duration in milliseconds.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_drain_ms gauge\n")
	fmt.Fprintf(rw, "tickbridge_drain_ms %.3f\n", float64(m.LastDrain.Elapsed.Microseconds())/1000.0)

	fmt.Fprintf(rw, "# HELP tickbridge_provider_up Protection provider availability (1 = active).\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_provider_up gauge\n")
	for _, d := range reg.Snapshot() {
		up := 0
		if d.Available() {
			up = 1
		}
		fmt.Fprintf(rw, "tickbridge_provider_up{provider=%q,status=%q} %d\n", d.Kind, d.Status, up)
	}

	fmt.Fprintf(rw, "# HELP tickbridge_registry_generation Provider registry generation.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_registry_generation gauge\n")
	fmt.Fprintf(rw, "tickbridge_registry_generation %d\n", reg.Generation())
}

func writeMirrorMetrics(rw http.ResponseWriter, m *r2s3.Mirror) {
	if m == nil {
		return
	}
	st := m.Stats()
	fmt.Fprintf(rw, "# HELP tickbridge_mirror_queue_depth Files waiting for upload.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_mirror_queue_depth gauge\n")
	fmt.Fprintf(rw, "tickbridge_mirror_queue_depth %d\n", st.QueueDepth)

	fmt.Fprintf(rw, "# HELP tickbridge_mirror_uploads_total Mirror uploads by result.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_mirror_uploads_total counter\n")
	fmt.Fprintf(rw, "tickbridge_mirror_uploads_total{result=%q} %d\n", "success", st.UploadSuccessTotal)
	fmt.Fprintf(rw, "tickbridge_mirror_uploads_total{result=%q} %d\n", "fail", st.UploadFailTotal)
	fmt.Fprintf(rw, "tickbridge_mirror_uploads_total{result=%q} %d\n", "dropped", st.DroppedTotal)

	fmt.Fprintf(rw, "# HELP tickbridge_mirror_last_success_unix Unix time of the last successful upload.\n")
	fmt.Fprintf(rw, "# TYPE tickbridge_mirror_last_success_unix gauge\n")
	fmt.Fprintf(rw, "tickbridge_mirror_last_success_unix %d\n", st.LastSuccessUnix)
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
