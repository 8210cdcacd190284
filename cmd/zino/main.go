// Zino daemon -- SNMP-driven network-state monitor.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/zinolabs/zino/internal/config"
	zinometrics "github.com/zinolabs/zino/internal/metrics"
	"github.com/zinolabs/zino/internal/snmp"
	appversion "github.com/zinolabs/zino/internal/version"
	"github.com/zinolabs/zino/internal/zino/flap"
	"github.com/zinolabs/zino/internal/zino/model"
	"github.com/zinolabs/zino/internal/zino/operator"
	"github.com/zinolabs/zino/internal/zino/pm"
	"github.com/zinolabs/zino/internal/zino/scheduler"
	"github.com/zinolabs/zino/internal/zino/snapshot"
	"github.com/zinolabs/zino/internal/zino/store"
	"github.com/zinolabs/zino/internal/zino/trapd"
	"github.com/zinolabs/zino/internal/zino/trapobservers"
)

// shutdownTimeout is the maximum time to wait for the metrics HTTP
// server to drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// pmTickInterval is the planned-maintenance engine cadence.
const pmTickInterval = time.Minute

// deviceFilePollInterval is how often the device file's mtime is
// checked for changes between SIGHUPs.
const deviceFilePollInterval = time.Minute

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (TOML)")
	flag.Parse()

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("zino starting",
		slog.String("version", appversion.Version),
		slog.String("api_addr", cfg.Listen.APIAddr),
		slog.String("notify_addr", cfg.Listen.NotifyAddr),
		slog.String("trap_addr", cfg.Listen.TrapAddr),
	)

	// 4. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := zinometrics.NewCollector(reg)

	// 5. Build the runtime: store, flap tracker, scheduler, PM engine.
	rt, err := buildRuntime(cfg, collector, logger)
	if err != nil {
		logger.Error("failed to initialize",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 6. Run servers.
	if err := runServers(cfg, rt, reg, logger, *configPath, logLevel); err != nil {
		logger.Error("zino exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("zino stopped")
	return 0
}

// runtime holds every long-lived component. buildRuntime wires them in
// this order: event store -> flap tracker -> scheduler (device
// registry) -> PM engine -> operator protocol server -> trap
// dispatcher; the device file itself is loaded later, in runServers.
// Components depend only on the slice they need.
type runtime struct {
	store      *store.Store
	flap       *flap.Tracker
	scheduler  *scheduler.Scheduler
	pm         *pm.Engine
	operator   *operator.Server
	dispatcher *trapd.Dispatcher
	metrics    *zinometrics.Collector
}

// buildRuntime creates and cross-wires the daemon's components. No
// goroutines start here; runServers owns all lifecycles.
func buildRuntime(cfg *config.Config, collector *zinometrics.Collector, logger *slog.Logger) (*runtime, error) {
	secrets, err := loadSecrets(cfg.Authentication.SecretsFile)
	if err != nil {
		return nil, err
	}

	factory, err := newSNMPFactory(cfg.SNMP)
	if err != nil {
		return nil, err
	}
	cache := snmp.NewSessionCache(factory)

	st := store.New(1, logger)
	tracker := flap.NewTracker(logger)
	tracker.SetMetrics(collector)
	sched := scheduler.New(st, tracker, cache, logger)
	sched.SetMetrics(collector)
	pmEngine := pm.New(st, sched, logger)

	srv := operator.New(st, secrets, sched, pmEngine, appversion.Version, logger)
	srv.SetMetrics(collector)

	// Closed events are archived one file per event; metrics track
	// every lifecycle transition. Both ride the store's observer
	// stream, after the operator server's notification observer.
	archiver := &snapshot.Archiver{Dir: cfg.Archiving.OldEventsDir, Logger: logger}
	st.AddObserver(archiver.Observer())
	st.AddObserver(func(newEvent, oldEvent *model.Event, _ []string) {
		from := model.StateEmbryonic
		if oldEvent != nil {
			from = oldEvent.State
		}
		if oldEvent == nil || from != newEvent.State {
			collector.RecordEventTransition(newEvent.Kind.String(), from.String(), newEvent.State.String())
		}
	})

	mibs := snmp.Builtin()
	dispatcher := trapd.New(sched.Addresses(), mibs, logger)
	dispatcher.SetMetrics(collector)
	registerTrapObservers(dispatcher, st, sched, tracker, logger)

	return &runtime{
		store:      st,
		flap:       tracker,
		scheduler:  sched,
		pm:         pmEngine,
		operator:   srv,
		dispatcher: dispatcher,
		metrics:    collector,
	}, nil
}

// registerTrapObservers wires the observer set in dispatch order:
// suppressed identities first, then the state-mutating observers, then
// the log-only tail.
func registerTrapObservers(
	d *trapd.Dispatcher,
	st *store.Store,
	sched *scheduler.Scheduler,
	tracker *flap.Tracker,
	logger *slog.Logger,
) {
	d.Register(&trapobservers.IgnoreSet{IDs: []trapd.TrapID{
		{MIB: "SNMPv2-MIB", Name: "authenticationFailure"},
	}})
	d.Register(&trapobservers.LinkObserver{
		Devices: sched,
		Store:   st,
		Flap:    tracker,
		Poller:  sched,
		Logger:  logger,
	})
	d.Register(&trapobservers.BFDObserver{Poller: sched, Logger: logger})
	d.Register(&trapobservers.BGPObserver{Devices: sched, Store: st, Logger: logger})
	d.Register(&trapobservers.LogOnlySet{IDs: []trapd.TrapID{
		{MIB: "SNMPv2-MIB", Name: "coldStart"},
		{MIB: "SNMPv2-MIB", Name: "warmStart"},
		{MIB: "CISCOTRAP-MIB", Name: "reload"},
		{MIB: "CISCO-CONFIG-MAN-MIB", Name: "ciscoConfigManEvent"},
	}, Logger: logger})
}

// runServers starts every listener and periodic job under one errgroup
// with a signal-aware context, restores the previous snapshot, and
// writes a final snapshot on the way out.
func runServers(
	cfg *config.Config,
	rt *runtime,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
) error {
	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	// Device registry first, then the snapshot on top of it: restored
	// learned state attaches to devices the file still names.
	if _, _, _, err := rt.scheduler.ReconcileDeviceFile(gCtx, cfg.Polling.DeviceFile); err != nil {
		return fmt.Errorf("load device file: %w", err)
	}
	if err := restoreSnapshot(cfg.Persistence.StateFile, rt, logger); err != nil {
		return err
	}

	lc := net.ListenConfig{}

	apiLn, err := lc.Listen(gCtx, "tcp", cfg.Listen.APIAddr)
	if err != nil {
		return fmt.Errorf("bind api listener %s: %w", cfg.Listen.APIAddr, err)
	}
	notifyLn, err := lc.Listen(gCtx, "tcp", cfg.Listen.NotifyAddr)
	if err != nil {
		apiLn.Close()
		return fmt.Errorf("bind notify listener %s: %w", cfg.Listen.NotifyAddr, err)
	}

	g.Go(func() error {
		logger.Info("command channel listening", slog.String("addr", cfg.Listen.APIAddr))
		return rt.operator.ServeCommand(gCtx, apiLn)
	})
	g.Go(func() error {
		logger.Info("notification channel listening", slog.String("addr", cfg.Listen.NotifyAddr))
		return rt.operator.NotifyServer().Serve(gCtx, notifyLn)
	})

	if cfg.Listen.TrapAddr != "" {
		trapConn, err := lc.ListenPacket(gCtx, "udp", cfg.Listen.TrapAddr)
		if err != nil {
			apiLn.Close()
			notifyLn.Close()
			return fmt.Errorf("bind trap listener %s: %w", cfg.Listen.TrapAddr, err)
		}
		src := trapd.NewUDPSource(trapConn, logger)
		g.Go(func() error {
			defer src.Close()
			logger.Info("trap receiver listening", slog.String("addr", cfg.Listen.TrapAddr))
			return rt.dispatcher.Run(gCtx, src)
		})
	}

	var metricsSrv *http.Server
	if cfg.Listen.MetricsAddr != "" {
		metricsSrv = newMetricsServer(cfg.Listen.MetricsAddr, reg)
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("addr", cfg.Listen.MetricsAddr))
			return listenAndServe(gCtx, &lc, metricsSrv, cfg.Listen.MetricsAddr)
		})
	}

	startPeriodicJobs(gCtx, g, cfg, rt, logger)
	startSignalHandlers(gCtx, g, configPath, logLevel, cfg, rt, logger)

	// Shutdown goroutine: waits for context cancellation, then writes a
	// final snapshot and drains the HTTP server.
	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, cfg, rt, metricsSrv, logger)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// startPeriodicJobs registers the recurring background jobs: flap-score
// decay, planned-maintenance ticks, state snapshots, and device-file
// change detection.
func startPeriodicJobs(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	rt *runtime,
	logger *slog.Logger,
) {
	decayInterval := parseDurationOr(cfg.Polling.DecayInterval, flap.DecrementInterval, logger, "polling.decay_interval")
	snapshotPeriod := parseDurationOr(cfg.Persistence.Period, 5*time.Minute, logger, "persistence.period")

	g.Go(func() error {
		runTicker(ctx, decayInterval, func(now time.Time) {
			rt.scheduler.RunFlapDecay(ctx, now)
		})
		return nil
	})
	g.Go(func() error {
		runTicker(ctx, pmTickInterval, func(now time.Time) {
			rt.pm.Tick(ctx, now)
			refreshOpenEventsGauge(rt)
		})
		return nil
	})
	g.Go(func() error {
		runTicker(ctx, snapshotPeriod, func(now time.Time) {
			saveSnapshot(cfg.Persistence.StateFile, rt, now, logger)
		})
		return nil
	})
	g.Go(func() error {
		watchDeviceFile(ctx, cfg.Polling.DeviceFile, rt.scheduler, logger)
		return nil
	})
}

// refreshOpenEventsGauge recounts the open events by kind and state.
// Every kind/state combination is written, zeroes included, so a
// combination that empties out doesn't keep reporting its last count.
func refreshOpenEventsGauge(rt *runtime) {
	type bucket struct{ kind, state string }
	counts := make(map[bucket]int)
	for _, ev := range rt.store.OpenEvents() {
		counts[bucket{ev.Kind.String(), ev.State.String()}]++
	}
	kinds := []model.EventKind{
		model.KindPortState, model.KindBGP, model.KindBFD,
		model.KindReachability, model.KindAlarm,
	}
	states := []model.EventState{
		model.StateOpen, model.StateWorking, model.StateWaiting,
		model.StateConfirmWait, model.StateIgnored,
	}
	for _, kind := range kinds {
		for _, state := range states {
			n := counts[bucket{kind.String(), state.String()}]
			rt.metrics.SetOpenEvents(kind.String(), state.String(), float64(n))
		}
	}
}

// runTicker invokes fn every interval until ctx is cancelled.
func runTicker(ctx context.Context, interval time.Duration, fn func(now time.Time)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			fn(now)
		}
	}
}

// watchDeviceFile reconciles the scheduler whenever the device file's
// modification time changes. A transient stat or parse error keeps the
// prior configuration in effect.
func watchDeviceFile(ctx context.Context, path string, sched *scheduler.Scheduler, logger *slog.Logger) {
	var lastMod time.Time
	if info, err := os.Stat(path); err == nil {
		lastMod = info.ModTime()
	}

	ticker := time.NewTicker(deviceFilePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				logger.Warn("device file unreadable, keeping current devices",
					slog.String("path", path), slog.String("error", err.Error()))
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			lastMod = info.ModTime()
			if _, _, _, err := sched.ReconcileDeviceFile(ctx, path); err != nil {
				logger.Error("device file reload failed, keeping current devices",
					slog.String("path", path), slog.String("error", err.Error()))
			}
		}
	}
}

// startSignalHandlers registers the SIGHUP reload and SIGUSR1 job-dump
// goroutines.
func startSignalHandlers(
	ctx context.Context,
	g *errgroup.Group,
	configPath string,
	logLevel *slog.LevelVar,
	cfg *config.Config,
	rt *runtime,
	logger *slog.Logger,
) {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(ctx, sigHUP, configPath, logLevel, cfg, rt, logger)
		return nil
	})

	sigUSR1 := make(chan os.Signal, 1)
	signal.Notify(sigUSR1, syscall.SIGUSR1)
	g.Go(func() error {
		defer signal.Stop(sigUSR1)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigUSR1:
				for name, desc := range rt.scheduler.DumpJobs() {
					logger.Info("running job", slog.String("device", name), slog.String("state", desc))
				}
			}
		}
	})
}

// handleSIGHUP listens for SIGHUP signals and reloads configuration:
// the log level is updated dynamically via the shared LevelVar and the
// device file is re-reconciled. Errors during reload are logged but do
// not stop the daemon -- the previous configuration remains in effect.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	cfg *config.Config,
	rt *runtime,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading configuration")

			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload configuration, keeping current settings",
					slog.String("error", err.Error()),
				)
				continue
			}

			oldLevel := logLevel.Level()
			newLevel := config.ParseLogLevel(newCfg.Log.Level)
			logLevel.Set(newLevel)
			logger.Info("configuration reloaded",
				slog.String("old_log_level", oldLevel.String()),
				slog.String("new_log_level", newLevel.String()),
			)

			created, removed, updated, err := rt.scheduler.ReconcileDeviceFile(ctx, newCfg.Polling.DeviceFile)
			if err != nil {
				logger.Error("device reconciliation failed, keeping current devices",
					slog.String("error", err.Error()),
				)
				continue
			}
			logger.Info("device reconciliation complete",
				slog.Int("created", created),
				slog.Int("removed", removed),
				slog.Int("updated", updated),
			)
		}
	}
}

// gracefulShutdown writes a final state snapshot and drains the metrics
// HTTP server. The parent context is already cancelled when this runs;
// a detached timeout context bounds the drain.
func gracefulShutdown(
	ctx context.Context,
	cfg *config.Config,
	rt *runtime,
	metricsSrv *http.Server,
	logger *slog.Logger,
) error {
	logger.Info("initiating graceful shutdown")

	saveSnapshot(cfg.Persistence.StateFile, rt, time.Now(), logger)

	if metricsSrv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown metrics server: %w", err)
	}
	return nil
}

// restoreSnapshot loads and applies the previous state snapshot, if one
// exists. A corrupt snapshot is fatal: silently starting empty would
// discard every open case's id continuity.
func restoreSnapshot(path string, rt *runtime, logger *slog.Logger) error {
	state, err := snapshot.Load(path)
	if err != nil {
		return fmt.Errorf("load state snapshot: %w", err)
	}
	if state == nil {
		logger.Info("no previous state snapshot, starting empty", slog.String("path", path))
		return nil
	}
	sr := snapshot.Runtime{Store: rt.store, Flap: rt.flap, Scheduler: rt.scheduler, PMs: rt.pm}
	if err := snapshot.Apply(sr, state); err != nil {
		return fmt.Errorf("apply state snapshot: %w", err)
	}
	logger.Info("state snapshot restored",
		slog.String("path", path),
		slog.Int("events", len(state.Events)),
	)
	return nil
}

// saveSnapshot captures and writes the state snapshot, logging rather
// than propagating failures so a full disk doesn't kill monitoring.
func saveSnapshot(path string, rt *runtime, now time.Time, logger *slog.Logger) {
	sr := snapshot.Runtime{Store: rt.store, Flap: rt.flap, Scheduler: rt.scheduler, PMs: rt.pm}
	if err := snapshot.Save(path, snapshot.Capture(sr, now)); err != nil {
		logger.Error("state snapshot failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	logger.Debug("state snapshot written", slog.String("path", path))
}

// loadSecrets reads the operator secrets file, refusing one that is
// world-readable.
func loadSecrets(path string) (operator.Secrets, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat secrets file: %w", err)
	}
	if info.Mode().Perm()&0o004 != 0 {
		return nil, fmt.Errorf("secrets file %s is world-readable; fix its permissions", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open secrets file: %w", err)
	}
	defer f.Close()
	secrets, err := operator.LoadSecrets(f)
	if err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
	}
	return secrets, nil
}

// newSNMPFactory selects the configured SNMP backend.
func newSNMPFactory(cfg config.SNMPConfig) (snmp.Factory, error) {
	switch cfg.Backend {
	case "fake":
		return &snmp.FakeFactory{Client: snmp.NewFakeClient()}, nil
	case "gosnmp":
		mibs := snmp.Builtin()
		return &snmp.GoSNMPFactory{Resolver: mibs.Lookup}, nil
	default:
		return nil, fmt.Errorf("unknown snmp backend %q", cfg.Backend)
	}
}

// parseDurationOr parses a config duration string, falling back to def
// with a warning on a malformed value.
func parseDurationOr(s string, def time.Duration, logger *slog.Logger, key string) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		logger.Warn("invalid duration in configuration, using default",
			slog.String("key", key),
			slog.String("value", s),
			slog.Duration("default", def),
		)
		return def
	}
	return d
}

// listenAndServe creates a TCP listener using the ListenConfig and
// serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer serves the Prometheus metrics endpoint and the
// standard gRPC health check (grpc.health.v1) for orchestrator
// liveness probes. The handler is wrapped with h2c so gRPC health
// clients can connect over plaintext HTTP/2.
func newMetricsServer(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	checker := grpchealth.NewStaticChecker(
		grpchealth.HealthV1ServiceName,
	)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared
// LevelVar for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
