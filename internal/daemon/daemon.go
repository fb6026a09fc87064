package daemon

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/maco144/pickle/internal/api"
	"github.com/maco144/pickle/internal/app/credit"
	"github.com/maco144/pickle/internal/app/engine"
	"github.com/maco144/pickle/internal/health"
	"github.com/maco144/pickle/internal/infra/scheduler"
	"github.com/maco144/pickle/internal/infra/sqlite"
	"github.com/maco144/pickle/internal/infra/timeline"
)

// MetaLastSession is the meta key holding the most recent engine session.
const MetaLastSession = "last_session"

// Daemon is the pickle runtime. It wires the engine, ledger, health checks
// and HTTP API together.
type Daemon struct {
	Config Config
	Log    logr.Logger

	Loop   *timeline.Loop
	Engine *engine.Engine
	DB     *sqlite.DB      // nil when the ledger is disabled
	Ledger *credit.Service // nil when the ledger is disabled
	Health *health.Checker
	Hub    *api.SnapshotHub
	Server *api.Server

	// StartPaused leaves the engine stopped after Serve comes up.
	StartPaused bool

	cancel context.CancelFunc
	addr   atomic.Pointer[string]
}

// New loads $PICKLE_HOME/config.toml and builds a Daemon from it.
func New(log logr.Logger) (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg, log)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config, log logr.Logger) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	roster, err := cfg.Roster()
	if err != nil {
		return nil, err
	}

	d := &Daemon{Config: cfg, Log: log}
	d.Loop = timeline.NewLoop(clock.RealClock{}, log)

	opts := engine.Options{
		Config: cfg.SchedulerConfig(),
		Roster: roster,
		Logger: log,
	}
	if cfg.Engine.Seed != 0 {
		opts.Rand = SeededRand(cfg.Engine.Seed)
	}

	// Payout ledger
	var checks []health.Check
	if cfg.Ledger.Enabled {
		dir := cfg.Ledger.Dir
		if dir == "" {
			dir = pickleHome()
		}
		db, err := sqlite.Open(dir)
		if err != nil {
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		d.DB = db
		d.Ledger = credit.NewService(db, credit.Options{
			Buffer:        cfg.Ledger.Buffer,
			BatchSize:     cfg.Ledger.BatchSize,
			FlushInterval: parseDuration(cfg.Ledger.FlushInterval, 250*time.Millisecond),
		}, log)
		opts.Recorder = d.Ledger
		checks = append(checks, health.LedgerCheck(d.Ledger), health.DataDirCheck(dir))
	}

	eng, err := engine.New(d.Loop, opts)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create engine: %w", err)
	}
	d.Engine = eng

	if d.DB != nil {
		if err := d.DB.SetMeta(MetaLastSession, eng.Session()); err != nil {
			d.Close()
			return nil, fmt.Errorf("record session: %w", err)
		}
	}

	checks = append(checks, health.EngineCheck(eng, 5*time.Second))
	d.Health = health.NewChecker(parseDuration(cfg.Telemetry.HealthInterval, health.DefaultInterval), checks...)

	// HTTP API
	d.Hub = api.NewSnapshotHub(eng.Snapshot, log)
	srv := api.NewServer(eng, log)
	srv.SetHealth(d.Health)
	srv.SetSnapshotHub(d.Hub)
	srv.SetCORSOrigins(cfg.API.CORSOrigins)
	if d.Ledger != nil {
		srv.SetLedger(d.Ledger)
	}
	if cfg.Telemetry.Prometheus {
		srv.EnableMetrics()
	}
	d.Server = srv

	return d, nil
}

// SeededRand returns the engine's random source for a fixed seed.
func SeededRand(seed uint64) scheduler.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Serve runs the engine and HTTP server until ctx is done or SIGINT/SIGTERM.
//
// Shutdown order: HTTP server, then the engine loop, then the ledger, so
// every completion the loop produced is flushed before exit.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	defer cancel()

	loopCtx, stopLoop := context.WithCancel(context.WithoutCancel(ctx))
	ledgerCtx, stopLedger := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLoop()
	defer stopLedger()

	var loopDone, ledgerDone errgroup.Group
	loopDone.Go(func() error { return d.Loop.Run(loopCtx) })
	if d.Ledger != nil {
		ledgerDone.Go(func() error { return d.Ledger.Run(ledgerCtx) })
	}

	unsubscribe, err := d.Engine.Subscribe(d.Hub.Observe)
	if err != nil {
		return fmt.Errorf("subscribe snapshot feed: %w", err)
	}
	defer unsubscribe()

	if !d.StartPaused {
		if _, err := d.Engine.Start(); err != nil {
			return fmt.Errorf("start engine: %w", err)
		}
	}

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // event streams are long-lived
		IdleTimeout:  2 * time.Minute,
	}
	// Shutdown waits for handlers but never cancels them; end the event
	// streams so it can finish.
	httpServer.RegisterOnShutdown(d.Hub.Close)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})
	g.Go(func() error {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		bound := ln.Addr().String()
		d.addr.Store(&bound)
		d.Log.Info("serving", "addr", "http://"+bound, "session", d.Engine.Session(),
			"ledger", d.Ledger != nil, "metrics", d.Config.Telemetry.Prometheus)
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	d.Log.Info("shutting down")

	unsubscribe()
	stopLoop()
	_ = loopDone.Wait()
	stopLedger()
	if lerr := ledgerDone.Wait(); lerr != nil && err == nil {
		err = lerr
	}
	if d.Ledger != nil {
		written, dropped := d.Ledger.Stats()
		d.Log.Info("ledger flushed", "written", written, "dropped", dropped)
	}
	return err
}

// Addr returns the address the HTTP server is listening on, or "" before
// Serve has bound it.
func (d *Daemon) Addr() string {
	if p := d.addr.Load(); p != nil {
		return *p
	}
	return ""
}

// Close shuts down all daemon resources.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
