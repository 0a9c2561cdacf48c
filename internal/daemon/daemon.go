package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/tandem-app/tandem/internal/api"
	"github.com/tandem-app/tandem/internal/app/engagement"
	"github.com/tandem-app/tandem/internal/app/rewards"
	"github.com/tandem-app/tandem/internal/domain"
	"github.com/tandem-app/tandem/internal/health"
	"github.com/tandem-app/tandem/internal/infra/clock"
	"github.com/tandem-app/tandem/internal/infra/logger"
	"github.com/tandem-app/tandem/internal/infra/memory"
	"github.com/tandem-app/tandem/internal/infra/postgres"
	redisinfra "github.com/tandem-app/tandem/internal/infra/redis"
	"github.com/tandem-app/tandem/internal/infra/sqlite"
)

// Daemon is the core Tandem runtime. It wires together all services.
type Daemon struct {
	Config   Config
	Log      *logger.Logger
	Store    domain.StateStore
	Engine   *engagement.Engine
	Rewards  *rewards.Service
	Server   *api.Server
	Health   *health.Checker
	Rollover *Rollover
	Bus      domain.ChangeBus // nil unless redis is configured

	rdb    *goredis.Client
	cancel context.CancelFunc
}

// New creates and initializes a Daemon with all services wired.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return NewWithConfig(cfg)
}

// NewWithConfig creates a Daemon with the given configuration.
func NewWithConfig(cfg Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	d := &Daemon{Config: cfg, Log: log}

	// Redis client is shared by the redis store, change bus and alert sink.
	if cfg.Redis.Addr != "" {
		d.rdb, err = redisinfra.NewClient(redisinfra.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
	}

	store, err := d.openStore(context.Background())
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("open state store: %w", err)
	}
	d.Store = store

	loc, err := cfg.Location()
	if err != nil {
		d.Close()
		return nil, err
	}

	// Delivery sink: redis pub/sub when available, log otherwise
	var sink domain.DeliverySink = engagement.NewLogSink(log)
	if d.rdb != nil {
		sink = redisinfra.NewSink(d.rdb, cfg.Redis.AlertChannel)
		d.Bus = redisinfra.NewBus(d.rdb, cfg.Redis.ChangeChannel, log)
	}

	settings := cfg.Notifications
	d.Engine = engagement.New(engagement.Options{
		Store:               d.Store,
		Clock:               clock.NewReal(loc),
		Sink:                sink,
		Log:                 log,
		DailyChallengeCount: cfg.Engine.DailyChallengeCount,
		WeeklyGoal:          cfg.Engine.WeeklyGoal,
		DefaultSettings:     &settings,
	})
	d.Rewards = rewards.NewService(d.Engine)

	// Health checker
	var extra []health.Check
	if d.rdb != nil {
		rdb := d.rdb
		extra = append(extra, health.Check{
			Name: "redis",
			CheckFn: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		})
	}
	dataDir := ""
	if cfg.Store.Backend == BackendSQLite {
		dataDir = cfg.Store.Dir
	}
	d.Health = health.NewChecker(d.Store, dataDir, extra...)

	d.Rollover = NewRollover(d.Engine, cfg.Partnership.ID, cfg.Partnership.Partners, log)

	// API server
	d.Server = api.NewServer(d.Engine, d.Rewards, log)
	d.Server.SetHealth(d.Health)
	if d.Bus != nil {
		d.Server.SetBus(d.Bus)
	}
	if cfg.Telemetry.Prometheus {
		d.Server.EnableMetrics()
	}

	return d, nil
}

func (d *Daemon) openStore(ctx context.Context) (domain.StateStore, error) {
	switch d.Config.Store.Backend {
	case BackendRedis:
		return redisinfra.NewStore(d.rdb, d.Config.Redis.Prefix), nil
	case BackendPostgres:
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := postgres.Open(ctx, d.Config.Store.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	case BackendMemory:
		return memory.NewStore(), nil
	default:
		dir := d.Config.Store.Dir
		if dir == "" {
			dir = tandemHome()
		}
		db, err := sqlite.Open(dir)
		if err != nil {
			return nil, err
		}
		return db, nil
	}
}

// Serve starts the HTTP server and background services, blocking until a
// signal arrives or ctx is cancelled.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	d.cancel = cancel
	defer cancel()

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Change signals from other devices. Subscribed before anything else
	// starts so a failure leaves nothing running.
	if d.Bus != nil && d.Config.Redis.Subscribe {
		if err := d.Bus.StartForwarder(gctx, d.onChange(gctx)); err != nil {
			d.Close()
			return fmt.Errorf("start change forwarder: %w", err)
		}
	}

	// Health checker (always runs)
	g.Go(func() error {
		d.Health.Run(gctx)
		return nil
	})

	// Daily rollover, only when the partnership is configured
	if d.Config.Partnership.ID != "" && len(d.Config.Partnership.Partners) > 0 {
		g.Go(func() error { return d.Rollover.Run(gctx) })
	}

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	fmt.Printf("Tandem serving on http://%s (store: %s)\n", addr, d.Config.Store.Backend)
	if d.Config.Telemetry.Prometheus {
		fmt.Printf("  Metrics: http://%s/metrics\n", addr)
	}

	err := g.Wait()
	d.Close()
	return err
}

// onChange recomputes the local partners when another device reports a
// snapshot change for this partnership.
func (d *Daemon) onChange(ctx context.Context) func(domain.ChangeEvent) {
	return func(ev domain.ChangeEvent) {
		if ev.PartnershipID != d.Config.Partnership.ID {
			return
		}
		for _, p := range d.localPartners() {
			var err error
			if ev.Snapshot != nil {
				_, err = d.Engine.Recompute(ctx, ev.PartnershipID, p, *ev.Snapshot)
			} else {
				_, err = d.Engine.RecomputeStored(ctx, ev.PartnershipID, p)
			}
			if err != nil {
				d.Log.Error("change recompute failed", "partnership", ev.PartnershipID, "partner", p, "error", err)
			}
		}
	}
}

func (d *Daemon) localPartners() []string {
	if d.Config.Partnership.Local != "" {
		return []string{d.Config.Partnership.Local}
	}
	return d.Config.Partnership.Partners
}

// Close shuts down all daemon resources. Safe to call more than once.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Bus != nil {
		_ = d.Bus.Close()
	}
	if d.Store != nil {
		_ = d.Store.Close()
		d.Store = nil
	}
	if d.rdb != nil {
		_ = d.rdb.Close()
		d.rdb = nil
	}
	if d.Log != nil {
		d.Log.Sync()
	}
}
