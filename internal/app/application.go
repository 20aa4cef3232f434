package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/R3E-Network/tribute_layer/internal/app/metrics"
	"github.com/R3E-Network/tribute_layer/internal/app/scheduler"
	"github.com/R3E-Network/tribute_layer/internal/app/services/heat"
	"github.com/R3E-Network/tribute_layer/internal/app/services/leaderboard"
	"github.com/R3E-Network/tribute_layer/internal/app/services/ledgertx"
	"github.com/R3E-Network/tribute_layer/internal/app/services/scoring"
	"github.com/R3E-Network/tribute_layer/internal/app/storage"
	"github.com/R3E-Network/tribute_layer/internal/app/storage/memory"
	"github.com/R3E-Network/tribute_layer/internal/app/storage/postgres"
	redisstore "github.com/R3E-Network/tribute_layer/internal/app/storage/redis"
	"github.com/R3E-Network/tribute_layer/internal/app/system"
	"github.com/R3E-Network/tribute_layer/internal/clock"
	"github.com/R3E-Network/tribute_layer/internal/config"
	"github.com/R3E-Network/tribute_layer/internal/content"
	"github.com/R3E-Network/tribute_layer/internal/gasbank"
	ledgerclient "github.com/R3E-Network/tribute_layer/internal/ledger"
	"github.com/R3E-Network/tribute_layer/internal/platform/migrations"
	"github.com/R3E-Network/tribute_layer/internal/refupdate"
	"github.com/R3E-Network/tribute_layer/pkg/logger"
)

// Job names registered with the scheduler.
const (
	JobExecutionTick    = "ledger-execution"
	JobConfirmationTick = "ledger-confirmation"
	JobLeaderboard      = "leaderboard-snapshot"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Heat         storage.HeatWindowStore
	Transactions storage.LedgerTransactionStore
	Snapshots    storage.LeaderboardSnapshotStore
}

// ContentDirectory resolves content and answers item existence checks.
type ContentDirectory interface {
	ledgertx.ContentResolver
	heat.ItemChecker
}

// WalletService supplies payer wallets and holds fees during submission.
type WalletService interface {
	ledgertx.WalletProvider
	ledgertx.FeeLedger
}

// Dependencies are the external collaborators. Nil fields default to
// in-process implementations.
type Dependencies struct {
	Ledger     ledgerclient.Client
	Content    ContentDirectory
	Wallets    WalletService
	References ledgertx.ReferenceUpdater
	Clock      clock.Clock
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	closers []func() error

	Heat        *heat.Service
	Scoring     *scoring.Service
	Leaderboard *leaderboard.Service
	Ledger      *ledgertx.Manager
	Wallets     WalletService
	Scheduler   *scheduler.Service
}

// New builds a fully initialised application with the provided stores and
// collaborators.
func New(cfg *config.Config, stores Stores, deps Dependencies, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Heat == nil {
		stores.Heat = mem
	}
	if stores.Transactions == nil {
		stores.Transactions = mem
	}
	if stores.Snapshots == nil {
		stores.Snapshots = mem
	}

	clk := clock.OrReal(deps.Clock)
	if deps.Ledger == nil {
		deps.Ledger = ledgerclient.NewSimulator(clk, cfg.Ledger.SimulatorFinality)
	}
	if deps.Content == nil {
		deps.Content = content.NewRegistry()
	}
	if deps.Wallets == nil {
		deps.Wallets = gasbank.NewManager(clk)
	}
	if deps.References == nil {
		deps.References = refupdate.NewRecorder()
	}

	scoringService, err := scoring.New(stores.Heat, cfg.ScoringParams(), clk, log.Named("scoring"))
	if err != nil {
		return nil, fmt.Errorf("configure scoring: %w", err)
	}
	heatService := heat.New(stores.Heat, scoringService, deps.Content, heat.Config{
		Window:   cfg.Heat.Window,
		MaxDelta: cfg.Heat.MaxDelta,
		Weights:  cfg.Heat.Weights,
	}, clk, log.Named("heat"))
	boardService := leaderboard.New(stores.Heat, stores.Snapshots, scoringService, leaderboard.Config{
		Lookback:      cfg.Scoring.Lookback,
		MaxCandidates: cfg.Leaderboard.MaxCandidates,
	}, clk, log.Named("leaderboard"))
	ledgerManager := ledgertx.New(stores.Transactions, deps.Ledger, deps.Content, deps.Wallets, deps.References, ledgertx.Config{
		BatchLimit:  cfg.Lifecycle.BatchLimit,
		Concurrency: cfg.Lifecycle.Concurrency,
		StuckAfter:  cfg.Lifecycle.StuckAfter,
		Fees: ledgerclient.FeeSchedule{
			Base:    cfg.Lifecycle.FeeBase,
			PerByte: cfg.Lifecycle.FeePerByte,
		},
	}, clk, log.Named("ledgertx"))
	if cfg.Lifecycle.ReserveFees {
		ledgerManager.WithFeeLedger(deps.Wallets)
	}

	sched := scheduler.New(log.Named("scheduler"))
	jobs := []scheduler.Job{
		{
			Name:     JobExecutionTick,
			Schedule: cfg.Lifecycle.ExecutionSchedule,
			Timeout:  cfg.Lifecycle.TickTimeout,
			Run: func(ctx context.Context) error {
				_, err := ledgerManager.RunPendingExecutionTick(ctx)
				return err
			},
		},
		{
			Name:     JobConfirmationTick,
			Schedule: cfg.Lifecycle.ConfirmationSchedule,
			Timeout:  cfg.Lifecycle.TickTimeout,
			Run: func(ctx context.Context) error {
				_, err := ledgerManager.RunPendingConfirmationTick(ctx)
				return err
			},
		},
		{
			Name:     JobLeaderboard,
			Schedule: cfg.Leaderboard.SnapshotSchedule,
			Timeout:  cfg.Lifecycle.TickTimeout,
			Run: func(ctx context.Context) error {
				_, err := boardService.TakeSnapshot(ctx)
				return err
			},
		},
	}
	for _, job := range jobs {
		if job.Schedule == "" {
			log.WithField("job", job.Name).Warn("no schedule configured; job disabled")
			continue
		}
		if err := sched.Add(job); err != nil {
			return nil, fmt.Errorf("register job: %w", err)
		}
	}

	manager := system.NewManager()
	for _, name := range []string{"heat", "scoring", "leaderboard", "ledgertx"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}
	if err := manager.Register(sched); err != nil {
		return nil, fmt.Errorf("register %s: %w", sched.Name(), err)
	}

	return &Application{
		manager:     manager,
		log:         log,
		Heat:        heatService,
		Scoring:     scoringService,
		Leaderboard: boardService,
		Ledger:      ledgerManager,
		Wallets:     deps.Wallets,
		Scheduler:   sched,
	}, nil
}

// Open connects the backends named in cfg and builds the application on top
// of them. Unset backends fall back to their in-process implementations.
func Open(ctx context.Context, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if err := cfg.CheckDurable(); err != nil {
		return nil, err
	}
	for _, f := range cfg.InProcessFallbacks() {
		log.WithField("setting", f.Setting).
			WithField("using", f.Usage).
			Warn("collaborator not configured; using in-process fallback")
	}
	var (
		stores  Stores
		deps    Dependencies
		closers []func() error
	)
	fail := func(err error) (*Application, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		db, err := OpenDatabase(ctx, cfg.Database)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, db.Close)
		if cfg.Database.MigrateOnStart {
			version, err := migrations.Apply(ctx, db)
			if err != nil {
				return fail(fmt.Errorf("apply migrations: %w", err))
			}
			log.WithField("version", version).Info("database schema is current")
		}
		store := postgres.New(db)
		stores.Heat = store
		stores.Transactions = store
	} else {
		log.Warn("database dsn not set; using in-memory storage")
	}

	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client, err := redisstore.Connect(ctx, redisstore.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return fail(err)
		}
		closers = append(closers, client.Close)
		stores.Snapshots = redisstore.NewSnapshotStore(client, cfg.Redis.SnapshotKey, cfg.Redis.SnapshotTTL)
	}

	if strings.EqualFold(cfg.Ledger.Mode, config.LedgerModeHTTP) {
		client, err := ledgerclient.NewHTTPClient(ledgerclient.HTTPConfig{
			BaseURL:            cfg.Ledger.BaseURL,
			APIKey:             cfg.Ledger.APIKey,
			Timeout:            cfg.Ledger.Timeout,
			MaxRetries:         cfg.Ledger.MaxRetries,
			Backoff:            cfg.Ledger.Backoff,
			MaxBackoff:         cfg.Ledger.MaxBackoff,
			RateLimit:          cfg.Ledger.RateLimit,
			Burst:              cfg.Ledger.Burst,
			MinConfirmations:   int64(cfg.Ledger.MinConfirmations),
			PermanentRefPrefix: cfg.Ledger.PermanentRefPrefix,
			OnRetry: func(attempt int, wait time.Duration, err error) {
				metrics.RecordLedgerRetry("http")
				log.WithError(err).WithField("attempt", attempt).WithField("wait", wait).Debug("retrying ledger call")
			},
		})
		if err != nil {
			return fail(fmt.Errorf("configure ledger client: %w", err))
		}
		deps.Ledger = client
	}

	if base := strings.TrimSpace(cfg.Content.BaseURL); base != "" {
		deps.Content = content.NewHTTPDirectory(base, cfg.Content.APIKey, cfg.Content.Timeout)
	}

	if base := strings.TrimSpace(cfg.Wallet.BaseURL); base != "" {
		deps.Wallets = gasbank.NewHTTPWallets(base, cfg.Wallet.APIKey, cfg.Wallet.Timeout)
	}

	if brokers := strings.TrimSpace(cfg.Kafka.Brokers); brokers != "" {
		publisher, err := refupdate.NewKafkaPublisher(brokers, cfg.Kafka.Topic, nil)
		if err != nil {
			return fail(fmt.Errorf("configure reference publisher: %w", err))
		}
		closers = append(closers, publisher.Close)
		deps.References = publisher
	}

	application, err := New(cfg, stores, deps, log)
	if err != nil {
		return fail(err)
	}
	application.closers = closers
	return application, nil
}

// OpenDatabase opens and pings a PostgreSQL pool.
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases backend connections.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	for i := len(a.closers) - 1; i >= 0; i-- {
		err = errors.Join(err, a.closers[i]())
	}
	a.closers = nil
	return err
}
