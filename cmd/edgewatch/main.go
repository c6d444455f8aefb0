// edgewatch is an autonomous paper trader for binary prediction
// markets. It watches markets, maintains belief ranges per market, and
// trades only when a market price falls outside a confident belief.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/edgewatch/edgewatch/internal/audit"
	"github.com/edgewatch/edgewatch/internal/belief"
	"github.com/edgewatch/edgewatch/internal/calibration"
	"github.com/edgewatch/edgewatch/internal/config"
	"github.com/edgewatch/edgewatch/internal/connectors"
	"github.com/edgewatch/edgewatch/internal/decision"
	"github.com/edgewatch/edgewatch/internal/execution"
	"github.com/edgewatch/edgewatch/internal/feed"
	"github.com/edgewatch/edgewatch/internal/market"
	"github.com/edgewatch/edgewatch/internal/metrics"
	"github.com/edgewatch/edgewatch/internal/notifications"
	"github.com/edgewatch/edgewatch/internal/orchestrator"
	"github.com/edgewatch/edgewatch/internal/paper"
	sig "github.com/edgewatch/edgewatch/internal/signal"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	exportThresholds := flag.String("export-thresholds", "", "Write the active threshold table to a YAML file and exit")
	flag.Parse()

	if err := run(*configPath, *exportThresholds); err != nil {
		fmt.Fprintf(os.Stderr, "edgewatch: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, exportThresholds string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)
	log := config.NewLogger("main")

	if exportThresholds != "" {
		return cfg.ExportThresholds(exportThresholds)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cfg.LoadSecrets(ctx); err != nil {
		return fmt.Errorf("failed to load secrets: %w", err)
	}

	log.Info().
		Str("version", cfg.App.Version).
		Str("environment", cfg.App.Environment).
		Msg("Starting edgewatch")

	// Optional PostgreSQL pool, shared by the audit mirror and the
	// position store.
	var pool *pgxpool.Pool
	if cfg.Database.Enabled {
		pool, err = pgxpool.New(ctx, cfg.Database.GetDSN())
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
	}

	var auditDB audit.PoolInterface
	if pool != nil {
		auditDB = pool
	}
	auditLog, err := audit.NewLogger(cfg.App.AuditPath, auditDB, config.NewLogger("audit"))
	if err != nil {
		return fmt.Errorf("failed to open audit log: %w", err)
	}
	defer auditLog.Close()

	var backend notifications.Backend
	if cfg.Telegram.Enabled {
		backend, err = notifications.NewTelegramBackend(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			return fmt.Errorf("failed to start telegram backend: %w", err)
		}
	}
	notify := notifications.NewService(backend, cfg.Telegram.RatePerMin, config.NewLogger("notifications"))

	var store paper.PositionStore
	if pool != nil {
		pg := paper.NewPGStoreWithPool(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate position store: %w", err)
		}
		store = pg
	} else {
		store = paper.NewFileStore(cfg.Paper.StorePath)
	}

	thresholds := decision.Thresholds{
		MinConfidence: cfg.Decision.MinConfidence,
		MaxWidth:      cfg.Decision.MaxWidth,
		MinLiquidity:  cfg.Markets.MinLiquidityUSD,
		MinEdge:       make(map[market.Category]float64),
	}
	for raw, edge := range cfg.Decision.MinEdge {
		thresholds.MinEdge[market.ParseCategory(raw)] = edge
	}
	settings := decision.NewSettings(thresholds, cfg.Decision.EdgeAdjustLimit, config.NewLogger("settings"))

	var orch *orchestrator.Orchestrator
	monitor := calibration.NewMonitor(
		cfg.Calibration.WindowSize,
		cfg.Calibration.MinRecords,
		cfg.Calibration.DensityWindow,
		cfg.Decision.CoverageTarget,
		func(reason calibration.HaltReason, detail string) {
			orch.ForceHalt(fmt.Sprintf("calibration failure: %s", detail))
		},
		func(category market.Category) {
			settings.RaiseMinEdge(category)
		},
		config.NewLogger("calibration"),
	)

	tracker := paper.NewTracker(store, monitor, cfg.Paper.PersistRetries, cfg.Paper.PersistBackoff(), config.NewLogger("paper"))
	if err := tracker.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover positions: %w", err)
	}

	executor := execution.NewExecutor(
		execution.NewPaperConnector(),
		tracker,
		tracker,
		execution.SafetyLimits{
			MaxOpenPositions:  cfg.Safety.MaxOpenPositions,
			DailyLossLimitUSD: cfg.Safety.DailyLossLimitUSD,
		},
		config.NewLogger("execution"),
	)

	deps := &orchestrator.Deps{
		Classifier:         sig.NewClassifier(config.NewLogger("classifier")),
		Beliefs:            belief.NewEngine(cfg.Belief.MaxSignalHistory, cfg.Belief.MaxUnknowns, cfg.Belief.SpeculativeLookback, config.NewLogger("belief")),
		Decisions:          decision.NewEngine(settings, decision.NewFractionalKelly(0.25, cfg.Safety.MaxPositionSizeUSD), cfg.Paper.VirtualCapitalUSD, config.NewLogger("decision")),
		Executor:           executor,
		Tracker:            tracker,
		Audit:              auditLog,
		Notify:             notify,
		Logger:             config.NewLogger("orchestrator"),
		EmergencyLiquidity: cfg.Markets.MinLiquidityUSD / 2,
	}

	var bus feed.Bus
	if cfg.NATS.Enabled {
		bus, err = feed.NewNATSBus(feed.NATSBusConfig{URL: cfg.NATS.URL}, config.NewLogger("feed"))
		if err != nil {
			return fmt.Errorf("failed to connect feed bus: %w", err)
		}
	} else {
		bus = feed.NewInProcBus()
	}
	defer bus.Close()

	clock := connectors.RealClock{}
	var source connectors.MarketSource
	var feeds []connectors.SignalSource
	if cfg.Connectors.ReplayPath != "" {
		replay, err := connectors.LoadReplay(cfg.Connectors.ReplayPath)
		if err != nil {
			return fmt.Errorf("failed to load replay session: %w", err)
		}
		source = connectors.NewResilientMarketSource(replay, cfg.Connectors.Timeout(), config.NewLogger("connectors"))
		feeds = []connectors.SignalSource{
			connectors.NewResilientSignalSource(replay, cfg.Connectors.Timeout(), cfg.Connectors.MinFetchInterval(), clock, config.NewLogger("connectors")),
		}
		log.Info().Str("path", cfg.Connectors.ReplayPath).Msg("Using replay session")
	} else {
		return fmt.Errorf("no market source configured: set connectors.replay_path")
	}

	registry := market.NewRegistry(cfg.Markets.MaxMarkets, config.NewLogger("markets"))

	orch = orchestrator.New(cfg, registry, source, feeds, bus, deps, monitor, settings, clock, config.NewLogger("orchestrator"))

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.GetRedisAddr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		orch.SetSnapshotCache(market.NewSnapshotCache(client, 2*cfg.Markets.PollInterval()))
	}

	if cfg.Monitoring.EnableMetrics {
		srv := metrics.NewServer(cfg.Monitoring.PrometheusPort, log)
		if err := srv.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("orchestrator failed: %w", err)
	}

	log.Info().Msg("Shutdown complete")
	return nil
}
