package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/duelfield/duel-server-go/internal/cards"
	"github.com/duelfield/duel-server-go/internal/config"
	"github.com/duelfield/duel-server-go/internal/events"
	"github.com/duelfield/duel-server-go/internal/game"
	"github.com/duelfield/duel-server-go/internal/game/timing"
	"github.com/duelfield/duel-server-go/internal/scheduler"
	"github.com/duelfield/duel-server-go/internal/server"
	"github.com/duelfield/duel-server-go/internal/store"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting duel server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Card catalog
	catalog := cards.NewCatalog()
	if cfg.Server.CatalogPath != "" {
		loaded, err := catalog.LoadFile(cfg.Server.CatalogPath)
		if err != nil {
			logger.Warn("failed to load card catalog", zap.Error(err))
		} else {
			logger.Info("card catalog loaded",
				zap.String("path", cfg.Server.CatalogPath),
				zap.Int("cards", loaded),
			)
		}
	}

	// Match store: postgres when configured, in-memory otherwise.
	var matchStore game.MatchStore
	if cfg.Database.URL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.URL, logger.Named("store"))
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pg.Close()
		matchStore = pg
		logger.Info("postgres match store initialized")
	} else {
		matchStore = store.NewMemoryStore()
		logger.Info("in-memory match store initialized")
	}

	// Engine wiring. The gateway's sink broadcasts to spectators; the
	// zap sink keeps a structured audit trail.
	var gateway *server.Gateway
	sinkForGateway := events.FuncSink(func(event events.Event) {
		if gateway != nil {
			gateway.EventSink().Append(event)
		}
	})
	sink := events.MultiSink{events.NewZapSink(logger.Named("audit")), sinkForGateway}

	engine := game.NewEngine(matchStore, catalog, sink, logger.Named("engine"))

	defaultTiming := timing.Config{
		PerActionMs:       cfg.Match.PerActionMs,
		TotalMatchMs:      cfg.Match.TotalMatchMs,
		AutoPassOnTimeout: cfg.Match.AutoPassOnTimeout,
		WarningAtMs:       cfg.Match.WarningAtMs,
	}
	gateway = server.NewGateway(engine, defaultTiming, logger.Named("gateway"))

	// Timeout sweeps keep stalled players from blocking matches.
	sched := scheduler.New(logger.Named("scheduler"))
	defer sched.Stop()
	if cfg.Match.SweepInterval > 0 {
		sched.Every(cfg.Match.SweepInterval, func() {
			engine.SweepAllTimeouts(ctx)
		})
	}

	httpServer := &http.Server{
		Addr:    cfg.Server.Address,
		Handler: gateway.Handler(),
	}

	go func() {
		logger.Info("starting WebSocket gateway", zap.String("address", cfg.Server.Address))
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("gateway server error", zap.Error(serveErr))
		}
	}()

	logger.Info("duel server initialized",
		zap.String("version", version),
		zap.String("address", cfg.Server.Address),
		zap.Duration("sweep_interval", cfg.Match.SweepInterval),
	)

	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("gateway shutdown error", zap.Error(err))
	}

	logger.Info("duel server stopped")
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Encoding == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
