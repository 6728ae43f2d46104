package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/jensholdgaard/poker-club-bot/internal/api"
	"github.com/jensholdgaard/poker-club-bot/internal/bot"
	"github.com/jensholdgaard/poker-club-bot/internal/bot/commands"
	"github.com/jensholdgaard/poker-club-bot/internal/clock"
	"github.com/jensholdgaard/poker-club-bot/internal/config"
	"github.com/jensholdgaard/poker-club-bot/internal/health"
	"github.com/jensholdgaard/poker-club-bot/internal/identity"
	"github.com/jensholdgaard/poker-club-bot/internal/leader"
	"github.com/jensholdgaard/poker-club-bot/internal/ledger"
	"github.com/jensholdgaard/poker-club-bot/internal/stats"
	"github.com/jensholdgaard/poker-club-bot/internal/store"
	"github.com/jensholdgaard/poker-club-bot/internal/telemetry"
	"github.com/jensholdgaard/poker-club-bot/internal/tournament"

	// Register store drivers so they are available via store.Open.
	_ "github.com/jensholdgaard/poker-club-bot/internal/store/postgres"
	_ "github.com/jensholdgaard/poker-club-bot/internal/store/sqlite"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	if err := run(*configPath); err != nil {
		slog.Error("fatal error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tp, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Warn("telemetry setup failed, continuing without OTEL export", slog.Any("error", err))
		tp = telemetry.NewNopProvider()
	}
	defer func() {
		if shutdownErr := tp.Shutdown(context.Background()); shutdownErr != nil {
			slog.Error("telemetry shutdown error", slog.Any("error", shutdownErr))
		}
	}()

	logger := tp.Logger
	slog.SetDefault(logger)
	clk := clock.Real{}

	// Amounts go out as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	st, err := store.Open(ctx, cfg.Database, clk, logger)
	if err != nil {
		return fmt.Errorf("opening store (driver=%s): %w", cfg.Database.Driver, err)
	}
	defer st.Close()

	logger.InfoContext(ctx, "connected to database", slog.String("driver", cfg.Database.Driver))

	ledgerEngine, err := ledger.NewEngine(st, cfg.Game, clk, logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating ledger engine: %w", err)
	}
	statsEngine, err := stats.NewEngine(st, cfg.Game, logger, tp.TracerProvider)
	if err != nil {
		return fmt.Errorf("creating stats engine: %w", err)
	}
	tournamentEngine, err := tournament.NewEngine(st, cfg.Tournament, clk, logger, tp.TracerProvider, tp.MeterProvider)
	if err != nil {
		return fmt.Errorf("creating tournament engine: %w", err)
	}
	resolver := identity.NewResolver(st, logger, tp.TracerProvider)

	// The read API and health probes run on every replica.
	healthHandler := health.NewHandler(clk, health.PingChecker("database", st))
	apiHandler := api.NewHandler(cfg.API, statsEngine, ledgerEngine, tournamentEngine, logger)
	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(cfg.API, logger,
		func(r gin.IRouter) { healthHandler.Register(r) },
		apiHandler.Register,
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.InfoContext(ctx, "starting http server", slog.Int("port", cfg.Server.Port))
		if listenErr := httpServer.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			logger.ErrorContext(ctx, "http server error", slog.Any("error", listenErr))
		}
	}()
	healthHandler.SetReady(true)

	handlers := commands.NewHandlers(bot.HandlerConfig(cfg.Discord), resolver,
		ledgerEngine, statsEngine, tournamentEngine, logger, tp.TracerProvider)

	// Only the leader dispatches chat commands.
	lead := func(ctx context.Context) {
		discordBot, botErr := bot.New(cfg.Discord, handlers, logger)
		if botErr != nil {
			logger.ErrorContext(ctx, "creating bot failed", slog.Any("error", botErr))
			return
		}
		logger.InfoContext(ctx, "pokerbot is dispatching commands", slog.String("version", version))
		if botErr = discordBot.Run(ctx); botErr != nil {
			logger.ErrorContext(ctx, "bot error", slog.Any("error", botErr))
		}
	}
	stopped := func() {
		logger.Info("stopped dispatching commands")
	}
	if err := leader.Run(ctx, cfg.LeaderElection, logger, lead, stopped); err != nil {
		return fmt.Errorf("leader election: %w", err)
	}

	logger.Info("shutting down...")
	healthHandler.SetReady(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", slog.Any("error", err))
	}

	logger.Info("shutdown complete")
	return nil
}
