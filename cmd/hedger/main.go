package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oddsflow/hedger/config"
	"github.com/oddsflow/hedger/internal/adapters/dashboard"
	"github.com/oddsflow/hedger/internal/adapters/storage"
	"github.com/oddsflow/hedger/internal/adapters/venue"
	"github.com/oddsflow/hedger/internal/application/engine"
	"github.com/oddsflow/hedger/internal/domain"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "tick every due trade once and exit")
	report := flag.Bool("report", false, "print settled-trades report and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStore(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	if err := store.ApplySchema(ctx); err != nil {
		slog.Error("failed to apply schema", "err", err)
		os.Exit(1)
	}

	if *report {
		runReport(ctx, store, cfg.Strategy.Name)
		return
	}

	if cfg.Venue.Username == "" || cfg.Venue.Password == "" {
		slog.Error("venue credentials missing — set VENUE_USERNAME and VENUE_PASSWORD")
		os.Exit(1)
	}

	client := venue.NewClient(venue.Config{
		BaseURL:  cfg.Venue.BaseURL,
		LoginURL: cfg.Venue.LoginURL,
		AppKey:   cfg.Venue.AppKey,
		Username: cfg.Venue.Username,
		Password: cfg.Venue.Password,
		Timeout:  time.Duration(cfg.Venue.TimeoutSecs) * time.Second,
	})
	if err := client.Login(ctx); err != nil {
		slog.Error("venue login failed", "err", err)
		os.Exit(1)
	}
	gateway := venue.NewGateway(client)

	// Policy parameters: config defaults overridden by the settings table,
	// resolved once and immutable from here on.
	settings, err := store.LoadSettings(ctx, cfg.Strategy.Name)
	if err != nil {
		slog.Error("failed to load strategy settings", "err", err)
		os.Exit(1)
	}
	params := domain.ResolveParams(paramDefaults(cfg), settings)

	slog.Info("hedger starting",
		"strategy", params.Name,
		"back_stake", params.BackStake,
		"trigger_move_pct", params.TriggerMovePct,
		"once", *once,
	)

	eng := engine.New(gateway, store, params, engine.Config{
		VerifyWindow:   cfg.OrderVerifyWindow(),
		PollInterval:   cfg.OrderPollInterval(),
		ShadowWindow:   cfg.ShadowWindow(),
		KickoffLead:    time.Duration(cfg.Engine.KickoffLeadMinutes) * time.Minute,
		TrailingWindow: time.Duration(cfg.Engine.TrailingWindowMinutes) * time.Minute,
	})

	seeded, err := eng.SeedTrades(ctx)
	if err != nil {
		slog.Error("seeding trades from fixtures failed", "err", err)
		os.Exit(1)
	}
	if seeded > 0 {
		slog.Info("trades seeded from fixtures", "count", seeded)
	}

	sched := engine.NewScheduler(eng, store, engine.SchedulerConfig{
		ActivePoll:     cfg.ActivePollInterval(),
		KickoffLead:    time.Duration(cfg.Engine.KickoffLeadMinutes) * time.Minute,
		TrailingWindow: time.Duration(cfg.Engine.TrailingWindowMinutes) * time.Minute,
		Workers:        cfg.Engine.TickWorkers,
	})

	if *once {
		if err := sched.RunOnce(ctx); err != nil {
			slog.Error("single pass failed", "err", err)
			os.Exit(1)
		}
		slog.Info("single pass complete")
		return
	}

	if cfg.Dashboard.Enabled {
		dash := dashboard.New(store, cfg.Strategy.Name, cfg.Dashboard.Listen)
		go func() {
			slog.Info("dashboard listening", "addr", cfg.Dashboard.Listen)
			if err := dash.Start(); err != nil {
				slog.Error("dashboard exited with error", "err", err)
			}
		}()
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = dash.Shutdown(shutdownCtx)
		}()
	}

	if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("scheduler exited with error", "err", err)
		os.Exit(1)
	}

	slog.Info("hedger stopped cleanly")
}

func paramDefaults(cfg *config.Config) domain.StrategyParams {
	return domain.StrategyParams{
		Name:                 cfg.Strategy.Name,
		BackStake:            cfg.Strategy.BackStake,
		TriggerMovePct:       cfg.Strategy.TriggerMovePct,
		TriggerSettle:        time.Duration(cfg.Strategy.TriggerSettleSeconds) * time.Second,
		ConfirmWait:          time.Duration(cfg.Strategy.ConfirmWaitSeconds) * time.Second,
		CutoffMinute:         cfg.Strategy.CutoffMinute,
		EntryBandMin:         cfg.Strategy.EntryBandMin,
		EntryBandMax:         cfg.Strategy.EntryBandMax,
		ProfitTargetPct:      cfg.Strategy.ProfitTargetPct,
		RecoveryDriftPct:     cfg.Strategy.RecoveryDriftPct,
		CommissionRate:       cfg.Strategy.CommissionRate,
		MaxRecoveryRetries:   cfg.Strategy.MaxRecoveryRetries,
		BaselineWindow:       cfg.Strategy.BaselineWindow,
		BaselineTolerancePct: cfg.Strategy.BaselineTolerancePct,
	}
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
