package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"tubebrew.dev/websub/cmd/websub/internal/web"
	"tubebrew.dev/websub/internal/application"
	"tubebrew.dev/websub/internal/config"
	"tubebrew.dev/websub/internal/db"
	"tubebrew.dev/websub/internal/hub"
	"tubebrew.dev/websub/internal/poller"
	"tubebrew.dev/websub/internal/scheduler"
	"tubebrew.dev/websub/internal/subscription"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting websub service")

	conf, err := config.LoadConfig(ctx)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if conf.DatabaseRetries <= 0 {
		conf.DatabaseRetries = 10
	}

	pool, err := application.OpenDBPoolWithRetry(ctx, *conf)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	dbc, err := db.NewDatabaseConnection(ctx, pool)
	if err != nil {
		slog.Error("failed to create database connection", "error", err)
		os.Exit(1)
	}
	defer dbc.Close()

	if err := dbc.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	queries := db.New(dbc)

	hubClient := hub.NewClient(conf.HubURL, conf.HubTimeout)

	manager := subscription.NewManager(queries, hubClient, subscription.Options{
		CallbackURL:    strings.TrimRight(conf.CallbackBaseURL, "/") + "/websub/callback",
		MaxAttempts:    int32(conf.MaxSubscribeAttempts),
		RetryBackoff:   conf.RetryBackoff,
		RenewalHorizon: conf.RenewalHorizon,
		Pacing:         conf.SubscribePacing,
	})

	feedPoller := poller.New(queries, queries, conf.HubTimeout, conf.SubscribePacing, conf.PollInterval)

	scheduler.New(manager, feedPoller, scheduler.Intervals{
		BootstrapDelay: conf.BootstrapDelay,
		Renewal:        conf.RenewalInterval,
		Retry:          conf.RetryInterval,
		Poll:           conf.PollInterval,
	}).Start(ctx)

	e, err := web.NewWebserver(dbc)
	if err != nil {
		slog.Error("failed to create webserver", "error", err)
		os.Exit(1)
	}

	addr := ":" + strconv.Itoa(conf.WebServerPort)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(shutdownCtx)
	}()

	slog.Info("Listening", "addr", addr)
	if err := e.Start(addr); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		// Echo returns an error on Shutdown; treat it as normal if context is done.
		if ctx.Err() != nil {
			return
		}
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
