// Copyright (c) 2024, 0x0BSoD. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/0x0BSoD/feedRelay/internal/config"
	"github.com/0x0BSoD/feedRelay/internal/notifier"
	"github.com/0x0BSoD/feedRelay/internal/relay"
	"github.com/0x0BSoD/feedRelay/internal/reporter"
	"github.com/0x0BSoD/feedRelay/internal/server"
	"github.com/0x0BSoD/feedRelay/internal/source"
	"github.com/0x0BSoD/feedRelay/internal/storage"
)

func main() {
	cfg := config.Get()
	setupLogger(cfg)

	sources, err := config.LoadFeeds(cfg.FeedsFile)
	if err != nil {
		slog.Error("failed to load feeds", "err", err)
		os.Exit(1)
	}

	botAPI, err := tgbotapi.NewBotAPIWithClient(
		cfg.TelegramBotToken,
		tgbotapi.APIEndpoint,
		&http.Client{Timeout: cfg.DeliveryTimeout},
	)
	if err != nil {
		slog.Error("failed to create botAPI", "err", err)
		os.Exit(1)
	}

	db, err := storage.Open(context.Background(), cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		slog.Error("failed to connect to db", "driver", cfg.DatabaseDriver, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := storage.Migrate(db); err != nil {
		slog.Error("failed to migrate db", "err", err)
		os.Exit(1)
	}

	var (
		deliveries = storage.NewDeliveryStorage(db)
		sender     = notifier.New(botAPI, cfg.TelegramChannelID, cfg.DeliverySpacing)
		admin      = reporter.New(botAPI, cfg.TelegramAdminChatID)
		feedRelay  = relay.New(
			sources,
			source.NewHTTPFetcher(cfg.FetchTimeout, cfg.UserAgent, cfg.FetchMaxBytes),
			source.NewParser(),
			deliveries,
			sender,
			admin,
			relay.Config{
				Interval:        cfg.PollInterval,
				RunOnStart:      cfg.RunOnStart,
				CycleTimeout:    cfg.CycleTimeout,
				FeedTimeout:     cfg.FeedTimeout,
				Concurrency:     cfg.FeedConcurrency,
				FetchRetries:    cfg.FetchRetries,
				DeliveryRetries: cfg.DeliveryRetries,
				DeliveryBackoff: cfg.DeliveryBackoff,
			},
		)
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewRouter(feedRelay),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to run http server", "err", err)
		}
	}()

	slog.Info("feed relay starting",
		"bot", botAPI.Self.UserName,
		"channel", cfg.TelegramChannelID,
		"feeds", len(sources),
		"listen", cfg.ListenAddr,
	)

	if err := feedRelay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("failed to run relay", "err", err)
	}
	slog.Info("relay stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("failed to stop http server", "err", err)
	}
}

func setupLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	slog.SetDefault(slog.New(handler))
}
