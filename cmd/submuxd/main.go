// SPDX-License-Identifier: MIT

// Command submuxd is the subtitle-mux daemon: it supervises operator-driven
// media jobs, the release-feed watcher and the operational HTTP endpoints.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/heavenlysubs/submux/internal/api"
	"github.com/heavenlysubs/submux/internal/aria2"
	"github.com/heavenlysubs/submux/internal/assets"
	"github.com/heavenlysubs/submux/internal/chat"
	"github.com/heavenlysubs/submux/internal/config"
	"github.com/heavenlysubs/submux/internal/dedup"
	"github.com/heavenlysubs/submux/internal/feed"
	"github.com/heavenlysubs/submux/internal/log"
	"github.com/heavenlysubs/submux/internal/logtail"
	"github.com/heavenlysubs/submux/internal/mediatool"
	"github.com/heavenlysubs/submux/internal/pipeline"
	"github.com/heavenlysubs/submux/internal/progress"
	"github.com/heavenlysubs/submux/internal/router"
	"github.com/heavenlysubs/submux/internal/session"
)

func main() {
	if err := run(); err != nil {
		logger := log.Base()
		logger.Error().Err(err).Msg("daemon exited with error")
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	tail := logtail.New(512)
	var output io.Writer = os.Stdout
	if cfg.LogFileName != "" {
		if f, ferr := os.OpenFile(cfg.LogFileName, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); ferr == nil {
			output = io.MultiWriter(os.Stdout, f)
			defer func() { _ = f.Close() }()
		}
	}
	log.Configure(log.Config{Output: output, Tee: tail})
	logger := log.WithComponent("main")
	logger.Info().Str("work_dir", cfg.WorkDir).Msg("daemon starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		return err
	}

	// The chat transport is bound by the embedding build; standalone runs
	// use the logging no-op client.
	client := chat.NewNop(log.WithComponent("chat"))

	store := session.NewStore()
	reporter := progress.NewReporter(client)
	mgr := assets.New(cfg.FontPath, cfg.Thumbnail, cfg.StickerID)

	runner := mediatool.NewRunner("ffmpeg", cfg.MuxTimeout)
	ops := mediatool.NewOps(runner, cfg.TrackTitle)

	fetcher := aria2.NewFetcher(aria2.New(cfg.Aria2Endpoint(), cfg.Aria2Secret), cfg.DownloadDir, cfg.Aria2Poll)

	orch := pipeline.New(pipeline.Options{
		Store:         store,
		Client:        client,
		Reporter:      reporter,
		Ops:           ops,
		Fetcher:       fetcher,
		Assets:        mgr,
		DBChannel:     chat.ChatID(cfg.DBChannel),
		MainChannel:   chat.ChatID(cfg.MainChannel),
		LogChannel:    chat.ChatID(cfg.LogChannel),
		BotUsername:   cfg.BotUsername,
		WorkDir:       cfg.WorkDir,
		DisplayFont:   cfg.DisplayFont,
		MuxPermits:    cfg.MuxPermits,
		UploadTimeout: cfg.UploadTimeout,
	})

	var watcher *feed.Watcher
	if cfg.RSSURL != "" {
		dedupStore, err := dedup.Open(cfg.DedupBackend, cfg.DedupPath, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer func() { _ = dedupStore.Close() }()

		channels := make([]chat.ChatID, 0, len(cfg.FeedChannels)+1)
		for _, ch := range cfg.FeedChannels {
			channels = append(channels, chat.ChatID(ch))
		}
		if len(channels) == 0 && cfg.MainChannel != 0 {
			channels = append(channels, chat.ChatID(cfg.MainChannel))
		}
		watcher = feed.NewWatcher(feed.NewHTTPFetcher(cfg.RSSURL), dedupStore, client, channels, cfg.CheckInterval, cfg.FeedDelay)
		watcher.SetEnabled(cfg.FeedEnabled)
	}

	rtr := router.New(router.Options{
		Store:     store,
		Client:    client,
		Pipeline:  orch,
		Feed:      watcher,
		Assets:    mgr,
		Tail:      tail,
		Owners:    cfg.Owners(),
		DBChannel: chat.ChatID(cfg.DBChannel),
		WorkDir:   cfg.WorkDir,
		Workers:   cfg.BotWorkers,
	})

	// The transport binding feeds this channel; it stays open (and idle)
	// on standalone runs.
	updates := make(chan router.Update)

	srv := api.New(":"+cfg.Port, store)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	g.Go(func() error {
		rtr.Run(ctx, updates)
		return nil
	})
	g.Go(func() error {
		store.Reap(ctx, cfg.SessionTTL, cfg.ReapInterval, func(principal int64) {
			orch.Expire(ctx, principal)
		})
		return nil
	})
	g.Go(func() error { return mgr.Watch(ctx) })
	if watcher != nil {
		g.Go(func() error {
			watcher.Run(ctx)
			return nil
		})
	}

	srv.SetReady(true)
	logger.Info().Str("port", cfg.Port).Msg("daemon ready")

	err = g.Wait()
	logger.Info().Msg("daemon stopped")
	return err
}
