package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/coreos/go-systemd/v22/daemon"
	"golang.org/x/sync/errgroup"

	"github.com/magnetoid/nisam-video-sub001/internal/bot"
	"github.com/magnetoid/nisam-video-sub001/internal/catalog"
	"github.com/magnetoid/nisam-video-sub001/internal/config"
	"github.com/magnetoid/nisam-video-sub001/internal/httpapi"
	"github.com/magnetoid/nisam-video-sub001/internal/ingest"
	"github.com/magnetoid/nisam-video-sub001/internal/logging"
	"github.com/magnetoid/nisam-video-sub001/internal/model"
	"github.com/magnetoid/nisam-video-sub001/internal/publisher"
	"github.com/magnetoid/nisam-video-sub001/internal/runner"
	"github.com/magnetoid/nisam-video-sub001/internal/scheduler"
	"github.com/magnetoid/nisam-video-sub001/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(cfg *config.Config, log *slog.Logger) error {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			return err
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		return err
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pub := publisher.New(store, publisher.Options{
		Heartbeat: cfg.HeartbeatInterval,
		LogLimit:  cfg.LogBufferSize,
	}, log.With("component", "publisher"))

	fetcher := ingest.NewFetcher(&http.Client{})
	op := ingest.NewYouTube(store, fetcher, ingest.YouTubeOptions{
		Concurrency: cfg.FetchConcurrency,
		RatePerSec:  cfg.FetchRatePerSec,
	}, log.With("component", "ingest"))

	// Assigned before anything can trigger a job.
	var admin *bot.Bot
	jobs := runner.New(store, op, pub, runner.Options{
		LogLimit: cfg.LogBufferSize,
		OnFinish: func(job model.ScrapeJob) {
			if admin != nil {
				admin.NotifyJob(job)
			}
		},
	}, log.With("component", "runner"))

	n, err := jobs.Reconcile(ctx)
	if err != nil {
		log.Error("reconcile orphaned jobs", "error", err)
		return err
	}
	if n > 0 {
		log.Warn("marked orphaned jobs as interrupted", "count", n)
	}

	sched := scheduler.New(store, store, jobs, log.With("component", "scheduler"))

	if cfg.BotEnabled() {
		admin, err = bot.New(cfg.TelegramBotToken, store, sched, fetcher, cfg, log.With("component", "bot"))
		if err != nil {
			log.Error("create bot", "error", err)
			return err
		}
	}

	settings, err := store.GetSettings(ctx)
	if err != nil {
		log.Error("load scheduler settings", "error", err)
		return err
	}
	retention, err := scheduler.NewRetention(store, cfg.HistoryRetentionDays, settings.Timezone, log.With("component", "retention"))
	if err != nil {
		log.Warn("retention falls back to UTC", "error", err)
		retention, err = scheduler.NewRetention(store, cfg.HistoryRetentionDays, model.DefaultTimezone, log.With("component", "retention"))
		if err != nil {
			return err
		}
	}

	api := httpapi.New(sched, store, pub, cfg.AdminToken, log.With("component", "http"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})
	g.Go(func() error {
		pub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return retention.Run(ctx)
	})
	if cfg.ChannelsFile != "" {
		w := catalog.NewWatcher(cfg.ChannelsFile, store, log.With("component", "catalog"))
		g.Go(func() error {
			return w.Run(ctx)
		})
	}
	g.Go(func() error {
		return api.ListenAndServe(ctx, cfg.HTTPAddr)
	})
	if admin != nil {
		g.Go(func() error {
			admin.Run(ctx)
			return nil
		})
	}

	log.Info("server started", "addr", cfg.HTTPAddr, "bot", admin != nil, "channels_file", cfg.ChannelsFile)
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("notify systemd", "error", err)
	} else if ok {
		log.Debug("notified systemd")
	}

	err = g.Wait()
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdown := time.Now()
	sched.Close()
	log.Info("jobs finalized", "took", time.Since(shutdown))

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
