package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/clickCA/music-bot/internal/artifact"
	"github.com/clickCA/music-bot/internal/autocomplete"
	"github.com/clickCA/music-bot/internal/config"
	"github.com/clickCA/music-bot/internal/handlers"
	"github.com/clickCA/music-bot/internal/logging"
	"github.com/clickCA/music-bot/internal/metrics"
	"github.com/clickCA/music-bot/internal/player"
	"github.com/clickCA/music-bot/internal/queue"
	"github.com/clickCA/music-bot/internal/repository"
	"github.com/clickCA/music-bot/internal/shutdown"
	"github.com/clickCA/music-bot/internal/spotify"
	"github.com/clickCA/music-bot/internal/stream"
	"github.com/clickCA/music-bot/internal/voice"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}
	logging.Setup(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	if err := run(cfg); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	layout, err := artifact.NewLayout(cfg.TempRoot)
	if err != nil {
		return err
	}
	registry := artifact.NewRegistry()
	reaper := artifact.NewReaper(layout, registry)

	// leftovers from a previous run
	if err := reaper.PurgeEverything(); err != nil {
		slog.Warn("startup purge failed", "err", err)
	}

	db, err := repository.Open(cfg.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()
	repo := repository.NewRepo(db)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.YtdlpAutoInstall {
		if err := stream.EnsureInstalled(ctx); err != nil {
			slog.Warn("yt-dlp install failed, relying on PATH", "err", err)
		}
	}

	var (
		sp     *spotify.Client
		tracks stream.TrackResolver
		spSugg autocomplete.SpotifySearcher
	)
	if cfg.SpotifyEnabled() {
		sp = spotify.NewClientCredentials(ctx, cfg.SpotifyClientID, cfg.SpotifyClientSecret)
		tracks, spSugg = sp, sp
	}

	ytOpts := stream.YtdlpOptions{CookiesPath: cfg.YouTubeCookiesPath, Proxy: cfg.YouTubeProxy}
	fetcher := stream.NewFetcher(layout, registry, tracks, stream.FetcherOptions{Mode: cfg.FetchMode, Ytdlp: ytOpts})

	session, err := handlers.NewSession(cfg.DiscordToken)
	if err != nil {
		return err
	}

	queues := queue.NewDirectory()
	stopper := shutdown.New(queues, reaper)
	notifier := handlers.NewNotifier(session, repo)
	vm := voice.NewManager(cfg.FFmpegPath)

	// Cancelling playCtx aborts in-flight fetches and playback on shutdown.
	playCtx, stopPlayback := context.WithCancel(ctx)
	defer stopPlayback()
	stopper.OnShutdown(stopPlayback)
	stopper.OnShutdown(vm.LeaveAll)

	coord := player.New(playCtx, queues, registry, reaper, fetcher, vm, player.Options{
		FetchTimeout:   cfg.FetchTimeout,
		MaxQueueLength: cfg.MaxQueueLength,
		Notifier:       notifier,
		Recorder:       repo,
		Gate:           stopper,
	})

	bot := handlers.NewBot(cfg, session, handlers.Deps{
		Coordinator: coord,
		Voice:       vm,
		Repo:        repo,
		Shutdown:    stopper,
		Notifier:    notifier,
		Suggester:   autocomplete.New(spSugg),
		Spotify:     sp,
		Ytdlp:       ytOpts,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return bot.Run(gctx) })
	g.Go(func() error {
		reaper.Run(gctx, cfg.ReapInterval)
		return nil
	})
	g.Go(func() error {
		stopper.Watch(gctx, os.Interrupt, syscall.SIGTERM)
		return nil
	})
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return metrics.Serve(gctx, cfg.MetricsAddr, stopper.Accepting) })
	}
	g.Go(func() error {
		err := stopper.Wait(gctx, cfg.ShutdownPoll)
		if err == nil {
			slog.Info("shutdown finished, exiting")
			cancel()
		}
		return nil
	})

	return g.Wait()
}
