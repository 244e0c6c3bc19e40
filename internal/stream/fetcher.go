package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/clickCA/music-bot/internal/artifact"
	"github.com/clickCA/music-bot/internal/config"
	"github.com/clickCA/music-bot/internal/player"
)

type FetcherOptions struct {
	// Mode is config.FetchModeDownload or config.FetchModeStream.
	Mode  string
	Ytdlp YtdlpOptions
}

// Fetcher resolves queries with yt-dlp. In download mode the audio is
// written to a private staging directory and adopted into the guild's
// directory only once complete, so the reaper never sees a partial file.
type Fetcher struct {
	layout   artifact.Layout
	registry *artifact.Registry
	tracks   TrackResolver
	opts     FetcherOptions

	// swapped out in tests
	download func(ctx context.Context, opts YtdlpOptions, target, dir string) (downloaded, error)
	info     func(ctx context.Context, opts YtdlpOptions, target string) (*Info, error)
}

func NewFetcher(layout artifact.Layout, registry *artifact.Registry, tracks TrackResolver, opts FetcherOptions) *Fetcher {
	if opts.Mode == "" {
		opts.Mode = config.FetchModeDownload
	}
	return &Fetcher{
		layout:   layout,
		registry: registry,
		tracks:   tracks,
		opts:     opts,
		download: download,
		info:     GetInfo,
	}
}

func (f *Fetcher) Fetch(ctx context.Context, guildID, query string) (*player.Playable, error) {
	target, err := ResolveTarget(ctx, query, f.tracks)
	if err != nil {
		return nil, err
	}

	if f.opts.Mode == config.FetchModeStream {
		return f.fetchStream(ctx, query, target)
	}
	return f.fetchDownload(ctx, guildID, query, target)
}

func (f *Fetcher) fetchStream(ctx context.Context, query, target string) (*player.Playable, error) {
	info, err := f.info(ctx, f.opts.Ytdlp, target)
	if err != nil {
		return nil, err
	}
	src := info.AudioURL()
	if src == "" {
		return nil, errors.New("no usable media URL")
	}
	return &player.Playable{
		Query:      query,
		Title:      info.Title,
		Source:     src,
		Duration:   info.Duration,
		Thumbnail:  info.Thumbnail,
		WebpageURL: info.WebpageURL,
	}, nil
}

func (f *Fetcher) fetchDownload(ctx context.Context, guildID, query, target string) (*player.Playable, error) {
	if err := f.layout.EnsureGuildDirs(guildID); err != nil {
		return nil, err
	}
	id := uuid.NewString()
	stage := filepath.Join(f.layout.StagingDir(guildID), id)
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return nil, &artifact.FSError{Op: "mkdir", Path: stage, Err: err}
	}
	defer func() {
		if err := os.RemoveAll(stage); err != nil {
			slog.Warn("failed to remove staging dir", "guildID", guildID, "err", err)
		}
	}()

	dl, err := f.download(ctx, f.opts.Ytdlp, target, stage)
	if err != nil {
		return nil, err
	}
	staged := filepath.Clean(dl.Path)
	if !strings.HasPrefix(staged, stage+string(filepath.Separator)) {
		return nil, fmt.Errorf("downloaded file %q is outside the staging dir", dl.Path)
	}

	final := filepath.Join(f.layout.GuildDir(guildID), id[:8]+"-"+filepath.Base(staged))
	if err := f.registry.Adopt(guildID, staged, final); err != nil {
		return nil, err
	}
	slog.Debug("downloaded", "guildID", guildID, "title", dl.Title, "path", final)

	title := dl.Title
	if title == "" || title == "NA" {
		title = query
	}
	return &player.Playable{
		Query:        query,
		Title:        title,
		Source:       final,
		ArtifactPath: final,
		Duration:     dl.Duration,
		Thumbnail:    dl.Thumbnail,
		WebpageURL:   dl.WebpageURL,
	}, nil
}
