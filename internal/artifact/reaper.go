package artifact

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/clickCA/music-bot/internal/metrics"
)

const (
	TriggerTrackEnd = "track_end"
	TriggerPeriodic = "periodic"

	// DefaultInterval is how often Run sweeps every guild.
	DefaultInterval = time.Hour

	sweepConcurrency = 4
)

// Reaper deletes downloaded media that no playback is using.
type Reaper struct {
	layout   Layout
	registry *Registry
}

func NewReaper(layout Layout, registry *Registry) *Reaper {
	return &Reaper{layout: layout, registry: registry}
}

func (r *Reaper) Layout() Layout { return r.layout }

// Reap removes every file in the guild directory that is not in the guild's
// active set and returns how many were deleted.
func (r *Reaper) Reap(guildID string) int {
	return r.reap(guildID, TriggerTrackEnd)
}

func (r *Reaper) reap(guildID, trigger string) int {
	g := r.registry.guard(guildID)
	g.Lock()
	defer g.Unlock()

	active := r.registry.Snapshot(guildID)

	dir := r.layout.GuildDir(guildID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("reap: list guild dir", "guildID", guildID, "err", &FSError{Op: "list", Path: dir, Err: err})
		}
		return 0
	}

	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if _, inUse := active[p]; inUse {
			continue
		}
		if err := os.Remove(p); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("reap: remove file", "guildID", guildID, "err", &FSError{Op: "remove", Path: p, Err: err})
			}
			continue
		}
		removed++
	}

	metrics.IncReaped(trigger, removed)
	if removed > 0 {
		slog.Info("cleaned up old files", "guildID", guildID, "count", removed, "trigger", trigger)
	}
	return removed
}

// ReapAll sweeps every guild known to the registry. A guild whose sweep
// fails never stops the others.
func (r *Reaper) ReapAll(ctx context.Context) int {
	var total atomic.Int64

	g := new(errgroup.Group)
	g.SetLimit(sweepConcurrency)
	for _, guildID := range r.registry.Guilds() {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			defer func() {
				if rec := recover(); rec != nil {
					slog.Error("reap panicked", "guildID", guildID, "panic", rec)
				}
			}()
			total.Add(int64(r.reap(guildID, TriggerPeriodic)))
			return nil
		})
	}
	_ = g.Wait()
	return int(total.Load())
}

// PurgeEverything removes the whole artifact root regardless of the active
// sets. Only call it when nothing can be playing: at startup, or during
// shutdown after the queues were cleared.
func (r *Reaper) PurgeEverything() error {
	if err := os.RemoveAll(r.layout.Root); err != nil {
		return &FSError{Op: "purge", Path: r.layout.Root, Err: err}
	}
	slog.Info("cleaned up all temp directories", "root", r.layout.Root)
	return nil
}

// Run sweeps all guilds every interval until ctx is done.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := r.ReapAll(ctx)
			slog.Debug("periodic sweep finished", "removed", n)
		}
	}
}
