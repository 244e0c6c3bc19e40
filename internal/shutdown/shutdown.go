package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clickCA/music-bot/internal/metrics"
)

type State int32

const (
	Running State = iota
	ShuttingDown
	Stopped
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

const DefaultPollInterval = time.Second

type QueueClearer interface {
	ClearAll() int
}

type Purger interface {
	PurgeEverything() error
}

// Coordinator owns the process-wide Running → ShuttingDown → Stopped
// transition. Only the first Trigger performs it.
type Coordinator struct {
	state  atomic.Int32
	queues QueueClearer
	purger Purger

	hooksMu sync.Mutex
	hooks   []func()

	done chan struct{}
}

func New(queues QueueClearer, purger Purger) *Coordinator {
	return &Coordinator{
		queues: queues,
		purger: purger,
		done:   make(chan struct{}),
	}
}

func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// Accepting reports whether new playback work may start.
func (c *Coordinator) Accepting() bool {
	return c.State() == Running
}

// Done is closed once the coordinator reaches Stopped.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// OnShutdown registers fn to run after the queues are cleared and before the
// artifact root is purged. Hooks registered after shutdown never run.
func (c *Coordinator) OnShutdown(fn func()) {
	c.hooksMu.Lock()
	defer c.hooksMu.Unlock()
	c.hooks = append(c.hooks, fn)
}

// Trigger starts shutdown and blocks until it is complete. It returns false
// when another caller already did it.
func (c *Coordinator) Trigger(reason string) bool {
	if !c.state.CompareAndSwap(int32(Running), int32(ShuttingDown)) {
		metrics.IncShutdown(false)
		slog.Info("shutdown already in progress", "reason", reason, "state", c.State().String())
		return false
	}
	metrics.IncShutdown(true)
	slog.Info("shutting down", "reason", reason)

	dropped := c.queues.ClearAll()
	slog.Info("cleared all queues", "dropped", dropped)

	c.hooksMu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.hooksMu.Unlock()
	for _, fn := range hooks {
		runHook(fn)
	}

	if err := c.purger.PurgeEverything(); err != nil {
		slog.Error("failed to purge artifacts on shutdown", "err", err)
	}

	c.state.Store(int32(Stopped))
	close(c.done)
	slog.Info("shutdown complete")
	return true
}

func runHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("shutdown hook panicked", "panic", r)
		}
	}()
	fn()
}

// Watch triggers shutdown on every received signal until ctx is done.
// Signals after the first only log.
func (c *Coordinator) Watch(ctx context.Context, sigs ...os.Signal) {
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, sigs...)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-ch:
			slog.Info("received signal", "signal", sig.String())
			// Trigger blocks on filesystem work; keep draining signals.
			go c.Trigger(sig.String())
		}
	}
}

// Wait polls until the coordinator is Stopped or ctx is done.
func (c *Coordinator) Wait(ctx context.Context, poll time.Duration) error {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if c.State() == Stopped {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
