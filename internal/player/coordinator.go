package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/clickCA/music-bot/internal/artifact"
	"github.com/clickCA/music-bot/internal/metrics"
	"github.com/clickCA/music-bot/internal/queue"
)

const (
	DefaultFetchTimeout = 5 * time.Minute
	recordTimeout       = 5 * time.Second
)

// errStale means the request being fetched is no longer the head of its
// queue. It never reaches callers.
var errStale = errors.New("request no longer at head")

type Options struct {
	FetchTimeout time.Duration
	// MaxQueueLength caps pending requests per guild; 0 means no cap.
	MaxQueueLength int
	Notifier       Notifier
	Recorder       Recorder
	Gate           Gate
}

type guildState struct {
	state     State
	requestID uint64
	current   *Playable
	request   queue.Request
}

// Coordinator drives each guild's queue through fetch, playback and
// cleanup, one item at a time. There is no goroutine per guild: the chain
// runs on the caller of Enqueue for the first item and afterwards on the
// transport's end-of-track callback.
type Coordinator struct {
	// base is the parent of every fetch and playback context. Cancelling it
	// aborts in-flight work during shutdown.
	base      context.Context
	queues    *queue.Directory
	registry  *artifact.Registry
	reaper    *artifact.Reaper
	fetcher   Fetcher
	transport Transport
	opts      Options

	mu     sync.Mutex
	guilds map[string]*guildState
}

func New(
	base context.Context,
	queues *queue.Directory,
	registry *artifact.Registry,
	reaper *artifact.Reaper,
	fetcher Fetcher,
	transport Transport,
	opts Options,
) *Coordinator {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = DefaultFetchTimeout
	}
	return &Coordinator{
		base:      base,
		queues:    queues,
		registry:  registry,
		reaper:    reaper,
		fetcher:   fetcher,
		transport: transport,
		opts:      opts,
		guilds:    make(map[string]*guildState),
	}
}

// Enqueue appends req to the guild's queue and returns the stored request
// and its 1-based position. When the queue was empty the first item is
// fetched and started before Enqueue returns; if that item fails its
// FetchError is returned (the Notifier is told as well) and the chain moves
// on to whatever was queued behind it in the meantime.
func (c *Coordinator) Enqueue(guildID string, req queue.Request) (queue.Request, int, error) {
	if !c.accepting() {
		return req, 0, ErrShuttingDown
	}
	q := c.queues.GetOrCreate(guildID)
	if c.opts.MaxQueueLength > 0 && q.Len() >= c.opts.MaxQueueLength {
		return req, 0, ErrQueueFull
	}

	stored, n := q.Enqueue(req)
	slog.Debug("enqueued", "guildID", guildID, "query", stored.Query, "position", n)
	if n != 1 {
		return stored, n, nil
	}
	return stored, 1, c.run(guildID, q, stored)
}

// TrackEnded is the end-of-track transition: release the artifact, sweep
// the guild directory, then hand the queue to the next request if this
// chain still owns it.
func (c *Coordinator) TrackEnded(done Completion) {
	c.registry.MarkInactive(done.GuildID, done.ArtifactPath)
	c.reaper.Reap(done.GuildID)

	q := c.queues.GetOrCreate(done.GuildID)
	next, hasNext, popped := q.Next(done.RequestID)
	c.advance(done, q, next, hasNext, popped)
}

// advance settles the finished request and, when the pop handed this chain
// the next request, runs it.
func (c *Coordinator) advance(done Completion, q *queue.Queue, next queue.Request, hasNext, popped bool) {
	// The finished track is no longer playing whatever happens next.
	idled := c.settle(done.GuildID, done.RequestID)
	if !popped {
		// stopped, and possibly refilled by a newer chain
		return
	}
	if !hasNext {
		// A /play racing the pop may already own a new chain.
		if idled && q.Len() == 0 && c.opts.Notifier != nil {
			c.opts.Notifier.QueueDrained(done.GuildID)
		}
		return
	}
	_ = c.run(done.GuildID, q, next)
}

// Stop clears the guild's queue and reports how many requests were dropped.
// The running chain notices on its next step and goes idle; callers stop the
// transport themselves.
func (c *Coordinator) Stop(guildID string) int {
	q, ok := c.queues.Get(guildID)
	if !ok {
		return 0
	}
	n := q.Clear()
	if n > 0 {
		slog.Info("queue cleared", "guildID", guildID, "dropped", n)
	}
	return n
}

func (c *Coordinator) State(guildID string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.guilds[guildID]; ok {
		return st.state
	}
	return StateIdle
}

// NowPlaying returns the playable and request currently handed to the
// transport for the guild.
func (c *Coordinator) NowPlaying(guildID string) (*Playable, queue.Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.guilds[guildID]
	if !ok || st.state != StatePlaying || st.current == nil {
		return nil, queue.Request{}, false
	}
	cp := *st.current
	return &cp, st.request, true
}

// Queue returns a copy of the guild's pending requests, head first.
func (c *Coordinator) Queue(guildID string) []queue.Request {
	q, ok := c.queues.Get(guildID)
	if !ok {
		return nil
	}
	return q.Snapshot()
}

// run processes head and, on failure, the requests behind it until one
// starts playing, the queue empties, or ownership is lost. Only the error of
// the first request is returned.
func (c *Coordinator) run(guildID string, q *queue.Queue, head queue.Request) error {
	var firstErr error
	first := true
	for {
		if !c.accepting() {
			c.settle(guildID, head.ID)
			return firstErr
		}

		c.setState(guildID, head, StateFetching, nil)
		err := c.start(guildID, q, head)
		if err == nil {
			return firstErr
		}
		if errors.Is(err, errStale) {
			c.settle(guildID, head.ID)
			return firstErr
		}

		if !c.accepting() {
			// aborted by shutdown; not reported
			slog.Debug("fetch aborted by shutdown", "guildID", guildID, "query", head.Query, "err", err)
			c.settle(guildID, head.ID)
			if first {
				return ErrShuttingDown
			}
			return firstErr
		}

		if first {
			firstErr = err
		}
		c.reportFailure(guildID, head, err)

		next, hasNext, popped := q.Next(head.ID)
		if !popped || !hasNext {
			c.settle(guildID, head.ID)
			return firstErr
		}
		head = next
		first = false
	}
}

// start fetches head and hands it to the transport.
func (c *Coordinator) start(guildID string, q *queue.Queue, head queue.Request) error {
	ctx, cancel := context.WithTimeout(c.base, c.opts.FetchTimeout)
	p, err := c.fetcher.Fetch(ctx, guildID, head.Query)
	cancel()
	if err != nil {
		metrics.IncFetch("error")
		return &FetchError{Query: head.Query, Err: err}
	}
	metrics.IncFetch("ok")
	if p.Query == "" {
		p.Query = head.Query
	}

	// The fetcher normally adopted the artifact already; marking again is a
	// no-op then.
	c.registry.MarkActive(guildID, p.ArtifactPath)

	if cur, ok := q.PeekHead(); !ok || cur.ID != head.ID {
		c.registry.MarkInactive(guildID, p.ArtifactPath)
		slog.Info("discarding fetch for a cleared request", "guildID", guildID, "query", head.Query)
		return errStale
	}

	done := Completion{GuildID: guildID, RequestID: head.ID, ArtifactPath: p.ArtifactPath}
	c.setState(guildID, head, StatePlaying, p)
	if err := c.transport.Play(c.base, guildID, p, func() { c.TrackEnded(done) }); err != nil {
		c.registry.MarkInactive(guildID, p.ArtifactPath)
		return &FetchError{Query: head.Query, Err: fmt.Errorf("start playback: %w", err)}
	}

	metrics.PlaybackStarted.Inc()
	slog.Info("now playing", "guildID", guildID, "title", p.Title, "requestedBy", head.RequestedBy)
	if c.opts.Notifier != nil {
		c.opts.Notifier.NowPlaying(guildID, head, p)
	}
	if c.opts.Recorder != nil {
		rctx, rcancel := context.WithTimeout(context.Background(), recordTimeout)
		if err := c.opts.Recorder.RecordPlayback(rctx, guildID, head, p); err != nil {
			slog.Warn("record playback failed", "guildID", guildID, "err", err)
		}
		rcancel()
	}
	return nil
}

func (c *Coordinator) reportFailure(guildID string, req queue.Request, err error) {
	slog.Warn("playback request failed", "guildID", guildID, "query", req.Query, "err", err)
	if c.opts.Notifier != nil {
		c.opts.Notifier.FetchFailed(guildID, req, err)
	}
	if c.opts.Recorder != nil {
		rctx, rcancel := context.WithTimeout(context.Background(), recordTimeout)
		defer rcancel()
		if rerr := c.opts.Recorder.RecordFailure(rctx, guildID, req, err); rerr != nil {
			slog.Warn("record failure failed", "guildID", guildID, "err", rerr)
		}
	}
}

func (c *Coordinator) accepting() bool {
	return c.opts.Gate == nil || c.opts.Gate.Accepting()
}

func (c *Coordinator) setState(guildID string, req queue.Request, state State, p *Playable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.guilds[guildID]
	if !ok {
		st = &guildState{}
		c.guilds[guildID] = st
	}
	st.state = state
	st.requestID = req.ID
	st.request = req
	st.current = p
}

// settle marks the guild idle, unless a newer chain has taken it over. It
// reports whether the state still belonged to requestID.
func (c *Coordinator) settle(guildID string, requestID uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.guilds[guildID]
	if !ok || st.requestID != requestID {
		return false
	}
	st.state = StateIdle
	st.current = nil
	return true
}
