package player

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clickCA/music-bot/internal/queue"
)

type State int

const (
	StateIdle State = iota
	StateFetching
	StatePlaying
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateFetching:
		return "fetching"
	case StatePlaying:
		return "playing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Playable is what a Fetcher hands back: something the transport can play.
// ArtifactPath is empty when Source is a remote stream and nothing was
// written to disk.
type Playable struct {
	Query        string
	Title        string
	Source       string
	ArtifactPath string
	Duration     time.Duration
	Thumbnail    string
	WebpageURL   string
}

// Completion identifies the playback a transport end-of-track callback is
// reporting on.
type Completion struct {
	GuildID      string
	RequestID    uint64
	ArtifactPath string
}

// Fetcher turns a user query into a Playable. It does not retry. When the
// returned Playable has an ArtifactPath the file is complete and already
// registered as active for the guild.
type Fetcher interface {
	Fetch(ctx context.Context, guildID, query string) (*Playable, error)
}

// Transport plays one Playable at a time per guild. onEnd must be called
// exactly once for every Play that returned nil, whether the track finished,
// was skipped, or failed mid-stream.
type Transport interface {
	Play(ctx context.Context, guildID string, p *Playable, onEnd func()) error
}

// Notifier receives user-facing playback events. Implementations must not
// block for long; they run on the playback chain.
type Notifier interface {
	NowPlaying(guildID string, req queue.Request, p *Playable)
	FetchFailed(guildID string, req queue.Request, err error)
	QueueDrained(guildID string)
}

// Recorder persists playback history.
type Recorder interface {
	RecordPlayback(ctx context.Context, guildID string, req queue.Request, p *Playable) error
	RecordFailure(ctx context.Context, guildID string, req queue.Request, cause error) error
}

// Gate reports whether new work may start. The shutdown coordinator
// implements it.
type Gate interface {
	Accepting() bool
}

var (
	ErrQueueFull    = errors.New("queue is full")
	ErrShuttingDown = errors.New("bot is shutting down")
)

// FetchError wraps a failure to obtain or start playable media for a query.
type FetchError struct {
	Query string
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("could not play %q: %v", e.Query, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
