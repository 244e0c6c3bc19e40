package player

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/clickCA/music-bot/internal/artifact"
	"github.com/clickCA/music-bot/internal/queue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeFetcher struct {
	layout   artifact.Layout
	registry *artifact.Registry

	mu      sync.Mutex
	calls   []string
	fail    map[string]error
	block   map[string]chan struct{}
	started chan string
}

func (f *fakeFetcher) Fetch(ctx context.Context, guildID, query string) (*Playable, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	n := len(f.calls)
	err := f.fail[query]
	gate := f.block[query]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- query
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}

	if err := f.layout.EnsureGuildDirs(guildID); err != nil {
		return nil, err
	}
	name := fmt.Sprintf("%s-%d.webm", query, n)
	staged := filepath.Join(f.layout.StagingDir(guildID), name)
	if err := os.WriteFile(staged, []byte(query), 0o644); err != nil {
		return nil, err
	}
	final := filepath.Join(f.layout.GuildDir(guildID), name)
	if err := f.registry.Adopt(guildID, staged, final); err != nil {
		return nil, err
	}
	return &Playable{Title: query, Source: final, ArtifactPath: final}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeTransport struct {
	mu      sync.Mutex
	plays   map[string][]string
	pending map[string]func()
	fail    map[string]error

	autoEnd    bool
	playing    map[string]int
	overlapped atomic.Bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		plays:   make(map[string][]string),
		pending: make(map[string]func()),
		fail:    make(map[string]error),
		playing: make(map[string]int),
	}
}

func (t *fakeTransport) Play(_ context.Context, guildID string, p *Playable, onEnd func()) error {
	t.mu.Lock()
	if err := t.fail[p.Title]; err != nil {
		t.mu.Unlock()
		return err
	}
	t.plays[guildID] = append(t.plays[guildID], p.Title)
	if !t.autoEnd {
		t.pending[guildID] = onEnd
		t.mu.Unlock()
		return nil
	}
	t.playing[guildID]++
	if t.playing[guildID] > 1 {
		t.overlapped.Store(true)
	}
	t.mu.Unlock()

	go func() {
		time.Sleep(time.Millisecond)
		t.mu.Lock()
		t.playing[guildID]--
		t.mu.Unlock()
		onEnd()
	}()
	return nil
}

// finish fires the end-of-track callback of the guild's current playback.
func (t *fakeTransport) finish(guildID string) {
	t.mu.Lock()
	fn := t.pending[guildID]
	delete(t.pending, guildID)
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *fakeTransport) Plays(guildID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.plays[guildID]...)
}

type fakeNotifier struct {
	mu         sync.Mutex
	nowPlaying []string
	failed     []string
	drained    int
}

func (n *fakeNotifier) NowPlaying(_ string, _ queue.Request, p *Playable) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.nowPlaying = append(n.nowPlaying, p.Title)
}

func (n *fakeNotifier) FetchFailed(_ string, req queue.Request, _ error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, req.Query)
}

func (n *fakeNotifier) QueueDrained(string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.drained++
}

type fakeRecorder struct {
	played atomic.Int32
	failed atomic.Int32
}

func (r *fakeRecorder) RecordPlayback(context.Context, string, queue.Request, *Playable) error {
	r.played.Add(1)
	return nil
}

func (r *fakeRecorder) RecordFailure(context.Context, string, queue.Request, error) error {
	r.failed.Add(1)
	return nil
}

type fakeGate struct{ closed atomic.Bool }

func (g *fakeGate) Accepting() bool { return !g.closed.Load() }

type harness struct {
	c        *Coordinator
	fetcher  *fakeFetcher
	tr       *fakeTransport
	notifier *fakeNotifier
	recorder *fakeRecorder
	gate     *fakeGate
	registry *artifact.Registry
	layout   artifact.Layout
}

func newHarness(t *testing.T, opts Options) *harness {
	t.Helper()
	layout, err := artifact.NewLayout(filepath.Join(t.TempDir(), "music_bot_downloads"))
	require.NoError(t, err)
	reg := artifact.NewRegistry()
	h := &harness{
		fetcher:  &fakeFetcher{layout: layout, registry: reg, fail: map[string]error{}, block: map[string]chan struct{}{}},
		tr:       newFakeTransport(),
		notifier: &fakeNotifier{},
		recorder: &fakeRecorder{},
		gate:     &fakeGate{},
		registry: reg,
		layout:   layout,
	}
	opts.Notifier = h.notifier
	opts.Recorder = h.recorder
	opts.Gate = h.gate
	h.c = New(context.Background(), queue.NewDirectory(), reg, artifact.NewReaper(layout, reg), h.fetcher, h.tr, opts)
	return h
}

func (h *harness) enqueue(t *testing.T, guildID, query string) (queue.Request, int, error) {
	t.Helper()
	return h.c.Enqueue(guildID, queue.Request{Query: query, RequestedBy: "tester", ChannelID: "chan"})
}

func (h *harness) guildFiles(t *testing.T, guildID string) []string {
	t.Helper()
	entries, err := os.ReadDir(h.layout.GuildDir(guildID))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	return names
}

func TestEnqueue_FirstItemStartsPlayback(t *testing.T) {
	h := newHarness(t, Options{})

	req, pos, err := h.enqueue(t, "g1", "songA")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.NotZero(t, req.ID)

	assert.Equal(t, []string{"songA"}, h.fetcher.Calls())
	assert.Equal(t, []string{"songA"}, h.tr.Plays("g1"))
	assert.Equal(t, StatePlaying, h.c.State("g1"))

	p, cur, ok := h.c.NowPlaying("g1")
	require.True(t, ok)
	assert.Equal(t, req.ID, cur.ID)
	assert.True(t, h.registry.IsActive("g1", p.ArtifactPath))
	assert.FileExists(t, p.ArtifactPath)
	assert.Equal(t, []string{"songA"}, h.notifier.nowPlaying)
	assert.Equal(t, int32(1), h.recorder.played.Load())
}

func TestEnqueue_WhilePlayingOnlyQueues(t *testing.T) {
	h := newHarness(t, Options{})
	_, _, err := h.enqueue(t, "g1", "songA")
	require.NoError(t, err)

	_, pos, err := h.enqueue(t, "g1", "songB")
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
	assert.Len(t, h.fetcher.Calls(), 1, "second enqueue must not fetch")
	assert.Len(t, h.tr.Plays("g1"), 1)
	assert.Len(t, h.c.Queue("g1"), 2)
}

func TestTrackEnded_AdvancesAndReaps(t *testing.T) {
	h := newHarness(t, Options{})
	_, _, err := h.enqueue(t, "g1", "songA")
	require.NoError(t, err)
	_, _, err = h.enqueue(t, "g1", "songB")
	require.NoError(t, err)

	first, _, ok := h.c.NowPlaying("g1")
	require.True(t, ok)
	// leftover from an earlier run that nothing references
	require.NoError(t, os.WriteFile(filepath.Join(h.layout.GuildDir("g1"), "orphan.webm"), nil, 0o644))

	h.tr.finish("g1")

	assert.False(t, h.registry.IsActive("g1", first.ArtifactPath))
	assert.NoFileExists(t, first.ArtifactPath)
	assert.Equal(t, []string{"songA", "songB"}, h.fetcher.Calls())
	assert.Equal(t, []string{"songA", "songB"}, h.tr.Plays("g1"))
	assert.Equal(t, StatePlaying, h.c.State("g1"))
	assert.Len(t, h.c.Queue("g1"), 1)

	second, _, ok := h.c.NowPlaying("g1")
	require.True(t, ok)
	assert.Equal(t, "songB", second.Title)
	assert.Equal(t, []string{filepath.Base(second.ArtifactPath)}, h.guildFiles(t, "g1"))
}

func TestTrackEnded_LastItemDrainsQueue(t *testing.T) {
	h := newHarness(t, Options{})
	_, _, err := h.enqueue(t, "g1", "songA")
	require.NoError(t, err)

	h.tr.finish("g1")

	assert.Equal(t, StateIdle, h.c.State("g1"))
	assert.Empty(t, h.c.Queue("g1"))
	assert.Empty(t, h.guildFiles(t, "g1"))
	assert.Equal(t, 1, h.notifier.drained)
	assert.Equal(t, 0, h.registry.ActiveCount("g1"))
}

func TestStop_BeforeTrackEndedLeavesChainInert(t *testing.T) {
	h := newHarness(t, Options{})
	_, _, err := h.enqueue(t, "g1", "songA")
	require.NoError(t, err)
	_, _, err = h.enqueue(t, "g1", "songB")
	require.NoError(t, err)

	assert.Equal(t, 2, h.c.Stop("g1"))
	h.tr.finish("g1")

	assert.Equal(t, []string{"songA"}, h.fetcher.Calls(), "songB must never be fetched")
	assert.Equal(t, StateIdle, h.c.State("g1"))
	assert.Empty(t, h.c.Queue("g1"))
	assert.Empty(t, h.guildFiles(t, "g1"))
	assert.Equal(t, 0, h.notifier.drained)
}

func TestStop_UnknownGuild(t *testing.T) {
	h := newHarness(t, Options{})
	assert.Equal(t, 0, h.c.Stop("nobody"))
	assert.Equal(t, StateIdle, h.c.State("nobody"))
	_, _, ok := h.c.NowPlaying("nobody")
	assert.False(t, ok)
}

func TestEnqueue_FirstItemFetchErrorIsReturnedOnce(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.fail["bad"] = errors.New("no results")

	_, pos, err := h.enqueue(t, "g1", "bad")
	assert.Equal(t, 1, pos)

	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "bad", fe.Query)
	assert.EqualError(t, fe.Err, "no results")

	assert.Equal(t, []string{"bad"}, h.notifier.failed)
	assert.Equal(t, int32(1), h.recorder.failed.Load())
	assert.Empty(t, h.c.Queue("g1"))
	assert.Equal(t, StateIdle, h.c.State("g1"))
	assert.Empty(t, h.tr.Plays("g1"))
}

func TestTrackEnded_FetchFailureMovesOn(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.fail["bad"] = errors.New("unavailable")

	for _, q := range []string{"songA", "bad", "songC"} {
		_, _, err := h.enqueue(t, "g1", q)
		require.NoError(t, err)
	}

	h.tr.finish("g1")

	assert.Equal(t, []string{"songA", "bad", "songC"}, h.fetcher.Calls())
	assert.Equal(t, []string{"songA", "songC"}, h.tr.Plays("g1"))
	assert.Equal(t, []string{"bad"}, h.notifier.failed)
	assert.Equal(t, StatePlaying, h.c.State("g1"))
	require.Len(t, h.c.Queue("g1"), 1)
	assert.Equal(t, "songC", h.c.Queue("g1")[0].Query)
}

func TestEnqueue_FailureChainReturnsOnlyFirstError(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.fail["bad1"] = errors.New("boom")
	h.fetcher.fail["bad2"] = errors.New("boom")
	h.fetcher.block["bad1"] = make(chan struct{})
	h.fetcher.started = make(chan string, 4)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := h.enqueue(t, "g1", "bad1")
		errCh <- err
	}()
	require.Equal(t, "bad1", <-h.fetcher.started)

	_, pos, err := h.enqueue(t, "g1", "bad2")
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
	_, _, err = h.enqueue(t, "g1", "songC")
	require.NoError(t, err)

	close(h.fetcher.block["bad1"])
	err = <-errCh
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "bad1", fe.Query)

	assert.Equal(t, []string{"bad1", "bad2"}, h.notifier.failed)
	assert.Equal(t, []string{"songC"}, h.tr.Plays("g1"))
}

func TestStaleFetchAfterStopIsDiscarded(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.block["slow"] = make(chan struct{})
	h.fetcher.started = make(chan string, 4)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := h.enqueue(t, "g1", "slow")
		errCh <- err
	}()
	require.Equal(t, "slow", <-h.fetcher.started)

	assert.Equal(t, 1, h.c.Stop("g1"))
	_, pos, err := h.enqueue(t, "g1", "fast")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	require.Equal(t, "fast", <-h.fetcher.started)

	close(h.fetcher.block["slow"])
	require.NoError(t, <-errCh)

	assert.Equal(t, []string{"fast"}, h.tr.Plays("g1"))
	assert.Equal(t, StatePlaying, h.c.State("g1"))
	p, _, ok := h.c.NowPlaying("g1")
	require.True(t, ok)
	assert.Equal(t, "fast", p.Title)
	assert.Equal(t, 1, h.registry.ActiveCount("g1"), "the stale artifact must not stay active")

	h.tr.finish("g1")
	assert.Empty(t, h.guildFiles(t, "g1"), "the stale artifact is swept with the next track end")
	assert.Equal(t, StateIdle, h.c.State("g1"))
}

func TestTransportErrorIsHandledLikeFetchError(t *testing.T) {
	h := newHarness(t, Options{})
	h.tr.fail["songA"] = errors.New("not connected")

	_, _, err := h.enqueue(t, "g1", "songA")
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.ErrorContains(t, err, "not connected")

	assert.Equal(t, 0, h.registry.ActiveCount("g1"))
	assert.Empty(t, h.c.Queue("g1"))
	assert.Equal(t, StateIdle, h.c.State("g1"))
	assert.Equal(t, []string{"songA"}, h.notifier.failed)
}

func TestGateClosedRejectsEnqueue(t *testing.T) {
	h := newHarness(t, Options{})
	h.gate.closed.Store(true)

	_, _, err := h.enqueue(t, "g1", "songA")
	assert.ErrorIs(t, err, ErrShuttingDown)
	assert.Empty(t, h.fetcher.Calls())
	assert.Empty(t, h.c.Queue("g1"))
}

func TestGateClosedStopsChainAtNextStep(t *testing.T) {
	h := newHarness(t, Options{})
	_, _, err := h.enqueue(t, "g1", "songA")
	require.NoError(t, err)
	_, _, err = h.enqueue(t, "g1", "songB")
	require.NoError(t, err)

	h.gate.closed.Store(true)
	h.tr.finish("g1")

	assert.Equal(t, []string{"songA"}, h.fetcher.Calls())
	assert.Equal(t, StateIdle, h.c.State("g1"))
	_, _, ok := h.c.NowPlaying("g1")
	assert.False(t, ok, "the finished track must not be reported as playing")
}

func TestShutdownAbortedFetchIsNotReported(t *testing.T) {
	h := newHarness(t, Options{})
	h.fetcher.fail["slow"] = context.Canceled
	h.fetcher.block["slow"] = make(chan struct{})
	h.fetcher.started = make(chan string, 1)

	errCh := make(chan error, 1)
	go func() {
		_, _, err := h.enqueue(t, "g1", "slow")
		errCh <- err
	}()
	require.Equal(t, "slow", <-h.fetcher.started)

	h.gate.closed.Store(true)
	close(h.fetcher.block["slow"])

	assert.ErrorIs(t, <-errCh, ErrShuttingDown)
	assert.Empty(t, h.notifier.failed)
	assert.Equal(t, int32(0), h.recorder.failed.Load())
	assert.Equal(t, StateIdle, h.c.State("g1"))
}

func TestDrainedNotSentWhenNewChainStartedAfterPop(t *testing.T) {
	h := newHarness(t, Options{})
	a, _, err := h.enqueue(t, "g1", "songA")
	require.NoError(t, err)
	first, _, ok := h.c.NowPlaying("g1")
	require.True(t, ok)

	// A's end pops the last item, then a /play lands before the drain notice.
	q := h.c.queues.GetOrCreate("g1")
	next, hasNext, popped := q.Next(a.ID)
	require.True(t, popped)
	require.False(t, hasNext)
	_, pos, err := h.enqueue(t, "g1", "songB")
	require.NoError(t, err)
	require.Equal(t, 1, pos)

	h.c.advance(Completion{GuildID: "g1", RequestID: a.ID, ArtifactPath: first.ArtifactPath}, q, next, hasNext, popped)

	assert.Equal(t, 0, h.notifier.drained)
	assert.Equal(t, StatePlaying, h.c.State("g1"))
	p, _, ok := h.c.NowPlaying("g1")
	require.True(t, ok)
	assert.Equal(t, "songB", p.Title)
}

func TestMaxQueueLength(t *testing.T) {
	h := newHarness(t, Options{MaxQueueLength: 2})
	_, _, err := h.enqueue(t, "g1", "a")
	require.NoError(t, err)
	_, _, err = h.enqueue(t, "g1", "b")
	require.NoError(t, err)

	_, _, err = h.enqueue(t, "g1", "c")
	assert.ErrorIs(t, err, ErrQueueFull)
	assert.Len(t, h.c.Queue("g1"), 2)
}

func TestFetchTimeoutAbortsFetch(t *testing.T) {
	h := newHarness(t, Options{FetchTimeout: 20 * time.Millisecond})
	h.fetcher.block["hang"] = make(chan struct{})

	_, _, err := h.enqueue(t, "g1", "hang")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateIdle, h.c.State("g1"))
}

func TestChainsPlayInOrderAcrossGuilds(t *testing.T) {
	h := newHarness(t, Options{})
	h.tr.autoEnd = true

	const guilds = 4
	const perGuild = 20

	var wg sync.WaitGroup
	for g := 0; g < guilds; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			guildID := fmt.Sprintf("g%d", g)
			for i := 0; i < perGuild; i++ {
				_, _, err := h.enqueue(t, guildID, fmt.Sprintf("t%02d", i))
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	for g := 0; g < guilds; g++ {
		guildID := fmt.Sprintf("g%d", g)
		require.Eventually(t, func() bool {
			return len(h.tr.Plays(guildID)) == perGuild && h.c.State(guildID) == StateIdle
		}, 5*time.Second, 5*time.Millisecond, guildID)

		want := make([]string, perGuild)
		for i := range want {
			want[i] = fmt.Sprintf("t%02d", i)
		}
		assert.Equal(t, want, h.tr.Plays(guildID))
		assert.Empty(t, h.guildFiles(t, guildID))
	}
	assert.False(t, h.tr.overlapped.Load(), "a guild had two playbacks at once")
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "fetching", StateFetching.String())
	assert.Equal(t, "playing", StatePlaying.String())
	assert.Equal(t, "State(9)", State(9).String())
}
