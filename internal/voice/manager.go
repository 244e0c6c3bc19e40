package voice

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/clickCA/music-bot/internal/player"
)

var (
	ErrNotConnected = errors.New("not connected to a voice channel")
	ErrNotPlaying   = errors.New("nothing is playing")
)

const (
	frameInterval   = 20 * time.Millisecond
	bufferedPackets = 50
	stopWait        = 3 * time.Second
)

// sink is where a session writes Opus packets.
type sink interface {
	ready(ctx context.Context) error
	speaking(on bool)
	send(ctx context.Context, pkt []byte) error
	move(channelID string) error
	disconnect()
}

type guildVoice struct {
	sink      sink
	channelID string
	cur       *session
}

type session struct {
	cancel context.CancelFunc
	done   chan struct{}
	frames atomic.Int64

	pauseMu sync.Mutex
	paused  bool
	resumed chan struct{}
}

func (s *session) setPaused(p bool) bool {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if s.paused == p {
		return false
	}
	s.paused = p
	if p {
		s.resumed = make(chan struct{})
	} else {
		close(s.resumed)
	}
	return true
}

// gate returns nil when not paused, or a channel closed on resume.
func (s *session) gate() <-chan struct{} {
	s.pauseMu.Lock()
	defer s.pauseMu.Unlock()
	if !s.paused {
		return nil
	}
	return s.resumed
}

// Manager owns one voice connection per guild and plays one track at a time
// on each. It implements player.Transport.
type Manager struct {
	interval   time.Duration
	openSource func(ctx context.Context, p *player.Playable) (source, error)

	mu     sync.Mutex
	guilds map[string]*guildVoice
}

func NewManager(ffmpegPath string) *Manager {
	return &Manager{
		interval:   frameInterval,
		openSource: openPCMSource(ffmpegPath),
		guilds:     make(map[string]*guildVoice),
	}
}

// Join connects to channelID. When the guild is already connected elsewhere
// the connection is moved and the current track keeps playing. Joining the
// current channel is a no-op.
func (m *Manager) Join(ctx context.Context, s *discordgo.Session, guildID, channelID string) error {
	if ok, err := m.move(guildID, channelID); ok {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	// ChannelVoiceJoin waits for the connection with its own timeout.
	vc, err := s.ChannelVoiceJoin(guildID, channelID, false, true)
	if err != nil {
		return fmt.Errorf("join voice channel: %w", err)
	}
	// Kill() panics on nil channels.
	if vc.OpusSend == nil {
		vc.OpusSend = make(chan []byte, 2)
	}
	if vc.OpusRecv == nil {
		vc.OpusRecv = make(chan *discordgo.Packet, 2)
	}

	m.attach(guildID, channelID, &vcSink{vc: vc, guildID: guildID})
	slog.Info("joined voice", "guildID", guildID, "channelID", channelID)
	return nil
}

// move switches an existing connection to channelID. It reports false when
// the guild has no connection yet.
func (m *Manager) move(guildID, channelID string) (bool, error) {
	m.mu.Lock()
	gv := m.guilds[guildID]
	var from string
	if gv != nil {
		from = gv.channelID
	}
	m.mu.Unlock()
	if gv == nil {
		return false, nil
	}
	if from == channelID {
		return true, nil
	}

	if err := gv.sink.move(channelID); err != nil {
		return true, fmt.Errorf("move voice channel: %w", err)
	}
	m.mu.Lock()
	if m.guilds[guildID] == gv {
		gv.channelID = channelID
	}
	m.mu.Unlock()
	slog.Info("moved voice", "guildID", guildID, "from", from, "to", channelID)
	return true, nil
}

func (m *Manager) attach(guildID, channelID string, sk sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.guilds[guildID] = &guildVoice{sink: sk, channelID: channelID}
}

// Leave stops playback and disconnects. The current track's end callback
// still fires.
func (m *Manager) Leave(guildID string) bool {
	m.mu.Lock()
	gv := m.guilds[guildID]
	delete(m.guilds, guildID)
	var cur *session
	if gv != nil {
		cur = gv.cur
	}
	m.mu.Unlock()
	if gv == nil {
		return false
	}

	if cur != nil {
		waitStopped(cur)
	}
	gv.sink.disconnect()
	slog.Info("left voice", "guildID", guildID)
	return true
}

// LeaveAll disconnects every guild.
func (m *Manager) LeaveAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.guilds))
	for id := range m.guilds {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Leave(id)
	}
}

func (m *Manager) ChannelID(guildID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	gv := m.guilds[guildID]
	if gv == nil {
		return "", false
	}
	return gv.channelID, true
}

// Play starts p on the guild's connection, replacing whatever was playing.
// onEnd runs exactly once, after the session has fully stopped.
func (m *Manager) Play(ctx context.Context, guildID string, p *player.Playable, onEnd func()) error {
	m.mu.Lock()
	gv := m.guilds[guildID]
	if gv == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	prev := gv.cur
	gv.cur = nil
	m.mu.Unlock()

	if prev != nil {
		waitStopped(prev)
	}

	// The source shares the session context so cancelling it unblocks reads.
	sctx, cancel := context.WithCancel(ctx)
	src, err := m.openSource(sctx, p)
	if err != nil {
		cancel()
		return err
	}
	s := &session{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if m.guilds[guildID] != gv {
		m.mu.Unlock()
		cancel()
		src.Close()
		return ErrNotConnected
	}
	gv.cur = s
	m.mu.Unlock()

	var once sync.Once
	go m.run(sctx, guildID, gv.sink, s, src, func() { once.Do(onEnd) })
	return nil
}

// Skip ends the current track; its end callback advances the queue.
func (m *Manager) Skip(guildID string) error {
	s := m.current(guildID)
	if s == nil {
		return ErrNotPlaying
	}
	s.cancel()
	return nil
}

// Stop ends the current track without touching the queue. Callers clear
// the queue first so the end callback goes idle.
func (m *Manager) Stop(guildID string) {
	if s := m.current(guildID); s != nil {
		waitStopped(s)
	}
}

func (m *Manager) Pause(guildID string) error {
	s := m.current(guildID)
	if s == nil {
		return ErrNotPlaying
	}
	if !s.setPaused(true) {
		return errors.New("already paused")
	}
	return nil
}

func (m *Manager) Resume(guildID string) error {
	s := m.current(guildID)
	if s == nil {
		return ErrNotPlaying
	}
	if !s.setPaused(false) {
		return errors.New("not paused")
	}
	return nil
}

// Position is how much audio of the current track has been sent.
func (m *Manager) Position(guildID string) (time.Duration, bool) {
	s := m.current(guildID)
	if s == nil {
		return 0, false
	}
	return time.Duration(s.frames.Load()) * frameInterval, true
}

func (m *Manager) Paused(guildID string) bool {
	s := m.current(guildID)
	return s != nil && s.gate() != nil
}

func (m *Manager) current(guildID string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gv := m.guilds[guildID]; gv != nil {
		return gv.cur
	}
	return nil
}

func waitStopped(s *session) {
	s.cancel()
	select {
	case <-s.done:
	case <-time.After(stopWait):
		slog.Warn("voice session did not stop in time")
	}
}

func (m *Manager) run(ctx context.Context, guildID string, sk sink, s *session, src source, onEnd func()) {
	buf := newPacketBuffer(bufferedPackets)
	stopBuf := context.AfterFunc(ctx, buf.Close)

	var producer sync.WaitGroup
	producer.Add(1)
	go func() {
		defer producer.Done()
		defer buf.MarkEOS()
		for {
			pkt, err := src.Next()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					slog.Warn("audio source failed", "guildID", guildID, "err", err)
				}
				return
			}
			if !buf.Push(pkt) {
				return
			}
		}
	}()

	defer func() {
		s.cancel()
		stopBuf()
		buf.Close()
		producer.Wait()
		src.Close()
		sk.speaking(false)

		m.mu.Lock()
		if gv := m.guilds[guildID]; gv != nil && gv.cur == s {
			gv.cur = nil
		}
		m.mu.Unlock()

		close(s.done)
		onEnd()
	}()

	if err := sk.ready(ctx); err != nil {
		slog.Warn("voice connection not ready", "guildID", guildID, "err", err)
		return
	}
	sk.speaking(true)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if wait := s.gate(); wait != nil {
			sk.speaking(false)
			select {
			case <-ctx.Done():
				return
			case <-wait:
			}
			sk.speaking(true)
		}

		pkt, ok := buf.Pop()
		if !ok {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := sk.send(ctx, pkt); err != nil {
			if ctx.Err() == nil {
				slog.Warn("opus send failed", "guildID", guildID, "err", err)
			}
			return
		}
		s.frames.Add(1)
	}
}

// vcSink adapts a discordgo voice connection.
type vcSink struct {
	vc      *discordgo.VoiceConnection
	guildID string
}

func (v *vcSink) ready(ctx context.Context) error {
	deadline := time.Now().Add(5 * time.Second)
	for !v.vc.Ready {
		if time.Now().After(deadline) {
			return errors.New("timed out waiting for voice ready")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return nil
}

func (v *vcSink) speaking(on bool) {
	if err := v.vc.Speaking(on); err != nil {
		slog.Debug("speaking update failed", "guildID", v.guildID, "err", err)
	}
}

func (v *vcSink) send(ctx context.Context, pkt []byte) error {
	select {
	case v.vc.OpusSend <- pkt:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(200 * time.Millisecond):
	}
	if v.vc.Ready {
		return errors.New("opus send timeout")
	}
	// reconnecting after a channel move; drop the frame and wait
	return v.ready(ctx)
}

func (v *vcSink) move(channelID string) error {
	return v.vc.ChangeChannel(channelID, false, true)
}

func (v *vcSink) disconnect() {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("voice disconnect panic recovered", "panic", r, "guildID", v.guildID)
		}
	}()
	v.speaking(false)
	if err := v.vc.Disconnect(); err != nil {
		slog.Warn("voice disconnect failed", "guildID", v.guildID, "err", err)
	}
}
