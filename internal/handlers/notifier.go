package handlers

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/clickCA/music-bot/internal/player"
	"github.com/clickCA/music-bot/internal/queue"
	"github.com/clickCA/music-bot/internal/repository"
	"github.com/clickCA/music-bot/internal/ui"
)

// embedSender is satisfied by *discordgo.Session.
type embedSender interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

type settingsLookup interface {
	GetSettings(ctx context.Context, guild string) (*repository.Settings, error)
}

// Notifier posts playback events to the channel a request came from. Events
// for requests whose interaction is still waiting on its reply are skipped;
// that reply reports them.
type Notifier struct {
	send     embedSender
	settings settingsLookup

	inflight sync.Map // interaction ID -> struct{}

	mu          sync.Mutex
	lastChannel map[string]string
}

func NewNotifier(send embedSender, settings settingsLookup) *Notifier {
	return &Notifier{send: send, settings: settings, lastChannel: make(map[string]string)}
}

// hold marks an interaction as answering for itself until the returned
// func is called.
func (n *Notifier) hold(origin string) func() {
	if origin == "" {
		return func() {}
	}
	n.inflight.Store(origin, struct{}{})
	return func() { n.inflight.Delete(origin) }
}

func (n *Notifier) held(req queue.Request) bool {
	if req.Origin == "" {
		return false
	}
	_, ok := n.inflight.Load(req.Origin)
	return ok
}

func (n *Notifier) announce(guildID string) bool {
	if n.settings == nil {
		return true
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s, err := n.settings.GetSettings(ctx, guildID)
	if err != nil || s == nil {
		return true
	}
	return s.AnnounceNowPlaying
}

func (n *Notifier) remember(guildID, channelID string) {
	if channelID == "" {
		return
	}
	n.mu.Lock()
	n.lastChannel[guildID] = channelID
	n.mu.Unlock()
}

func (n *Notifier) NowPlaying(guildID string, req queue.Request, p *player.Playable) {
	n.remember(guildID, req.ChannelID)
	if req.ChannelID == "" || n.held(req) || !n.announce(guildID) {
		return
	}
	if _, err := n.send.ChannelMessageSendEmbed(req.ChannelID, ui.AnnounceEmbed(p, req)); err != nil {
		slog.Warn("announce now playing failed", "guildID", guildID, "channelID", req.ChannelID, "err", err)
	}
}

func (n *Notifier) FetchFailed(guildID string, req queue.Request, err error) {
	n.remember(guildID, req.ChannelID)
	if req.ChannelID == "" || n.held(req) {
		return
	}
	if _, serr := n.send.ChannelMessageSendEmbed(req.ChannelID, ui.ErrorEmbed(req, err)); serr != nil {
		slog.Warn("report fetch failure failed", "guildID", guildID, "channelID", req.ChannelID, "err", serr)
	}
}

func (n *Notifier) QueueDrained(guildID string) {
	n.mu.Lock()
	ch := n.lastChannel[guildID]
	n.mu.Unlock()
	if ch == "" || !n.announce(guildID) {
		return
	}
	if _, err := n.send.ChannelMessageSend(ch, "Queue finished."); err != nil {
		slog.Warn("announce queue drained failed", "guildID", guildID, "err", err)
	}
}

var _ player.Notifier = (*Notifier)(nil)
