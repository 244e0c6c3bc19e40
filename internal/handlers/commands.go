package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/clickCA/music-bot/internal/autocomplete"
	"github.com/clickCA/music-bot/internal/config"
	"github.com/clickCA/music-bot/internal/player"
	"github.com/clickCA/music-bot/internal/queue"
	"github.com/clickCA/music-bot/internal/repository"
	"github.com/clickCA/music-bot/internal/shutdown"
	"github.com/clickCA/music-bot/internal/spotify"
	"github.com/clickCA/music-bot/internal/stream"
	"github.com/clickCA/music-bot/internal/ui"
	"github.com/clickCA/music-bot/internal/utils"
	"github.com/clickCA/music-bot/internal/voice"
)

const (
	settingsTimeout = 5 * time.Second
	expandTimeout   = 30 * time.Second
	joinTimeout     = 10 * time.Second
)

// Deps are the components the command layer drives.
type Deps struct {
	Coordinator *player.Coordinator
	Voice       *voice.Manager
	Repo        *repository.Repo
	Shutdown    *shutdown.Coordinator
	Notifier    *Notifier
	Suggester   *autocomplete.Suggester
	// Spotify is nil when no credentials are configured.
	Spotify *spotify.Client
	Ytdlp   stream.YtdlpOptions
}

type CommandHandler struct {
	cfg     *config.Config
	deps    Deps
	limiter *guildLimiter
}

func NewCommandHandler(cfg *config.Config, deps Deps) *CommandHandler {
	return &CommandHandler{cfg: cfg, deps: deps, limiter: newGuildLimiter(cfg.PlayRatePerMinute)}
}

var adminOnly = int64(discordgo.PermissionAdministrator)

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "play",
			Description: "Play a song or playlist (URL or search)",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "query", Description: "query or URL", Type: discordgo.ApplicationCommandOptionString, Required: true, Autocomplete: true},
			},
		},
		{Name: "pause", Description: "pause the current song"},
		{Name: "resume", Description: "resume playback"},
		{Name: "skip", Description: "skip to the next song"},
		{Name: "stop", Description: "stop playback and clear the queue"},
		{
			Name:        "queue",
			Description: "show the current queue",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "page", Description: "page of queue to show [default: 1]", Type: discordgo.ApplicationCommandOptionInteger},
				{Name: "page-size", Description: "how many items per page [default: 10, max: 30]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{Name: "now-playing", Description: "show the current song"},
		{Name: "join", Description: "join your voice channel"},
		{Name: "leave", Description: "clear the queue and leave the voice channel"},
		{
			Name:        "history",
			Description: "show recently played songs",
			Options: []*discordgo.ApplicationCommandOption{
				{Name: "limit", Description: "how many entries [default: 10, max: 25]", Type: discordgo.ApplicationCommandOptionInteger},
			},
		},
		{
			Name:        "config",
			Description: "Configure bot settings",
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "get", Description: "show settings"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-announce", Description: "announce each new song", Options: []*discordgo.ApplicationCommandOption{
					{Name: "value", Description: "true/false", Type: discordgo.ApplicationCommandOptionBoolean, Required: true},
				}},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "set-max-queue", Description: "max queued songs for this server", Options: []*discordgo.ApplicationCommandOption{
					{Name: "limit", Description: "0 uses the global default", Type: discordgo.ApplicationCommandOptionInteger, Required: true},
				}},
			},
		},
		{Name: "shutdown", Description: "clear all queues, delete downloads and stop the bot", DefaultMemberPermissions: &adminOnly},
	}
}

func (h *CommandHandler) RegisterCommands(s *discordgo.Session, appID string, guildID string) error {
	start := time.Now()
	cmds := commandDefinitions()
	if _, err := s.ApplicationCommandBulkOverwrite(appID, guildID, cmds); err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	slog.Info("registered commands", "guildID", guildID, "count", len(cmds), "took", time.Since(start))
	return nil
}

func (h *CommandHandler) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.GuildID == "" {
		return
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		slog.Debug("interaction: application command", "guildID", i.GuildID, "userID", userIDOf(i), "command", i.ApplicationCommandData().Name)
		h.handleChatCommand(s, i)
	case discordgo.InteractionApplicationCommandAutocomplete:
		h.handleAutocomplete(s, i)
	default:
		slog.Debug("interaction: ignored type", "type", i.Type, "guildID", i.GuildID)
	}
}

func (h *CommandHandler) handleAutocomplete(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	if data.Name != "play" || h.deps.Suggester == nil {
		return
	}
	var query string
	for _, opt := range data.Options {
		if opt.Focused {
			query = opt.StringValue()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2500*time.Millisecond)
	defer cancel()
	choices := h.deps.Suggester.Choices(ctx, query, 10)
	if choices == nil {
		choices = []*discordgo.ApplicationCommandOptionChoice{}
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionApplicationCommandAutocompleteResult,
		Data: &discordgo.InteractionResponseData{Choices: choices},
	}); err != nil {
		slog.Debug("autocomplete respond failed", "guildID", i.GuildID, "err", err)
	}
}

func (h *CommandHandler) handleChatCommand(s *discordgo.Session, i *discordgo.InteractionCreate) {
	data := i.ApplicationCommandData()
	switch data.Name {
	case "play":
		h.cmdPlay(s, i)
	case "pause":
		h.cmdPause(s, i)
	case "resume":
		h.cmdResume(s, i)
	case "skip":
		h.cmdSkip(s, i)
	case "stop":
		h.cmdStop(s, i)
	case "queue":
		h.cmdQueue(s, i)
	case "now-playing":
		h.cmdNowPlaying(s, i)
	case "join":
		h.cmdJoin(s, i)
	case "leave":
		h.cmdLeave(s, i)
	case "history":
		h.cmdHistory(s, i)
	case "config":
		h.cmdConfig(s, i)
	case "shutdown":
		h.cmdShutdown(s, i)
	default:
		slog.Debug("unknown command", "name", data.Name, "guildID", i.GuildID, "userID", userIDOf(i))
	}
}

func (h *CommandHandler) reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	var flags discordgo.MessageFlags
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content, Flags: flags},
	}); err != nil {
		slog.Warn("reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) replyEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, e *discordgo.MessageEmbed) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Embeds: []*discordgo.MessageEmbed{e}},
	}); err != nil {
		slog.Warn("embed reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) deferReply(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	}); err != nil {
		slog.Warn("defer reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func (h *CommandHandler) editReply(s *discordgo.Session, i *discordgo.InteractionCreate, content string, embeds ...*discordgo.MessageEmbed) {
	edit := &discordgo.WebhookEdit{Content: &content}
	if len(embeds) > 0 {
		edit.Embeds = &embeds
	}
	if _, err := s.InteractionResponseEdit(i.Interaction, edit); err != nil {
		slog.Warn("edit reply failed", "guildID", i.GuildID, "userID", userIDOf(i), "err", err)
	}
}

func userInVoice(s *discordgo.Session, guildID, userID string) (channelID string, ok bool) {
	if vs, err := s.State.VoiceState(guildID, userID); err == nil && vs.ChannelID != "" {
		return vs.ChannelID, true
	}
	g, _ := s.State.Guild(guildID)
	if g == nil {
		return "", false
	}
	for _, vs := range g.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return vs.ChannelID, true
		}
	}
	return "", false
}

func (h *CommandHandler) settings(guildID string) *repository.Settings {
	def := &repository.Settings{GuildID: guildID, AnnounceNowPlaying: true}
	if h.deps.Repo == nil {
		return def
	}
	ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
	defer cancel()
	set, err := h.deps.Repo.UpsertSettings(ctx, guildID)
	if err != nil {
		slog.Warn("load settings failed", "guildID", guildID, "err", err)
		return def
	}
	return set
}

// join connects the bot to the caller's voice channel.
func (h *CommandHandler) join(s *discordgo.Session, i *discordgo.InteractionCreate) (string, error) {
	chID, ok := userInVoice(s, i.GuildID, userIDOf(i))
	if !ok {
		return "", errNotInVoice
	}
	ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()
	if err := h.deps.Voice.Join(ctx, s, i.GuildID, chID); err != nil {
		return "", err
	}
	return chID, nil
}

var errNotInVoice = errors.New("gotta be in a voice channel")

func (h *CommandHandler) cmdPlay(s *discordgo.Session, i *discordgo.InteractionCreate) {
	query := strings.TrimSpace(stringOpt(i.ApplicationCommandData().Options, "query"))
	guildID := i.GuildID
	slog.Info("cmd play", "guildID", guildID, "userID", userIDOf(i), "query", query)

	if query == "" {
		h.reply(s, i, "what should I play?", true)
		return
	}
	if !h.deps.Shutdown.Accepting() {
		h.reply(s, i, "shutting down, not taking requests", true)
		return
	}
	if _, ok := userInVoice(s, guildID, userIDOf(i)); !ok {
		h.reply(s, i, errNotInVoice.Error(), true)
		return
	}
	if !h.limiter.Allow(guildID) {
		h.reply(s, i, "slow down, too many requests on this server", true)
		return
	}

	set := h.settings(guildID)
	room := h.room(guildID, set)
	if room == 0 {
		h.reply(s, i, "the queue is full", true)
		return
	}

	// the first fetch can take a while
	h.deferReply(s, i)

	if _, err := h.join(s, i); err != nil {
		slog.Warn("voice connect failed", "guildID", guildID, "err", err)
		h.editReply(s, i, "couldn't connect to channel")
		return
	}

	queries, title, err := h.expand(query, room)
	if err != nil {
		slog.Warn("playlist expansion failed", "guildID", guildID, "query", query, "err", err)
		h.editReply(s, i, "couldn't load that playlist: "+err.Error())
		return
	}
	if len(queries) == 0 {
		h.editReply(s, i, "no songs found")
		return
	}

	base := queue.Request{RequestedBy: userIDOf(i), ChannelID: i.ChannelID, Origin: i.ID}
	res := enqueueAll(h.deps.Coordinator, h.deps.Notifier, guildID, base, queries)

	h.editReply(s, i, playReply(h.deps.Coordinator, guildID, res.stored, res.pos, res.err, title, res.added))
}

// enqueuer is the part of the coordinator /play needs.
type enqueuer interface {
	Enqueue(guildID string, req queue.Request) (queue.Request, int, error)
}

type enqueueResult struct {
	stored queue.Request
	pos    int
	err    error
	// added counts entries that are queued or playing.
	added int
}

// enqueueAll queues queries in order. The first entry is answered by the
// interaction itself, so notifier events for it are held. An entry that
// fails to fetch is skipped; only a full queue or shutdown ends the loop.
func enqueueAll(c enqueuer, n *Notifier, guildID string, base queue.Request, queries []string) enqueueResult {
	var res enqueueResult
	if len(queries) == 0 {
		return res
	}

	release := n.hold(base.Origin)
	req := base
	req.Query = queries[0]
	res.stored, res.pos, res.err = c.Enqueue(guildID, req)
	release()
	if res.err == nil {
		res.added = 1
	} else if !isFetchError(res.err) {
		return res
	}

	for _, q := range queries[1:] {
		r := base
		r.Origin = ""
		r.Query = q
		_, _, err := c.Enqueue(guildID, r)
		switch {
		case err == nil:
			res.added++
		case isFetchError(err):
			// already reported by the notifier
		default:
			slog.Debug("stopped adding playlist entries", "guildID", guildID, "err", err)
			return res
		}
	}
	return res
}

// room is how many more requests the guild may queue; -1 means unlimited.
func (h *CommandHandler) room(guildID string, set *repository.Settings) int {
	limit := h.cfg.MaxQueueLength
	if set.MaxQueueLength > 0 && (limit <= 0 || set.MaxQueueLength < limit) {
		limit = set.MaxQueueLength
	}
	if limit <= 0 {
		return -1
	}
	return max(0, limit-len(h.deps.Coordinator.Queue(guildID)))
}

// expand turns a playlist link into one query per entry. Anything else is a
// single query.
func (h *CommandHandler) expand(query string, room int) ([]string, string, error) {
	limit := stream.DefaultPlaylistLimit
	if room > 0 {
		limit = min(limit, room)
	}
	ctx, cancel := context.WithTimeout(context.Background(), expandTimeout)
	defer cancel()

	switch {
	case h.deps.Spotify != nil && spotify.IsCollection(query):
		col, err := h.deps.Spotify.Expand(ctx, query, limit)
		if err != nil {
			return nil, "", err
		}
		out := make([]string, 0, len(col.Tracks))
		for _, t := range col.Tracks {
			out = append(out, t.SearchText())
		}
		return out, col.Title, nil
	case stream.IsPlaylistURL(query):
		entries, err := stream.ExpandPlaylist(ctx, h.deps.Ytdlp, query, limit)
		if err != nil {
			return nil, "", err
		}
		out := make([]string, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.URL)
		}
		return out, "playlist", nil
	}
	return []string{query}, "", nil
}

func isFetchError(err error) bool {
	var fe *player.FetchError
	return errors.As(err, &fe)
}

func playReply(c *player.Coordinator, guildID string, stored queue.Request, pos int, err error, playlist string, added int) string {
	var b strings.Builder
	switch {
	case errors.Is(err, player.ErrQueueFull):
		return "the queue is full"
	case errors.Is(err, player.ErrShuttingDown):
		return "shutting down, not taking requests"
	case err != nil:
		fmt.Fprintf(&b, "❌ %s", utils.Truncate(err.Error(), 300))
	case pos == 1:
		title := stored.Query
		if p, req, ok := c.NowPlaying(guildID); ok && req.ID == stored.ID {
			title = p.Title
		}
		fmt.Fprintf(&b, "▶️ Now playing **%s**", utils.EscapeMd(title))
	default:
		fmt.Fprintf(&b, "Added to queue (position %d): **%s**", pos, utils.EscapeMd(utils.Truncate(stored.Query, 100)))
	}
	if playlist != "" && added > 0 {
		fmt.Fprintf(&b, "\nQueued %s from %s.", utils.Plural(added, "song"), utils.EscapeMd(playlist))
	}
	return b.String()
}

func (h *CommandHandler) cmdPause(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.deps.Voice.Pause(i.GuildID); err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd pause", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "⏸️ paused", false)
}

func (h *CommandHandler) cmdResume(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.deps.Voice.Resume(i.GuildID); err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd resume", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "▶️ resumed", false)
}

func (h *CommandHandler) cmdSkip(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if err := h.deps.Voice.Skip(i.GuildID); err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	slog.Info("cmd skip", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "⏭️ skipped", false)
}

func (h *CommandHandler) cmdStop(s *discordgo.Session, i *discordgo.InteractionCreate) {
	n := h.deps.Coordinator.Stop(i.GuildID)
	h.deps.Voice.Stop(i.GuildID)
	slog.Info("cmd stop", "guildID", i.GuildID, "userID", userIDOf(i), "dropped", n)
	h.reply(s, i, "⏹️ stopped and cleared the queue", false)
}

func (h *CommandHandler) cmdQueue(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	page := int(intOpt(opts, "page", 1))
	size := int(intOpt(opts, "page-size", ui.DefaultPageSize))

	items := h.deps.Coordinator.Queue(i.GuildID)
	cur, _, _ := h.deps.Coordinator.NowPlaying(i.GuildID)
	e, err := ui.QueueEmbed(items, cur, page, size)
	if errors.Is(err, ui.ErrQueueEmpty) {
		h.reply(s, i, "Queue is empty!", false)
		return
	}
	if err != nil {
		h.reply(s, i, err.Error(), true)
		return
	}
	h.replyEmbed(s, i, e)
}

func (h *CommandHandler) cmdNowPlaying(s *discordgo.Session, i *discordgo.InteractionCreate) {
	p, req, ok := h.deps.Coordinator.NowPlaying(i.GuildID)
	if !ok {
		h.reply(s, i, "nothing is currently playing", true)
		return
	}
	pos, _ := h.deps.Voice.Position(i.GuildID)
	h.replyEmbed(s, i, ui.NowPlayingEmbed(p, req, pos, h.deps.Voice.Paused(i.GuildID)))
}

func (h *CommandHandler) cmdJoin(s *discordgo.Session, i *discordgo.InteractionCreate) {
	chID, err := h.join(s, i)
	if err != nil {
		if !errors.Is(err, errNotInVoice) {
			slog.Warn("voice connect failed", "guildID", i.GuildID, "err", err)
			err = errors.New("couldn't connect to channel")
		}
		h.reply(s, i, err.Error(), true)
		return
	}
	h.reply(s, i, fmt.Sprintf("joined <#%s>", chID), false)
}

func (h *CommandHandler) cmdLeave(s *discordgo.Session, i *discordgo.InteractionCreate) {
	h.deps.Coordinator.Stop(i.GuildID)
	if !h.deps.Voice.Leave(i.GuildID) {
		h.reply(s, i, "not connected", true)
		return
	}
	slog.Info("cmd leave", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "👋 bye", false)
}

func (h *CommandHandler) cmdHistory(s *discordgo.Session, i *discordgo.InteractionCreate) {
	limit := int(intOpt(i.ApplicationCommandData().Options, "limit", 10))
	limit = max(1, min(limit, 25))
	ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
	defer cancel()
	entries, err := h.deps.Repo.RecentHistory(ctx, i.GuildID, limit)
	if err != nil {
		slog.Error("load history failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "internal error", true)
		return
	}
	h.replyEmbed(s, i, ui.HistoryEmbed(entries))
}

func (h *CommandHandler) cmdConfig(s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := i.ApplicationCommandData().Options
	if len(opts) == 0 {
		return
	}
	sub := opts[0]
	ctx, cancel := context.WithTimeout(context.Background(), settingsTimeout)
	defer cancel()

	set, err := h.deps.Repo.UpsertSettings(ctx, i.GuildID)
	if err != nil {
		slog.Error("load settings failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "internal error", true)
		return
	}

	switch sub.Name {
	case "get":
		h.replyEmbed(s, i, ui.SettingsEmbed(set, h.cfg.MaxQueueLength))
		return
	case "set-announce":
		set.AnnounceNowPlaying = boolOpt(sub.Options, "value")
	case "set-max-queue":
		limit := intOpt(sub.Options, "limit", 0)
		if limit < 0 {
			h.reply(s, i, "limit must be 0 or more", true)
			return
		}
		set.MaxQueueLength = int(limit)
	default:
		return
	}

	if err := h.deps.Repo.UpdateSettings(ctx, set); err != nil {
		slog.Error("update settings failed", "guildID", i.GuildID, "err", err)
		h.reply(s, i, "internal error", true)
		return
	}
	slog.Info("cmd config", "guildID", i.GuildID, "userID", userIDOf(i), "sub", sub.Name)
	h.reply(s, i, "👍 settings updated", false)
}

func (h *CommandHandler) cmdShutdown(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if !isAdmin(i) {
		h.reply(s, i, "only administrators can do that", true)
		return
	}
	slog.Info("cmd shutdown", "guildID", i.GuildID, "userID", userIDOf(i))
	h.reply(s, i, "Shutting down...", false)
	go h.deps.Shutdown.Trigger("command by " + userIDOf(i))
}

func isAdmin(i *discordgo.InteractionCreate) bool {
	return i.Member != nil && i.Member.Permissions&discordgo.PermissionAdministrator != 0
}

func userIDOf(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func stringOpt(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name {
			return o.StringValue()
		}
	}
	return ""
}

func intOpt(opts []*discordgo.ApplicationCommandInteractionDataOption, name string, def int64) int64 {
	for _, o := range opts {
		if o.Name == name {
			return o.IntValue()
		}
	}
	return def
}

func boolOpt(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) bool {
	for _, o := range opts {
		if o.Name == name {
			return o.BoolValue()
		}
	}
	return false
}
