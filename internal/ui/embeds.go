package ui

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/clickCA/music-bot/internal/player"
	"github.com/clickCA/music-bot/internal/queue"
	"github.com/clickCA/music-bot/internal/repository"
	"github.com/clickCA/music-bot/internal/utils"
)

const (
	colorPlaying = 0x006400
	colorPaused  = 0x8B0000
	colorError   = 0x992222
	colorInfo    = 0x2F3136

	DefaultPageSize = 10
	MaxPageSize     = 30
)

var (
	ErrQueueEmpty  = errors.New("queue is empty")
	ErrPageTooHigh = errors.New("the queue isn't that big")
)

// ProgressBar renders progress in [0,1] as a row of width cells with a dot
// at the current position.
func ProgressBar(width int, progress float64) string {
	if width <= 0 {
		return ""
	}
	progress = max(0, min(1, progress))
	dot := int(progress * float64(width))
	if dot >= width {
		dot = width - 1
	}
	var b strings.Builder
	for i := 0; i < width; i++ {
		if i == dot {
			b.WriteString("🔘")
		} else {
			b.WriteString("▬")
		}
	}
	return b.String()
}

func trackLink(p *player.Playable) string {
	title := utils.EscapeMd(utils.Truncate(p.Title, 80))
	if p.WebpageURL == "" {
		return "**" + title + "**"
	}
	return fmt.Sprintf("**[%s](%s)**", title, p.WebpageURL)
}

func requester(req queue.Request) string {
	if req.RequestedBy == "" {
		return ""
	}
	return fmt.Sprintf("\nRequested by: <@%s>", req.RequestedBy)
}

// NowPlayingEmbed shows the playing track with its progress.
func NowPlayingEmbed(p *player.Playable, req queue.Request, pos time.Duration, paused bool) *discordgo.MessageEmbed {
	if p == nil {
		return &discordgo.MessageEmbed{
			Title:       "Nothing Playing",
			Description: "Queue is empty!",
			Color:       colorError,
		}
	}

	progress := 0.0
	if p.Duration > 0 {
		progress = float64(pos) / float64(p.Duration)
	}
	button := "▶️"
	title, color := "Now Playing", colorPlaying
	if paused {
		button = "⏸️"
		title, color = "Paused", colorPaused
	}
	elapsed := "live"
	if p.Duration > 0 {
		elapsed = fmt.Sprintf("%s/%s", utils.PrettyDuration(pos), utils.PrettyDuration(p.Duration))
	}

	e := &discordgo.MessageEmbed{
		Title: title,
		Description: fmt.Sprintf("%s%s\n\n%s %s `[ %s ]`",
			trackLink(p), requester(req), button, ProgressBar(10, progress), elapsed),
		Color: color,
	}
	if p.Thumbnail != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: p.Thumbnail}
	}
	if req.Query != "" && req.Query != p.Title {
		e.Footer = &discordgo.MessageEmbedFooter{Text: "Query: " + utils.Truncate(req.Query, 100)}
	}
	return e
}

// AnnounceEmbed is posted to the request channel when a track starts.
func AnnounceEmbed(p *player.Playable, req queue.Request) *discordgo.MessageEmbed {
	e := &discordgo.MessageEmbed{
		Title:       "Now Playing",
		Description: trackLink(p) + requester(req),
		Color:       colorPlaying,
	}
	if p.Duration > 0 {
		e.Fields = []*discordgo.MessageEmbedField{
			{Name: "Length", Value: utils.PrettyDuration(p.Duration), Inline: true},
		}
	}
	if p.Thumbnail != "" {
		e.Thumbnail = &discordgo.MessageEmbedThumbnail{URL: p.Thumbnail}
	}
	return e
}

// QueueEmbed lists one page of items. The head is the current track and is
// marked ▶️; current supplies its resolved title once playing.
func QueueEmbed(items []queue.Request, current *player.Playable, page, pageSize int) (*discordgo.MessageEmbed, error) {
	if len(items) == 0 {
		return nil, ErrQueueEmpty
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, MaxPageSize)
	if page <= 0 {
		page = 1
	}
	maxPage := (len(items) + pageSize - 1) / pageSize
	if page > maxPage {
		return nil, ErrPageTooHigh
	}

	var b strings.Builder
	begin := (page - 1) * pageSize
	end := min(begin+pageSize, len(items))
	for idx := begin; idx < end; idx++ {
		it := items[idx]
		label := utils.EscapeMd(utils.Truncate(it.Query, 80))
		if idx == 0 {
			if current != nil && current.Title != "" {
				label = utils.EscapeMd(utils.Truncate(current.Title, 80))
			}
			fmt.Fprintf(&b, "▶️ %s", label)
		} else {
			fmt.Fprintf(&b, "`%d.` %s", idx, label)
		}
		if it.RequestedBy != "" {
			fmt.Fprintf(&b, " <@%s>", it.RequestedBy)
		}
		b.WriteString("\n")
	}

	return &discordgo.MessageEmbed{
		Title:       "Queue",
		Description: b.String(),
		Color:       colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Up next", Value: upNext(len(items) - 1), Inline: true},
			{Name: "Page", Value: fmt.Sprintf("%d out of %d", page, maxPage), Inline: true},
		},
	}, nil
}

func upNext(n int) string {
	if n <= 0 {
		return "-"
	}
	return utils.Plural(n, "song")
}

// HistoryEmbed lists recent plays, newest first.
func HistoryEmbed(entries []repository.HistoryEntry) *discordgo.MessageEmbed {
	if len(entries) == 0 {
		return &discordgo.MessageEmbed{Title: "History", Description: "Nothing played yet.", Color: colorInfo}
	}
	var b strings.Builder
	for _, e := range entries {
		mark := "✅"
		label := e.Title
		if label == "" {
			label = e.Query
		}
		label = utils.EscapeMd(utils.Truncate(label, 70))
		if e.Status == repository.StatusFailed {
			mark = "❌"
		}
		fmt.Fprintf(&b, "%s <t:%d:R> %s", mark, e.CreatedAt.Unix(), label)
		if e.Status == repository.StatusFailed && e.Error != "" {
			fmt.Fprintf(&b, " `%s`", utils.Truncate(strings.ReplaceAll(e.Error, "`", "'"), 60))
		}
		b.WriteString("\n")
	}
	return &discordgo.MessageEmbed{Title: "History", Description: b.String(), Color: colorInfo}
}

func SettingsEmbed(s *repository.Settings, globalMaxQueue int) *discordgo.MessageEmbed {
	maxQueue := "default"
	if s.MaxQueueLength > 0 {
		maxQueue = fmt.Sprint(s.MaxQueueLength)
	}
	if globalMaxQueue > 0 {
		maxQueue += fmt.Sprintf(" (global %d)", globalMaxQueue)
	}
	return &discordgo.MessageEmbed{
		Title: "Config",
		Color: colorInfo,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Announce now playing", Value: yesNo(s.AnnounceNowPlaying), Inline: true},
			{Name: "Max queue length", Value: maxQueue, Inline: true},
		},
	}
}

// ErrorEmbed reports a track that could not be played.
func ErrorEmbed(req queue.Request, err error) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       "Could not play",
		Description: fmt.Sprintf("%s\n`%s`", utils.EscapeMd(utils.Truncate(req.Query, 100)), utils.Truncate(err.Error(), 300)),
		Color:       colorError,
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
