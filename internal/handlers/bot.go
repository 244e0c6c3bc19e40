package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/clickCA/music-bot/internal/config"
)

type Bot struct {
	cfg     *config.Config
	session *discordgo.Session
	deps    Deps
	cmd     *CommandHandler
}

// NewSession creates the gateway session without connecting it.
func NewSession(token string) (*discordgo.Session, error) {
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates
	return dg, nil
}

func NewBot(cfg *config.Config, session *discordgo.Session, deps Deps) *Bot {
	return &Bot{cfg: cfg, session: session, deps: deps, cmd: NewCommandHandler(cfg, deps)}
}

// Run opens the gateway and blocks until ctx is done. Only a failed Open is
// returned as an error.
func (b *Bot) Run(ctx context.Context) error {
	dg := b.session

	dg.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		slog.Info("connected", "user", s.State.User.Username, "guilds", len(r.Guilds))
		b.updateStatus(s)
		appID := s.State.User.ID

		if b.cfg.RegisterCommandsOnBot {
			if err := b.cmd.RegisterCommands(s, appID, ""); err != nil {
				slog.Error("register global commands", "err", err)
			}
			return
		}

		var wg sync.WaitGroup
		for _, g := range r.Guilds {
			wg.Add(1)
			go func(guildID string) {
				defer wg.Done()
				if err := b.cmd.RegisterCommands(s, appID, guildID); err != nil {
					slog.Error("register guild commands", "guildID", guildID, "err", err)
				}
			}(g.ID)
		}
		wg.Wait()

		if _, err := s.ApplicationCommandBulkOverwrite(appID, "", []*discordgo.ApplicationCommand{}); err != nil {
			slog.Error("clear global commands", "err", err)
		}
	})

	dg.AddHandler(func(s *discordgo.Session, g *discordgo.GuildCreate) {
		if b.cfg.RegisterCommandsOnBot || g.Unavailable {
			return
		}
		if err := b.cmd.RegisterCommands(s, s.State.User.ID, g.ID); err != nil {
			slog.Error("register guild commands on join", "guildID", g.ID, "err", err)
		}
	})

	dg.AddHandler(b.cmd.HandleInteraction)
	dg.AddHandler(b.onVoiceStateUpdate)

	if err := dg.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}

	<-ctx.Done()
	b.deps.Voice.LeaveAll()
	if err := dg.Close(); err != nil {
		slog.Warn("close discord session", "err", err)
	}
	return nil
}

// onVoiceStateUpdate cleans up when the bot is disconnected or moved by
// someone else.
func (b *Bot) onVoiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if s.State.User == nil || vs.UserID != s.State.User.ID {
		return
	}
	cur, ok := b.deps.Voice.ChannelID(vs.GuildID)
	if !ok || vs.ChannelID == cur {
		return
	}
	if vs.ChannelID == "" {
		slog.Info("disconnected from voice externally", "guildID", vs.GuildID)
		b.deps.Coordinator.Stop(vs.GuildID)
		b.deps.Voice.Leave(vs.GuildID)
	}
}

func (b *Bot) updateStatus(s *discordgo.Session) {
	if b.cfg.BotStatus == "" && b.cfg.BotActivity == "" {
		return
	}
	usd := discordgo.UpdateStatusData{Status: b.cfg.BotStatus}
	if b.cfg.BotActivity != "" {
		usd.Activities = []*discordgo.Activity{{Name: b.cfg.BotActivity, Type: discordgo.ActivityTypeListening}}
	}
	if err := s.UpdateStatusComplex(usd); err != nil {
		slog.Warn("update status failed", "err", err)
	}
}
