package config

import (
	"path/filepath"
	"time"
)

const (
	FetchModeDownload = "download"
	FetchModeStream   = "stream"
)

type Config struct {
	DiscordToken          string
	SpotifyClientID       string
	SpotifyClientSecret   string
	DataDir               string
	TempRoot              string // per-guild download directories live here
	BotStatus             string // online/dnd/idle
	BotActivity           string
	RegisterCommandsOnBot bool

	ReapInterval   time.Duration
	ShutdownPoll   time.Duration
	FetchTimeout   time.Duration
	FetchMode      string
	MaxQueueLength int

	YtdlpAutoInstall   bool
	YouTubeCookiesPath string
	YouTubeProxy       string
	FFmpegPath         string

	LogLevel    string
	LogFormat   string
	MetricsAddr string

	PlayRatePerMinute int
}

func (c *Config) SpotifyEnabled() bool {
	return c.SpotifyClientID != "" && c.SpotifyClientSecret != ""
}

func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "musicbot.db")
}
