package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}

func getbool(key string, def bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

func getint(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, ErrConfig(fmt.Sprintf("%s: %q is not an integer", key, raw))
	}
	return v, nil
}

// getduration accepts either a whole number of seconds or a Go duration
// string such as "90s" or "1h".
func getduration(key string, def time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def, nil
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, ErrConfig(fmt.Sprintf("%s: %q is not a duration", key, raw))
	}
	return d, nil
}

// LoadConfig reads the environment, after loading a .env file from the
// working directory when one exists.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:          os.Getenv("DISCORD_TOKEN"),
		SpotifyClientID:       os.Getenv("SPOTIFY_CLIENT_ID"),
		SpotifyClientSecret:   os.Getenv("SPOTIFY_CLIENT_SECRET"),
		DataDir:               getenv("DATA_DIR", "./data"),
		TempRoot:              getenv("TEMP_ROOT", filepath.Join(os.TempDir(), "music_bot_downloads")),
		BotStatus:             getenv("BOT_STATUS", "online"),
		BotActivity:           getenv("BOT_ACTIVITY", "music"),
		RegisterCommandsOnBot: getbool("REGISTER_COMMANDS_ON_BOT", false),
		FetchMode:             strings.ToLower(getenv("FETCH_MODE", FetchModeDownload)),
		YtdlpAutoInstall:      getbool("YTDLP_AUTO_INSTALL", true),
		YouTubeCookiesPath:    os.Getenv("YOUTUBE_COOKIES_PATH"),
		YouTubeProxy:          os.Getenv("YOUTUBE_PROXY"),
		FFmpegPath:            getenv("FFMPEG_PATH", "ffmpeg"),
		LogLevel:              getenv("LOG_LEVEL", "info"),
		LogFormat:             strings.ToLower(getenv("LOG_FORMAT", "console")),
		MetricsAddr:           os.Getenv("METRICS_ADDR"),
	}
	if getbool("DEBUG", false) {
		cfg.LogLevel = "debug"
	}

	var err error
	if cfg.ReapInterval, err = getduration("REAP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ShutdownPoll, err = getduration("SHUTDOWN_POLL_INTERVAL", time.Second); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getduration("FETCH_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.PlayRatePerMinute, err = getint("PLAY_RATE_PER_MINUTE", 20); err != nil {
		return nil, err
	}
	if cfg.MaxQueueLength, err = getint("MAX_QUEUE_LENGTH", 200); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.DiscordToken == "" {
		return ErrConfig("DISCORD_TOKEN required")
	}
	if c.FetchMode != FetchModeDownload && c.FetchMode != FetchModeStream {
		return ErrConfig(fmt.Sprintf("FETCH_MODE must be %q or %q, got %q", FetchModeDownload, FetchModeStream, c.FetchMode))
	}
	if c.ReapInterval <= 0 {
		return ErrConfig("REAP_INTERVAL must be positive")
	}
	if c.ShutdownPoll <= 0 {
		return ErrConfig("SHUTDOWN_POLL_INTERVAL must be positive")
	}
	if c.FetchTimeout <= 0 {
		return ErrConfig("FETCH_TIMEOUT must be positive")
	}
	if c.MaxQueueLength < 0 {
		return ErrConfig("MAX_QUEUE_LENGTH must not be negative")
	}
	if c.PlayRatePerMinute < 0 {
		return ErrConfig("PLAY_RATE_PER_MINUTE must not be negative")
	}
	if c.TempRoot == "" || c.TempRoot == "/" {
		return ErrConfig("TEMP_ROOT must name a dedicated directory")
	}
	return nil
}

type ErrConfig string

func (e ErrConfig) Error() string { return string(e) }
