package repository

import (
	"database/sql"
	"time"
)

type Repo struct {
	db  *sql.DB
	now func() time.Time
}

// Settings are the per-guild knobs exposed through /config.
type Settings struct {
	GuildID            string
	AnnounceNowPlaying bool
	// MaxQueueLength of 0 falls back to the global limit.
	MaxQueueLength int
}

const (
	StatusPlayed = "played"
	StatusFailed = "failed"
)

// HistoryEntry is one played or failed request.
type HistoryEntry struct {
	ID          int64
	GuildID     string
	Query       string
	Title       string
	URL         string
	RequestedBy string
	Status      string
	Error       string
	CreatedAt   time.Time
}
