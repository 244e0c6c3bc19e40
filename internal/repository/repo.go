package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/clickCA/music-bot/internal/player"
	"github.com/clickCA/music-bot/internal/queue"
)

const maxErrorLen = 500

func NewRepo(db *sql.DB) *Repo { return &Repo{db: db, now: time.Now} }

// UpsertSettings creates default settings for guild if none exist and
// returns the stored row.
func (r *Repo) UpsertSettings(ctx context.Context, guild string) (*Settings, error) {
	if _, err := r.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO settings(guild_id) VALUES (?)`, guild,
	); err != nil {
		return nil, fmt.Errorf("insert settings: %w", err)
	}
	return r.GetSettings(ctx, guild)
}

// GetSettings returns sql.ErrNoRows when the guild has no row yet.
func (r *Repo) GetSettings(ctx context.Context, guild string) (*Settings, error) {
	row := r.db.QueryRowContext(ctx, `
	SELECT guild_id, announce_now_playing, max_queue_length
	FROM settings WHERE guild_id = ?`, guild)

	var s Settings
	var announce int
	if err := row.Scan(&s.GuildID, &announce, &s.MaxQueueLength); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sql.ErrNoRows
		}
		return nil, err
	}
	s.AnnounceNowPlaying = announce != 0
	return &s, nil
}

func (r *Repo) UpdateSettings(ctx context.Context, s *Settings) error {
	if s.MaxQueueLength < 0 {
		return fmt.Errorf("max queue length must be >= 0, got %d", s.MaxQueueLength)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO settings(guild_id, announce_now_playing, max_queue_length, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET
		  announce_now_playing=excluded.announce_now_playing,
		  max_queue_length=excluded.max_queue_length,
		  updated_at=excluded.updated_at`,
		s.GuildID, boolToInt(s.AnnounceNowPlaying), s.MaxQueueLength, r.now().Unix(),
	)
	return err
}

// RecordPlayback implements player.Recorder.
func (r *Repo) RecordPlayback(ctx context.Context, guild string, req queue.Request, p *player.Playable) error {
	e := HistoryEntry{
		GuildID:     guild,
		Query:       req.Query,
		RequestedBy: req.RequestedBy,
		Status:      StatusPlayed,
	}
	if p != nil {
		e.Title = p.Title
		e.URL = p.WebpageURL
	}
	return r.insertHistory(ctx, e)
}

func (r *Repo) RecordFailure(ctx context.Context, guild string, req queue.Request, cause error) error {
	e := HistoryEntry{
		GuildID:     guild,
		Query:       req.Query,
		RequestedBy: req.RequestedBy,
		Status:      StatusFailed,
	}
	if cause != nil {
		e.Error = cause.Error()
		if len(e.Error) > maxErrorLen {
			e.Error = e.Error[:maxErrorLen]
		}
	}
	return r.insertHistory(ctx, e)
}

func (r *Repo) insertHistory(ctx context.Context, e HistoryEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO history(guild_id, query, title, url, requested_by, status, error, created_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		e.GuildID, e.Query, e.Title, e.URL, e.RequestedBy, e.Status, e.Error, r.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	return nil
}

// RecentHistory returns the newest entries for guild first.
func (r *Repo) RecentHistory(ctx context.Context, guild string, limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, guild_id, query, title, url, requested_by, status, error, created_at
		FROM history WHERE guild_id=?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, guild, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		var created int64
		if err := rows.Scan(&e.ID, &e.GuildID, &e.Query, &e.Title, &e.URL,
			&e.RequestedBy, &e.Status, &e.Error, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(created, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
