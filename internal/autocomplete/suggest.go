package autocomplete

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/clickCA/music-bot/internal/spotify"
	"github.com/clickCA/music-bot/internal/utils"
)

const (
	youtubeSuggestURL = "https://suggestqueries.google.com/complete/search"
	// Discord rejects choices with longer names or values.
	maxChoiceLen = 100
	maxChoices   = 25
)

// SpotifySearcher is the part of the Spotify client autocomplete uses.
type SpotifySearcher interface {
	Suggest(ctx context.Context, query string, limit int) ([]spotify.Suggestion, error)
}

type Suggester struct {
	http     *http.Client
	endpoint string
	spotify  SpotifySearcher
}

// New builds a suggester. sp may be nil when Spotify is not configured.
func New(sp SpotifySearcher) *Suggester {
	return &Suggester{
		http:     &http.Client{Timeout: 2 * time.Second},
		endpoint: youtubeSuggestURL,
		spotify:  sp,
	}
}

// YouTube returns search completions from the public suggest endpoint.
func (s *Suggester) YouTube(ctx context.Context, query string) ([]string, error) {
	u, err := url.Parse(s.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("client", "firefox")
	q.Set("ds", "yt")
	q.Set("q", query)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggest endpoint returned %s", resp.Status)
	}

	// ["query", ["s1", "s2", ...], ...]
	var parsed []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode suggestions: %w", err)
	}
	if len(parsed) < 2 {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal(parsed[1], &out); err != nil {
		return nil, nil
	}
	return out, nil
}

// Choices merges YouTube and Spotify suggestions into at most limit
// autocomplete choices, giving Spotify up to half of them.
func (s *Suggester) Choices(ctx context.Context, query string, limit int) []*discordgo.ApplicationCommandOptionChoice {
	if limit <= 0 || limit > maxChoices {
		limit = maxChoices
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}

	var sp []spotify.Suggestion
	if s.spotify != nil {
		var err error
		sp, err = s.spotify.Suggest(ctx, query, limit/4)
		if err != nil {
			slog.Debug("spotify suggestions failed", "err", err)
		}
	}
	if len(sp) > limit/2 {
		sp = sp[:limit/2]
	}

	yt, err := s.YouTube(ctx, query)
	if err != nil {
		slog.Debug("youtube suggestions failed", "err", err)
	}

	out := make([]*discordgo.ApplicationCommandOptionChoice, 0, limit)
	for _, v := range yt {
		if len(out) == limit-len(sp) {
			break
		}
		out = append(out, choice("YouTube: "+v, v))
	}
	for _, v := range sp {
		out = append(out, choice("Spotify: "+v.Label, v.Value))
	}
	return out
}

func choice(name, value string) *discordgo.ApplicationCommandOptionChoice {
	return &discordgo.ApplicationCommandOptionChoice{
		Name:  utils.Truncate(name, maxChoiceLen),
		Value: utils.Truncate(value, maxChoiceLen),
	}
}
