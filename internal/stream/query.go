package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrEmptyQuery = errors.New("empty query")

// TrackResolver turns links yt-dlp cannot play (Spotify tracks) into search
// text.
type TrackResolver interface {
	Handles(query string) bool
	SearchText(ctx context.Context, query string) (string, error)
}

func IsURL(q string) bool {
	return strings.HasPrefix(q, "http")
}

// ResolveTarget returns the argument handed to yt-dlp for a user query: a
// URL as-is, otherwise the best single search match.
func ResolveTarget(ctx context.Context, query string, tracks TrackResolver) (string, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return "", ErrEmptyQuery
	}
	if tracks != nil && tracks.Handles(q) {
		text, err := tracks.SearchText(ctx, q)
		if err != nil {
			return "", fmt.Errorf("resolve track link: %w", err)
		}
		return "ytsearch1:" + text, nil
	}
	if IsURL(q) {
		return q, nil
	}
	return "ytsearch1:" + q, nil
}
