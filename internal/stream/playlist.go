package stream

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// DefaultPlaylistLimit caps how many entries one /play can add.
const DefaultPlaylistLimit = 50

type PlaylistEntry struct {
	URL   string
	Title string
}

// IsPlaylistURL reports whether q is a playlist link rather than a single
// video. A watch URL that also carries list= is treated as a single video.
func IsPlaylistURL(q string) bool {
	if !IsURL(q) {
		return false
	}
	u, err := url.Parse(q)
	if err != nil {
		return false
	}
	if u.Query().Get("list") == "" {
		return false
	}
	return u.Query().Get("v") == "" && !strings.Contains(u.Host, "youtu.be")
}

// ExpandPlaylist lists up to limit entries of a playlist without resolving
// their media.
func ExpandPlaylist(ctx context.Context, opts YtdlpOptions, playlistURL string, limit int) ([]PlaylistEntry, error) {
	if limit <= 0 {
		limit = DefaultPlaylistLimit
	}
	res, err := opts.command().
		FlatPlaylist().
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		DumpJSON().
		Run(ctx, playlistURL)
	if err != nil {
		if res != nil && strings.Contains(res.Stderr, "Sign in to confirm") {
			return nil, fmt.Errorf("playlist fetch needs cookies: %w", err)
		}
		return nil, fmt.Errorf("yt-dlp playlist fetch failed for %s: %w%s", playlistURL, err, stderrTail(res))
	}

	infos, err := res.GetExtractedInfo()
	if err != nil {
		return nil, fmt.Errorf("parse yt-dlp playlist json: %w", err)
	}
	if len(infos) == 0 || infos[0] == nil {
		return nil, fmt.Errorf("yt-dlp returned empty playlist info for %s", playlistURL)
	}

	out := make([]PlaylistEntry, 0, len(infos[0].Entries))
	for _, e := range infos[0].Entries {
		if e == nil {
			continue
		}
		link := deref(e.URL)
		if link == "" {
			link = deref(e.WebpageURL)
		}
		if link == "" && e.ID != "" {
			link = "https://www.youtube.com/watch?v=" + e.ID
		}
		if link == "" {
			continue
		}
		out = append(out, PlaylistEntry{URL: link, Title: deref(e.Title)})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}
