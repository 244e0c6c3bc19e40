package spotify

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	KindTrack    = "track"
	KindAlbum    = "album"
	KindPlaylist = "playlist"
	KindArtist   = "artist"
)

var ErrNotSpotify = errors.New("not a spotify link")

// Track is the part of a Spotify track needed to find it on YouTube.
type Track struct {
	Name   string
	Artist string
}

// SearchText is what gets handed to a YouTube search.
func (t Track) SearchText() string {
	if t.Artist == "" {
		return t.Name
	}
	return t.Artist + " - " + t.Name
}

// Collection is an expanded album, playlist or artist top list.
type Collection struct {
	Title  string
	Link   string
	Tracks []Track
}

type Client struct {
	raw *spotify.Client
}

func NewClientCredentials(ctx context.Context, clientID, clientSecret string) *Client {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     spotifyauth.TokenURL,
	}
	return &Client{raw: spotify.New(cfg.Client(ctx), spotify.WithRetry(true))}
}

// ParseID accepts open.spotify.com links and spotify:<kind>:<id> URIs.
func ParseID(raw string) (kind string, id spotify.ID, err error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "spotify:") {
		parts := strings.Split(raw, ":")
		if len(parts) != 3 || parts[2] == "" {
			return "", "", fmt.Errorf("invalid spotify URI %q", raw)
		}
		kind = parts[1]
		id = spotify.ID(parts[2])
	} else {
		u, err := url.Parse(raw)
		if err != nil {
			return "", "", ErrNotSpotify
		}
		if u.Host != "open.spotify.com" && u.Host != "www.open.spotify.com" {
			return "", "", ErrNotSpotify
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		// localized links look like /intl-de/track/<id>
		if len(parts) > 0 && strings.HasPrefix(parts[0], "intl-") {
			parts = parts[1:]
		}
		if len(parts) < 2 || parts[1] == "" {
			return "", "", fmt.Errorf("invalid spotify URL path %q", u.Path)
		}
		kind = parts[0]
		id = spotify.ID(parts[1])
	}
	switch kind {
	case KindTrack, KindAlbum, KindPlaylist, KindArtist:
		return kind, id, nil
	}
	return "", "", fmt.Errorf("unsupported spotify type %q", kind)
}

// Handles reports whether q is a single Spotify track.
func (c *Client) Handles(q string) bool {
	kind, _, err := ParseID(q)
	return err == nil && kind == KindTrack
}

// IsCollection reports whether q expands into several tracks.
func IsCollection(q string) bool {
	kind, _, err := ParseID(q)
	return err == nil && kind != KindTrack
}

// SearchText resolves a track link to "artist - title".
func (c *Client) SearchText(ctx context.Context, q string) (string, error) {
	kind, id, err := ParseID(q)
	if err != nil {
		return "", err
	}
	if kind != KindTrack {
		return "", fmt.Errorf("spotify %s is not a single track", kind)
	}
	t, err := c.raw.GetTrack(ctx, id)
	if err != nil {
		return "", fmt.Errorf("spotify track lookup: %w", err)
	}
	return trackFrom(t.Name, t.Artists).SearchText(), nil
}

// Expand lists up to limit tracks of an album, playlist or artist.
func (c *Client) Expand(ctx context.Context, q string, limit int) (*Collection, error) {
	kind, id, err := ParseID(q)
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindAlbum:
		return c.album(ctx, id, limit)
	case KindPlaylist:
		return c.playlist(ctx, id, limit)
	case KindArtist:
		return c.artistTop(ctx, id, limit)
	}
	return nil, fmt.Errorf("spotify %s is not a collection", kind)
}

func (c *Client) album(ctx context.Context, id spotify.ID, limit int) (*Collection, error) {
	alb, err := c.raw.GetAlbum(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("spotify album lookup: %w", err)
	}
	page, err := c.raw.GetAlbumTracks(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("spotify album tracks: %w", err)
	}
	col := &Collection{Title: alb.Name, Link: alb.ExternalURLs["spotify"]}
	for {
		for _, t := range page.Tracks {
			if full(col, limit) {
				return col, nil
			}
			col.Tracks = append(col.Tracks, trackFrom(t.Name, t.Artists))
		}
		if page.Next == "" || full(col, limit) {
			return col, nil
		}
		if err := c.raw.NextPage(ctx, page); err != nil {
			return col, nil
		}
	}
}

func (c *Client) playlist(ctx context.Context, id spotify.ID, limit int) (*Collection, error) {
	pl, err := c.raw.GetPlaylist(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("spotify playlist lookup: %w", err)
	}
	page, err := c.raw.GetPlaylistItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("spotify playlist items: %w", err)
	}
	col := &Collection{Title: pl.Name, Link: pl.ExternalURLs["spotify"]}
	for {
		for _, it := range page.Items {
			if full(col, limit) {
				return col, nil
			}
			// episodes and removed tracks have no Track
			if t := it.Track.Track; t != nil {
				col.Tracks = append(col.Tracks, trackFrom(t.Name, t.Artists))
			}
		}
		if page.Next == "" || full(col, limit) {
			return col, nil
		}
		if err := c.raw.NextPage(ctx, page); err != nil {
			return col, nil
		}
	}
}

func (c *Client) artistTop(ctx context.Context, id spotify.ID, limit int) (*Collection, error) {
	artist, err := c.raw.GetArtist(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("spotify artist lookup: %w", err)
	}
	top, err := c.raw.GetArtistsTopTracks(ctx, id, "US")
	if err != nil {
		return nil, fmt.Errorf("spotify artist top tracks: %w", err)
	}
	col := &Collection{Title: artist.Name + " top tracks", Link: artist.ExternalURLs["spotify"]}
	for _, t := range top {
		if full(col, limit) {
			break
		}
		col.Tracks = append(col.Tracks, trackFrom(t.Name, t.Artists))
	}
	return col, nil
}

// Suggestion is one autocomplete entry.
type Suggestion struct {
	Label string
	Value string
}

// Suggest searches albums and tracks, returning at most limit of each.
func (c *Client) Suggest(ctx context.Context, query string, limit int) ([]Suggestion, error) {
	if limit <= 0 {
		limit = 5
	}
	res, err := c.raw.Search(ctx, query, spotify.SearchTypeAlbum|spotify.SearchTypeTrack, spotify.Limit(limit))
	if err != nil {
		return nil, err
	}
	var out []Suggestion
	if res.Albums != nil {
		for i, a := range res.Albums.Albums {
			if i == limit {
				break
			}
			out = append(out, Suggestion{
				Label: "💿 " + trackFrom(a.Name, a.Artists).SearchText(),
				Value: "spotify:album:" + a.ID.String(),
			})
		}
	}
	if res.Tracks != nil {
		for i, t := range res.Tracks.Tracks {
			if i == limit {
				break
			}
			out = append(out, Suggestion{
				Label: "🎵 " + trackFrom(t.Name, t.Artists).SearchText(),
				Value: "spotify:track:" + t.ID.String(),
			})
		}
	}
	return out, nil
}

func trackFrom(name string, artists []spotify.SimpleArtist) Track {
	t := Track{Name: name}
	if len(artists) > 0 {
		t.Artist = artists[0].Name
	}
	return t
}

func full(c *Collection, limit int) bool {
	return limit > 0 && len(c.Tracks) >= limit
}
