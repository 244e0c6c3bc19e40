package autocomplete

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clickCA/music-bot/internal/spotify"
)

type fakeSpotify struct {
	out []spotify.Suggestion
	err error
}

func (f fakeSpotify) Suggest(context.Context, string, int) ([]spotify.Suggestion, error) {
	return f.out, f.err
}

func newTestSuggester(t *testing.T, body string, sp SpotifySearcher) *Suggester {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "yt", r.URL.Query().Get("ds"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	s := New(sp)
	s.endpoint = srv.URL
	return s
}

func TestYouTube(t *testing.T) {
	s := newTestSuggester(t, `["lofi",["lofi hip hop","lofi girl"],[],{}]`, nil)
	got, err := s.YouTube(context.Background(), "lofi")
	require.NoError(t, err)
	assert.Equal(t, []string{"lofi hip hop", "lofi girl"}, got)
}

func TestChoices_MergesSources(t *testing.T) {
	sp := fakeSpotify{out: []spotify.Suggestion{{Label: "🎵 A - B", Value: "spotify:track:1"}}}
	s := newTestSuggester(t, `["q",["one","two","three"]]`, sp)

	got := s.Choices(context.Background(), "q", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "YouTube: one", got[0].Name)
	assert.Equal(t, "one", got[0].Value)
	assert.Equal(t, "spotify:track:1", got[1].Value)

	got = s.Choices(context.Background(), "q", 4)
	require.Len(t, got, 4)
	assert.Equal(t, "Spotify: 🎵 A - B", got[3].Name)
	assert.Equal(t, "spotify:track:1", got[3].Value)
}

func TestChoices_SourceErrorsAreIgnored(t *testing.T) {
	s := newTestSuggester(t, `not json`, fakeSpotify{err: errors.New("rate limited")})
	assert.Empty(t, s.Choices(context.Background(), "q", 10))
	assert.Nil(t, s.Choices(context.Background(), "   ", 10))
}

func TestChoices_LongValuesAreCut(t *testing.T) {
	long := strings.Repeat("é", 150)
	s := newTestSuggester(t, `["q",["`+long+`"]]`, nil)
	got := s.Choices(context.Background(), "q", 5)
	require.Len(t, got, 1)
	assert.Len(t, []rune(got[0].Name), maxChoiceLen)
	assert.Len(t, []rune(got[0].Value.(string)), maxChoiceLen)
}
