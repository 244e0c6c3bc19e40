package artifact

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_MarkIsIdempotent(t *testing.T) {
	r := NewRegistry()

	r.MarkActive("g", "/tmp/a.webm")
	r.MarkActive("g", "/tmp/a.webm")
	assert.Equal(t, 1, r.ActiveCount("g"))

	r.MarkInactive("g", "/tmp/a.webm")
	r.MarkInactive("g", "/tmp/a.webm")
	assert.Equal(t, 0, r.ActiveCount("g"))

	// never marked, unknown guild, empty path
	r.MarkInactive("g", "/tmp/never.webm")
	r.MarkInactive("other", "/tmp/a.webm")
	r.MarkActive("g", "")
	assert.Equal(t, 0, r.ActiveCount("g"))
}

func TestRegistry_SnapshotIsIsolated(t *testing.T) {
	r := NewRegistry()
	r.MarkActive("g", "/tmp/a")

	snap := r.Snapshot("g")
	r.MarkActive("g", "/tmp/b")
	r.MarkInactive("g", "/tmp/a")

	assert.Len(t, snap, 1)
	_, ok := snap["/tmp/a"]
	assert.True(t, ok)
	assert.Empty(t, r.Snapshot("unknown"))
}

func TestRegistry_GuildsAreRemembered(t *testing.T) {
	r := NewRegistry()
	r.MarkActive("b", "/x")
	r.MarkActive("a", "/y")
	r.MarkInactive("b", "/x")

	assert.Equal(t, []string{"a", "b"}, r.Guilds())
}

func TestRegistry_PathsAreCleaned(t *testing.T) {
	r := NewRegistry()
	r.MarkActive("g", "/tmp/dir/../a.webm")
	assert.True(t, r.IsActive("g", "/tmp/a.webm"))
}

func TestRegistry_ConcurrentMarks(t *testing.T) {
	r := NewRegistry()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.MarkActive("g", "/tmp/shared")
			r.MarkInactive("g", "/tmp/shared")
			r.MarkActive("g", "/tmp/shared")
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, r.ActiveCount("g"))
}

func TestRegistry_AdoptMovesAndMarks(t *testing.T) {
	layout, err := NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureGuildDirs("42"))

	staged := filepath.Join(layout.StagingDir("42"), "abc.webm")
	require.NoError(t, os.WriteFile(staged, []byte("audio"), 0o644))
	final := filepath.Join(layout.GuildDir("42"), "abc.webm")

	r := NewRegistry()
	require.NoError(t, r.Adopt("42", staged, final))

	assert.True(t, r.IsActive("42", final))
	assert.FileExists(t, final)
	assert.NoFileExists(t, staged)
}

func TestRegistry_AdoptMissingSource(t *testing.T) {
	layout, err := NewLayout(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, layout.EnsureGuildDirs("42"))

	r := NewRegistry()
	err = r.Adopt("42", filepath.Join(layout.StagingDir("42"), "nope"), filepath.Join(layout.GuildDir("42"), "nope"))

	var fsErr *FSError
	require.ErrorAs(t, err, &fsErr)
	assert.Equal(t, "adopt", fsErr.Op)
	assert.Equal(t, 0, r.ActiveCount("42"))
}
