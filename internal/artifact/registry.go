package artifact

import (
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/clickCA/music-bot/internal/metrics"
)

// Registry tracks, per guild, the artifacts currently backing a playback.
// The reaper consults it before deleting anything.
type Registry struct {
	mu     sync.Mutex
	active map[string]map[string]struct{}

	// guards serialise a guild's sweep against adoption of new files.
	// They are only ever taken by Adopt and Reaper.reap.
	guards map[string]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{
		active: make(map[string]map[string]struct{}),
		guards: make(map[string]*sync.Mutex),
	}
}

func (r *Registry) MarkActive(guildID, path string) {
	if path == "" {
		return
	}
	path = filepath.Clean(path)

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.active[guildID]
	if !ok {
		set = make(map[string]struct{})
		r.active[guildID] = set
	}
	if _, exists := set[path]; exists {
		return
	}
	set[path] = struct{}{}
	metrics.ActiveArtifacts.Inc()
}

// MarkInactive is safe for paths that were never marked.
func (r *Registry) MarkInactive(guildID, path string) {
	if path == "" {
		return
	}
	path = filepath.Clean(path)

	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.active[guildID]
	if !ok {
		return
	}
	if _, exists := set[path]; !exists {
		return
	}
	delete(set, path)
	metrics.ActiveArtifacts.Dec()
}

// Snapshot returns a point-in-time copy of the guild's active set.
func (r *Registry) Snapshot(guildID string) map[string]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.active[guildID]
	out := make(map[string]struct{}, len(set))
	for p := range set {
		out[p] = struct{}{}
	}
	return out
}

func (r *Registry) IsActive(guildID, path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[guildID][filepath.Clean(path)]
	return ok
}

func (r *Registry) ActiveCount(guildID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active[guildID])
}

// Guilds lists every guild that ever had an active artifact.
func (r *Registry) Guilds() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.active))
	for id := range r.active {
		out = append(out, id)
	}
	r.mu.Unlock()
	slices.Sort(out)
	return out
}

func (r *Registry) guard(guildID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.guards[guildID]
	if !ok {
		g = &sync.Mutex{}
		r.guards[guildID] = g
	}
	return g
}

// Adopt moves a fully written staged file to final and marks it active.
// Both steps happen under the guild's sweep guard, so no reap can observe
// the file in the guild directory before it is protected.
func (r *Registry) Adopt(guildID, staged, final string) error {
	g := r.guard(guildID)
	g.Lock()
	defer g.Unlock()

	if err := os.Rename(staged, final); err != nil {
		return &FSError{Op: "adopt", Path: final, Err: err}
	}
	r.MarkActive(guildID, final)
	return nil
}
