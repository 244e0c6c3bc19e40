package queue

import (
	"slices"
	"sync"
)

// Directory maps guild IDs to their queues. Entries are created on first use
// and are never removed, only cleared, so handles held by a running
// completion chain stay valid.
type Directory struct {
	mu     sync.Mutex
	queues map[string]*Queue
}

func NewDirectory() *Directory {
	return &Directory{queues: make(map[string]*Queue)}
}

func (d *Directory) GetOrCreate(guildID string) *Queue {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q, ok := d.queues[guildID]; ok {
		return q
	}
	q := New()
	d.queues[guildID] = q
	return q
}

func (d *Directory) Get(guildID string) (*Queue, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[guildID]
	return q, ok
}

func (d *Directory) Guilds() []string {
	d.mu.Lock()
	out := make([]string, 0, len(d.queues))
	for id := range d.queues {
		out = append(out, id)
	}
	d.mu.Unlock()
	slices.Sort(out)
	return out
}

// ClearAll empties every queue. The directory lock is held only while the
// handles are collected; each queue is then cleared under its own lock.
func (d *Directory) ClearAll() int {
	d.mu.Lock()
	handles := make([]*Queue, 0, len(d.queues))
	for _, q := range d.queues {
		handles = append(handles, q)
	}
	d.mu.Unlock()

	for _, q := range handles {
		q.Clear()
	}
	return len(handles)
}
