package queue

import (
	"sync"
	"time"
)

// Request is one queued playback request. Query is the raw URL or search
// text the user typed; everything else is bookkeeping for replies.
type Request struct {
	ID          uint64
	Query       string
	RequestedBy string
	ChannelID   string
	// Origin identifies the interaction that queued the request, if any.
	Origin      string
	AddedAt     time.Time
}

// Queue is the ordered list of pending requests for one guild. Index 0 is
// the item currently playing or about to play.
type Queue struct {
	mu     sync.Mutex
	items  []Request
	nextID uint64
}

func New() *Queue {
	return &Queue{}
}

// Enqueue appends req and returns the stored request (with its ID assigned)
// together with the resulting queue length.
func (q *Queue) Enqueue(req Request) (Request, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	req.ID = q.nextID
	if req.AddedAt.IsZero() {
		req.AddedAt = time.Now()
	}
	q.items = append(q.items, req)
	return req, len(q.items)
}

// PopHead removes index 0. Popping an empty queue is a no-op.
func (q *Queue) PopHead() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Request{}, false
	}
	head := q.items[0]
	q.items[0] = Request{}
	q.items = q.items[1:]
	return head, true
}

// PopHeadIf removes index 0 only when it is the request with the given id.
func (q *Queue) PopHeadIf(id uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].ID != id {
		return false
	}
	q.items[0] = Request{}
	q.items = q.items[1:]
	return true
}

// Next removes the head if it is the request id and returns the new head in
// the same critical section. popped is false when the head was something
// else (the queue was cleared, maybe refilled), in which case the caller no
// longer owns the queue. When hasNext is false the queue is empty and the
// next Enqueue reports length 1, handing ownership to its caller.
func (q *Queue) Next(id uint64) (next Request, hasNext bool, popped bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].ID != id {
		return Request{}, false, false
	}
	q.items[0] = Request{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		return Request{}, false, true
	}
	return q.items[0], true, true
}

func (q *Queue) PeekHead() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Request{}, false
	}
	return q.items[0], true
}

// Clear empties the queue and reports how many requests were dropped.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *Queue) Snapshot() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()
	cp := make([]Request, len(q.items))
	copy(cp, q.items)
	return cp
}
