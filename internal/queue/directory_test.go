package queue

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectory_GetOrCreateIsIdempotent(t *testing.T) {
	dir := NewDirectory()

	a := dir.GetOrCreate("1")
	b := dir.GetOrCreate("1")
	c := dir.GetOrCreate("2")

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, []string{"1", "2"}, dir.Guilds())
}

func TestDirectory_GetDoesNotCreate(t *testing.T) {
	dir := NewDirectory()
	_, ok := dir.Get("missing")
	assert.False(t, ok)
	assert.Empty(t, dir.Guilds())
}

func TestDirectory_ConcurrentGetOrCreateReturnsOneQueue(t *testing.T) {
	dir := NewDirectory()
	const workers = 32

	got := make([]*Queue, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = dir.GetOrCreate("guild")
		}(i)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		assert.Same(t, got[0], got[i])
	}
}

func TestDirectory_ClearAllKeepsEntries(t *testing.T) {
	dir := NewDirectory()
	q1 := dir.GetOrCreate("t1")
	q2 := dir.GetOrCreate("t2")
	q1.Enqueue(Request{Query: "a"})
	q1.Enqueue(Request{Query: "b"})
	q1.Enqueue(Request{Query: "c"})
	q2.Enqueue(Request{Query: "x"})

	assert.Equal(t, 2, dir.ClearAll())
	assert.Equal(t, 0, q1.Len())
	assert.Equal(t, 0, q2.Len())

	again, ok := dir.Get("t1")
	require.True(t, ok)
	assert.Same(t, q1, again, "clear must not replace the handle")
}
