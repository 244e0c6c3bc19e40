package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketBuffer_FIFOAndDrainAfterEOS(t *testing.T) {
	b := newPacketBuffer(4)
	require.True(t, b.Push([]byte{1}))
	require.True(t, b.Push([]byte{2}))
	b.MarkEOS()
	assert.False(t, b.Push([]byte{3}))

	p, ok := b.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte{1}, p)
	p, ok = b.Pop()
	require.True(t, ok)
	assert.Equal(t, []byte{2}, p)
	_, ok = b.Pop()
	assert.False(t, ok)
}

func TestPacketBuffer_PushCopies(t *testing.T) {
	b := newPacketBuffer(2)
	pkt := []byte{7, 7}
	b.Push(pkt)
	pkt[0] = 0
	got, _ := b.Pop()
	assert.Equal(t, []byte{7, 7}, got)
}

func TestPacketBuffer_PushBlocksWhileFull(t *testing.T) {
	b := newPacketBuffer(1)
	require.True(t, b.Push([]byte{1}))

	pushed := make(chan bool)
	go func() { pushed <- b.Push([]byte{2}) }()

	select {
	case <-pushed:
		t.Fatal("push should block while full")
	case <-time.After(20 * time.Millisecond):
	}

	_, ok := b.Pop()
	require.True(t, ok)
	assert.True(t, <-pushed)
	assert.Equal(t, 1, b.Len())
}

func TestPacketBuffer_CloseWakesReaders(t *testing.T) {
	b := newPacketBuffer(2)
	done := make(chan bool)
	go func() {
		_, ok := b.Pop()
		done <- ok
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()
	assert.False(t, <-done)
	assert.False(t, b.Push([]byte{1}))
}
