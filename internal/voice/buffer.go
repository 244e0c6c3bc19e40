package voice

import (
	"sync"
)

// packetBuffer is a bounded FIFO of Opus packets between the encoder
// goroutine and the send loop. Push blocks while full; Pop blocks while
// empty until end of stream or Close.
type packetBuffer struct {
	mu       sync.Mutex
	packets  [][]byte
	maxSize  int
	readPos  int
	count    int
	closed   bool
	eos      bool
	notEmpty *sync.Cond
	notFull  *sync.Cond
}

func newPacketBuffer(maxPackets int) *packetBuffer {
	if maxPackets < 1 {
		maxPackets = 1
	}
	b := &packetBuffer{
		packets: make([][]byte, maxPackets),
		maxSize: maxPackets,
	}
	b.notEmpty = sync.NewCond(&b.mu)
	b.notFull = sync.NewCond(&b.mu)
	return b
}

// Push copies pkt into the buffer. It returns false once the buffer is
// closed or marked end-of-stream.
func (b *packetBuffer) Push(pkt []byte) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == b.maxSize && !b.closed && !b.eos {
		b.notFull.Wait()
	}
	if b.closed || b.eos {
		return false
	}

	writePos := (b.readPos + b.count) % b.maxSize
	b.packets[writePos] = append([]byte(nil), pkt...)
	b.count++
	b.notEmpty.Signal()
	return true
}

// Pop returns the oldest packet. ok is false when the buffer was closed, or
// when the stream ended and everything has been drained.
func (b *packetBuffer) Pop() (pkt []byte, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for {
		if b.closed {
			return nil, false
		}
		if b.count > 0 {
			pkt = b.packets[b.readPos]
			b.packets[b.readPos] = nil
			b.readPos = (b.readPos + 1) % b.maxSize
			b.count--
			b.notFull.Signal()
			return pkt, true
		}
		if b.eos {
			return nil, false
		}
		b.notEmpty.Wait()
	}
}

func (b *packetBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// MarkEOS lets readers drain what is buffered and then stop.
func (b *packetBuffer) MarkEOS() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eos = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}

// Close drops buffered packets and wakes every waiter.
func (b *packetBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.notEmpty.Broadcast()
	b.notFull.Broadcast()
}
