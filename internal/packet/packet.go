// Package packet provides the fixed pool of radio packet buffers.
package packet

import (
	"sync"

	"github.com/fentz26/dqmote/internal/fault"
)

const (
	// PoolSize is the number of buffers in a pool.
	PoolSize = 16
	// BufferSize is the backing store of a buffer: one length byte plus up to
	// 127 bytes of payload and CRC.
	BufferSize = 128
	// MaxPayload is the largest payload a buffer carries once the length byte
	// and the 2-byte CRC are accounted for.
	MaxPayload = BufferSize - 1 - 2
)

// Buffer is one leased packet record.
type Buffer struct {
	inUse bool

	// Data is the backing store. Payload()/SetPayload view and fill it.
	Data   [BufferSize]byte
	Length int
	RSSI   int8
	LQI    uint8
	CRC    bool
}

// Payload returns the valid payload bytes.
func (b *Buffer) Payload() []byte {
	return b.Data[:b.Length]
}

// SetPayload copies p into the buffer, truncating to MaxPayload.
func (b *Buffer) SetPayload(p []byte) {
	n := copy(b.Data[:MaxPayload], p)
	b.Length = n
}

func (b *Buffer) reset() {
	*b = Buffer{}
}

// Pool hands out buffers under a critical section.
type Pool struct {
	mu      sync.Mutex
	buffers [PoolSize]Buffer
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{}
}

// Acquire leases a free buffer. An exhausted pool is fatal.
func (p *Pool) Acquire() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.buffers {
		if !p.buffers[i].inUse {
			p.buffers[i].reset()
			p.buffers[i].inUse = true
			return &p.buffers[i]
		}
	}
	fault.Raise(fault.BufferOverflow, "all %d packet buffers leased", PoolSize)
	return nil
}

// Release returns a buffer to the pool. Releasing nil is a no-op.
func (p *Pool) Release(b *Buffer) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b.reset()
}

// InUse returns the number of leased buffers.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for i := range p.buffers {
		if p.buffers[i].inUse {
			n++
		}
	}
	return n
}
