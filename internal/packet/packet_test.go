package packet

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fentz26/dqmote/internal/fault"
)

func TestAcquireRelease(t *testing.T) {
	p := NewPool()
	b := p.Acquire()
	b.SetPayload([]byte{1, 2, 3})
	b.RSSI = -40
	b.CRC = true

	if p.InUse() != 1 {
		t.Fatalf("Expected 1 buffer in use, got %d", p.InUse())
	}
	if !bytes.Equal(b.Payload(), []byte{1, 2, 3}) {
		t.Errorf("Unexpected payload %v", b.Payload())
	}

	p.Release(b)
	if p.InUse() != 0 {
		t.Errorf("Expected 0 buffers in use, got %d", p.InUse())
	}

	again := p.Acquire()
	if again.Length != 0 || again.CRC || again.RSSI != 0 {
		t.Errorf("Expected a clean buffer, got %+v", again)
	}
}

func TestExhaustionIsFatal(t *testing.T) {
	p := NewPool()
	for i := 0; i < PoolSize; i++ {
		p.Acquire()
	}
	err := fault.Catch(func() { p.Acquire() })
	if !errors.Is(err, fault.ErrBufferOverflow) {
		t.Errorf("Expected buffer overflow, got %v", err)
	}
}

func TestSetPayloadTruncates(t *testing.T) {
	var b Buffer
	b.SetPayload(make([]byte, 200))
	if b.Length != MaxPayload {
		t.Errorf("Expected length %d, got %d", MaxPayload, b.Length)
	}
}

func TestReleaseNil(t *testing.T) {
	NewPool().Release(nil)
}
