package sim

import (
	"math"

	"github.com/Workiva/go-datastructures/queue"
)

// event is one entry of the world's agenda. Events at the same tick run in
// the order they were scheduled.
type event struct {
	at        uint64
	seq       uint64
	fn        func()
	cancelled bool
}

// Compare implements queue.Item.
func (e *event) Compare(other queue.Item) int {
	o := other.(*event)
	switch {
	case e.at < o.at:
		return -1
	case e.at > o.at:
		return 1
	case e.seq < o.seq:
		return -1
	case e.seq > o.seq:
		return 1
	}
	return 0
}

func (e *event) cancel() {
	if e != nil {
		e.cancelled = true
	}
}

// Timer is a device's hardware countdown timer running on world time.
type Timer struct {
	w       *World
	handler func()
	start   uint64
	armed   bool
	pending *event
}

// Start implements vtimer.Hardware. The interrupt is always delivered as a
// separate event, even for zero ticks.
func (t *Timer) Start(ticks uint32) {
	t.pending.cancel()
	t.start = t.w.now
	t.armed = true
	t.pending = t.w.schedule(uint64(ticks), t.fire)
}

// Stop implements vtimer.Hardware.
func (t *Timer) Stop() {
	t.armed = false
	t.pending.cancel()
	t.pending = nil
}

// Elapsed implements vtimer.Hardware.
func (t *Timer) Elapsed() uint32 {
	d := t.w.now - t.start
	if d > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(d)
}

// SetHandler implements vtimer.Hardware.
func (t *Timer) SetHandler(fn func()) { t.handler = fn }

func (t *Timer) fire() {
	t.pending = nil
	if !t.armed {
		return
	}
	t.armed = false
	if t.handler != nil {
		t.handler()
	}
}
