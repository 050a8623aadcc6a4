// Package serial is the mote's HDLC-framed link to its host.
//
// Outbound messages are queued by PushMessage and written by a MIN-priority
// task. Inbound bytes are fed from interrupt context; complete frames cross
// into task context through a ring buffer and are delivered to the handler
// registered for their type.
package serial

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/fentz26/dqmote/internal/hdlc"
	"github.com/fentz26/dqmote/internal/scheduler"
)

// Message types.
const (
	// Mote to host.
	MsgData  byte = 'D'
	MsgReset byte = 'R'

	// Host to mote.
	MsgStart byte = 'A'
	MsgStop  byte = 'O'
)

// BufferSize bounds a message payload.
const BufferSize = hdlc.MaxPayload

const ringSize = 64

// Message is a decoded frame.
type Message struct {
	Type    byte
	Address uint16
	Data    []byte
}

// Handler receives messages of one type in task context.
type Handler func(Message)

type registration struct {
	fn   Handler
	prio scheduler.Priority
}

// Stats holds transport counters.
type Stats struct {
	Sent     uint64 `json:"sent"`
	Received uint64 `json:"received"`
	Dropped  uint64 `json:"dropped"`
	Invalid  uint64 `json:"invalid"`
}

// Transport queues outbound frames and dispatches inbound ones.
type Transport struct {
	addr  uint16
	w     io.Writer
	sched scheduler.Pusher

	mu       sync.Mutex
	handlers map[byte]registration
	dec      *hdlc.Decoder

	tx *queue.RingBuffer
	rx *queue.RingBuffer

	flushPending    atomic.Bool
	dispatchPending atomic.Bool

	sent, received, dropped, invalid atomic.Uint64
}

// New creates a transport writing frames for addr to w.
func New(w io.Writer, addr uint16, sched scheduler.Pusher) *Transport {
	return &Transport{
		addr:     addr,
		w:        w,
		sched:    sched,
		handlers: make(map[byte]registration),
		dec:      hdlc.NewDecoder(),
		tx:       queue.NewRingBuffer(ringSize),
		rx:       queue.NewRingBuffer(ringSize),
	}
}

// Register delivers messages of the given type to fn at prio.
func (t *Transport) Register(msgType byte, prio scheduler.Priority, fn Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[msgType] = registration{fn: fn, prio: prio}
}

// PushMessage queues one outbound frame. A full queue drops the message.
func (t *Transport) PushMessage(cmd byte, data []byte) {
	if len(data) > BufferSize {
		data = data[:BufferSize]
	}
	frame := hdlc.Encode(cmd, t.addr, data)
	ok, err := t.tx.Offer(frame)
	if err != nil || !ok {
		t.dropped.Add(1)
		return
	}
	if t.flushPending.CompareAndSwap(false, true) {
		t.sched.Push(scheduler.Func("serial.flush", t.flush), scheduler.PriorityMin)
	}
}

func (t *Transport) flush() {
	t.flushPending.Store(false)
	for t.tx.Len() > 0 {
		item, err := t.tx.Get()
		if err != nil {
			return
		}
		if _, err := t.w.Write(item.([]byte)); err != nil {
			log.Printf("serial %04x: write failed: %v", t.addr, err)
			t.dropped.Add(1)
			continue
		}
		t.sent.Add(1)
	}
}

// Feed hands one received byte to the transport. It is called from the UART
// interrupt and only decodes and enqueues.
func (t *Transport) Feed(b byte) {
	t.mu.Lock()
	f, done, err := t.dec.Put(b)
	t.mu.Unlock()
	if !done {
		return
	}
	if err != nil {
		t.invalid.Add(1)
		return
	}

	msg := Message{Type: f.Command, Address: f.Address, Data: f.Payload}
	ok, err := t.rx.Offer(msg)
	if err != nil || !ok {
		t.dropped.Add(1)
		return
	}
	if t.dispatchPending.CompareAndSwap(false, true) {
		t.sched.Push(scheduler.Func("serial.dispatch", t.dispatch), scheduler.PriorityMed)
	}
}

// Write feeds every byte of p, so a host connection can be copied straight
// into the transport.
func (t *Transport) Write(p []byte) (int, error) {
	for _, b := range p {
		t.Feed(b)
	}
	return len(p), nil
}

func (t *Transport) dispatch() {
	t.dispatchPending.Store(false)
	for t.rx.Len() > 0 {
		item, err := t.rx.Get()
		if err != nil {
			return
		}
		msg := item.(Message)
		t.received.Add(1)

		t.mu.Lock()
		reg, ok := t.handlers[msg.Type]
		t.mu.Unlock()
		if !ok {
			continue
		}
		fn := reg.fn
		t.sched.Push(scheduler.Func(fmt.Sprintf("serial.%c", msg.Type), func() { fn(msg) }), reg.prio)
	}
}

// Busy reports whether outbound frames are waiting to be written.
func (t *Transport) Busy() bool {
	return t.tx.Len() > 0
}

// Stats returns transport counters.
func (t *Transport) Stats() Stats {
	return Stats{
		Sent:     t.sent.Load(),
		Received: t.received.Load(),
		Dropped:  t.dropped.Load(),
		Invalid:  t.invalid.Load(),
	}
}

// Close releases the ring buffers.
func (t *Transport) Close() {
	t.tx.Dispose()
	t.rx.Dispose()
}
