// Package radiotest provides a scripted Radio for protocol unit tests.
package radiotest

import (
	"github.com/fentz26/dqmote/internal/packet"
	"github.com/fentz26/dqmote/internal/radio"
)

// Mode is the radio state the fake was last put in.
type Mode int

const (
	ModeOff Mode = iota
	ModeIdle
	ModeRx
	ModeTx
)

// Frame is a packet loaded into or delivered by the fake.
type Frame struct {
	Payload []byte
	RSSI    int8
	LQI     uint8
	CRC     bool
}

// Fake records every call and lets tests raise radio interrupts by hand.
type Fake struct {
	Mode    Mode
	Channel uint8
	Power   uint8
	Resets  int
	RSSI    int8

	RxStart, RxEnd radio.Callback
	TxStart, TxEnd radio.Callback

	// Sent holds every frame passed to Transmit.
	Sent []Frame
	// Next is returned by GetPacket.
	Next Frame

	loaded []byte
}

// New creates a fake radio at the noise floor.
func New() *Fake {
	return &Fake{RSSI: -100}
}

func (f *Fake) Idle()    { f.Mode = ModeIdle }
func (f *Fake) Receive() { f.Mode = ModeRx }

func (f *Fake) Transmit() {
	f.Mode = ModeTx
	f.Sent = append(f.Sent, Frame{Payload: append([]byte(nil), f.loaded...), CRC: true})
}

func (f *Fake) Reset() {
	f.Resets++
	f.Mode = ModeOff
	f.CancelRx()
	f.CancelTx()
}

func (f *Fake) SetRxCallbacks(start, end radio.Callback) { f.RxStart, f.RxEnd = start, end }
func (f *Fake) SetTxCallbacks(start, end radio.Callback) { f.TxStart, f.TxEnd = start, end }
func (f *Fake) CancelRx()                                { f.RxStart, f.RxEnd = nil, nil }
func (f *Fake) CancelTx()                                { f.TxStart, f.TxEnd = nil, nil }

func (f *Fake) GetPacket(b *packet.Buffer) {
	b.SetPayload(f.Next.Payload)
	b.RSSI = f.Next.RSSI
	b.LQI = f.Next.LQI
	b.CRC = f.Next.CRC
}

func (f *Fake) PutPacket(b *packet.Buffer) {
	f.loaded = append(f.loaded[:0], b.Payload()...)
}

func (f *Fake) ReadRSSI() int8       { return f.RSSI }
func (f *Fake) SetChannel(ch uint8)  { f.Channel = ch }
func (f *Fake) SetPower(level uint8) { f.Power = level }

// Deliver raises a complete reception of fr: start-of-frame then end-of-frame.
// Nothing happens unless the radio is receiving.
func (f *Fake) Deliver(fr Frame) bool {
	if f.Mode != ModeRx {
		return false
	}
	f.Next = fr
	if f.RxStart != nil {
		f.RxStart()
	}
	if f.RxEnd != nil {
		f.RxEnd()
	}
	return true
}

// LastSent returns the payload of the most recent transmission.
func (f *Fake) LastSent() []byte {
	if len(f.Sent) == 0 {
		return nil
	}
	return f.Sent[len(f.Sent)-1].Payload
}
