package sim

import (
	"github.com/fentz26/dqmote/internal/packet"
	"github.com/fentz26/dqmote/internal/radio"
)

// On-air framing of the 2.4 GHz O-QPSK PHY.
const (
	preambleBytes = 5
	lengthBytes   = 1
	crcBytes      = 2
)

// SFDTicks is the delay from the start of a transmission to the
// start-of-frame interrupt at the receivers.
const SFDTicks = 6

// AirTicks returns the ticks a payload of n bytes occupies the channel.
func AirTicks(n int) uint64 {
	bytes := uint64(preambleBytes + lengthBytes + n + crcBytes)
	// 32 us per byte, 32768 ticks per second.
	return (bytes*32*32768 + 999999) / 1000000
}

// Mode is a simulated radio's state.
type Mode int

const (
	ModeOff Mode = iota
	ModeIdle
	ModeRx
	ModeTx
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRx:
		return "rx"
	case ModeTx:
		return "tx"
	default:
		return "off"
	}
}

// MediumStats counts what happened on the air.
type MediumStats struct {
	Frames     uint64 `json:"frames"`
	Collisions uint64 `json:"collisions"`
	Dropped    uint64 `json:"dropped"`
	Delivered  uint64 `json:"delivered"`
}

// DropFunc decides whether the frame from one radio is lost at another.
type DropFunc func(from, to *Radio, payload []byte) bool

type transmission struct {
	from     *Radio
	payload  []byte
	channel  uint8
	rssi     int8
	end      uint64
	collided bool
}

type frame struct {
	payload []byte
	rssi    int8
	crc     bool
}

// Medium is the shared channel every radio of a world transmits on.
type Medium struct {
	w      *World
	radios []*Radio
	active []*transmission
	noise  int8
	rssi   int8
	drop   DropFunc
	stats  MediumStats
}

func newMedium(w *World, noise, rssi int8) *Medium {
	return &Medium{w: w, noise: noise, rssi: rssi}
}

// SetDrop installs fn as the loss model; nil delivers everything.
func (md *Medium) SetDrop(fn DropFunc) { md.drop = fn }

func (md *Medium) Stats() MediumStats { return md.stats }

// NewRadio attaches a radio for the device at address.
func (md *Medium) NewRadio(address uint16) *Radio {
	r := &Radio{md: md, address: address, peak: md.noise}
	md.radios = append(md.radios, r)
	return r
}

func (md *Medium) begin(tr *transmission) {
	md.stats.Frames++
	for _, other := range md.active {
		if other.channel == tr.channel && other.end > md.w.now {
			if !other.collided {
				md.stats.Collisions++
			}
			other.collided = true
			tr.collided = true
		}
	}
	md.active = append(md.active, tr)
	md.w.schedule(SFDTicks, func() { md.sfd(tr) })
	md.w.schedule(AirTicks(len(tr.payload)), func() { md.finish(tr) })
}

func (md *Medium) sfd(tr *transmission) {
	if tr.from.mode == ModeTx && tr.from.txStart != nil {
		tr.from.txStart()
	}
	for _, r := range md.radios {
		if r == tr.from || r.mode != ModeRx || r.channel != tr.channel {
			continue
		}
		if tr.rssi > r.peak {
			r.peak = tr.rssi
		}
		if r.locked != nil {
			continue
		}
		if md.drop != nil && md.drop(tr.from, r, tr.payload) {
			md.stats.Dropped++
			continue
		}
		r.locked = tr
		if r.rxStart != nil {
			r.rxStart()
		}
	}
}

func (md *Medium) finish(tr *transmission) {
	for i, a := range md.active {
		if a == tr {
			md.active = append(md.active[:i], md.active[i+1:]...)
			break
		}
	}
	if tr.from.mode == ModeTx {
		tr.from.mode = ModeIdle
		if tr.from.txEnd != nil {
			tr.from.txEnd()
		}
	}
	for _, r := range md.radios {
		if r.locked != tr {
			continue
		}
		r.locked = nil
		r.last = frame{payload: tr.payload, rssi: tr.rssi, crc: !tr.collided}
		md.stats.Delivered++
		if r.rxEnd != nil {
			r.rxEnd()
		}
	}
}

// energy returns the strongest signal currently on channel, or the noise
// floor.
func (md *Medium) energy(channel uint8) int8 {
	e := md.noise
	for _, tr := range md.active {
		if tr.channel == channel && tr.end > md.w.now && tr.rssi > e {
			e = tr.rssi
		}
	}
	return e
}

// Radio is a simulated transceiver on a Medium.
type Radio struct {
	md      *Medium
	address uint16

	mode    Mode
	channel uint8
	power   uint8

	rxStart, rxEnd radio.Callback
	txStart, txEnd radio.Callback

	loaded []byte
	locked *transmission
	last   frame
	peak   int8
	resets int
}

func (r *Radio) Address() uint16 { return r.address }
func (r *Radio) Mode() Mode      { return r.mode }
func (r *Radio) Channel() uint8  { return r.channel }
func (r *Radio) Resets() int     { return r.resets }

func (r *Radio) setMode(m Mode) {
	if m != ModeRx {
		r.locked = nil
	}
	r.mode = m
}

func (r *Radio) Idle() { r.setMode(ModeIdle) }

// Receive starts listening; the RSSI peak restarts from the current energy
// on the channel.
func (r *Radio) Receive() {
	if r.mode != ModeRx {
		r.peak = r.md.energy(r.channel)
	}
	r.setMode(ModeRx)
}

func (r *Radio) Transmit() {
	r.setMode(ModeTx)
	r.md.begin(&transmission{
		from:    r,
		payload: append([]byte(nil), r.loaded...),
		channel: r.channel,
		rssi:    r.md.rssi,
		end:     r.md.w.now + AirTicks(len(r.loaded)),
	})
}

func (r *Radio) Reset() {
	r.resets++
	r.setMode(ModeOff)
	r.CancelRx()
	r.CancelTx()
}

func (r *Radio) SetRxCallbacks(start, end radio.Callback) { r.rxStart, r.rxEnd = start, end }
func (r *Radio) SetTxCallbacks(start, end radio.Callback) { r.txStart, r.txEnd = start, end }
func (r *Radio) CancelRx()                                { r.rxStart, r.rxEnd = nil, nil }
func (r *Radio) CancelTx()                                { r.txStart, r.txEnd = nil, nil }

func (r *Radio) GetPacket(b *packet.Buffer) {
	b.SetPayload(r.last.payload)
	b.RSSI = r.last.rssi
	b.LQI = 0xFF
	b.CRC = r.last.crc
}

func (r *Radio) PutPacket(b *packet.Buffer) {
	r.loaded = append(r.loaded[:0], b.Payload()...)
}

// ReadRSSI returns the strongest signal seen since Receive.
func (r *Radio) ReadRSSI() int8 {
	if r.mode != ModeRx {
		return r.md.noise
	}
	return r.peak
}

func (r *Radio) SetChannel(ch uint8) {
	if ch != r.channel {
		r.locked = nil
	}
	r.channel = ch
}

func (r *Radio) SetPower(level uint8) { r.power = level }
