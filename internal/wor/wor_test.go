package wor

import (
	"errors"
	"testing"

	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/packet"
	"github.com/fentz26/dqmote/internal/radio/radiotest"
	"github.com/fentz26/dqmote/internal/scheduler"
	"github.com/fentz26/dqmote/internal/vtimer"
)

type stepTimer struct {
	handler func()
	armed   bool
	ticks   uint32
	elapsed uint32
}

func (s *stepTimer) Start(ticks uint32)   { s.armed, s.ticks, s.elapsed = true, ticks, 0 }
func (s *stepTimer) Stop()                { s.armed = false }
func (s *stepTimer) Elapsed() uint32      { return s.elapsed }
func (s *stepTimer) SetHandler(fn func()) { s.handler = fn }

type rig struct {
	hw       *stepTimer
	sched    *scheduler.Scheduler
	radio    *radiotest.Fake
	m        *mac.MAC
	e        *Engine
	handoffs int
}

func newRig(t *testing.T, role mac.Role, typ mac.Type, cfg Config) *rig {
	t.Helper()
	r := &rig{hw: &stepTimer{}, sched: scheduler.New(nil), radio: radiotest.New()}
	mcfg := mac.DefaultConfig(role)
	mcfg.Type = typ
	r.m = mac.New(r.radio, packet.NewPool(), r.sched, board.NewRecorder(), 0x0042, mcfg)
	r.e = New(r.m, vtimer.New(r.hw, r.sched), r.sched, cfg)
	r.e.SetDone(func() { r.handoffs++ })
	r.e.Start()
	r.settle()
	return r
}

func (r *rig) settle() {
	for {
		r.sched.RunPending()
		if !r.hw.armed || r.hw.elapsed < r.hw.ticks {
			return
		}
		r.hw.armed = false
		r.hw.handler()
	}
}

func (r *rig) advance(n uint32) {
	for i := uint32(0); i < n; i++ {
		if r.hw.armed {
			r.hw.elapsed++
		}
		r.settle()
	}
}

func TestBeacons(t *testing.T) {
	tests := []struct {
		duration uint16
		period   uint16
		want     uint32
	}{
		{65535, 32, 2048},
		{255, 32, 8},
		{10, 32, 1},
		{100, 0, 1},
	}
	for _, tt := range tests {
		cfg := Config{TxDuration: tt.duration, TxPeriod: tt.period}
		if got := cfg.Beacons(); got != tt.want {
			t.Errorf("Beacons(%d/%d): expected %d, got %d", tt.duration, tt.period, tt.want, got)
		}
	}
}

func TestBeaconCodec(t *testing.T) {
	b := Beacon{Type: mac.TypeDQ, Time: 0x1234, Channel: 20}
	p := b.Encode()
	want := []byte{byte(mac.TypeDQ), byte(mac.KindWOR), 0x34, 0x12, 20}
	for i := range want {
		if p[i] != want[i] {
			t.Fatalf("Unexpected encoding %v, want %v", p, want)
		}
	}
	if got, err := DecodeBeacon(p); err != nil || got != b {
		t.Errorf("Round trip: %+v %v", got, err)
	}
	if _, err := DecodeBeacon(p[:3]); !errors.Is(err, ErrShortPacket) {
		t.Errorf("Expected short packet, got %v", err)
	}
	p[1] = byte(mac.KindFBP)
	if _, err := DecodeBeacon(p); !errors.Is(err, ErrPacketType) {
		t.Errorf("Expected packet type error, got %v", err)
	}
}

func TestGatewayBurst(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TxDuration = 255
	r := newRig(t, mac.RoleGateway, mac.TypeDQ, cfg)

	// 8 beacons, each 32-6-1 ticks apart on the measured radio.
	r.advance(8*25 + GatewayGuard - 1)
	if r.handoffs != 0 {
		t.Fatal("Unexpected early hand-off")
	}
	r.advance(1)
	if r.handoffs != 1 {
		t.Fatalf("Expected one hand-off, got %d", r.handoffs)
	}

	if len(r.radio.Sent) != 8 || r.e.Stats().Beacons != 8 {
		t.Fatalf("Expected 8 beacons, got %d", len(r.radio.Sent))
	}
	first, err := DecodeBeacon(r.radio.Sent[0].Payload)
	if err != nil || first.Time != 255 || first.Type != mac.TypeDQ {
		t.Errorf("Unexpected first beacon %+v (%v)", first, err)
	}
	last, _ := DecodeBeacon(r.radio.LastSent())
	if last.Time != 255-7*32 {
		t.Errorf("Expected remaining time %d, got %d", 255-7*32, last.Time)
	}
	if r.radio.Channel != cfg.Channel {
		t.Errorf("Expected beacons on channel %d, got %d", cfg.Channel, r.radio.Channel)
	}
}

func TestNodeSamplesUntilBeacon(t *testing.T) {
	cfg := DefaultConfig()
	r := newRig(t, mac.RoleNode, mac.TypeNone, cfg)
	sleep := cfg.RxPeriod - cfg.RxDuration - 12

	r.advance(cfg.RxDuration + sleep)
	if got := r.e.Stats().Samples; got != 2 {
		t.Fatalf("Expected 2 samples, got %d", got)
	}
	if r.radio.Mode != radiotest.ModeRx {
		t.Fatal("Expected the radio sampling")
	}

	bad := Beacon{Type: mac.TypeFSA, Time: 50, Channel: 11}
	r.radio.Deliver(radiotest.Frame{Payload: bad.Encode(), CRC: false})
	b := Beacon{Type: mac.TypeDQ, Time: 100, Channel: 20}
	if !r.radio.Deliver(radiotest.Frame{Payload: b.Encode(), CRC: true}) {
		t.Fatal("Expected the beacon received")
	}
	if r.radio.Mode != radiotest.ModeIdle {
		t.Error("Expected the radio idle after capture")
	}

	r.advance(cfg.RxDuration + 100 + NodeGuard - 1)
	if r.handoffs != 0 {
		t.Fatal("Unexpected early hand-off")
	}
	r.advance(1)
	if r.handoffs != 1 {
		t.Fatalf("Expected one hand-off, got %d", r.handoffs)
	}
	if r.m.Type() != mac.TypeDQ || r.m.Channel() != 20 || r.m.Time() != 100 {
		t.Errorf("Unexpected adopted state %v/%d/%d", r.m.Type(), r.m.Channel(), r.m.Time())
	}
	if r.e.Stats().Captured != 1 {
		t.Error("Expected one capture")
	}
}

func TestCancelDone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TxDuration = 31
	r := newRig(t, mac.RoleGateway, mac.TypeFSA, cfg)
	r.e.CancelDone()
	r.advance(25 + GatewayGuard)
	if r.handoffs != 0 {
		t.Error("Expected no hand-off after cancel")
	}
}
