// Package sim runs a gateway and its nodes on a shared simulated radio
// medium, tick by tick, with the real firmware stack on every device.
package sim

import (
	"bytes"
	"fmt"
	"log"
	"math/rand"

	"github.com/Workiva/go-datastructures/queue"
	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/dq"
	"github.com/fentz26/dqmote/internal/fsa"
	"github.com/fentz26/dqmote/internal/hdlc"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/mote"
	"github.com/fentz26/dqmote/internal/serial"
	"github.com/fentz26/dqmote/internal/wor"
)

// Address plan.
const (
	GatewayAddress   uint16 = 0x0001
	FirstNodeAddress uint16 = 0x0100
)

// Config defines a simulated experiment.
type Config struct {
	Nodes    int      `yaml:"nodes"`
	Seed     int64    `yaml:"seed"`
	Protocol mac.Type `yaml:"-"`
	Slots    uint8    `yaml:"slots"`
	Channel  uint8    `yaml:"channel"`
	// Duration of the experiment in start command units; zero runs until
	// the world is stopped.
	Duration uint16 `yaml:"duration"`
	// Loss is the probability that a node misses a given feedback packet.
	Loss  float64 `yaml:"loss"`
	RSSI  int8    `yaml:"rssi"`
	Noise int8    `yaml:"noise"`
	// Engine overrides; zero keeps the firmware constants.
	RSSIThreshold int8  `yaml:"rssi_threshold"`
	DQUnsync      uint8 `yaml:"dq_unsync_errors"`
	FSAUnsync     uint8 `yaml:"fsa_unsync_errors"`
	// WakeOnRadio runs the WOR exchange before the first round.
	WakeOnRadio bool       `yaml:"wake_on_radio"`
	WOR         wor.Config `yaml:"wor"`
	// Manual leaves booting the gateway's experiment to the caller.
	Manual bool `yaml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Nodes:    3,
		Seed:     1,
		Protocol: mac.TypeDQ,
		Slots:    4,
		RSSI:     -40,
		Noise:    -100,
		WOR:      wor.DefaultConfig(),
	}
}

// Device is one simulated mote with its hardware.
type Device struct {
	Mote   *mote.Mote
	Radio  *Radio
	Timer  *Timer
	LEDs   *board.Recorder
	Serial *bytes.Buffer
}

// Frames decodes everything the device has written to its serial port.
func (d *Device) Frames() ([]hdlc.Frame, error) {
	return hdlc.Decode(d.Serial.Bytes())
}

// World owns the clock, the agenda and every device.
type World struct {
	cfg    Config
	now    uint64
	seq    uint64
	agenda *queue.PriorityQueue
	medium *Medium
	rng    *rand.Rand

	gateway *Device
	nodes   []*Device
	err     error
}

// New builds a world. Devices are booted by Start.
func New(cfg Config) *World {
	if cfg.Noise == 0 {
		cfg.Noise = -100
	}
	if cfg.RSSI == 0 {
		cfg.RSSI = -40
	}
	w := &World{
		cfg:    cfg,
		agenda: queue.NewPriorityQueue(64, true),
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	w.medium = newMedium(w, cfg.Noise, cfg.RSSI)
	if cfg.Loss > 0 {
		w.medium.SetDrop(w.lossModel)
	}

	w.gateway = w.newDevice(mac.RoleGateway, GatewayAddress)
	for i := 0; i < cfg.Nodes; i++ {
		w.nodes = append(w.nodes, w.newDevice(mac.RoleNode, FirstNodeAddress+uint16(i)))
	}
	return w
}

func (w *World) newDevice(role mac.Role, addr uint16) *Device {
	d := &Device{
		Radio:  w.medium.NewRadio(addr),
		Timer:  &Timer{w: w},
		LEDs:   board.NewRecorder(),
		Serial: &bytes.Buffer{},
	}

	cfg := mote.DefaultConfig(role)
	cfg.MAC.Timing = mac.IdealRadioTiming()
	cfg.DQ.Timing = dq.IdealTiming()
	cfg.FSA.Timing = fsa.IdealTiming()
	if w.cfg.Channel != 0 {
		cfg.MAC.Channel = w.cfg.Channel
	}
	if w.cfg.RSSIThreshold != 0 {
		cfg.DQ.RSSIThreshold = w.cfg.RSSIThreshold
		cfg.FSA.RSSIThreshold = w.cfg.RSSIThreshold
	}
	if w.cfg.DQUnsync != 0 {
		cfg.DQ.UnsyncErrors = w.cfg.DQUnsync
	}
	if w.cfg.FSAUnsync != 0 {
		cfg.FSA.UnsyncErrors = w.cfg.FSAUnsync
	}
	cfg.WOR = w.cfg.WOR
	cfg.WOR.Prepare = 0
	cfg.WakeOnRadio = w.cfg.WakeOnRadio
	if role == mac.RoleNode && !w.cfg.WakeOnRadio {
		cfg.MAC.Type = w.cfg.Protocol
		cfg.AutoStart = true
	}

	d.Mote = mote.New(mote.Hardware{
		Radio:     d.Radio,
		Timer:     d.Timer,
		Serial:    d.Serial,
		Indicator: d.LEDs,
		Random:    board.NewSeededRandom(w.cfg.Seed*65537 + int64(addr)),
		Identity:  board.IdentityFor(addr),
	}, cfg)
	return d
}

// lossModel drops feedback packets at nodes with the configured probability.
func (w *World) lossModel(from, to *Radio, payload []byte) bool {
	if to.address == GatewayAddress || !IsFeedback(payload) {
		return false
	}
	return w.rng.Float64() < w.cfg.Loss
}

// IsFeedback reports whether payload is a DQ or FSA feedback packet.
func IsFeedback(payload []byte) bool {
	if len(payload) < 2 {
		return false
	}
	switch mac.Type(payload[0]) {
	case mac.TypeDQ:
		return dq.PacketType(payload[1]) == dq.PacketFBP
	case mac.TypeFSA:
		return mac.Kind(payload[1]) == mac.KindFBP
	}
	return false
}

func (w *World) Now() uint64      { return w.now }
func (w *World) Medium() *Medium  { return w.medium }
func (w *World) Gateway() *Device { return w.gateway }
func (w *World) Nodes() []*Device { return w.nodes }
func (w *World) Config() Config   { return w.cfg }
func (w *World) Err() error       { return w.err }

// Devices returns the gateway followed by the nodes.
func (w *World) Devices() []*Device {
	return append([]*Device{w.gateway}, w.nodes...)
}

func (w *World) schedule(delay uint64, fn func()) *event {
	w.seq++
	ev := &event{at: w.now + delay, seq: w.seq, fn: fn}
	if err := w.agenda.Put(ev); err != nil {
		log.Printf("sim: agenda closed: %v", err)
	}
	return ev
}

// At runs fn at world tick t, or now if t has passed.
func (w *World) At(t uint64, fn func()) {
	var delay uint64
	if t > w.now {
		delay = t - w.now
	}
	w.schedule(delay, fn)
}

// Start boots every device, nodes first so they are listening when the
// gateway begins, then starts the experiment unless the world is manual.
func (w *World) Start() error {
	for _, d := range w.nodes {
		d.Mote.Boot()
	}
	w.gateway.Mote.Boot()
	if err := w.drain(); err != nil {
		return err
	}
	if w.cfg.Manual {
		return nil
	}
	return w.StartExperiment()
}

// StartExperiment sends the start command to the gateway over its serial
// port, exactly as a host would.
func (w *World) StartExperiment() error {
	cmd := mote.StartCommand{Type: w.cfg.Protocol, Slots: w.cfg.Slots, Duration: w.cfg.Duration}
	frame := hdlc.Encode(serial.MsgStart, 0, cmd.Encode())
	if _, err := w.gateway.Mote.Serial().Write(frame); err != nil {
		return fmt.Errorf("start command: %w", err)
	}
	return w.drain()
}

// Step runs the next event and every task it made ready. It returns false
// when the agenda is empty.
func (w *World) Step() (bool, error) {
	if w.err != nil {
		return false, w.err
	}
	if w.agenda.Len() == 0 {
		return false, nil
	}
	items, err := w.agenda.Get(1)
	if err != nil {
		return false, fmt.Errorf("agenda: %w", err)
	}
	ev := items[0].(*event)
	w.now = ev.at
	if !ev.cancelled {
		ev.fn()
	}
	return true, w.drain()
}

// RunUntil runs every event up to and including tick t, then sets the clock
// to t.
func (w *World) RunUntil(t uint64) error {
	for w.agenda.Len() > 0 {
		next := w.agenda.Peek().(*event)
		if next.at > t {
			break
		}
		if _, err := w.Step(); err != nil {
			return err
		}
	}
	if t > w.now {
		w.now = t
	}
	return nil
}

// Run advances the world by ticks.
func (w *World) Run(ticks uint64) error {
	return w.RunUntil(w.now + ticks)
}

// drain polls every device until no task is ready. A halted device stops the
// world.
func (w *World) drain() error {
	for {
		busy := false
		for _, d := range w.Devices() {
			if d.Mote.Scheduler().Len() == 0 {
				continue
			}
			busy = true
			if _, err := d.Mote.Poll(); err != nil {
				w.err = fmt.Errorf("device %04x: %w", d.Mote.Address(), err)
				return w.err
			}
		}
		if !busy {
			return nil
		}
	}
}

// Close releases the agenda.
func (w *World) Close() {
	w.agenda.Dispose()
}
