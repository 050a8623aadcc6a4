// Package mac holds the state shared by the channel-access protocols and
// dispatches the start of a round to the configured one.
package mac

import (
	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/fault"
	"github.com/fentz26/dqmote/internal/packet"
	"github.com/fentz26/dqmote/internal/radio"
	"github.com/fentz26/dqmote/internal/scheduler"
)

// Protocol is a channel-access discipline. Start runs as the first phase of
// its round.
type Protocol interface {
	Name() string
	Start()
}

// Config defines the MAC configuration.
type Config struct {
	Role    Role
	Type    Type
	Slots   uint8
	Channel uint8
	Timing  RadioTiming
}

// DefaultConfig returns a DQ configuration on the default channel.
func DefaultConfig(role Role) Config {
	return Config{
		Role:    role,
		Type:    TypeDQ,
		Slots:   1,
		Channel: DefaultChannel,
		Timing:  HardwareRadioTiming(),
	}
}

// MAC is the single source of truth for role, channel, sync flag and the
// in-flight packet buffers.
type MAC struct {
	radio radio.Radio
	pool  *packet.Pool
	sched scheduler.Pusher
	ind   board.Indicator

	address    uint16
	role       Role
	typ        Type
	state      State
	packet     Kind
	time       uint16
	slots      uint8
	channel    uint8
	fixedChan  uint8
	timing     RadioTiming
	protocols  map[Type]Protocol
	rx, tx     *packet.Buffer
	startCount int
}

// New creates the MAC state for a device at address.
func New(r radio.Radio, pool *packet.Pool, sched scheduler.Pusher, ind board.Indicator, address uint16, cfg Config) *MAC {
	if ind == nil {
		ind = board.Nop{}
	}
	if cfg.Channel == 0 {
		cfg.Channel = DefaultChannel
	}
	return &MAC{
		radio:     r,
		pool:      pool,
		sched:     sched,
		ind:       ind,
		address:   address,
		role:      cfg.Role,
		typ:       cfg.Type,
		slots:     cfg.Slots,
		channel:   cfg.Channel,
		fixedChan: cfg.Channel,
		timing:    cfg.Timing,
		protocols: make(map[Type]Protocol),
	}
}

// Register binds a protocol to a MAC type.
func (m *MAC) Register(t Type, p Protocol) {
	m.protocols[t] = p
}

// Start idles the radio, tunes it and schedules the configured protocol's
// entry phase at maximum priority. An unregistered type is fatal.
func (m *MAC) Start() {
	m.radio.Idle()
	m.radio.SetChannel(m.channel)

	p, ok := m.protocols[m.typ]
	if !ok {
		fault.Raise(fault.UnknownMAC, "mac type %d", m.typ)
	}
	m.startCount++
	m.sched.Push(scheduler.Func(p.Name()+".start", p.Start), scheduler.PriorityMax)
}

// SetType selects the protocol for the next Start.
func (m *MAC) SetType(t Type) { m.typ = t }

// SetChannel selects the radio channel.
func (m *MAC) SetChannel(ch uint8) { m.channel = ch }

// SetTime records the rendezvous time announced by WOR.
func (m *MAC) SetTime(t uint16) { m.time = t }

// SetSlots sets the FSA slot count.
func (m *MAC) SetSlots(n uint8) { m.slots = n }

// SetPacket records the kind of the last MAC packet handled.
func (m *MAC) SetPacket(k Kind) { m.packet = k }

// ToggleSynchronized updates the sync flag and the user indicator.
func (m *MAC) ToggleSynchronized(s State) {
	m.state = s
	if s == StateSync {
		m.ind.On(board.LedUser)
	} else {
		m.ind.Off(board.LedUser)
	}
}

// NextChannel returns the channel of the next round. Hopping is not
// implemented; rounds stay on the configured channel.
func (m *MAC) NextChannel() uint8 {
	return m.fixedChan
}

func (m *MAC) Address() uint16            { return m.address }
func (m *MAC) Role() Role                 { return m.role }
func (m *MAC) Type() Type                 { return m.typ }
func (m *MAC) State() State               { return m.state }
func (m *MAC) Synchronized() bool         { return m.state == StateSync }
func (m *MAC) Packet() Kind               { return m.packet }
func (m *MAC) Time() uint16               { return m.time }
func (m *MAC) Slots() uint8               { return m.slots }
func (m *MAC) Channel() uint8             { return m.channel }
func (m *MAC) Timing() RadioTiming        { return m.timing }
func (m *MAC) Radio() radio.Radio         { return m.radio }
func (m *MAC) Indicator() board.Indicator { return m.ind }

// Starts returns how many times Start dispatched a protocol.
func (m *MAC) Starts() int { return m.startCount }

// AcquireRx leases the receive buffer, reusing the one in flight if any.
func (m *MAC) AcquireRx() *packet.Buffer {
	if m.rx == nil {
		m.rx = m.pool.Acquire()
	}
	return m.rx
}

// Rx returns the in-flight receive buffer, or nil.
func (m *MAC) Rx() *packet.Buffer { return m.rx }

// ReleaseRx returns the receive buffer to the pool.
func (m *MAC) ReleaseRx() {
	m.pool.Release(m.rx)
	m.rx = nil
}

// AcquireTx leases the transmit buffer, reusing the one in flight if any.
func (m *MAC) AcquireTx() *packet.Buffer {
	if m.tx == nil {
		m.tx = m.pool.Acquire()
	}
	return m.tx
}

// Tx returns the in-flight transmit buffer, or nil.
func (m *MAC) Tx() *packet.Buffer { return m.tx }

// ReleaseTx returns the transmit buffer to the pool.
func (m *MAC) ReleaseTx() {
	m.pool.Release(m.tx)
	m.tx = nil
}

// ReleaseAll drops both in-flight buffers.
func (m *MAC) ReleaseAll() {
	m.ReleaseRx()
	m.ReleaseTx()
}
