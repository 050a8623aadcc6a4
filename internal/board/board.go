// Package board describes the small hardware collaborators of a mote:
// indicators, the random number generator and the factory identity.
package board

import (
	"math/rand"
	"sync"
)

// Signal names an LED or a debug pin.
type Signal uint8

const (
	LedSystem Signal = iota
	LedUser
	LedError
	LedRadio
	PinSystem
	PinUser
	PinRadio
)

func (s Signal) String() string {
	switch s {
	case LedSystem:
		return "led.system"
	case LedUser:
		return "led.user"
	case LedError:
		return "led.error"
	case LedRadio:
		return "led.radio"
	case PinSystem:
		return "pin.system"
	case PinUser:
		return "pin.user"
	case PinRadio:
		return "pin.radio"
	default:
		return "signal"
	}
}

// Indicator drives LEDs and debug pins. Calls are fire-and-forget.
type Indicator interface {
	On(s Signal)
	Off(s Signal)
	Toggle(s Signal)
}

// Random returns uniformly distributed 16-bit values.
type Random interface {
	Get() uint16
}

// Identity exposes the factory-programmed 64-bit identifier.
type Identity interface {
	EUI64() [8]byte
}

// EUI16 derives the 16-bit MAC address from the last two bytes of the EUI-64.
func EUI16(id Identity) uint16 {
	eui := id.EUI64()
	return uint16(eui[6])<<8 | uint16(eui[7])
}

// StaticIdentity is a fixed EUI-64.
type StaticIdentity [8]byte

// EUI64 implements Identity.
func (s StaticIdentity) EUI64() [8]byte { return s }

// IdentityFor builds an EUI-64 whose 16-bit address is addr.
func IdentityFor(addr uint16) StaticIdentity {
	return StaticIdentity{0x00, 0x12, 0x4b, 0x00, 0x00, 0x00, byte(addr >> 8), byte(addr)}
}

// SeededRandom is a deterministic Random for simulation.
type SeededRandom struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSeededRandom creates a Random from seed.
func NewSeededRandom(seed int64) *SeededRandom {
	return &SeededRandom{rng: rand.New(rand.NewSource(seed))}
}

// Get implements Random.
func (r *SeededRandom) Get() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint16(r.rng.Intn(1 << 16))
}

// Nop discards indicator calls.
type Nop struct{}

func (Nop) On(Signal)     {}
func (Nop) Off(Signal)    {}
func (Nop) Toggle(Signal) {}

// Recorder keeps the last state and the number of transitions of every signal.
type Recorder struct {
	mu     sync.Mutex
	state  map[Signal]bool
	counts map[Signal]int
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{state: make(map[Signal]bool), counts: make(map[Signal]int)}
}

func (r *Recorder) set(s Signal, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state[s] != on {
		r.counts[s]++
	}
	r.state[s] = on
}

// On implements Indicator.
func (r *Recorder) On(s Signal) { r.set(s, true) }

// Off implements Indicator.
func (r *Recorder) Off(s Signal) { r.set(s, false) }

// Toggle implements Indicator.
func (r *Recorder) Toggle(s Signal) {
	r.mu.Lock()
	on := !r.state[s]
	r.mu.Unlock()
	r.set(s, on)
}

// State reports whether s is currently on.
func (r *Recorder) State(s Signal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state[s]
}

// Transitions returns how many times s changed state.
func (r *Recorder) Transitions(s Signal) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[s]
}
