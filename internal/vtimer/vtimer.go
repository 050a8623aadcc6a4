// Package vtimer multiplexes up to 16 software timers onto one hardware
// countdown timer. Expired timers push their task to the scheduler; they never
// run protocol code in interrupt context.
package vtimer

import (
	"math"
	"sync"

	"github.com/fentz26/dqmote/internal/fault"
	"github.com/fentz26/dqmote/internal/sat"
	"github.com/fentz26/dqmote/internal/scheduler"
)

const (
	// MaxTimers is the number of timer slots.
	MaxTimers = 16
	// KickNow schedules a task on the next hardware interrupt.
	KickNow uint32 = 0
	// MaxTicks is the sentinel deadline of a stopped hardware timer.
	MaxTicks uint32 = math.MaxUint32
)

// Type selects what happens to a timer when it expires.
type Type uint8

const (
	TypeNone Type = iota
	TypePeriodic
	TypeOneShot
)

// Status of a timer slot.
type Status uint8

const (
	StatusStopped Status = iota
	StatusRunning
)

// ID identifies a timer slot.
type ID uint8

// Hardware is the single countdown timer the service is multiplexed on.
type Hardware interface {
	// Start arms the timer to interrupt after ticks, restarting Elapsed.
	Start(ticks uint32)
	// Stop disarms the timer.
	Stop()
	// Elapsed returns the ticks counted since the last Start.
	Elapsed() uint32
	// SetHandler installs the interrupt handler.
	SetHandler(fn func())
}

type entry struct {
	status Status
	typ    Type
	ticks  uint32
	// left counts from the last time the hardware was armed.
	left uint32
	task scheduler.Task
	prio scheduler.Priority
}

// Timers is the virtual timer table.
type Timers struct {
	hw    Hardware
	sched scheduler.Pusher

	mu       sync.Mutex
	entries  [MaxTimers]entry
	armed    bool
	deadline uint32
}

// New creates a timer table on hw and installs its interrupt handler.
func New(hw Hardware, sched scheduler.Pusher) *Timers {
	t := &Timers{
		hw:       hw,
		sched:    sched,
		deadline: MaxTicks,
	}
	hw.SetHandler(t.Interrupt)
	return t
}

// Start arms a free slot to push task after ticks. Running out of slots is
// fatal.
func (t *Timers) Start(typ Type, ticks uint32, task scheduler.Task, prio scheduler.Priority) ID {
	if typ != TypeOneShot && typ != TypePeriodic {
		fault.Raise(fault.UnknownTimerType, "timer type %d for %q", typ, task.Name)
	}
	if typ == TypePeriodic && ticks == 0 {
		ticks = 1
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	id := -1
	for i := range t.entries {
		if t.entries[i].status == StatusStopped {
			id = i
			break
		}
	}
	if id < 0 {
		fault.Raise(fault.TimerOverflow, "all %d timers running, starting %q", MaxTimers, task.Name)
	}

	e := &t.entries[id]
	*e = entry{status: StatusRunning, typ: typ, ticks: ticks, task: task, prio: prio}

	if !t.armed {
		e.left = ticks
		t.program(ticks)
		return ID(id)
	}

	elapsed := t.hw.Elapsed()
	if ticks < sat.Sub(t.deadline, elapsed) {
		// New nearest deadline: rebase every entry on now and rearm.
		t.advance(elapsed, ID(id))
		e.left = ticks
		t.program(ticks)
		return ID(id)
	}

	// Keep the current hardware deadline; express the new entry relative to
	// the moment the hardware was armed.
	if ticks > MaxTicks-elapsed {
		e.left = MaxTicks
	} else {
		e.left = ticks + elapsed
	}
	return ID(id)
}

// Stop deactivates a timer regardless of its remaining ticks. Stopping the
// nearest timer reprograms the hardware to the new nearest deadline.
func (t *Timers) Stop(id ID) {
	if int(id) >= MaxTimers {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.entries[id].status != StatusRunning {
		return
	}
	t.entries[id] = entry{}

	if !t.armed {
		return
	}
	t.advance(t.hw.Elapsed(), MaxTimers)
	t.reprogram()
}

// Interrupt is the hardware timer handler: it applies the elapsed ticks,
// pushes every expired task and rearms the hardware.
func (t *Timers) Interrupt() {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := t.hw.Elapsed()
	for i := range t.entries {
		e := &t.entries[i]
		if e.status != StatusRunning {
			continue
		}
		e.left = sat.Sub(e.left, elapsed)
		if e.left > 0 {
			continue
		}

		t.sched.Push(e.task, e.prio)

		switch e.typ {
		case TypePeriodic:
			e.left = e.ticks
		case TypeOneShot:
			*e = entry{}
		default:
			fault.Raise(fault.UnknownTimerType, "timer %d type %d", i, e.typ)
		}
	}

	t.reprogram()
}

// advance subtracts elapsed from every running entry except skip. Caller holds mu.
func (t *Timers) advance(elapsed uint32, skip ID) {
	for i := range t.entries {
		if ID(i) == skip || t.entries[i].status != StatusRunning {
			continue
		}
		t.entries[i].left = sat.Sub(t.entries[i].left, elapsed)
	}
}

// reprogram arms the hardware to the nearest running deadline, or stops it
// when nothing is running. Caller holds mu and has rebased entries on now.
func (t *Timers) reprogram() {
	next := MaxTicks
	for i := range t.entries {
		if t.entries[i].status == StatusRunning && t.entries[i].left < next {
			next = t.entries[i].left
		}
	}

	if next == MaxTicks && !t.anyRunning() {
		t.armed = false
		t.deadline = MaxTicks
		t.hw.Stop()
		return
	}
	t.program(next)
}

func (t *Timers) program(ticks uint32) {
	t.armed = true
	t.deadline = ticks
	t.hw.Start(ticks)
}

func (t *Timers) anyRunning() bool {
	for i := range t.entries {
		if t.entries[i].status == StatusRunning {
			return true
		}
	}
	return false
}

// Deadline returns the ticks the hardware was last armed with and whether it
// is armed.
func (t *Timers) Deadline() (uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deadline, t.armed
}

// Remaining returns the ticks left on a running timer, measured from now.
func (t *Timers) Remaining(id ID) (uint32, bool) {
	if int(id) >= MaxTimers {
		return 0, false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.entries[id]
	if e.status != StatusRunning {
		return 0, false
	}
	return sat.Sub(e.left, t.hw.Elapsed()), true
}

// Active returns the number of running timers.
func (t *Timers) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for i := range t.entries {
		if t.entries[i].status == StatusRunning {
			n++
		}
	}
	return n
}

// Reset stops every timer and the hardware.
func (t *Timers) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.entries {
		t.entries[i] = entry{}
	}
	t.armed = false
	t.deadline = MaxTicks
	t.hw.Stop()
}
