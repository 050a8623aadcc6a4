package vtimer

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/fentz26/dqmote/internal/fault"
	"github.com/fentz26/dqmote/internal/scheduler"
)

// fakeHW is a hardware timer advanced one tick at a time by the test.
type fakeHW struct {
	handler func()
	armed   bool
	ticks   uint32
	elapsed uint32
	starts  []uint32
}

func (f *fakeHW) Start(ticks uint32) {
	f.armed = true
	f.ticks = ticks
	f.elapsed = 0
	f.starts = append(f.starts, ticks)
}

func (f *fakeHW) Stop()                { f.armed = false }
func (f *fakeHW) Elapsed() uint32      { return f.elapsed }
func (f *fakeHW) SetHandler(fn func()) { f.handler = fn }

func (f *fakeHW) fireDue() {
	for f.armed && f.elapsed >= f.ticks {
		f.armed = false
		f.handler()
	}
}

// step advances n ticks, firing the interrupt whenever the deadline is reached.
func (f *fakeHW) step(n int) {
	for i := 0; i < n; i++ {
		f.fireDue()
		f.elapsed++
		f.fireDue()
	}
}

// remaining is what is left on the programmed hardware deadline.
func (f *fakeHW) remaining() uint32 {
	if f.elapsed >= f.ticks {
		return 0
	}
	return f.ticks - f.elapsed
}

func newTestTimers() (*Timers, *fakeHW, *scheduler.Scheduler) {
	hw := &fakeHW{}
	s := scheduler.New(nil)
	return New(hw, s), hw, s
}

func counter(n *int) scheduler.Task {
	return scheduler.Func("count", func() { *n++ })
}

func TestNearestDeadlineOnStart(t *testing.T) {
	tm, hw, _ := newTestTimers()
	var n int

	tm.Start(TypeOneShot, 100, counter(&n), scheduler.PriorityMax)
	if hw.remaining() != 100 {
		t.Fatalf("Expected hardware at 100, got %d", hw.remaining())
	}

	tm.Start(TypeOneShot, 50, counter(&n), scheduler.PriorityMax)
	if hw.remaining() != 50 {
		t.Errorf("Expected hardware at 50, got %d", hw.remaining())
	}

	starts := len(hw.starts)
	tm.Start(TypeOneShot, 200, counter(&n), scheduler.PriorityMax)
	if len(hw.starts) != starts {
		t.Error("Later deadline must not reprogram the hardware")
	}
	if hw.remaining() != 50 {
		t.Errorf("Expected hardware to stay at 50, got %d", hw.remaining())
	}
}

func TestStopNearestReprograms(t *testing.T) {
	tm, hw, s := newTestTimers()
	var n int

	tm.Start(TypeOneShot, 100, counter(&n), scheduler.PriorityMax)
	near := tm.Start(TypeOneShot, 50, counter(&n), scheduler.PriorityMax)
	hw.step(10)

	tm.Stop(near)
	if hw.remaining() != 90 {
		t.Errorf("Expected hardware reprogrammed to 90, got %d", hw.remaining())
	}

	hw.step(90)
	s.RunPending()
	if n != 1 {
		t.Errorf("Expected exactly the 100-tick timer to fire, got %d", n)
	}
	if _, armed := tm.Deadline(); armed {
		t.Error("Expected hardware stopped with no running timers")
	}
}

func TestStopLastTimerStopsHardware(t *testing.T) {
	tm, hw, _ := newTestTimers()
	var n int
	id := tm.Start(TypeOneShot, 30, counter(&n), scheduler.PriorityMax)
	tm.Stop(id)
	if hw.armed {
		t.Error("Expected hardware stopped")
	}
	if d, armed := tm.Deadline(); armed || d != MaxTicks {
		t.Errorf("Expected sentinel deadline, got %d armed=%v", d, armed)
	}
}

func TestDeadlineAlwaysMinimum(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	tm, hw, s := newTestTimers()
	var fired int
	var ids []ID

	for op := 0; op < 2000; op++ {
		switch r := rng.Intn(10); {
		case r < 4 && tm.Active() < MaxTimers:
			ids = append(ids, tm.Start(TypeOneShot, uint32(1+rng.Intn(500)), counter(&fired), scheduler.PriorityMed))
		case r < 6 && len(ids) > 0:
			i := rng.Intn(len(ids))
			tm.Stop(ids[i])
			ids = append(ids[:i], ids[i+1:]...)
		default:
			hw.step(1 + rng.Intn(40))
			s.RunPending()
		}

		min := MaxTicks
		running := 0
		for id := ID(0); id < MaxTimers; id++ {
			if left, ok := tm.Remaining(id); ok {
				running++
				if left < min {
					min = left
				}
			}
		}
		if running == 0 {
			if hw.armed {
				t.Fatalf("op %d: hardware armed with no running timers", op)
			}
			ids = ids[:0]
			continue
		}
		if hw.remaining() != min {
			t.Fatalf("op %d: hardware remaining %d, nearest timer %d", op, hw.remaining(), min)
		}
	}
}

func TestPeriodicFiresEveryPeriod(t *testing.T) {
	tm, hw, s := newTestTimers()
	var n int
	id := tm.Start(TypePeriodic, 10, counter(&n), scheduler.PriorityMin)

	for i := 1; i <= 25; i++ {
		hw.step(10)
		s.RunPending()
		if n != i {
			t.Fatalf("Expected %d expiries after %d ticks, got %d", i, i*10, n)
		}
	}

	tm.Stop(id)
	hw.step(100)
	s.RunPending()
	if n != 25 {
		t.Errorf("Expected no expiries after stop, got %d", n)
	}
}

func TestOneShotFiresOnce(t *testing.T) {
	tm, hw, s := newTestTimers()
	var n int
	tm.Start(TypeOneShot, 20, counter(&n), scheduler.PriorityMax)

	hw.step(19)
	s.RunPending()
	if n != 0 {
		t.Fatalf("Fired early: %d", n)
	}
	hw.step(1)
	s.RunPending()
	if n != 1 {
		t.Fatalf("Expected one expiry, got %d", n)
	}
	hw.step(100)
	s.RunPending()
	if n != 1 {
		t.Errorf("One-shot fired again: %d", n)
	}
	if tm.Active() != 0 {
		t.Errorf("Expected slot freed, %d active", tm.Active())
	}
}

func TestKickNowFiresOnNextInterrupt(t *testing.T) {
	tm, hw, s := newTestTimers()
	var n int
	tm.Start(TypeOneShot, 500, counter(&n), scheduler.PriorityMin)
	hw.step(3)
	tm.Start(TypeOneShot, KickNow, counter(&n), scheduler.PriorityMax)

	hw.fireDue()
	s.RunPending()
	if n != 1 {
		t.Fatalf("Expected kick-now task to run, got %d", n)
	}
	if left, ok := tm.Remaining(0); !ok || left != 497 {
		t.Errorf("Expected long timer to keep 497 ticks, got %d (running=%v)", left, ok)
	}
}

func TestLaterTimerKeepsElapsedTime(t *testing.T) {
	tm, hw, s := newTestTimers()
	var a, b int
	tm.Start(TypeOneShot, 40, counter(&a), scheduler.PriorityMax)
	hw.step(15)
	tm.Start(TypeOneShot, 40, counter(&b), scheduler.PriorityMax)

	hw.step(25)
	s.RunPending()
	if a != 1 || b != 0 {
		t.Fatalf("Expected only first timer at tick 40, got a=%d b=%d", a, b)
	}
	hw.step(15)
	s.RunPending()
	if b != 1 {
		t.Errorf("Expected second timer at tick 55, got b=%d", b)
	}
}

func TestSeventeenthStartOverflows(t *testing.T) {
	tm, _, _ := newTestTimers()
	var n int
	for i := 0; i < MaxTimers; i++ {
		tm.Start(TypeOneShot, uint32(100+i), counter(&n), scheduler.PriorityMin)
	}

	err := fault.Catch(func() {
		tm.Start(TypeOneShot, 5, counter(&n), scheduler.PriorityMin)
	})
	if !errors.Is(err, fault.ErrTimerOverflow) {
		t.Fatalf("Expected timer overflow, got %v", err)
	}
}

func TestStartReusesFreedSlot(t *testing.T) {
	tm, hw, s := newTestTimers()
	var n int
	for i := 0; i < MaxTimers; i++ {
		tm.Start(TypeOneShot, uint32(10+i), counter(&n), scheduler.PriorityMin)
	}
	hw.step(10)
	s.RunPending()

	if err := fault.Catch(func() {
		tm.Start(TypeOneShot, 5, counter(&n), scheduler.PriorityMin)
	}); err != nil {
		t.Fatalf("Expected start to reuse the expired slot, got %v", err)
	}
}

func TestStartRejectsNoneType(t *testing.T) {
	tm, _, _ := newTestTimers()
	err := fault.Catch(func() {
		tm.Start(TypeNone, 5, scheduler.Func("x", func() {}), scheduler.PriorityMin)
	})
	if !errors.Is(err, fault.ErrUnknownTimerType) {
		t.Errorf("Expected unknown timer type, got %v", err)
	}
}
