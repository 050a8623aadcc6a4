package mac

import (
	"errors"
	"testing"

	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/fault"
	"github.com/fentz26/dqmote/internal/packet"
	"github.com/fentz26/dqmote/internal/radio/radiotest"
	"github.com/fentz26/dqmote/internal/scheduler"
)

type stubProtocol struct {
	name    string
	started int
}

func (p *stubProtocol) Name() string { return p.name }
func (p *stubProtocol) Start()       { p.started++ }

func newTestMAC(t *testing.T, typ Type) (*MAC, *radiotest.Fake, *scheduler.Scheduler, *board.Recorder) {
	t.Helper()
	r := radiotest.New()
	s := scheduler.New(nil)
	ind := board.NewRecorder()
	cfg := DefaultConfig(RoleNode)
	cfg.Type = typ
	return New(r, packet.NewPool(), s, ind, 0x0042, cfg), r, s, ind
}

func TestStartDispatchesConfiguredProtocol(t *testing.T) {
	m, r, s, _ := newTestMAC(t, TypeDQ)
	dq := &stubProtocol{name: "dq"}
	fsa := &stubProtocol{name: "fsa"}
	m.Register(TypeDQ, dq)
	m.Register(TypeFSA, fsa)

	var traced []string
	s.SetTrace(func(task scheduler.Task) { traced = append(traced, task.Name) })

	m.Start()
	s.RunPending()

	if dq.started != 1 || fsa.started != 0 {
		t.Errorf("Expected only dq started, got dq=%d fsa=%d", dq.started, fsa.started)
	}
	if len(traced) != 1 || traced[0] != "dq.start" {
		t.Errorf("Unexpected tasks %v", traced)
	}
	if r.Mode != radiotest.ModeIdle || r.Channel != DefaultChannel {
		t.Errorf("Expected idle radio on channel %d, got mode %d channel %d", DefaultChannel, r.Mode, r.Channel)
	}
}

func TestStartPreemptsHousekeeping(t *testing.T) {
	m, _, s, _ := newTestMAC(t, TypeFSA)
	fsa := &stubProtocol{name: "fsa"}
	m.Register(TypeFSA, fsa)

	var order []string
	s.SetTrace(func(task scheduler.Task) { order = append(order, task.Name) })
	s.Push(scheduler.Func("heartbeat", func() {}), scheduler.PriorityMin)
	m.Start()
	s.RunPending()

	if len(order) != 2 || order[0] != "fsa.start" {
		t.Errorf("Expected protocol entry before heartbeat, got %v", order)
	}
}

func TestStartUnknownTypeIsFatal(t *testing.T) {
	m, _, _, _ := newTestMAC(t, TypeNone)
	err := fault.Catch(m.Start)
	if !errors.Is(err, fault.ErrUnknownMAC) {
		t.Errorf("Expected unknown mac fault, got %v", err)
	}
}

func TestToggleSynchronized(t *testing.T) {
	m, _, _, ind := newTestMAC(t, TypeDQ)
	m.ToggleSynchronized(StateSync)
	if !m.Synchronized() || !ind.State(board.LedUser) {
		t.Error("Expected synchronized with user LED on")
	}
	m.ToggleSynchronized(StateUnsync)
	if m.Synchronized() || ind.State(board.LedUser) {
		t.Error("Expected unsynchronized with user LED off")
	}
}

func TestNextChannelIsFixed(t *testing.T) {
	m, _, _, _ := newTestMAC(t, TypeDQ)
	m.SetChannel(11)
	for i := 0; i < 10; i++ {
		if ch := m.NextChannel(); ch != DefaultChannel {
			t.Fatalf("Expected channel %d, got %d", DefaultChannel, ch)
		}
	}
}

func TestBufferLease(t *testing.T) {
	m, _, _, _ := newTestMAC(t, TypeDQ)
	a := m.AcquireRx()
	b := m.AcquireRx()
	if a != b {
		t.Error("Expected in-flight receive buffer to be reused")
	}
	m.AcquireTx()
	m.ReleaseAll()
	if m.Rx() != nil || m.Tx() != nil {
		t.Error("Expected both buffers released")
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		rssi int8
		want RSSIClass
	}{
		{-40, RSSIAbove},
		{-84, RSSIAbove},
		{-85, RSSIBelow},
		{-100, RSSIBelow},
	}
	for _, tt := range tests {
		if got := Classify(tt.rssi, -85); got != tt.want {
			t.Errorf("Classify(%d) = %d, want %d", tt.rssi, got, tt.want)
		}
	}
}
