package sim

import (
	"testing"

	"github.com/fentz26/dqmote/internal/dq"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/serial"
)

var (
	// nodeListen is the DQ node's feedback window.
	nodeListen = uint64(dq.IdealTiming().FBPListen())
	round      = uint64(dq.SlotDuration)
)

func newWorld(t *testing.T, cfg Config) *World {
	t.Helper()
	w := New(cfg)
	t.Cleanup(w.Close)
	if err := w.Start(); err != nil {
		t.Fatalf("Failed to start world: %v", err)
	}
	return w
}

func run(t *testing.T, w *World, until uint64) {
	t.Helper()
	if err := w.RunUntil(until); err != nil {
		t.Fatalf("Failed to run until %d: %v", until, err)
	}
}

func TestAirTicks(t *testing.T) {
	tests := []struct {
		payload int
		want    uint64
	}{
		{4, 13},
		{24, 34},
		{125, 140},
	}
	for _, tt := range tests {
		if got := AirTicks(tt.payload); got != tt.want {
			t.Errorf("AirTicks(%d): expected %d, got %d", tt.payload, tt.want, got)
		}
	}
}

func TestTimerFiresAsEvent(t *testing.T) {
	w := New(Config{Manual: true})
	defer w.Close()

	tm := &Timer{w: w}
	fired := 0
	tm.SetHandler(func() { fired++ })
	tm.Start(0)
	if fired != 0 {
		t.Fatal("Timer fired inside Start")
	}
	run(t, w, 0)
	if fired != 1 {
		t.Fatalf("Expected kick-now delivery at the same tick, got %d", fired)
	}

	tm.Start(10)
	run(t, w, 5)
	if tm.Elapsed() != 5 {
		t.Errorf("Expected 5 elapsed ticks, got %d", tm.Elapsed())
	}
	tm.Stop()
	run(t, w, 20)
	if fired != 1 {
		t.Error("Stopped timer fired")
	}
}

func TestCollisionCorruptsFrames(t *testing.T) {
	w := New(Config{Manual: true})
	defer w.Close()
	md := w.Medium()
	a, b, rx := md.NewRadio(1), md.NewRadio(2), md.NewRadio(3)

	var got []frame
	rx.SetRxCallbacks(nil, func() { got = append(got, rx.last) })
	rx.Receive()

	a.loaded = []byte{1, 2, 3, 4}
	b.loaded = []byte{5, 6, 7, 8}
	a.Transmit()
	b.Transmit()
	run(t, w, SFDTicks)
	if rx.ReadRSSI() != -40 {
		t.Errorf("Expected energy on the channel, got %d", rx.ReadRSSI())
	}
	run(t, w, 100)

	if len(got) != 1 || got[0].crc {
		t.Fatalf("Expected one corrupted frame, got %+v", got)
	}
	if md.Stats().Collisions != 1 {
		t.Errorf("Expected one collision, got %d", md.Stats().Collisions)
	}
	if a.Mode() != ModeIdle {
		t.Errorf("Expected the transmitter idle after the frame, got %s", a.Mode())
	}
}

func TestReceiverMustListenAtStartOfFrame(t *testing.T) {
	w := New(Config{Manual: true})
	defer w.Close()
	md := w.Medium()
	tx, rx := md.NewRadio(1), md.NewRadio(2)

	ends := 0
	rx.SetRxCallbacks(nil, func() { ends++ })
	tx.loaded = make([]byte, 10)
	tx.Transmit()
	run(t, w, SFDTicks+1)
	rx.Receive()
	run(t, w, 100)
	if ends != 0 {
		t.Error("Frame received without its start-of-frame")
	}
}

func TestDropModel(t *testing.T) {
	w := New(Config{Manual: true})
	defer w.Close()
	md := w.Medium()
	tx, rx := md.NewRadio(1), md.NewRadio(2)
	md.SetDrop(func(from, to *Radio, payload []byte) bool { return to == rx })

	starts := 0
	rx.SetRxCallbacks(func() { starts++ }, nil)
	rx.Receive()
	tx.loaded = []byte{byte(mac.TypeDQ), byte(dq.PacketFBP)}
	tx.Transmit()
	run(t, w, 100)
	if starts != 0 || md.Stats().Dropped != 1 {
		t.Errorf("Expected the frame dropped, got %d starts", starts)
	}
}

func TestIsFeedback(t *testing.T) {
	tests := []struct {
		payload []byte
		want    bool
	}{
		{[]byte{byte(mac.TypeDQ), byte(dq.PacketFBP)}, true},
		{[]byte{byte(mac.TypeDQ), byte(dq.PacketARP)}, false},
		{[]byte{byte(mac.TypeFSA), byte(mac.KindFBP)}, true},
		{[]byte{byte(mac.TypeFSA), byte(mac.KindACK)}, false},
		{[]byte{byte(mac.TypeDQ)}, false},
	}
	for _, tt := range tests {
		if got := IsFeedback(tt.payload); got != tt.want {
			t.Errorf("IsFeedback(%v): expected %v, got %v", tt.payload, tt.want, got)
		}
	}
}

func TestNodeResetsAfterEightMissedFeedback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nodes = 1
	cfg.Manual = true
	w := newWorld(t, cfg)
	node := w.Nodes()[0]

	run(t, w, uint64(dq.UnsyncErrors)*nodeListen-1)
	if got := node.Mote.Stats().Resets; got != 0 {
		t.Fatalf("Unexpected reset after %d misses", dq.UnsyncErrors-1)
	}
	run(t, w, uint64(dq.UnsyncErrors)*nodeListen)
	if got := node.Mote.Stats().Resets; got != 1 {
		t.Fatalf("Expected a reset on the %dth miss, got %d", dq.UnsyncErrors, got)
	}
	if node.Radio.Resets() == 0 {
		t.Error("Expected the radio reset")
	}
}

func TestNodeRecoversAfterSevenMissedFeedback(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nodes = 1
	cfg.Manual = true
	w := newWorld(t, cfg)
	node := w.Nodes()[0]

	late := uint64(dq.UnsyncErrors-1)*nodeListen + 100
	run(t, w, late)
	if err := w.StartExperiment(); err != nil {
		t.Fatalf("Failed to start experiment: %v", err)
	}
	run(t, w, late+40*round)

	if node.Mote.Stats().Resets != 0 {
		t.Fatal("Node reset although it heard the gateway within budget")
	}
	if !node.Mote.MAC().Synchronized() {
		t.Error("Expected the node synchronized")
	}
	if node.Mote.DQ().Vars().UnsyncBudget != dq.UnsyncErrors {
		t.Errorf("Expected the budget restored, got %d", node.Mote.DQ().Vars().UnsyncBudget)
	}
}

func TestDQNodesTrackGateway(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nodes = 3
	w := newWorld(t, cfg)

	var published []dq.Vars
	w.Gateway().Mote.DQ().SetRoundHook(func(v dq.Vars) { published = append(published, v) })
	inconsistent := 0
	for _, n := range w.Nodes() {
		n.Mote.DQ().SetRoundHook(func(v dq.Vars) {
			if v.CRQLocal != v.CRQGlobal || v.DTQLocal != v.DTQGlobal {
				inconsistent++
			}
		})
	}

	run(t, w, 60*round)

	if len(published) < 50 {
		t.Fatalf("Expected at least 50 gateway rounds, got %d", len(published))
	}
	if inconsistent != 0 {
		t.Errorf("Nodes diverged from the broadcast queues %d times", inconsistent)
	}
	for _, n := range w.Nodes() {
		st := n.Mote.DQ().Stats()
		if st.Missed != 0 || st.Resyncs != 0 {
			t.Errorf("Node %04x lost sync: %+v", n.Mote.Address(), st)
		}
		if st.DataSent == 0 {
			t.Errorf("Node %04x never reached the head of the data queue", n.Mote.Address())
		}
		if !n.Mote.MAC().Synchronized() {
			t.Errorf("Node %04x not synchronized", n.Mote.Address())
		}
	}

	frames, err := w.Gateway().Frames()
	if err != nil {
		t.Fatalf("Failed to decode gateway serial output: %v", err)
	}
	success := 0
	for _, f := range frames {
		if f.Command != serial.MsgData {
			continue
		}
		rec, err := dq.DecodeRecord(f.Payload)
		if err != nil {
			t.Fatalf("Failed to decode record: %v", err)
		}
		if rec.Data == mac.DataSuccess {
			success++
		}
	}
	if success == 0 {
		t.Error("Expected successful DATA slots in the gateway records")
	}
}

func TestFSAFrames(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Protocol = mac.TypeFSA
	cfg.Slots = 4
	w := newWorld(t, cfg)

	run(t, w, 30*4*216)

	gw := w.Gateway().Mote.FSA().Stats()
	if gw.Frames < 20 || gw.Success == 0 {
		t.Fatalf("Unexpected gateway stats %+v", gw)
	}
	acked := uint64(0)
	for _, n := range w.Nodes() {
		st := n.Mote.FSA().Stats()
		if st.Missed != 0 || st.Sent == 0 {
			t.Errorf("Node %04x: %+v", n.Mote.Address(), st)
		}
		acked += st.Acked
	}
	// The last frame's ACK may still be on the air.
	if acked > gw.Success || gw.Success-acked > 1 {
		t.Errorf("Expected every gateway success acknowledged, got %d acks for %d", acked, gw.Success)
	}
}

func TestLossyFeedbackStaysWithinBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Loss = 0.2
	cfg.Seed = 3
	w := newWorld(t, cfg)

	run(t, w, 100*round)
	if w.Medium().Stats().Dropped == 0 {
		t.Fatal("Expected dropped feedback packets")
	}
	for _, n := range w.Nodes() {
		if n.Mote.Stats().Resets != 0 {
			t.Errorf("Node %04x reset under moderate loss", n.Mote.Address())
		}
	}
}

func TestWakeOnRadioHandOff(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Nodes = 2
	cfg.WakeOnRadio = true
	cfg.WOR.TxDuration = 1023
	cfg.WOR.RxPeriod = 512
	w := newWorld(t, cfg)

	run(t, w, 1000)
	for _, d := range w.Devices() {
		if d.Mote.MAC().Starts() != 0 {
			t.Fatalf("Device %04x started before the burst ended", d.Mote.Address())
		}
	}

	run(t, w, 1536+20*round)
	for _, d := range w.Devices() {
		if d.Mote.MAC().Starts() != 1 {
			t.Errorf("Device %04x: expected one MAC start, got %d", d.Mote.Address(), d.Mote.MAC().Starts())
		}
	}
	for _, n := range w.Nodes() {
		if n.Mote.WOR().Stats().Captured != 1 {
			t.Errorf("Node %04x did not capture a beacon", n.Mote.Address())
		}
		if !n.Mote.MAC().Synchronized() || n.Mote.MAC().Type() != mac.TypeDQ {
			t.Errorf("Node %04x not running DQ in sync", n.Mote.Address())
		}
	}
}
