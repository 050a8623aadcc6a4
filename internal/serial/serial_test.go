package serial

import (
	"bytes"
	"testing"

	"github.com/fentz26/dqmote/internal/hdlc"
	"github.com/fentz26/dqmote/internal/scheduler"
)

func TestPushMessageWritesFrame(t *testing.T) {
	var out bytes.Buffer
	s := scheduler.New(nil)
	tr := New(&out, 0xb59a, s)
	defer tr.Close()

	tr.PushMessage(MsgData, []byte{1, 2, 3})
	tr.PushMessage(MsgReset, nil)
	if !tr.Busy() {
		t.Error("Expected queued frames before the flush task runs")
	}
	if n := s.RunPending(); n != 1 {
		t.Errorf("Expected a single flush task, got %d", n)
	}

	frames, err := hdlc.Decode(out.Bytes())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0].Command != MsgData || frames[0].Address != 0xb59a || !bytes.Equal(frames[0].Payload, []byte{1, 2, 3}) {
		t.Errorf("Unexpected first frame %+v", frames[0])
	}
	if frames[1].Command != MsgReset {
		t.Errorf("Unexpected second frame %+v", frames[1])
	}
	if st := tr.Stats(); st.Sent != 2 {
		t.Errorf("Expected 2 sent, got %d", st.Sent)
	}
}

func TestFeedDispatchesToHandler(t *testing.T) {
	s := scheduler.New(nil)
	tr := New(&bytes.Buffer{}, 1, s)
	defer tr.Close()

	var got []Message
	tr.Register(MsgStart, scheduler.PriorityMax, func(m Message) { got = append(got, m) })

	tr.Write(hdlc.Encode(MsgStart, 0x0001, []byte{2, 3, 0x00, 0x10}))
	tr.Write(hdlc.Encode(MsgStop, 0x0001, nil))
	s.RunPending()

	if len(got) != 1 {
		t.Fatalf("Expected 1 start message, got %d", len(got))
	}
	if !bytes.Equal(got[0].Data, []byte{2, 3, 0x00, 0x10}) {
		t.Errorf("Unexpected data %v", got[0].Data)
	}
	if st := tr.Stats(); st.Received != 2 {
		t.Errorf("Expected 2 received, got %d", st.Received)
	}
}

func TestFeedCountsInvalidFrames(t *testing.T) {
	s := scheduler.New(nil)
	tr := New(&bytes.Buffer{}, 1, s)
	defer tr.Close()

	wire := hdlc.Encode(MsgStart, 1, []byte{9, 9})
	wire[3] ^= 0x04
	tr.Write(wire)
	s.RunPending()

	if st := tr.Stats(); st.Invalid != 1 || st.Received != 0 {
		t.Errorf("Unexpected stats %+v", st)
	}
}

func TestPushMessageLargestPayloadRoundTrips(t *testing.T) {
	var out bytes.Buffer
	s := scheduler.New(nil)
	tr := New(&out, 0x0002, s)
	defer tr.Close()

	payload := make([]byte, BufferSize+4)
	for i := range payload {
		payload[i] = byte(i) | 0x70
	}
	tr.PushMessage(MsgData, payload)
	s.RunPending()

	frames, err := hdlc.Decode(out.Bytes())
	if err != nil {
		t.Fatalf("Failed to decode %d bytes: %v", out.Len(), err)
	}
	if len(frames) != 1 {
		t.Fatalf("Expected 1 frame, got %d", len(frames))
	}
	if !bytes.Equal(frames[0].Payload, payload[:BufferSize]) {
		t.Errorf("Expected the payload truncated to %d bytes, got %d", BufferSize, len(frames[0].Payload))
	}

	rx := New(&bytes.Buffer{}, 0x0002, s)
	defer rx.Close()
	var got []Message
	rx.Register(MsgData, scheduler.PriorityMax, func(m Message) { got = append(got, m) })
	rx.Write(out.Bytes())
	s.RunPending()
	if len(got) != 1 || len(got[0].Data) != BufferSize {
		t.Errorf("Expected the full payload delivered, got %d messages", len(got))
	}
}
