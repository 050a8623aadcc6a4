package hdlc

import (
	"bytes"
	"errors"
	"math/rand"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		cmd     byte
		addr    uint16
		payload []byte
	}{
		{"empty", 'D', 0x0001, nil},
		{"plain", 'A', 0x1234, []byte{1, 2, 3, 4}},
		{"flags", 'D', 0x7e7d, []byte{Flag, Escape, Flag, Flag, 0x5e, 0x5d}},
		{"all escape", Escape, 0x7d7d, bytes.Repeat([]byte{Escape}, 40)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := Decode(Encode(tt.cmd, tt.addr, tt.payload))
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(frames) != 1 {
				t.Fatalf("Expected 1 frame, got %d", len(frames))
			}
			f := frames[0]
			if f.Command != tt.cmd || f.Address != tt.addr {
				t.Errorf("Header mismatch: %+v", f)
			}
			if !bytes.Equal(f.Payload, tt.payload) && !(len(f.Payload) == 0 && len(tt.payload) == 0) {
				t.Errorf("Payload mismatch: %x vs %x", f.Payload, tt.payload)
			}
		})
	}
}

func TestRoundTripRandom(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 500; i++ {
		payload := make([]byte, rng.Intn(MaxPayload+1))
		for j := range payload {
			// Bias towards the reserved bytes.
			switch rng.Intn(4) {
			case 0:
				payload[j] = Flag
			case 1:
				payload[j] = Escape
			default:
				payload[j] = byte(rng.Intn(256))
			}
		}
		addr := uint16(rng.Intn(1 << 16))
		frames, err := Decode(Encode('D', addr, payload))
		if err != nil || len(frames) != 1 {
			t.Fatalf("iteration %d: err=%v frames=%d", i, err, len(frames))
		}
		if !bytes.Equal(frames[0].Payload, payload) || frames[0].Address != addr {
			t.Fatalf("iteration %d: mismatch", i)
		}
	}
}

func TestEncodedBodyHasNoFlags(t *testing.T) {
	wire := Encode(Flag, 0x7e7e, []byte{Flag, Escape})
	body := wire[1 : len(wire)-1]
	if bytes.IndexByte(body, Flag) >= 0 {
		t.Errorf("Flag byte leaked into frame body: %x", wire)
	}
}

func TestSingleBitFlipDetected(t *testing.T) {
	payload := []byte("distributed queuing round 42")
	wire := Encode('D', 0xb59a, payload)

	for i := 1; i < len(wire)-1; i++ {
		for bit := 0; bit < 8; bit++ {
			corrupt := append([]byte(nil), wire...)
			corrupt[i] ^= 1 << bit
			frames, _ := Decode(corrupt)
			for _, f := range frames {
				if f.Command == 'D' && f.Address == 0xb59a && bytes.Equal(f.Payload, payload) {
					continue
				}
				t.Fatalf("byte %d bit %d: corrupted frame accepted: %+v", i, bit, f)
			}
		}
	}
}

func TestCRCMismatch(t *testing.T) {
	wire := Encode('D', 1, []byte{0x10, 0x20})
	wire[len(wire)-2] ^= 0x01
	_, err := Decode(wire)
	if !errors.Is(err, ErrCRC) {
		t.Errorf("Expected ErrCRC, got %v", err)
	}
}

func TestShortFrame(t *testing.T) {
	_, err := Decode([]byte{Flag, 'D', 0x00, Flag})
	if !errors.Is(err, ErrShortFrame) {
		t.Errorf("Expected ErrShortFrame, got %v", err)
	}
}

func TestOverflow(t *testing.T) {
	data := append([]byte{Flag}, bytes.Repeat([]byte{0x11}, MaxFrame+10)...)
	data = append(data, Flag)
	data = append(data, Encode('D', 2, []byte{9})...)

	frames, err := Decode(data)
	if !errors.Is(err, ErrOverflow) {
		t.Errorf("Expected ErrOverflow, got %v", err)
	}
	if len(frames) != 1 || frames[0].Address != 2 {
		t.Errorf("Expected decoder to recover for the next frame, got %+v", frames)
	}
}

func TestBackToBackFrames(t *testing.T) {
	var stream []byte
	for i := 0; i < 5; i++ {
		stream = append(stream, Encode('D', uint16(i), []byte{byte(i)})...)
	}
	frames, err := Decode(stream)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(frames) != 5 {
		t.Fatalf("Expected 5 frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Address != uint16(i) {
			t.Errorf("Frame %d has address %d", i, f.Address)
		}
	}
}
