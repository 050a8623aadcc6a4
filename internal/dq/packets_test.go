package dq

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fentz26/dqmote/internal/mac"
)

func TestFBPLayout(t *testing.T) {
	f := FBP{
		MACType:     mac.TypeDQ,
		Source:      0x0102,
		Destination: mac.AddrBroadcast,
		Seq:         7,
		ARP: [ARPCount]ARPOutcome{
			{State: ARPSuccess, Token: 0xb59a},
			{State: ARPCollision},
			{State: ARPEmpty},
		},
		Data:        mac.DataError,
		CRQ:         2,
		DTQ:         0x0300,
		ARPCount:    3,
		NextChannel: 26,
	}
	want := []byte{
		2, 2, 0x02, 0x01, 0xff, 0xff, 7, 0,
		2, 0x9a, 0xb5,
		1, 0, 0,
		0, 0, 0,
		1, 2, 0, 0x00, 0x03, 3, 26,
	}
	got := f.Encode()
	if !bytes.Equal(got, want) {
		t.Fatalf("Unexpected encoding\n got %v\nwant %v", got, want)
	}

	back, err := DecodeFBP(got)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if back != f {
		t.Errorf("Expected %+v, got %+v", f, back)
	}
}

func TestDecodeRejects(t *testing.T) {
	arp := (&ARP{MACType: mac.TypeDQ, Token: 1}).Encode()
	fbp := (&FBP{MACType: mac.TypeDQ}).Encode()
	badState := (&FBP{MACType: mac.TypeDQ}).Encode()
	badState[11] = 9

	tests := []struct {
		name   string
		decode func() error
		want   error
	}{
		{"short fbp", func() error { _, err := DecodeFBP(fbp[:10]); return err }, ErrShortPacket},
		{"arp as fbp", func() error { _, err := DecodeFBP(append(arp, make([]byte, FBPSize)...)); return err }, ErrPacketType},
		{"fbp slot state", func() error { _, err := DecodeFBP(badState); return err }, ErrFieldRange},
		{"short arp", func() error { _, err := DecodeARP(arp[:3]); return err }, ErrShortPacket},
		{"fbp as arp", func() error { _, err := DecodeARP(fbp); return err }, ErrPacketType},
		{"arp as data", func() error { _, err := DecodeData(append(arp, make([]byte, DataSize)...)); return err }, ErrPacketType},
		{"short record", func() error { _, err := DecodeRecord(make([]byte, 30)); return err }, ErrShortPacket},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.decode(); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestDataRoundTrip(t *testing.T) {
	d := Data{MACType: mac.TypeDQ, Source: 0x42, Destination: mac.AddrBroadcast, ARPTotal: 2, CRQWait: 3, DTQWait: 1}
	for i := range d.Fill {
		d.Fill[i] = 0x5a
	}
	b := d.Encode()
	if len(b) != DataSize {
		t.Fatalf("Expected %d bytes, got %d", DataSize, len(b))
	}
	back, err := DecodeData(b)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if back != d {
		t.Errorf("Expected %+v, got %+v", d, back)
	}
}

func TestRecordLayout(t *testing.T) {
	r := Record{
		MACType:     mac.TypeDQ,
		ARPState:    [ARPCount]ARPState{ARPSuccess, ARPCollision, ARPEmpty},
		Data:        mac.DataSuccess,
		ARPRSSI:     [ARPCount]int8{-40, -60, -100},
		ARPTotal:    1,
		CRQWait:     2,
		DTQWait:     3,
		ARPToken:    [ARPCount]uint16{0x0a0b, 0, 0},
		DataAddress: 0x0c0d,
		CRQLocal:    1,
		CRQGlobal:   1,
		DTQLocal:    4,
		DTQGlobal:   4,
		PDTQ:        0x0100,
	}
	b := r.Encode()
	if len(b) != RecordSize {
		t.Fatalf("Expected %d bytes, got %d", RecordSize, len(b))
	}
	if b[5] != 0xd8 || b[11] != 0x0b || b[12] != 0x0a || b[17] != 0x0d || b[30] != 0x01 {
		t.Errorf("Unexpected field placement %v", b)
	}
	back, err := DecodeRecord(b)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if back != r {
		t.Errorf("Expected %+v, got %+v", r, back)
	}
}
