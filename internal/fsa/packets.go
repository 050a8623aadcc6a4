package fsa

import (
	"encoding/binary"
	"fmt"

	"github.com/fentz26/dqmote/internal/mac"
)

// Encoded sizes.
const (
	FBPSize    = 10
	DataSize   = 125
	DataFill   = 118
	ACKSize    = 7
	RecordSize = 7
)

func header(b []byte, kind mac.Kind, name string, size int) error {
	if len(b) < size {
		return fmt.Errorf("%s: %w: %d bytes", name, ErrShortPacket, len(b))
	}
	if mac.Type(b[0]) != mac.TypeFSA || mac.Kind(b[1]) != kind {
		return fmt.Errorf("%s: %w: %d/%d", name, ErrPacketType, b[0], b[1])
	}
	return nil
}

// FBP opens a frame and announces its slot count.
type FBP struct {
	Source      uint16
	Destination uint16
	Seq         uint16
	NextChannel uint8
	Slots       uint8
}

func (f *FBP) Encode() []byte {
	b := make([]byte, FBPSize)
	b[0] = byte(mac.TypeFSA)
	b[1] = byte(mac.KindFBP)
	binary.LittleEndian.PutUint16(b[2:4], f.Source)
	binary.LittleEndian.PutUint16(b[4:6], f.Destination)
	binary.LittleEndian.PutUint16(b[6:8], f.Seq)
	b[8] = f.NextChannel
	b[9] = f.Slots
	return b
}

// DecodeFBP parses an FBP. A frame without slots is rejected.
func DecodeFBP(b []byte) (FBP, error) {
	var f FBP
	if err := header(b, mac.KindFBP, "fbp", FBPSize); err != nil {
		return f, err
	}
	f.Source = binary.LittleEndian.Uint16(b[2:4])
	f.Destination = binary.LittleEndian.Uint16(b[4:6])
	f.Seq = binary.LittleEndian.Uint16(b[6:8])
	f.NextChannel = b[8]
	f.Slots = b[9]
	if f.Slots == 0 {
		return f, fmt.Errorf("fbp: %w: no slots", ErrFieldRange)
	}
	return f, nil
}

// Data carries the node's count of transmitted packets.
type Data struct {
	Source      uint16
	Destination uint16
	Total       uint8
	Fill        [DataFill]byte
}

func (d *Data) Encode() []byte {
	b := make([]byte, DataSize)
	b[0] = byte(mac.TypeFSA)
	b[1] = byte(mac.KindData)
	binary.LittleEndian.PutUint16(b[2:4], d.Source)
	binary.LittleEndian.PutUint16(b[4:6], d.Destination)
	b[6] = d.Total
	copy(b[7:], d.Fill[:])
	return b
}

func DecodeData(b []byte) (Data, error) {
	var d Data
	if err := header(b, mac.KindData, "data", DataSize); err != nil {
		return d, err
	}
	d.Source = binary.LittleEndian.Uint16(b[2:4])
	d.Destination = binary.LittleEndian.Uint16(b[4:6])
	d.Total = b[6]
	copy(d.Fill[:], b[7:DataSize])
	return d, nil
}

// ACK reports the outcome of a slot to its sender.
type ACK struct {
	Source      uint16
	Destination uint16
	State       mac.DataState
}

func (a *ACK) Encode() []byte {
	b := make([]byte, ACKSize)
	b[0] = byte(mac.TypeFSA)
	b[1] = byte(mac.KindACK)
	binary.LittleEndian.PutUint16(b[2:4], a.Source)
	binary.LittleEndian.PutUint16(b[4:6], a.Destination)
	b[6] = byte(a.State)
	return b
}

func DecodeACK(b []byte) (ACK, error) {
	var a ACK
	if err := header(b, mac.KindACK, "ack", ACKSize); err != nil {
		return a, err
	}
	a.Source = binary.LittleEndian.Uint16(b[2:4])
	a.Destination = binary.LittleEndian.Uint16(b[4:6])
	a.State = mac.DataState(b[6])
	if a.State > mac.DataSuccess {
		return a, fmt.Errorf("ack: %w: state %d", ErrFieldRange, b[6])
	}
	return a, nil
}

// Record is the per-slot summary the gateway writes to the serial port.
type Record struct {
	Slot    uint8
	State   mac.DataState
	Address uint16
	RSSI    int8
	Total   uint8
}

func (r *Record) Encode() []byte {
	b := make([]byte, RecordSize)
	b[0] = byte(mac.TypeFSA)
	b[1] = r.Slot
	b[2] = byte(r.State)
	binary.LittleEndian.PutUint16(b[3:5], r.Address)
	b[5] = byte(r.RSSI)
	b[6] = r.Total
	return b
}

func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if len(b) < RecordSize {
		return r, fmt.Errorf("record: %w: %d bytes", ErrShortPacket, len(b))
	}
	if mac.Type(b[0]) != mac.TypeFSA {
		return r, fmt.Errorf("record: %w: mac type %d", ErrPacketType, b[0])
	}
	r.Slot = b[1]
	r.State = mac.DataState(b[2])
	r.Address = binary.LittleEndian.Uint16(b[3:5])
	r.RSSI = int8(b[5])
	r.Total = b[6]
	return r, nil
}
