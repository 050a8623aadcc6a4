package dq

import (
	"encoding/binary"
	"fmt"

	"github.com/fentz26/dqmote/internal/mac"
)

// PacketType is the second byte of every DQ frame.
type PacketType uint8

const (
	PacketNone PacketType = iota
	PacketWOR
	PacketFBP
	PacketARP
	PacketData
)

// Encoded sizes.
const (
	FBPSize    = 24
	ARPSize    = 4
	DataSize   = 125
	DataFill   = 116
	RecordSize = 31
)

// ARPState is the gateway's verdict on one ARP slot.
type ARPState uint8

const (
	ARPEmpty ARPState = iota
	ARPCollision
	ARPSuccess
)

func (s ARPState) String() string {
	switch s {
	case ARPCollision:
		return "collision"
	case ARPSuccess:
		return "success"
	default:
		return "empty"
	}
}

// ARPOutcome is one slot as broadcast in the FBP.
type ARPOutcome struct {
	State ARPState
	Token uint16
}

// FBP is the feedback packet broadcast by the gateway at the start of a round.
type FBP struct {
	MACType     mac.Type
	Source      uint16
	Destination uint16
	Seq         uint16
	ARP         [ARPCount]ARPOutcome
	Data        mac.DataState
	CRQ         uint16
	DTQ         uint16
	ARPCount    uint8
	NextChannel uint8
}

// Encode writes the FBP wire layout.
func (f *FBP) Encode() []byte {
	b := make([]byte, FBPSize)
	b[0] = byte(f.MACType)
	b[1] = byte(PacketFBP)
	binary.LittleEndian.PutUint16(b[2:4], f.Source)
	binary.LittleEndian.PutUint16(b[4:6], f.Destination)
	binary.LittleEndian.PutUint16(b[6:8], f.Seq)
	off := 8
	for _, a := range f.ARP {
		b[off] = byte(a.State)
		binary.LittleEndian.PutUint16(b[off+1:off+3], a.Token)
		off += 3
	}
	b[17] = byte(f.Data)
	binary.LittleEndian.PutUint16(b[18:20], f.CRQ)
	binary.LittleEndian.PutUint16(b[20:22], f.DTQ)
	b[22] = f.ARPCount
	b[23] = f.NextChannel
	return b
}

// DecodeFBP parses an FBP, rejecting short frames, other packet types and
// out-of-range slot states.
func DecodeFBP(b []byte) (FBP, error) {
	var f FBP
	if len(b) < FBPSize {
		return f, fmt.Errorf("fbp: %w: %d bytes", ErrShortPacket, len(b))
	}
	if PacketType(b[1]) != PacketFBP {
		return f, fmt.Errorf("fbp: %w: %d", ErrPacketType, b[1])
	}
	f.MACType = mac.Type(b[0])
	f.Source = binary.LittleEndian.Uint16(b[2:4])
	f.Destination = binary.LittleEndian.Uint16(b[4:6])
	f.Seq = binary.LittleEndian.Uint16(b[6:8])
	off := 8
	for i := range f.ARP {
		st := ARPState(b[off])
		if st > ARPSuccess {
			return f, fmt.Errorf("fbp: %w: arp%d state %d", ErrFieldRange, i+1, st)
		}
		f.ARP[i] = ARPOutcome{State: st, Token: binary.LittleEndian.Uint16(b[off+1 : off+3])}
		off += 3
	}
	f.Data = mac.DataState(b[17])
	if f.Data > mac.DataSuccess {
		return f, fmt.Errorf("fbp: %w: data state %d", ErrFieldRange, b[17])
	}
	f.CRQ = binary.LittleEndian.Uint16(b[18:20])
	f.DTQ = binary.LittleEndian.Uint16(b[20:22])
	f.ARPCount = b[22]
	f.NextChannel = b[23]
	return f, nil
}

// ARP is an access request. Token identifies the sender within the slot.
type ARP struct {
	MACType mac.Type
	Token   uint16
}

func (a *ARP) Encode() []byte {
	b := make([]byte, ARPSize)
	b[0] = byte(a.MACType)
	b[1] = byte(PacketARP)
	binary.LittleEndian.PutUint16(b[2:4], a.Token)
	return b
}

func DecodeARP(b []byte) (ARP, error) {
	var a ARP
	if len(b) < ARPSize {
		return a, fmt.Errorf("arp: %w: %d bytes", ErrShortPacket, len(b))
	}
	if PacketType(b[1]) != PacketARP {
		return a, fmt.Errorf("arp: %w: %d", ErrPacketType, b[1])
	}
	a.MACType = mac.Type(b[0])
	a.Token = binary.LittleEndian.Uint16(b[2:4])
	return a, nil
}

// Data is the payload packet. The node reports how long it waited.
type Data struct {
	MACType     mac.Type
	Source      uint16
	Destination uint16
	ARPTotal    uint8
	CRQWait     uint8
	DTQWait     uint8
	Fill        [DataFill]byte
}

func (d *Data) Encode() []byte {
	b := make([]byte, DataSize)
	b[0] = byte(d.MACType)
	b[1] = byte(PacketData)
	binary.LittleEndian.PutUint16(b[2:4], d.Source)
	binary.LittleEndian.PutUint16(b[4:6], d.Destination)
	b[6] = d.ARPTotal
	b[7] = d.CRQWait
	b[8] = d.DTQWait
	copy(b[9:], d.Fill[:])
	return b
}

func DecodeData(b []byte) (Data, error) {
	var d Data
	if len(b) < DataSize {
		return d, fmt.Errorf("data: %w: %d bytes", ErrShortPacket, len(b))
	}
	if PacketType(b[1]) != PacketData {
		return d, fmt.Errorf("data: %w: %d", ErrPacketType, b[1])
	}
	d.MACType = mac.Type(b[0])
	d.Source = binary.LittleEndian.Uint16(b[2:4])
	d.Destination = binary.LittleEndian.Uint16(b[4:6])
	d.ARPTotal = b[6]
	d.CRQWait = b[7]
	d.DTQWait = b[8]
	copy(d.Fill[:], b[9:DataSize])
	return d, nil
}

// Record is the per-round summary the gateway writes to the serial port.
type Record struct {
	MACType     mac.Type
	ARPState    [ARPCount]ARPState
	Data        mac.DataState
	ARPRSSI     [ARPCount]int8
	ARPTotal    uint8
	CRQWait     uint8
	DTQWait     uint8
	ARPToken    [ARPCount]uint16
	DataAddress uint16
	CRQLocal    uint16
	CRQGlobal   uint16
	PCRQ        uint16
	DTQLocal    uint16
	DTQGlobal   uint16
	PDTQ        uint16
}

func (r *Record) Encode() []byte {
	b := make([]byte, RecordSize)
	b[0] = byte(r.MACType)
	for i := 0; i < ARPCount; i++ {
		b[1+i] = byte(r.ARPState[i])
		b[5+i] = byte(r.ARPRSSI[i])
		binary.LittleEndian.PutUint16(b[11+2*i:], r.ARPToken[i])
	}
	b[4] = byte(r.Data)
	b[8] = r.ARPTotal
	b[9] = r.CRQWait
	b[10] = r.DTQWait
	binary.LittleEndian.PutUint16(b[17:19], r.DataAddress)
	binary.LittleEndian.PutUint16(b[19:21], r.CRQLocal)
	binary.LittleEndian.PutUint16(b[21:23], r.CRQGlobal)
	binary.LittleEndian.PutUint16(b[23:25], r.PCRQ)
	binary.LittleEndian.PutUint16(b[25:27], r.DTQLocal)
	binary.LittleEndian.PutUint16(b[27:29], r.DTQGlobal)
	binary.LittleEndian.PutUint16(b[29:31], r.PDTQ)
	return b
}

// DecodeRecord parses a gateway round record.
func DecodeRecord(b []byte) (Record, error) {
	var r Record
	if len(b) < RecordSize {
		return r, fmt.Errorf("record: %w: %d bytes", ErrShortPacket, len(b))
	}
	r.MACType = mac.Type(b[0])
	if r.MACType != mac.TypeDQ {
		return r, fmt.Errorf("record: %w: mac type %d", ErrPacketType, b[0])
	}
	for i := 0; i < ARPCount; i++ {
		r.ARPState[i] = ARPState(b[1+i])
		r.ARPRSSI[i] = int8(b[5+i])
		r.ARPToken[i] = binary.LittleEndian.Uint16(b[11+2*i:])
	}
	r.Data = mac.DataState(b[4])
	r.ARPTotal = b[8]
	r.CRQWait = b[9]
	r.DTQWait = b[10]
	r.DataAddress = binary.LittleEndian.Uint16(b[17:19])
	r.CRQLocal = binary.LittleEndian.Uint16(b[19:21])
	r.CRQGlobal = binary.LittleEndian.Uint16(b[21:23])
	r.PCRQ = binary.LittleEndian.Uint16(b[23:25])
	r.DTQLocal = binary.LittleEndian.Uint16(b[25:27])
	r.DTQGlobal = binary.LittleEndian.Uint16(b[27:29])
	r.PDTQ = binary.LittleEndian.Uint16(b[29:31])
	return r, nil
}
