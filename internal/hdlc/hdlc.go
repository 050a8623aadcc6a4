// Package hdlc frames serial messages between a mote and its host.
//
// A frame is FLAG | COMMAND | ADDR_HI | ADDR_LO | payload | CRC_HI | CRC_LO | FLAG.
// FLAG and ESCAPE bytes between the delimiters are sent as ESCAPE, byte^MASK.
// The CRC-16 covers the unescaped command, address and payload bytes.
package hdlc

import (
	"errors"

	"github.com/sigurn/crc16"
)

const (
	Flag   byte = 0x7E
	Escape byte = 0x7D
	Mask   byte = 0x20

	// HeaderSize is command plus 16-bit address.
	HeaderSize = 3
	// CRCSize is the trailing checksum.
	CRCSize = 2
	// MaxPayload bounds the payload of one frame.
	MaxPayload = 128
	// MaxFrame bounds a decoded frame (header, payload and CRC).
	MaxFrame = HeaderSize + MaxPayload + CRCSize
)

var (
	ErrCRC        = errors.New("hdlc: crc mismatch")
	ErrShortFrame = errors.New("hdlc: frame too short")
	ErrOverflow   = errors.New("hdlc: frame too long")
)

var table = crc16.MakeTable(crc16.CRC16_CCITT_FALSE)

// Checksum returns the CRC-16 of data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, table)
}

// Frame is a decoded message.
type Frame struct {
	Command byte
	Address uint16
	Payload []byte
}

// Encode builds the wire bytes of a frame.
func Encode(cmd byte, addr uint16, payload []byte) []byte {
	raw := make([]byte, 0, HeaderSize+len(payload)+CRCSize)
	raw = append(raw, cmd, byte(addr>>8), byte(addr))
	raw = append(raw, payload...)
	crc := Checksum(raw)
	raw = append(raw, byte(crc>>8), byte(crc))

	out := make([]byte, 0, len(raw)*2+2)
	out = append(out, Flag)
	for _, b := range raw {
		if b == Flag || b == Escape {
			out = append(out, Escape, b^Mask)
			continue
		}
		out = append(out, b)
	}
	return append(out, Flag)
}

// Decoder reassembles frames from a byte stream.
type Decoder struct {
	buf      []byte
	inFrame  bool
	escaping bool
	dropping bool
	last     byte
}

// NewDecoder creates a decoder waiting for an opening flag.
func NewDecoder() *Decoder {
	return &Decoder{buf: make([]byte, 0, MaxFrame)}
}

// Put feeds one byte. It returns done when a closing flag completes a frame;
// err reports a frame that was delimited but failed validation.
func (d *Decoder) Put(b byte) (f Frame, done bool, err error) {
	defer func() { d.last = b }()

	if !d.inFrame {
		if d.last == Flag && b != Flag {
			d.inFrame = true
			d.dropping = false
			d.buf = d.buf[:0]
			d.escaping = false
			d.add(b)
		}
		return Frame{}, false, nil
	}

	if b == Flag {
		d.inFrame = false
		if d.dropping {
			return Frame{}, true, ErrOverflow
		}
		f, err = d.finish()
		return f, true, err
	}

	d.add(b)
	return Frame{}, false, nil
}

func (d *Decoder) add(b byte) {
	if d.dropping {
		return
	}
	if b == Escape {
		d.escaping = true
		return
	}
	if d.escaping {
		b ^= Mask
		d.escaping = false
	}
	if len(d.buf) >= MaxFrame {
		d.dropping = true
		return
	}
	d.buf = append(d.buf, b)
}

func (d *Decoder) finish() (Frame, error) {
	if len(d.buf) < HeaderSize+CRCSize {
		return Frame{}, ErrShortFrame
	}
	body := d.buf[:len(d.buf)-CRCSize]
	want := uint16(d.buf[len(d.buf)-2])<<8 | uint16(d.buf[len(d.buf)-1])
	if Checksum(body) != want {
		return Frame{}, ErrCRC
	}

	payload := make([]byte, len(body)-HeaderSize)
	copy(payload, body[HeaderSize:])
	return Frame{
		Command: body[0],
		Address: uint16(body[1])<<8 | uint16(body[2]),
		Payload: payload,
	}, nil
}

// Decode parses every complete frame in data. Invalid frames are skipped and
// the first error is returned alongside the valid frames.
func Decode(data []byte) ([]Frame, error) {
	d := NewDecoder()
	var frames []Frame
	var first error
	for _, b := range data {
		f, done, err := d.Put(b)
		if !done {
			continue
		}
		if err != nil {
			if first == nil {
				first = err
			}
			continue
		}
		frames = append(frames, f)
	}
	return frames, first
}
