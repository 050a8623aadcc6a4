package wor

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fentz26/dqmote/internal/mac"
)

// BeaconSize is the encoded length of a beacon.
const BeaconSize = 5

var (
	ErrShortPacket = errors.New("packet too short")
	ErrPacketType  = errors.New("unexpected packet type")
)

// Beacon announces the protocol of the coming experiment, its channel and
// the ticks left in the burst.
type Beacon struct {
	Type    mac.Type
	Time    uint16
	Channel uint8
}

// Encode returns the beacon payload.
func (b *Beacon) Encode() []byte {
	p := make([]byte, BeaconSize)
	p[0] = byte(b.Type)
	p[1] = byte(mac.KindWOR)
	binary.LittleEndian.PutUint16(p[2:4], b.Time)
	p[4] = b.Channel
	return p
}

// DecodeBeacon parses a beacon payload.
func DecodeBeacon(p []byte) (Beacon, error) {
	var b Beacon
	if len(p) < BeaconSize {
		return b, fmt.Errorf("beacon: %w: %d bytes", ErrShortPacket, len(p))
	}
	if mac.Kind(p[1]) != mac.KindWOR {
		return b, fmt.Errorf("beacon: %w: %d", ErrPacketType, p[1])
	}
	b.Type = mac.Type(p[0])
	b.Time = binary.LittleEndian.Uint16(p[2:4])
	b.Channel = p[4]
	return b, nil
}
