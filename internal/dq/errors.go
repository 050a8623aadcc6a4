package dq

import "errors"

var (
	ErrShortPacket = errors.New("packet too short")
	ErrPacketType  = errors.New("unexpected packet type")
	ErrFieldRange  = errors.New("field out of range")
)
