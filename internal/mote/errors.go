package mote

import "errors"

var (
	ErrShortCommand = errors.New("command too short")
	ErrUnknownType  = errors.New("unknown mac type")
)
