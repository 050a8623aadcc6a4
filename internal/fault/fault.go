// Package fault defines the unrecoverable conditions of the mote core.
//
// Resource exhaustion and corrupted dispatch values are programming errors, not
// runtime faults: they are raised as a panic carrying an *Error and are only
// recovered at the very top of a mote (or by a test harness) via Catch.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies a fatal condition.
type Kind int

const (
	SchedulerOverflow Kind = iota + 1
	TimerOverflow
	BufferOverflow
	UnknownMAC
	UnknownPriority
	UnknownTimerType
)

func (k Kind) String() string {
	switch k {
	case SchedulerOverflow:
		return "scheduler overflow"
	case TimerOverflow:
		return "virtual timer overflow"
	case BufferOverflow:
		return "packet buffer overflow"
	case UnknownMAC:
		return "unknown mac type"
	case UnknownPriority:
		return "unknown task priority"
	case UnknownTimerType:
		return "unknown timer type"
	default:
		return fmt.Sprintf("fault(%d)", int(k))
	}
}

// Sentinel errors, one per Kind, for errors.Is matching.
var (
	ErrSchedulerOverflow = errors.New("scheduler overflow")
	ErrTimerOverflow     = errors.New("virtual timer overflow")
	ErrBufferOverflow    = errors.New("packet buffer overflow")
	ErrUnknownMAC        = errors.New("unknown mac type")
	ErrUnknownPriority   = errors.New("unknown task priority")
	ErrUnknownTimerType  = errors.New("unknown timer type")
)

var sentinels = map[Kind]error{
	SchedulerOverflow: ErrSchedulerOverflow,
	TimerOverflow:     ErrTimerOverflow,
	BufferOverflow:    ErrBufferOverflow,
	UnknownMAC:        ErrUnknownMAC,
	UnknownPriority:   ErrUnknownPriority,
	UnknownTimerType:  ErrUnknownTimerType,
}

// Error is the panic value of a fatal condition.
type Error struct {
	Kind   Kind
	Detail string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return "fatal: " + e.Kind.String()
	}
	return "fatal: " + e.Kind.String() + ": " + e.Detail
}

// Unwrap returns the sentinel matching the kind.
func (e *Error) Unwrap() error {
	return sentinels[e.Kind]
}

// Raise panics with a fatal error of the given kind.
func Raise(kind Kind, format string, args ...interface{}) {
	panic(&Error{Kind: kind, Detail: fmt.Sprintf(format, args...)})
}

// Catch runs fn and converts a fatal panic into an error. Panics that are not
// fatal conditions are re-raised.
func Catch(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			fe, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			err = fe
		}
	}()
	fn()
	return nil
}
