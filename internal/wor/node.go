package wor

import (
	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/sat"
	"github.com/fentz26/dqmote/internal/vtimer"
)

func (e *Engine) nodeStart() {
	e.ind.On(board.PinSystem)
	e.ind.On(board.PinUser)

	e.radio.Idle()
	e.radio.SetChannel(e.cfg.Channel)
	e.radio.SetRxCallbacks(e.radioOn, e.nodeCapture)
	e.after(e.cfg.RxDuration, "timeout", e.nodeTimeout)
	e.radio.Receive()
	e.stats.Samples++

	e.ind.Off(board.PinUser)
}

// nodeCapture adopts the first valid beacon and stops listening.
func (e *Engine) nodeCapture() {
	rx := e.m.AcquireRx()
	e.radio.GetPacket(rx)
	if rx.CRC {
		if b, err := DecodeBeacon(rx.Payload()); err == nil {
			e.m.SetType(b.Type)
			e.m.SetChannel(b.Channel)
			e.m.SetTime(b.Time)
			e.radio.CancelRx()
			e.radio.Idle()
		}
	}
	e.radioOff()
}

func (e *Engine) nodeTimeout() {
	e.radio.Idle()
	e.radio.CancelRx()
	e.m.ReleaseRx()

	if e.m.Type() == mac.TypeNone {
		sleep := sat.Sub(sat.Sub(e.cfg.RxPeriod, e.cfg.RxDuration), 2*e.m.Timing().IdleRx)
		e.ind.Off(board.PinSystem)
		e.after(sleep, "start", e.nodeStart)
		return
	}
	e.stats.Captured++
	e.after(vtimer.KickNow, "done", e.nodeDone)
}

func (e *Engine) nodeDone() {
	e.ind.Off(board.PinSystem)
	e.after(uint32(e.m.Time())+NodeGuard, "handoff", e.handoff)
}
