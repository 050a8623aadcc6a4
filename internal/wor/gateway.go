package wor

import (
	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/sat"
	"github.com/fentz26/dqmote/internal/vtimer"
)

func (e *Engine) gatewayStart() {
	e.ind.On(board.PinSystem)
	e.ind.On(board.PinUser)

	b := Beacon{Type: e.m.Type(), Time: e.m.Time(), Channel: e.m.Channel()}
	tx := e.m.AcquireTx()
	tx.SetPayload(b.Encode())

	e.radio.Idle()
	e.radio.SetChannel(e.cfg.Channel)
	e.radio.SetTxCallbacks(e.radioOn, e.radioOff)
	e.radio.PutPacket(tx)
	e.radio.Transmit()
	e.stats.Beacons++

	period := sat.Sub(sat.Sub(uint32(e.cfg.TxPeriod), e.m.Timing().IdleTx), e.cfg.Prepare)
	e.after(period, "tx_done", e.gatewayTxDone)
	e.ind.Off(board.PinUser)
}

func (e *Engine) gatewayTxDone() {
	e.radio.Idle()
	e.radio.CancelTx()
	e.m.ReleaseTx()

	e.packets = sat.Dec(e.packets)
	e.duration = sat.Sub(e.duration, e.cfg.TxPeriod)
	e.m.SetTime(e.duration)

	if e.packets != 0 {
		e.after(vtimer.KickNow, "start", e.gatewayStart)
		return
	}
	e.ind.Off(board.PinSystem)
	e.after(GatewayGuard, "done", e.handoff)
}
