package fsa

import (
	"log"

	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/sat"
	"github.com/fentz26/dqmote/internal/vtimer"
)

func (e *Engine) nodeFBPInit() {
	e.ind.On(board.PinSystem)
	e.m.SetPacket(mac.KindNone)
	e.m.ReleaseRx()

	e.radio.SetRxCallbacks(e.nodeFBPStart, e.capture)
	e.listenID = e.after(e.cfg.Timing.FBPListen(), "fbp_done", e.nodeFBPDone)
	e.radio.Receive()
}

func (e *Engine) nodeFBPStart() {
	e.radioOn()
	e.timers.Stop(e.listenID)
	e.listenID = e.after(e.cfg.Timing.FBPRetime(), "fbp_done", e.nodeFBPDone)
}

func (e *Engine) nodeFBPDone() {
	e.radio.Idle()
	e.radio.CancelRx()

	var (
		f   FBP
		err = ErrShortPacket
	)
	if rx := e.m.Rx(); rx != nil && rx.CRC {
		f, err = DecodeFBP(rx.Payload())
	}
	e.m.ReleaseRx()

	if err != nil {
		e.nodeMissedFBP()
		return
	}

	e.m.ToggleSynchronized(mac.StateSync)
	e.m.SetPacket(mac.KindFBP)
	e.m.SetChannel(f.NextChannel)
	e.budget = e.cfg.UnsyncErrors
	e.stats.Frames++

	e.slots = f.Slots
	e.selected = uint8(e.random.Get() % uint16(e.slots))
	e.remaining = e.slots - e.selected - 1
	e.acked = false

	e.after(e.cfg.Timing.FBPToData(e.selected), "data_init", e.nodeDataInit)
}

func (e *Engine) nodeMissedFBP() {
	e.m.ToggleSynchronized(mac.StateUnsync)
	e.radio.CancelRx()
	e.radio.CancelTx()
	e.stats.Missed++
	e.ind.Off(board.PinSystem)

	e.budget = sat.Dec(e.budget)
	if e.budget == 0 {
		log.Printf("fsa: node %04x missed %d frames, resetting", e.address, e.cfg.UnsyncErrors)
		e.radio.Reset()
		if e.reset != nil {
			e.reset()
		}
		return
	}
	e.after(vtimer.KickNow, "fbp_init", e.nodeFBPInit)
}

func (e *Engine) nodeDataInit() {
	e.total++
	d := Data{Source: e.address, Destination: mac.AddrBroadcast, Total: e.total}
	fill := byte(e.random.Get())
	for i := range d.Fill {
		d.Fill[i] = fill
	}
	e.transmit(d.Encode())
	e.m.SetPacket(mac.KindData)
	e.stats.Sent++

	e.after(e.cfg.Timing.DataHold(), "data_done", e.nodeDataDone)
}

func (e *Engine) nodeDataDone() {
	e.radio.Idle()
	e.radio.CancelTx()
	e.m.ReleaseTx()

	e.after(e.cfg.Timing.DataToACKListen(), "ack_init", e.nodeACKInit)
}

func (e *Engine) nodeACKInit() {
	e.radio.SetRxCallbacks(e.radioOn, e.capture)
	e.radio.Receive()
	e.after(e.cfg.Timing.ACKListen(), "ack_done", e.nodeACKDone)
}

func (e *Engine) nodeACKDone() {
	e.radio.Idle()
	e.radio.CancelRx()

	if rx := e.m.Rx(); rx != nil {
		if !rx.CRC {
			e.m.ToggleSynchronized(mac.StateUnsync)
		} else if a, err := DecodeACK(rx.Payload()); err == nil {
			e.acked = a.State == mac.DataSuccess && a.Destination == e.address
		}
	}
	e.m.ReleaseRx()
	if e.acked {
		e.stats.Acked++
	}

	e.ind.Off(board.PinSystem)
	e.after(e.cfg.Timing.ACKToFBP(e.remaining), "fbp_init", e.nodeFBPInit)
}
