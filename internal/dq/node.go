package dq

import (
	"log"

	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/sat"
	"github.com/fentz26/dqmote/internal/vtimer"
)

// Node round: fbp_init listens, then either the ARP slots, the DATA slot or
// straight to the next FBP.

func (e *Engine) nodeFBPInit() {
	e.phaseOn()
	defer e.ind.Off(board.PinUser)

	e.m.SetPacket(mac.KindNone)
	e.m.ReleaseRx()

	e.radio.SetRxCallbacks(e.nodeFBPStart, e.capture)
	e.listenID = e.after(e.cfg.Timing.FBPListen(), "fbp_done", e.nodeFBPDone)
	e.radio.Receive()
}

// nodeFBPStart runs at the FBP start-of-frame and moves the end of the
// listen window to the end of the frame.
func (e *Engine) nodeFBPStart() {
	e.radioOn()
	id := e.after(e.cfg.Timing.FBPRetime(), "fbp_done", e.nodeFBPDone)
	e.timers.Stop(e.listenID)
	e.listenID = id
}

func (e *Engine) nodeFBPDone() {
	e.ind.On(board.PinUser)
	defer e.phaseOff()

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

	synced := e.m.Synchronized()
	e.m.ToggleSynchronized(mac.StateSync)
	e.m.SetPacket(mac.KindFBP)
	e.vars.UnsyncBudget = e.cfg.UnsyncErrors
	e.vars.Adopt(&f)

	if synced {
		e.vars.ApplyRules()
	} else {
		e.vars.Resync()
	}

	if !e.vars.Check() {
		e.m.ToggleSynchronized(mac.StateUnsync)
		e.radio.CancelRx()
		e.radio.CancelTx()
		e.vars.clearRequest()
		e.stats.Resyncs++
		e.after(vtimer.KickNow, "fbp_init", e.nodeFBPInit)
		return
	}

	e.vars.UpdatePositions()
	if e.vars.CRQLocal != 0 {
		e.vars.CRQWait++
	} else if e.vars.DTQLocal != 0 {
		e.vars.DTQWait++
	}

	e.stats.Rounds++
	if e.hook != nil {
		e.hook(e.vars)
	}

	switch {
	case e.vars.CanRequest():
		e.vars.ARPSelected = uint8(e.random.Get() % ARPCount)
		e.vars.ARPTransmitted = true
		e.vars.ARPIndex = 0
		e.vars.ARPToken = e.address
		e.stats.Requests++
		e.after(e.cfg.Timing.FBPToARP(e.vars.ARPSelected == 0), "arp_init", e.nodeARPInit)
	case e.vars.CanTransmit():
		e.vars.clearRequest()
		e.after(e.cfg.Timing.FBPToData(), "data_init", e.nodeDataInit)
	default:
		e.vars.clearRequest()
		e.after(e.cfg.Timing.FBPToNextFBP(), "fbp_init", e.nodeFBPInit)
	}
}

// nodeMissedFBP spends one unit of the unsync budget. Running out resets the
// radio and the device; otherwise the node listens again straight away.
func (e *Engine) nodeMissedFBP() {
	e.m.ToggleSynchronized(mac.StateUnsync)
	e.radio.CancelRx()
	e.radio.CancelTx()
	e.stats.Missed++

	e.vars.UnsyncBudget = sat.Dec(e.vars.UnsyncBudget)
	if e.vars.UnsyncBudget == 0 {
		log.Printf("dq: node %04x missed %d feedback packets, resetting", e.address, e.cfg.UnsyncErrors)
		e.radio.Reset()
		if e.reset != nil {
			e.reset()
		}
		return
	}
	e.after(vtimer.KickNow, "fbp_init", e.nodeFBPInit)
}

func (e *Engine) nodeARPInit() {
	e.phaseOn()
	defer e.ind.Off(board.PinUser)

	if e.vars.ARPIndex == e.vars.ARPSelected {
		a := ARP{MACType: mac.TypeDQ, Token: e.vars.ARPToken}
		e.vars.ARPTotal++
		e.transmit(a.Encode())
		e.m.SetPacket(mac.KindARP)
	}

	e.after(ARPDuration, "arp_done", e.nodeARPDone)
}

func (e *Engine) nodeARPDone() {
	e.ind.On(board.PinUser)
	defer e.phaseOff()

	e.radio.Idle()
	e.radio.CancelTx()
	e.m.ReleaseTx()

	e.vars.ARPIndex++
	switch {
	case e.vars.ARPIndex >= ARPCount:
		e.after(e.cfg.Timing.LastARPToFBP(), "fbp_init", e.nodeFBPInit)
	case e.vars.ARPIndex == e.vars.ARPSelected:
		e.after(e.cfg.Timing.ARPToARP(true), "arp_init", e.nodeARPInit)
	default:
		e.after(e.cfg.Timing.ARPToARP(false), "arp_init", e.nodeARPInit)
	}
}

func (e *Engine) nodeDataInit() {
	e.phaseOn()
	defer e.ind.Off(board.PinUser)

	d := Data{
		MACType:     mac.TypeDQ,
		Source:      e.address,
		Destination: mac.AddrBroadcast,
		ARPTotal:    e.vars.ARPTotal,
		CRQWait:     e.vars.CRQWait,
		DTQWait:     e.vars.DTQWait,
	}
	fill := byte(e.random.Get())
	for i := range d.Fill {
		d.Fill[i] = fill
	}
	e.vars.ARPTotal = 0
	e.vars.CRQWait = 0
	e.vars.DTQWait = 0

	e.transmit(d.Encode())
	e.m.SetPacket(mac.KindData)
	e.stats.DataSent++

	e.after(DataDuration, "data_done", e.nodeDataDone)
}

func (e *Engine) nodeDataDone() {
	e.ind.On(board.PinUser)
	defer e.phaseOff()

	e.radio.Idle()
	e.radio.CancelTx()
	e.m.ReleaseTx()

	e.after(e.cfg.Timing.DataToFBP(), "fbp_init", e.nodeFBPInit)
}
