package dq

import (
	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/serial"
)

// Gateway round: fbp_init, fbp_done, three times arp_init/arp_rssi/arp_done,
// data_init, data_done.

func (e *Engine) gatewayFBPInit() {
	e.phaseOn()
	defer e.ind.Off(board.PinUser)

	f := e.vars.beacon(e.address)
	e.transmit(f.Encode())
	e.m.SetPacket(mac.KindFBP)

	e.after(FBPDuration, "fbp_done", e.gatewayFBPDone)
}

func (e *Engine) gatewayFBPDone() {
	e.ind.On(board.PinUser)
	defer e.phaseOff()

	e.radio.Idle()
	e.radio.CancelTx()
	e.m.ReleaseTx()

	if e.pending != nil && e.report != nil {
		e.report.PushMessage(serial.MsgData, e.pending.Encode())
		e.pending = nil
	}

	e.vars.resetRound()
	e.after(e.cfg.Timing.FBPToListen(), "arp_init", e.gatewayARPInit)
}

func (e *Engine) gatewayARPInit() {
	e.phaseOn()
	defer e.ind.Off(board.PinUser)

	e.radio.SetRxCallbacks(e.radioOn, e.capture)
	e.radio.Receive()

	e.after(e.cfg.Timing.ARPSample(), "arp_rssi", e.gatewayARPRSSI)
}

func (e *Engine) gatewayARPRSSI() {
	e.ind.On(board.PinUser)
	defer e.ind.Off(board.PinUser)

	e.sample = e.radio.ReadRSSI()
	e.after(e.cfg.Timing.ARPRest(), "arp_done", e.gatewayARPDone)
}

func (e *Engine) gatewayARPDone() {
	e.ind.On(board.PinUser)
	defer e.phaseOff()

	e.radio.Idle()
	e.radio.CancelRx()

	slot := &e.vars.ARP[e.vars.ARPIndex]
	*slot = e.classifyARP()
	e.m.ReleaseRx()

	e.vars.ARPIndex++
	if e.vars.ARPIndex >= ARPCount {
		e.after(e.cfg.Timing.ARPToDataListen(), "data_init", e.gatewayDataInit)
		return
	}
	e.after(e.cfg.Timing.ARPToListen(), "arp_init", e.gatewayARPInit)
}

// classifyARP judges the slot just closed. A valid ARP is a success, a
// corrupted or missing frame over a busy channel is a collision, anything
// else leaves the slot empty.
func (e *Engine) classifyARP() Slot {
	s := Slot{RSSI: e.sample, Class: mac.Classify(e.sample, e.cfg.RSSIThreshold)}

	rx := e.m.Rx()
	if rx != nil && rx.CRC {
		if a, err := DecodeARP(rx.Payload()); err == nil {
			s.State = ARPSuccess
			s.Token = a.Token
		}
		return s
	}
	if s.Class == mac.RSSIAbove {
		s.State = ARPCollision
	}
	return s
}

func (e *Engine) gatewayDataInit() {
	e.phaseOn()
	defer e.ind.Off(board.PinUser)

	e.radio.SetRxCallbacks(e.radioOn, e.capture)
	e.radio.Receive()

	e.after(DataDuration, "data_done", e.gatewayDataDone)
}

func (e *Engine) gatewayDataDone() {
	e.ind.On(board.PinUser)
	defer e.phaseOff()

	e.radio.Idle()
	e.radio.CancelRx()

	if rx := e.m.Rx(); rx != nil {
		if !rx.CRC {
			e.vars.Data = mac.DataError
			e.vars.DataAddress = mac.AddrNone
		} else if d, err := DecodeData(rx.Payload()); err == nil {
			e.vars.Data = mac.DataSuccess
			e.vars.DataAddress = d.Source
			e.vars.ARPTotal = d.ARPTotal
			e.vars.CRQWait = d.CRQWait
			e.vars.DTQWait = d.DTQWait
		}
	}
	e.m.ReleaseRx()

	e.vars.ApplyRules()
	e.vars.CRQGlobal = e.vars.CRQLocal
	e.vars.DTQGlobal = e.vars.DTQLocal

	e.vars.NextChannel = e.m.NextChannel()
	e.vars.ARPCount = ARPCount
	e.vars.Seq++

	rec := e.vars.record()
	e.pending = &rec
	e.stats.Rounds++
	if e.hook != nil {
		e.hook(e.vars)
	}

	e.after(e.cfg.Timing.DataToBeacon(), "fbp_init", e.gatewayFBPInit)
}
