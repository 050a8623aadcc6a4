package fsa

import (
	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/serial"
)

func (e *Engine) gatewayFBPInit() {
	e.ind.On(board.PinSystem)

	e.slots = e.m.Slots()
	if e.slots == 0 {
		e.slots = 1
	}
	e.slot = 0
	e.remaining = e.slots

	f := FBP{
		Source:      e.address,
		Destination: mac.AddrBroadcast,
		Seq:         e.seq,
		NextChannel: e.m.Channel(),
		Slots:       e.slots,
	}
	e.transmit(f.Encode())
	e.m.SetPacket(mac.KindFBP)

	e.after(FBPDuration, "fbp_done", e.gatewayFBPDone)
}

func (e *Engine) gatewayFBPDone() {
	e.radio.Idle()
	e.radio.CancelTx()
	e.m.ReleaseTx()

	e.seq++
	e.stats.Frames++
	e.after(e.cfg.Timing.FBPToListen(), "data_init", e.gatewayDataInit)
}

func (e *Engine) gatewayDataInit() {
	e.radio.SetRxCallbacks(e.radioOn, e.capture)
	e.radio.Receive()
	e.after(e.cfg.Timing.DataSample(), "data_rssi", e.gatewayDataRSSI)
}

func (e *Engine) gatewayDataRSSI() {
	e.rssi = e.radio.ReadRSSI()
	e.after(e.cfg.Timing.DataRest(), "data_done", e.gatewayDataDone)
}

// gatewayDataDone classifies the slot: a valid DATA is a success, a corrupted
// or missing frame over a busy channel an error, anything else empty.
func (e *Engine) gatewayDataDone() {
	e.radio.Idle()
	e.radio.CancelRx()

	e.slot++
	e.state = mac.DataEmpty
	e.source = mac.AddrNone
	var total uint8

	busy := mac.Classify(e.rssi, e.cfg.RSSIThreshold) == mac.RSSIAbove
	if rx := e.m.Rx(); rx != nil && rx.CRC {
		if d, err := DecodeData(rx.Payload()); err == nil {
			e.state = mac.DataSuccess
			e.source = d.Source
			total = d.Total
		}
	} else if busy {
		e.state = mac.DataError
	}
	e.m.ReleaseRx()

	switch e.state {
	case mac.DataSuccess:
		e.stats.Success++
	case mac.DataError:
		e.stats.Errors++
	}

	rec := Record{Slot: e.slot, State: e.state, Address: e.source, RSSI: e.rssi, Total: total}
	if e.report != nil {
		e.report.PushMessage(serial.MsgData, rec.Encode())
	}
	if e.hook != nil {
		e.hook(rec)
	}

	e.after(e.cfg.Timing.DataToACK(), "ack_init", e.gatewayACKInit)
}

func (e *Engine) gatewayACKInit() {
	a := ACK{Source: e.address, Destination: e.source, State: e.state}
	e.transmit(a.Encode())
	e.m.SetPacket(mac.KindACK)

	e.after(ACKDuration, "ack_done", e.gatewayACKDone)
}

func (e *Engine) gatewayACKDone() {
	e.m.ReleaseTx()
	e.radio.Idle()
	e.radio.CancelTx()

	e.state = mac.DataEmpty
	e.source = mac.AddrNone

	e.remaining--
	if e.remaining > 0 {
		e.after(e.cfg.Timing.ACKToListen(), "data_init", e.gatewayDataInit)
		return
	}
	e.ind.Off(board.PinSystem)
	e.after(e.cfg.Timing.ACKToBeacon(), "fbp_init", e.gatewayFBPInit)
}
