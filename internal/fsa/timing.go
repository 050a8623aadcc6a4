package fsa

import (
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/sat"
)

// Phase durations in 32.768 kHz ticks.
const (
	FBPDuration  uint32 = 32
	DataDuration uint32 = 152
	ACKDuration  uint32 = 32
	SIFSDuration uint32 = 16
	LIFSDuration uint32 = 32

	// SlotDuration is one DATA slot with its ACK.
	SlotDuration = DataDuration + ACKDuration + 2*SIFSDuration
)

const (
	RSSIThreshold int8  = -85
	UnsyncErrors  uint8 = 16
)

// Timing carries the per-phase CPU overheads of one role and the radio
// turnaround times.
type Timing struct {
	FBPPrepare  uint32 `yaml:"fbp_prepare"`
	FBPProcess  uint32 `yaml:"fbp_process"`
	DataPrepare uint32 `yaml:"data_prepare"`
	DataProcess uint32 `yaml:"data_process"`
	ACKPrepare  uint32 `yaml:"ack_prepare"`
	ACKProcess  uint32 `yaml:"ack_process"`

	// RetimeSlack shortens the node's FBP window after start-of-frame.
	RetimeSlack uint32          `yaml:"retime_slack"`
	Radio       mac.RadioTiming `yaml:"radio"`
}

// HardwareTiming returns the overheads measured on the CC2538 for role.
func HardwareTiming(role mac.Role) Timing {
	t := Timing{
		FBPPrepare:  1,
		FBPProcess:  1,
		DataPrepare: 1,
		DataProcess: 1,
		ACKPrepare:  1,
		ACKProcess:  1,
		Radio:       mac.HardwareRadioTiming(),
	}
	if role == mac.RoleNode {
		t.FBPProcess = 2
		t.DataPrepare = 4
		t.RetimeSlack = 3
	}
	return t
}

// IdealTiming has no CPU or turnaround overhead.
func IdealTiming() Timing {
	return Timing{Radio: mac.IdealRadioTiming()}
}

func span(total uint32, minus ...uint32) uint32 {
	for _, m := range minus {
		total = sat.Sub(total, m)
	}
	return total
}

// Gateway delays.

func (t Timing) FBPToListen() uint32 {
	return span(LIFSDuration, t.Radio.IdleRx, t.DataPrepare)
}

// DataSample is the wait from opening a DATA slot to sampling RSSI.
func (t Timing) DataSample() uint32 {
	return span(DataDuration>>1, 3*t.DataProcess)
}

func (t Timing) DataRest() uint32 {
	return span(DataDuration>>1, t.DataProcess)
}

func (t Timing) DataToACK() uint32 {
	return span(SIFSDuration, t.Radio.IdleTx, t.ACKPrepare)
}

func (t Timing) ACKToListen() uint32 {
	return span(SIFSDuration, t.Radio.IdleRx, t.DataPrepare, t.ACKProcess)
}

func (t Timing) ACKToBeacon() uint32 {
	return span(SIFSDuration, t.Radio.IdleTx, t.FBPPrepare, t.ACKProcess)
}

// Node delays.

func (t Timing) FBPListen() uint32 {
	return FBPDuration << 4
}

func (t Timing) FBPRetime() uint32 {
	return span(FBPDuration, t.Radio.PhyHeader, t.Radio.IdleRx, t.RetimeSlack)
}

// FBPToData is the wait from the FBP to the start of slot.
func (t Timing) FBPToData(slot uint8) uint32 {
	return span(LIFSDuration, t.Radio.IdleTx, t.DataPrepare) + uint32(slot)*SlotDuration + 1
}

func (t Timing) DataHold() uint32 {
	return span(DataDuration, t.DataPrepare)
}

func (t Timing) DataToACKListen() uint32 {
	return span(SIFSDuration, t.Radio.IdleRx, t.DataProcess)
}

func (t Timing) ACKListen() uint32 {
	return span(ACKDuration, t.ACKPrepare)
}

// ACKToFBP skips the remaining slots of the frame.
func (t Timing) ACKToFBP(remaining uint8) uint32 {
	return span(SIFSDuration, t.Radio.IdleRx, t.ACKProcess) + uint32(remaining)*SlotDuration
}
