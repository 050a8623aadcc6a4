package dq

import (
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/sat"
)

// Phase durations in 32.768 kHz ticks.
const (
	FBPDuration  uint32 = 44
	ARPDuration  uint32 = 24
	DataDuration uint32 = 152
	SIFSDuration uint32 = 16
	LIFSDuration uint32 = 32

	// SlotDuration is one full round: FBP, LIFS, three ARP+SIFS pairs, DATA, SIFS.
	SlotDuration = FBPDuration + LIFSDuration +
		ARPCount*(ARPDuration+SIFSDuration) +
		DataDuration + SIFSDuration
)

const (
	// ARPCount is the number of access request slots per round.
	ARPCount = 3
	// RSSIThreshold separates an idle ARP slot from a busy one, in dBm.
	RSSIThreshold int8 = -85
	// UnsyncErrors is how many consecutive FBPs a node may miss before it
	// resets the device.
	UnsyncErrors uint8 = 8
)

// Timing carries the per-phase CPU overheads of one role and the radio
// turnaround times. Phase delays are derived from it.
type Timing struct {
	FBPPrepare  uint32          `yaml:"fbp_prepare"`
	FBPProcess  uint32          `yaml:"fbp_process"`
	ARPPrepare  uint32          `yaml:"arp_prepare"`
	ARPProcess  uint32          `yaml:"arp_process"`
	DataPrepare uint32          `yaml:"data_prepare"`
	DataProcess uint32          `yaml:"data_process"`
	Radio       mac.RadioTiming `yaml:"radio"`
}

// HardwareTiming returns the overheads measured on the CC2538 for role.
func HardwareTiming(role mac.Role) Timing {
	t := Timing{Radio: mac.HardwareRadioTiming()}
	if role == mac.RoleGateway {
		t.FBPPrepare, t.FBPProcess = 2, 2
		t.ARPPrepare, t.ARPProcess = 2, 1
		t.DataPrepare, t.DataProcess = 1, 2
	} else {
		t.FBPPrepare, t.FBPProcess = 1, 3
		t.ARPPrepare, t.ARPProcess = 1, 1
		t.DataPrepare, t.DataProcess = 1, 1
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

// FBPToListen is the wait between the end of the FBP and the first ARP listen.
func (t Timing) FBPToListen() uint32 {
	return span(SIFSDuration, t.Radio.IdleRx, t.FBPPrepare, t.FBPProcess)
}

// ARPSample is the wait between opening an ARP window and sampling RSSI.
func (t Timing) ARPSample() uint32 {
	return ARPDuration >> 1
}

// ARPRest is the wait between the RSSI sample and closing the ARP window.
func (t Timing) ARPRest() uint32 {
	return span(ARPDuration>>1, 1)
}

// ARPToListen is the wait between closing one ARP window and opening the next.
func (t Timing) ARPToListen() uint32 {
	return span(SIFSDuration, t.Radio.IdleRx, 2*t.ARPPrepare, t.ARPProcess)
}

// ARPToDataListen is the wait between the last ARP window and the DATA listen.
func (t Timing) ARPToDataListen() uint32 {
	return span(SIFSDuration, t.Radio.IdleTx, t.ARPPrepare, t.ARPProcess)
}

// DataToBeacon is the wait between the DATA window and the next FBP.
func (t Timing) DataToBeacon() uint32 {
	return span(LIFSDuration, t.Radio.IdleTx, t.DataPrepare, t.DataProcess)
}

// Node delays.

// FBPListen bounds how long a node waits for an FBP.
func (t Timing) FBPListen() uint32 {
	return FBPDuration << 4
}

// FBPRetime replaces the listen timeout once the FBP start-of-frame is seen.
func (t Timing) FBPRetime() uint32 {
	return span(FBPDuration, 2*t.Radio.PhyHeader, t.Radio.IdleRx)
}

// FBPToARP is the wait between the FBP and the first ARP slot, shorter when
// the node transmits in it.
func (t Timing) FBPToARP(own bool) uint32 {
	if own {
		return span(SIFSDuration, t.Radio.IdleTx, t.FBPPrepare, t.FBPProcess)
	}
	return span(SIFSDuration, t.FBPPrepare, t.FBPProcess)
}

// FBPToData is the wait between the FBP and the node's DATA transmission.
func (t Timing) FBPToData() uint32 {
	return span(4*SIFSDuration+ARPCount*ARPDuration, t.Radio.IdleTx, t.FBPPrepare, t.FBPProcess)
}

// FBPToNextFBP is the wait between one FBP and listening for the next.
func (t Timing) FBPToNextFBP() uint32 {
	return span(SlotDuration-FBPDuration, 2*t.Radio.IdleRx, t.FBPPrepare, t.FBPProcess)
}

// ARPToARP is the wait between consecutive ARP slots.
func (t Timing) ARPToARP(own bool) uint32 {
	if own {
		return span(SIFSDuration, t.Radio.IdleTx, t.ARPPrepare, t.ARPProcess)
	}
	return span(SIFSDuration, t.ARPPrepare, t.ARPProcess)
}

// LastARPToFBP is the wait between the last ARP slot and the next FBP listen.
func (t Timing) LastARPToFBP() uint32 {
	return span(SIFSDuration+DataDuration+LIFSDuration, 2*t.Radio.IdleRx, t.ARPPrepare, t.ARPProcess)
}

// DataToFBP is the wait between the node's DATA transmission and the next FBP listen.
func (t Timing) DataToFBP() uint32 {
	return span(LIFSDuration, 2*t.Radio.IdleRx, t.DataPrepare, t.DataProcess)
}
