package dq

import (
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/sat"
)

// Slot is what a device knows about one ARP slot of the current round.
type Slot struct {
	State ARPState
	Token uint16
	// RSSI is the raw sample, Class its comparison with the threshold.
	RSSI  int8
	Class mac.RSSIClass
}

// Vars is the DQ round state of one device.
type Vars struct {
	CRQLocal, CRQGlobal uint16
	DTQLocal, DTQGlobal uint16
	// PCRQ and PDTQ are the node's own queue positions; 1 is the head, 0 is
	// not queued.
	PCRQ, PDTQ uint16

	ARP         [ARPCount]Slot
	Data        mac.DataState
	DataAddress uint16

	// ARPCount is the number of slots announced in the FBP.
	ARPCount uint8
	// ARPIndex is the slot being worked on.
	ARPIndex       uint8
	ARPSelected    uint8
	ARPTransmitted bool
	ARPToken       uint16

	ARPTotal uint8
	CRQWait  uint8
	DTQWait  uint8

	Seq          uint16
	NextChannel  uint8
	UnsyncBudget uint8
}

// ApplyRules advances the local queue lengths by one round: one collision
// resolution and one DATA slot are consumed, then every ARP collision joins
// the CRQ and every success joins the DTQ.
func (v *Vars) ApplyRules() {
	v.CRQLocal = sat.Dec(v.CRQLocal)
	if v.Data != mac.DataError {
		v.DTQLocal = sat.Dec(v.DTQLocal)
	}
	for _, s := range v.ARP {
		switch s.State {
		case ARPSuccess:
			v.DTQLocal++
		case ARPCollision:
			v.CRQLocal++
		}
	}
}

// Check reports whether the local queue lengths agree with the gateway's.
func (v *Vars) Check() bool {
	return v.CRQLocal == v.CRQGlobal && v.DTQLocal == v.DTQGlobal
}

// UpdatePositions moves the node's queue pointers one round forward and, if
// it requested access last round, places it in the DTQ (own token in a
// successful slot) or the CRQ (anything else). Ties within a round are broken
// by slot order.
func (v *Vars) UpdatePositions() {
	if v.Data != mac.DataError {
		v.PDTQ = sat.Dec(v.PDTQ)
	}
	v.PCRQ = sat.Dec(v.PCRQ)

	if !v.ARPTransmitted || int(v.ARPSelected) >= ARPCount {
		return
	}

	var totalSuccess, totalCollision, relSuccess, relCollision uint16
	relSuccess, relCollision = 1, 1
	for i, s := range v.ARP {
		switch s.State {
		case ARPSuccess:
			totalSuccess++
			if i < int(v.ARPSelected) {
				relSuccess++
			}
		case ARPCollision:
			totalCollision++
			if i < int(v.ARPSelected) {
				relCollision++
			}
		}
	}

	own := &v.ARP[v.ARPSelected]
	if own.State == ARPSuccess && own.Token == v.ARPToken {
		v.PDTQ = v.DTQLocal + relSuccess - totalSuccess
		return
	}
	own.State = ARPCollision
	v.PCRQ = v.CRQLocal + relCollision - totalCollision
}

// CanRequest reports whether the node may contend in this round's ARPs:
// either it holds no position and no collision is pending, or it is at the
// head of the CRQ.
func (v *Vars) CanRequest() bool {
	return (v.CRQLocal == 0 && v.PCRQ == 0 && v.PDTQ == 0) || v.PCRQ == 1
}

// CanTransmit reports whether the node is at the head of the DTQ.
func (v *Vars) CanTransmit() bool {
	return v.PDTQ == 1
}

// Adopt copies the gateway's broadcast into the round state.
func (v *Vars) Adopt(f *FBP) {
	v.NextChannel = f.NextChannel
	v.Seq = f.Seq
	v.ARPCount = f.ARPCount
	for i, a := range f.ARP {
		v.ARP[i].State = a.State
		v.ARP[i].Token = a.Token
	}
	v.Data = f.Data
	v.CRQGlobal = f.CRQ
	v.DTQGlobal = f.DTQ
}

// Resync takes the gateway's queue lengths as the local ones and forgets any
// position held.
func (v *Vars) Resync() {
	v.CRQLocal = v.CRQGlobal
	v.DTQLocal = v.DTQGlobal
	v.PCRQ = 0
	v.PDTQ = 0
	v.clearRequest()
}

func (v *Vars) clearRequest() {
	v.ARPSelected = 0
	v.ARPTransmitted = false
	v.ARPIndex = 0
	v.ARPToken = 0
}

// resetRound clears the gateway's observations before a new round.
func (v *Vars) resetRound() {
	v.ARPCount = ARPCount
	v.ARPIndex = 0
	for i := range v.ARP {
		v.ARP[i] = Slot{}
	}
	v.Data = mac.DataEmpty
	v.DataAddress = 0
	v.ARPTotal = 0
	v.CRQWait = 0
	v.DTQWait = 0
}

// record snapshots the round for the serial report.
func (v *Vars) record() Record {
	r := Record{
		MACType:     mac.TypeDQ,
		Data:        v.Data,
		ARPTotal:    v.ARPTotal,
		CRQWait:     v.CRQWait,
		DTQWait:     v.DTQWait,
		DataAddress: v.DataAddress,
		CRQLocal:    v.CRQLocal,
		CRQGlobal:   v.CRQGlobal,
		PCRQ:        v.PCRQ,
		DTQLocal:    v.DTQLocal,
		DTQGlobal:   v.DTQGlobal,
		PDTQ:        v.PDTQ,
	}
	for i, s := range v.ARP {
		r.ARPState[i] = s.State
		r.ARPRSSI[i] = s.RSSI
		r.ARPToken[i] = s.Token
	}
	return r
}

// beacon builds the FBP announcing the last round's outcome.
func (v *Vars) beacon(src uint16) FBP {
	f := FBP{
		MACType:     mac.TypeDQ,
		Source:      src,
		Destination: mac.AddrBroadcast,
		Seq:         v.Seq,
		Data:        v.Data,
		CRQ:         v.CRQGlobal,
		DTQ:         v.DTQGlobal,
		ARPCount:    v.ARPCount,
		NextChannel: v.NextChannel,
	}
	for i, s := range v.ARP {
		f.ARP[i] = ARPOutcome{State: s.State, Token: s.Token}
	}
	return f
}
