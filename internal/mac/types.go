package mac

// Type selects the channel-access protocol.
type Type uint8

const (
	TypeNone Type = iota
	TypeFSA
	TypeDQ
)

func (t Type) String() string {
	switch t {
	case TypeFSA:
		return "fsa"
	case TypeDQ:
		return "dq"
	default:
		return "none"
	}
}

// ParseType maps a name to a Type.
func ParseType(s string) (Type, bool) {
	switch s {
	case "fsa", "FSA":
		return TypeFSA, true
	case "dq", "DQ":
		return TypeDQ, true
	case "none", "":
		return TypeNone, true
	}
	return TypeNone, false
}

// Role is the device's part in a round.
type Role uint8

const (
	RoleGateway Role = iota + 1
	RoleNode
)

func (r Role) String() string {
	switch r {
	case RoleGateway:
		return "gateway"
	case RoleNode:
		return "node"
	default:
		return "unknown"
	}
}

// State is the synchronization flag.
type State uint8

const (
	StateUnsync State = iota
	StateSync
)

// Kind is the packet kind carried in the WOR beacon and MAC bookkeeping.
type Kind uint8

const (
	KindNone Kind = iota
	KindWOR
	KindARP
	KindFBP
	KindData
	KindACK
)

// DataState is the outcome of a DATA slot.
type DataState uint8

const (
	DataEmpty DataState = iota
	DataError
	DataSuccess
)

func (d DataState) String() string {
	switch d {
	case DataError:
		return "error"
	case DataSuccess:
		return "success"
	default:
		return "empty"
	}
}

// RSSIClass classifies a sampled RSSI against a threshold.
type RSSIClass uint8

const (
	RSSINone RSSIClass = iota
	RSSIBelow
	RSSIAbove
)

// Classify returns RSSIAbove when rssi exceeds threshold.
func Classify(rssi, threshold int8) RSSIClass {
	if rssi > threshold {
		return RSSIAbove
	}
	return RSSIBelow
}

// Addresses.
const (
	AddrNone      uint16 = 0x0000
	AddrBroadcast uint16 = 0xFFFF
)

// DefaultChannel is the only channel rounds run on.
const DefaultChannel uint8 = 26

// RadioTiming holds the radio state-change overheads, in ticks.
type RadioTiming struct {
	IdleTx    uint32 `yaml:"idle_tx"`
	IdleRx    uint32 `yaml:"idle_rx"`
	TxIdle    uint32 `yaml:"tx_idle"`
	RxIdle    uint32 `yaml:"rx_idle"`
	PhyHeader uint32 `yaml:"phy_header"`
}

// HardwareRadioTiming returns the turnaround times measured on the CC2538.
func HardwareRadioTiming() RadioTiming {
	return RadioTiming{IdleTx: 6, IdleRx: 6, TxIdle: 0, RxIdle: 0, PhyHeader: 4}
}

// IdealRadioTiming keeps the PHY header but drops turnaround overheads, for a
// medium where radio state changes are instantaneous.
func IdealRadioTiming() RadioTiming {
	return RadioTiming{PhyHeader: 4}
}
