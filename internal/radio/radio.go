// Package radio defines the transceiver the MAC engines drive.
package radio

import "github.com/fentz26/dqmote/internal/packet"

// Callback is invoked from radio interrupt context.
type Callback func()

// Radio is a half-duplex transceiver. Callbacks fire in interrupt context and
// must only copy data and push work.
type Radio interface {
	Idle()
	Receive()
	Transmit()
	Reset()

	// SetRxCallbacks registers start-of-frame and end-of-frame handlers for
	// reception; either may be nil.
	SetRxCallbacks(start, end Callback)
	// SetTxCallbacks registers start-of-frame and end-of-frame handlers for
	// transmission; either may be nil.
	SetTxCallbacks(start, end Callback)
	CancelRx()
	CancelTx()

	// GetPacket copies the last received frame, with RSSI, LQI and CRC flag,
	// into b.
	GetPacket(b *packet.Buffer)
	// PutPacket loads b into the transmit FIFO.
	PutPacket(b *packet.Buffer)

	ReadRSSI() int8
	SetChannel(ch uint8)
	SetPower(level uint8)
}
