// Package serialport runs experiments on a gateway mote attached to a serial
// port.
package serialport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/jacobsa/go-serial/serial"

	"github.com/fentz26/dqmote/internal/connectors"
	"github.com/fentz26/dqmote/internal/hdlc"
	serialmsg "github.com/fentz26/dqmote/internal/serial"
)

// OpenFunc opens the link to the gateway.
type OpenFunc func() (io.ReadWriteCloser, error)

// Options configures the port.
type Options struct {
	Port string
	Baud uint
}

// Open returns an OpenFunc for a real serial device, 8N1 without flow
// control.
func Open(opts Options) OpenFunc {
	return func() (io.ReadWriteCloser, error) {
		return serial.Open(serial.OpenOptions{
			PortName:              opts.Port,
			BaudRate:              opts.Baud,
			DataBits:              8,
			StopBits:              1,
			ParityMode:            serial.PARITY_NONE,
			InterCharacterTimeout: 0,
			MinimumReadSize:       1,
		})
	}
}

// SerialPort implements the Connector interface for a gateway mote.
type SerialPort struct {
	open OpenFunc
}

// New creates a serial connector.
func New(open OpenFunc) *SerialPort {
	return &SerialPort{open: open}
}

// Name returns the connector identifier.
func (p *SerialPort) Name() string {
	return "serial"
}

// IsAllowed checks the experiment can be expressed as a start command.
// Simulation parameters are ignored.
func (p *SerialPort) IsAllowed(spec connectors.Spec) bool {
	if _, err := spec.StartCommand(); err != nil {
		return false
	}
	return spec.Slots >= 1 && spec.Rounds >= 0
}

type chunk struct {
	data []byte
	err  error
}

// Run sends the start command and streams the gateway's frames to fn until
// the gateway announces its reset, spec.Rounds records arrive or ctx is
// cancelled. A run that stops early sends the stop command first.
func (p *SerialPort) Run(ctx context.Context, spec connectors.Spec, fn connectors.FrameFunc) (*connectors.Result, error) {
	if !p.IsAllowed(spec) {
		return nil, fmt.Errorf("experiment not allowed: %+v", spec)
	}
	cmd, _ := spec.StartCommand()

	port, err := p.open()
	if err != nil {
		return nil, fmt.Errorf("open port: %w", err)
	}
	defer port.Close()

	if _, err := port.Write(hdlc.Encode(serialmsg.MsgStart, 0, cmd.Encode())); err != nil {
		return nil, fmt.Errorf("write start command: %w", err)
	}

	chunks := make(chan chunk, 16)
	done := make(chan struct{})
	defer close(done)
	go func() {
		buf := make([]byte, 256)
		for {
			n, err := port.Read(buf)
			c := chunk{data: append([]byte(nil), buf[:n]...), err: err}
			select {
			case chunks <- c:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	res := &connectors.Result{}
	dec := hdlc.NewDecoder()
	stop := func() {
		if _, err := port.Write(hdlc.Encode(serialmsg.MsgStop, 0, nil)); err != nil {
			log.Printf("serial: stop command: %v", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			stop()
			return res, ctx.Err()
		case c := <-chunks:
			for _, b := range c.data {
				f, ok, err := dec.Put(b)
				if !ok {
					continue
				}
				if err != nil {
					log.Printf("serial: dropping frame: %v", err)
					continue
				}
				res.Frames++
				switch f.Command {
				case serialmsg.MsgData:
					res.Records++
				case serialmsg.MsgReset:
					res.Resets++
				}
				if err := fn(f); err != nil {
					stop()
					return res, err
				}
				if res.Resets > 0 {
					return res, nil
				}
				if spec.Rounds > 0 && res.Records >= spec.Rounds {
					stop()
					return res, nil
				}
			}
			if c.err != nil {
				if errors.Is(c.err, io.EOF) {
					return res, fmt.Errorf("gateway closed the link after %d frames", res.Frames)
				}
				return res, fmt.Errorf("read port: %w", c.err)
			}
		}
	}
}
