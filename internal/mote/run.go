package mote

import (
	"context"
	"log"

	"github.com/fentz26/dqmote/internal/board"
	"github.com/fentz26/dqmote/internal/fault"
)

// Poll runs every ready task and applies a pending reset. A fatal condition
// halts the device: the error LED stays on and every later call returns the
// same error.
func (m *Mote) Poll() (int, error) {
	if m.halted != nil {
		return 0, m.halted
	}
	n := 0
	if err := fault.Catch(func() { n = m.sched.RunPending() }); err != nil {
		m.halt(err)
		return n, err
	}
	m.afterDrain()
	return n, m.halted
}

// Run drives the device until ctx is done or a fatal condition halts it.
func (m *Mote) Run(ctx context.Context) error {
	if m.halted != nil {
		return m.halted
	}
	m.sched.SetIdleHook(m.afterDrain)
	defer m.sched.SetIdleHook(nil)

	var runErr error
	if err := fault.Catch(func() { runErr = m.sched.RunForever(ctx) }); err != nil {
		m.halt(err)
		return err
	}
	return runErr
}

func (m *Mote) afterDrain() {
	if !m.resetPending {
		return
	}
	if err := fault.Catch(m.reboot); err != nil {
		m.halt(err)
	}
}

// reboot restores the state a hardware reset would leave and boots again.
func (m *Mote) reboot() {
	m.resetPending = false
	m.stats.Resets++
	log.Printf("mote %04x: reset", m.address)

	m.timers.Reset()
	m.sched.Reset()
	m.serial.Close()
	m.hw.Radio.Reset()
	m.hw.Indicator.Off(board.LedSystem)
	m.hw.Indicator.Off(board.LedUser)

	m.assemble()
	if m.onReboot != nil {
		m.onReboot()
	}
	m.Boot()
}

func (m *Mote) halt(err error) {
	m.halted = err
	m.hw.Indicator.On(board.LedError)
	log.Printf("mote %04x: halted: %v", m.address, err)
}
