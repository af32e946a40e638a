// Package flash fires an external flash unit wired to a GPIO line.
//
// Wiring (opto-isolated hot-shoe adapter):
// - SYNC: driven HIGH for the pulse duration to fire
// - GND: connected to Raspberry Pi ground
package flash

import (
	"sync"
	"time"

	"github.com/Valter4578/MoonEnhancer/internal/debug"
	"github.com/Valter4578/MoonEnhancer/internal/hw/gpio"
)

// Unit is anything that can be fired once per capture.
type Unit interface {
	Fire() error
}

// GPIO is a flash unit triggered by pulsing a single GPIO line.
type GPIO struct {
	mu    sync.Mutex // one pulse at a time on the same line
	gpio  gpio.Driver
	pin   int
	pulse time.Duration
	fired int
}

// NewGPIO configures pin as an output held LOW (idle) and returns the unit.
func NewGPIO(g gpio.Driver, pin int, pulse time.Duration) *GPIO {
	_ = g.SetupPin(pin, gpio.Output)
	_ = g.WritePin(pin, gpio.Low)

	return &GPIO{
		gpio:  g,
		pin:   pin,
		pulse: pulse,
	}
}

// Fire pulses the sync line.
func (f *GPIO) Fire() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	debug.Verbose("Flash: firing (pin %d, pulse %v)", f.pin, f.pulse)
	if err := gpio.Pulse(f.gpio, f.pin, gpio.High, f.pulse); err != nil {
		_ = f.gpio.WritePin(f.pin, gpio.Low)
		return err
	}
	f.fired++
	return nil
}

// Fired returns how many pulses completed successfully.
func (f *GPIO) Fired() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fired
}
