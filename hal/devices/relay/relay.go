// Package relay adapts a periph.io GPIO pin into the hal.Relay capability:
// an on/off digital output with a known state on construction.
package relay

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"periph.io/x/periph/conn/gpio"
	"periph.io/x/periph/conn/gpio/gpioreg"

	"incubator-core/errcode"
)

// Params configures a Relay. ActiveLow lets a relay board wired
// normally-closed command OFF with an electrical High.
type Params struct {
	PinName   string
	ActiveLow bool
	// Initial is the logical state driven at construction time, so the
	// relay never floats in an unknown state between power-on and the
	// first control tick.
	Initial bool
	Name    string
}

// Relay drives one periph.io GPIO pin. It is owned exclusively by the one
// control loop it is handed to.
type Relay struct {
	name      string
	pin       gpio.PinIO
	activeLow bool
	on        bool
}

// New resolves pinName via gpioreg and drives it to Initial immediately.
func New(p Params) (*Relay, error) {
	pin := gpioreg.ByName(p.PinName)
	if pin == nil {
		return nil, fmt.Errorf("relay %s: pin %q not found in gpioreg", p.Name, p.PinName)
	}
	r := &Relay{name: p.Name, pin: pin, activeLow: p.ActiveLow}
	if err := r.Set(context.Background(), p.Initial); err != nil {
		return nil, fmt.Errorf("relay %s: initial drive: %w", p.Name, err)
	}
	return r, nil
}

func (r *Relay) level(on bool) gpio.Level {
	if r.activeLow {
		on = !on
	}
	if on {
		return gpio.High
	}
	return gpio.Low
}

// Set drives the pin to the logical on/off state. It is idempotent and
// safe to call from a loop's ensure_actuator_off path on every tick.
func (r *Relay) Set(ctx context.Context, on bool) error {
	if err := r.pin.Out(r.level(on)); err != nil {
		log.Error().Str("relay", r.name).Bool("on", on).Err(err).Msg("relay drive failed")
		return fmt.Errorf("%w: relay %s: %v", errcode.ActuatorFault, r.name, err)
	}
	r.on = on
	return nil
}

// On reports the last commanded logical state.
func (r *Relay) On() bool { return r.on }

// Close leaves the relay in its current state; periph.io GPIO pins have no
// explicit close, so this is a no-op retained to satisfy hal.Relay.
func (r *Relay) Close() error { return nil }
