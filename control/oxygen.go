package control

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"incubator-core/config"
	"incubator-core/errcode"
	"incubator-core/hal"
	"incubator-core/types"
)

// Oxygen implements the threshold-pulse loop: a bounded-energy
// pulse on the argon valve displaces excess O2, gated by a cooldown.
type Oxygen struct {
	cfg    config.OxygenConfig
	domain config.SetpointDomain
	probe  hal.OxygenProbe
	valve  hal.Relay

	spMu         sync.Mutex
	setpoint     float64
	lastActuated time.Time
	haveActuated bool

	status types.LoopStatus
}

func NewOxygen(cfg config.OxygenConfig, domain config.SetpointDomain, probe hal.OxygenProbe, valve hal.Relay, initialSetpoint float64) *Oxygen {
	return &Oxygen{cfg: cfg, domain: domain, probe: probe, valve: valve, setpoint: initialSetpoint}
}

func (o *Oxygen) Name() types.LoopName { return types.LoopO2 }

func (o *Oxygen) SetSetpoint(v float64) error {
	if !o.domain.Contains(v) {
		return fmt.Errorf("%w: o2 setpoint %.2f outside [%.2f, %.2f]", errcode.InvalidParams, v, o.domain.Min, o.domain.Max)
	}
	o.spMu.Lock()
	o.setpoint = v
	o.spMu.Unlock()
	return nil
}

func (o *Oxygen) Setpoint() float64 {
	o.spMu.Lock()
	defer o.spMu.Unlock()
	return o.setpoint
}

func (o *Oxygen) Step(ctx context.Context) {
	setpoint := o.Setpoint()

	reading := o.probe.Read(ctx)
	value, valid := reading.Get()
	if !valid {
		log.Debug().Str("loop", "o2").Msg("sensor fault, valve off")
		o.drive(ctx, false)
		o.status = types.LoopStatus{Enabled: true, Reading: types.NotConnected, ActuatorOn: false}
		return
	}

	now := time.Now()
	cooldownElapsed := !o.haveActuated || now.Sub(o.lastActuated) >= o.cfg.Cooldown

	switch {
	case value > setpoint && cooldownElapsed:
		o.pulse(ctx)
		o.lastActuated = now
		o.haveActuated = true
	case value <= setpoint && o.valve.On():
		// Safety net: the pulse scheme never leaves the valve on this
		// long, but close it immediately if it ever is.
		o.drive(ctx, false)
	}

	o.status = types.LoopStatus{Enabled: true, Reading: reading, ActuatorOn: o.valve.On()}
}

func (o *Oxygen) pulse(ctx context.Context) {
	o.drive(ctx, true)
	sleepCtx(ctx, o.cfg.Pulse)
	o.drive(ctx, false)
}

func (o *Oxygen) drive(ctx context.Context, on bool) {
	if err := o.valve.Set(ctx, on); err != nil {
		log.Warn().Str("loop", "o2").Err(err).Msg("argon valve drive failed")
	}
}

func (o *Oxygen) EnsureOff(ctx context.Context) {
	o.drive(ctx, false)
}

func (o *Oxygen) Reset() {
	o.haveActuated = false
}

func (o *Oxygen) Status() types.LoopStatus {
	s := o.status
	s.ActuatorOn = o.valve.On()
	return s
}
