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

// CO2 implements the dual-solenoid threshold-pulse loop: when
// the reading falls below setpoint and the cooldown has elapsed, the
// primary solenoid pulses, then — after a fixed spacing interval — the
// secondary solenoid pulses. CO2 is injected on a low reading, the
// opposite sense from the O2 loop's argon purge on a high reading.
type CO2 struct {
	cfg    config.CO2Config
	domain config.SetpointDomain
	probe  hal.CO2Probe
	primary, secondary hal.Relay

	spMu         sync.Mutex
	setpoint     float64
	lastActuated time.Time
	haveActuated bool

	status types.CO2Status
}

func NewCO2(cfg config.CO2Config, domain config.SetpointDomain, probe hal.CO2Probe, primary, secondary hal.Relay, initialSetpoint float64) *CO2 {
	return &CO2{cfg: cfg, domain: domain, probe: probe, primary: primary, secondary: secondary, setpoint: initialSetpoint}
}

func (c *CO2) Name() types.LoopName { return types.LoopCO2 }

func (c *CO2) SetSetpoint(v float64) error {
	if !c.domain.Contains(v) {
		return fmt.Errorf("%w: co2 setpoint %.2f outside [%.2f, %.2f]", errcode.InvalidParams, v, c.domain.Min, c.domain.Max)
	}
	c.spMu.Lock()
	c.setpoint = v
	c.spMu.Unlock()
	return nil
}

func (c *CO2) Setpoint() float64 {
	c.spMu.Lock()
	defer c.spMu.Unlock()
	return c.setpoint
}

func (c *CO2) Step(ctx context.Context) {
	setpoint := c.Setpoint()

	reading := c.probe.Read(ctx)
	value, valid := reading.Get()
	if !valid {
		log.Debug().Str("loop", "co2").Msg("sensor fault or read exception, both solenoids off")
		c.driveBoth(ctx, false, false)
		c.status = types.CO2Status{LoopStatus: types.LoopStatus{Enabled: true, Reading: types.NotConnected}}
		return
	}

	now := time.Now()
	cooldownElapsed := !c.haveActuated || now.Sub(c.lastActuated) >= c.cfg.Cooldown

	if value < setpoint && cooldownElapsed {
		c.injectSequence(ctx)
		c.lastActuated = now
		c.haveActuated = true
	}
	// reading >= setpoint: do nothing.

	c.status = types.CO2Status{
		LoopStatus: types.LoopStatus{Enabled: true, Reading: reading},
	}
}

// injectSequence pulses the primary solenoid, waits the fixed spacing
// interval, then pulses the secondary — the metering-manifold sequence
// must be preserved exactly.
func (c *CO2) injectSequence(ctx context.Context) {
	c.drivePrimary(ctx, true)
	sleepCtx(ctx, c.cfg.Pulse)
	c.drivePrimary(ctx, false)

	sleepCtx(ctx, c.cfg.SolenoidSpacing)

	c.driveSecondary(ctx, true)
	sleepCtx(ctx, c.cfg.Pulse)
	c.driveSecondary(ctx, false)
}

func (c *CO2) drivePrimary(ctx context.Context, on bool) {
	if err := c.primary.Set(ctx, on); err != nil {
		log.Warn().Str("loop", "co2").Str("solenoid", "primary").Err(err).Msg("solenoid drive failed")
	}
}

func (c *CO2) driveSecondary(ctx context.Context, on bool) {
	if err := c.secondary.Set(ctx, on); err != nil {
		log.Warn().Str("loop", "co2").Str("solenoid", "secondary").Err(err).Msg("solenoid drive failed")
	}
}

func (c *CO2) driveBoth(ctx context.Context, primaryOn, secondaryOn bool) {
	c.drivePrimary(ctx, primaryOn)
	c.driveSecondary(ctx, secondaryOn)
}

func (c *CO2) EnsureOff(ctx context.Context) {
	c.driveBoth(ctx, false, false)
}

func (c *CO2) Reset() {
	c.haveActuated = false
}

func (c *CO2) Status() types.LoopStatus {
	return c.FullStatus().LoopStatus
}

// FullStatus returns the CO2-specific status including both solenoids'
// commanded state (per-actuator commanded state in the snapshot).
func (c *CO2) FullStatus() types.CO2Status {
	s := c.status
	s.PrimaryOn = c.primary.On()
	s.SecondaryOn = c.secondary.On()
	s.ActuatorOn = s.PrimaryOn || s.SecondaryOn
	return s
}
