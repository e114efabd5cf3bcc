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
	"incubator-core/x/mathx"
)

// Temperature implements the PID temperature loop: a dual-RTD
// probe drives a heater relay through a standard PID controller.
type Temperature struct {
	cfg    config.TemperatureConfig
	domain config.SetpointDomain
	probe  hal.TemperatureProbe
	heater hal.Relay

	// spMu guards setpoint: the supervisor writes it from its own
	// goroutine while Step reads it once per tick (shared-resource
	// policy), so a bare field would race.
	spMu     sync.Mutex
	setpoint float64

	integral  float64
	prevErr   float64
	havePrev  bool

	status types.LoopStatus
	ch1, ch2 types.Reading
}

// NewTemperature constructs the loop with its injected HAL dependencies
// (loops never instantiate hardware themselves).
func NewTemperature(cfg config.TemperatureConfig, domain config.SetpointDomain, probe hal.TemperatureProbe, heater hal.Relay, initialSetpoint float64) *Temperature {
	return &Temperature{cfg: cfg, domain: domain, probe: probe, heater: heater, setpoint: initialSetpoint}
}

func (t *Temperature) Name() types.LoopName { return types.LoopTemperature }

// SetSetpoint validates against the configured domain and rejects out of
// range values, retaining the prior setpoint. Setpoint
// updates take effect on the next tick and never reset the integrator.
func (t *Temperature) SetSetpoint(v float64) error {
	if !t.domain.Contains(v) {
		return fmt.Errorf("%w: temperature setpoint %.2f outside [%.2f, %.2f]", errcode.InvalidParams, v, t.domain.Min, t.domain.Max)
	}
	t.spMu.Lock()
	t.setpoint = v
	t.spMu.Unlock()
	return nil
}

func (t *Temperature) Setpoint() float64 {
	t.spMu.Lock()
	defer t.spMu.Unlock()
	return t.setpoint
}

// reading combines the two RTD channels: mean when both
// valid, single-channel fallback when only one is, not-connected when
// neither is.
func (t *Temperature) reading(ctx context.Context) (value float64, valid bool, degraded bool) {
	t.ch1 = t.probe.ReadCh1(ctx)
	t.ch2 = t.probe.ReadCh2(ctx)
	v1, ok1 := t.ch1.Get()
	v2, ok2 := t.ch2.Get()

	switch {
	case ok1 && ok2:
		return (v1 + v2) / 2, true, false
	case ok1:
		return v1, true, true
	case ok2:
		return v2, true, true
	default:
		return 0, false, false
	}
}

func (t *Temperature) Step(ctx context.Context) {
	// Read the setpoint once for the whole tick: a concurrent
	// SetSetpoint call mid-tick must not be observed partway through.
	setpoint := t.Setpoint()

	value, valid, degraded := t.reading(ctx)
	if !valid {
		log.Debug().Str("loop", "temperature").Msg("sensor fault, heater off, integrator reset")
		t.Reset()
		t.drive(ctx, false)
		t.status = types.LoopStatus{Enabled: true, Reading: types.NotConnected, ActuatorOn: false}
		return
	}

	err := setpoint - value
	t.integral += err
	var derivative float64
	if t.havePrev {
		derivative = err - t.prevErr
	}
	t.prevErr = err
	t.havePrev = true

	output := t.cfg.P*err + t.cfg.I*t.integral + t.cfg.D*derivative
	output = mathx.Clamp(output, -t.cfg.OutputLimit, t.cfg.OutputLimit)

	on := output > t.cfg.OutputThreshold
	t.drive(ctx, on)

	t.status = types.LoopStatus{
		Enabled:         true,
		Reading:         types.Value(value),
		ActuatorOn:      on,
		Degraded:        degraded,
		LastGoodReading: time.Now(),
	}
}

func (t *Temperature) drive(ctx context.Context, on bool) {
	if err := t.heater.Set(ctx, on); err != nil {
		log.Warn().Str("loop", "temperature").Err(err).Msg("heater drive failed")
	}
}

func (t *Temperature) EnsureOff(ctx context.Context) {
	t.drive(ctx, false)
	t.Reset()
}

func (t *Temperature) Reset() {
	t.integral = 0
	t.prevErr = 0
	t.havePrev = false
}

func (t *Temperature) Status() types.LoopStatus {
	s := t.status
	s.ActuatorOn = t.heater.On()
	return s
}

// Channels returns the last-read individual RTD channels, for the
// historian's per-channel sample columns.
func (t *Temperature) Channels() (ch1, ch2 types.Reading) { return t.ch1, t.ch2 }
