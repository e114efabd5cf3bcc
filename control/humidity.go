package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"incubator-core/config"
	"incubator-core/errcode"
	"incubator-core/hal"
	"incubator-core/types"
)

// Humidity implements the bang-bang hysteresis loop: a
// symmetric deadband around the setpoint drives a humidifier relay.
type Humidity struct {
	cfg    config.HumidityConfig
	domain config.SetpointDomain
	probe  hal.HumidityProbe
	relay  hal.Relay

	// spMu guards setpoint/onThresh/offThresh together so they are always
	// recomputed and observed atomically.
	spMu      sync.Mutex
	setpoint  float64
	onThresh  float64
	offThresh float64

	status types.LoopStatus
}

// NewHumidity constructs the loop and computes the initial ON/OFF
// thresholds from setpoint and hysteresis width.
func NewHumidity(cfg config.HumidityConfig, domain config.SetpointDomain, probe hal.HumidityProbe, relay hal.Relay, initialSetpoint float64) *Humidity {
	h := &Humidity{cfg: cfg, domain: domain, probe: probe, relay: relay}
	h.setSetpointThresholds(initialSetpoint)
	return h
}

func (h *Humidity) Name() types.LoopName { return types.LoopHumidity }

func (h *Humidity) setSetpointThresholds(v float64) {
	h.spMu.Lock()
	defer h.spMu.Unlock()
	h.setpoint = v
	h.onThresh = v - h.cfg.Hysteresis/2
	h.offThresh = v + h.cfg.Hysteresis/2
}

// SetSetpoint validates 0 <= value <= 100 and recomputes the ON/OFF
// thresholds atomically.
func (h *Humidity) SetSetpoint(v float64) error {
	if !h.domain.Contains(v) {
		return fmt.Errorf("%w: humidity setpoint %.2f outside [%.2f, %.2f]", errcode.InvalidParams, v, h.domain.Min, h.domain.Max)
	}
	h.setSetpointThresholds(v)
	return nil
}

func (h *Humidity) Setpoint() float64 {
	h.spMu.Lock()
	defer h.spMu.Unlock()
	return h.setpoint
}

// thresholds returns the ON/OFF thresholds as one consistent pair (so
// a loop reads shared state once per tick and uses that local copy for the
// whole tick).
func (h *Humidity) thresholds() (on, off float64) {
	h.spMu.Lock()
	defer h.spMu.Unlock()
	return h.onThresh, h.offThresh
}

func (h *Humidity) Step(ctx context.Context) {
	reading := h.probe.Read(ctx)
	value, valid := reading.Get()
	if !valid {
		log.Debug().Str("loop", "humidity").Msg("sensor fault, humidifier off")
		h.drive(ctx, false)
		h.status = types.LoopStatus{Enabled: true, Reading: types.NotConnected, ActuatorOn: false}
		return
	}

	onThresh, offThresh := h.thresholds()
	on := h.relay.On()
	switch {
	case !on && value <= onThresh:
		on = true
	case on && value >= offThresh:
		on = false
	}
	h.drive(ctx, on)

	h.status = types.LoopStatus{Enabled: true, Reading: reading, ActuatorOn: on}
}

func (h *Humidity) drive(ctx context.Context, on bool) {
	if err := h.relay.Set(ctx, on); err != nil {
		log.Warn().Str("loop", "humidity").Err(err).Msg("humidifier drive failed")
	}
}

func (h *Humidity) EnsureOff(ctx context.Context) {
	h.drive(ctx, false)
}

func (h *Humidity) Reset() {}

func (h *Humidity) Status() types.LoopStatus {
	s := h.status
	s.ActuatorOn = h.relay.On()
	return s
}
