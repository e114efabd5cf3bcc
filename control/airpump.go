package control

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"incubator-core/config"
	"incubator-core/hal"
	"incubator-core/types"
)

// AirPump implements the fixed duty-cycle loop: a pure
// time-driven two-state machine with no sensor input. Transitions are
// evaluated against a monotonic clock; the loop tick cadence only bounds
// responsiveness, never timing drift.
type AirPump struct {
	cfg   config.AirPumpConfig
	relay hal.Relay

	phaseOn      bool
	phaseStarted time.Time
	started      bool

	status types.LoopStatus
}

func NewAirPump(cfg config.AirPumpConfig, relay hal.Relay) *AirPump {
	return &AirPump{cfg: cfg, relay: relay}
}

func (a *AirPump) Name() types.LoopName { return types.LoopAirPump }

func (a *AirPump) Step(ctx context.Context) {
	now := time.Now()
	if !a.started {
		a.enterPhase(ctx, true, now)
	}

	elapsed := now.Sub(a.phaseStarted)
	want := a.cfg.On
	if !a.phaseOn {
		want = a.cfg.Off
	}
	if elapsed >= want {
		a.enterPhase(ctx, !a.phaseOn, now)
	}

	a.status = types.LoopStatus{Enabled: true, ActuatorOn: a.relay.On()}
}

func (a *AirPump) enterPhase(ctx context.Context, on bool, at time.Time) {
	a.phaseOn = on
	a.phaseStarted = at
	a.started = true
	if err := a.relay.Set(ctx, on); err != nil {
		log.Warn().Str("loop", "air_pump").Err(err).Msg("air pump relay drive failed")
	}
}

// EnsureOff forces the relay OFF and restarts the OFF phase timer:
// disabling the loop forces OFF and restarts the OFF phase.
func (a *AirPump) EnsureOff(ctx context.Context) {
	a.enterPhase(ctx, false, time.Now())
}

func (a *AirPump) Reset() {
	a.started = false
}

func (a *AirPump) Status() types.LoopStatus {
	s := a.status
	s.ActuatorOn = a.relay.On()
	return s
}
