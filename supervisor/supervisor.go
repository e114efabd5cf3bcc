// Package supervisor is the control core's single owner: it owns HAL
// handles and relays, constructs the five control loops, holds the
// global run flag and per-loop enable flags, applies setpoint updates,
// persists state atomically, starts and stops the loop tasks, and
// guarantees every actuator is forced OFF on shutdown. Loops never reach
// back into the Supervisor; they consume only the narrow control.Flags
// handle it exposes.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"incubator-core/bus"
	"incubator-core/config"
	"incubator-core/control"
	"incubator-core/errcode"
	"incubator-core/historian"
	"incubator-core/statestore"
	"incubator-core/types"
)

// setpointLoop is the subset of control.ControlLoop's concrete types that
// carry a setpoint (AirPump has none).
type setpointLoop interface {
	Setpoint() float64
	SetSetpoint(v float64) error
}

// flagsState is the gate state shared between the Supervisor and every
// control loop's tick: one struct, one mutex, read at the start of each
// tick and re-checked after the step.
type flagsState struct {
	globalRun bool
	enabled   map[types.LoopName]bool
}

// Supervisor is the control core's manager.
type Supervisor struct {
	cfg   config.Config
	dev   Devices
	store *statestore.Store
	hist  *historian.Historian
	conn  *bus.Connection

	mu    sync.RWMutex
	flags flagsState

	temperature *control.Temperature
	humidity    *control.Humidity
	oxygen      *control.Oxygen
	co2         *control.CO2
	airPump     *control.AirPump

	loops []control.ControlLoop
	faults map[types.LoopName]*faultTracker

	snapMu   sync.RWMutex
	snapshot types.Snapshot

	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool

	shutdownOnce sync.Once
}

// New constructs the five control loops over dev, loads the persisted
// state, and applies it — load-then-apply, with no forced override of
// incubator_running on startup.
func New(cfg config.Config, dev Devices, store *statestore.Store, hist *historian.Historian, b *bus.Bus) *Supervisor {
	state := store.Load()

	s := &Supervisor{
		cfg:   cfg,
		dev:   dev,
		store: store,
		hist:  hist,
		conn:  b.NewConnection("supervisor"),
		flags: flagsState{
			globalRun: state.IncubatorRunning,
			enabled:   map[types.LoopName]bool{},
		},
		faults: map[types.LoopName]*faultTracker{},
	}
	for _, name := range types.AllLoops {
		s.flags.enabled[name] = state.Enabled(name)
		s.faults[name] = &faultTracker{}
	}

	s.temperature = control.NewTemperature(cfg.Temperature, cfg.Domains.Temperature, dev.TemperatureProbe, dev.HeaterRelay, state.TempSetpoint)
	s.humidity = control.NewHumidity(cfg.Humidity, cfg.Domains.Humidity, dev.HumidityProbe, dev.HumidifierRelay, state.HumiditySetpoint)
	s.oxygen = control.NewOxygen(cfg.O2, cfg.Domains.O2, dev.OxygenProbe, dev.ArgonValveRelay, state.O2Setpoint)
	s.co2 = control.NewCO2(cfg.CO2, cfg.Domains.CO2, dev.CO2Probe, dev.CO2PrimaryRelay, dev.CO2SecondaryRelay, state.CO2Setpoint)
	s.airPump = control.NewAirPump(cfg.AirPump, dev.AirPumpRelay)

	s.loops = []control.ControlLoop{s.temperature, s.humidity, s.oxygen, s.co2, s.airPump}

	log.Info().
		Bool("running", state.IncubatorRunning).
		Float64("temp_setpoint", state.TempSetpoint).
		Float64("humidity_setpoint", state.HumiditySetpoint).
		Float64("o2_setpoint", state.O2Setpoint).
		Float64("co2_setpoint", state.CO2Setpoint).
		Msg("supervisor: loaded state and constructed loops")

	s.rebuildSnapshot()
	return s
}

// Gate implements control.Flags: the one handle a loop consumes to learn
// the global run flag and its own enable flag, read as one atomic pair so
// a loop never observes a torn combination mid-tick.
func (s *Supervisor) Gate(name types.LoopName) (globalRun bool, loopEnabled bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags.globalRun, s.flags.enabled[name]
}

func (s *Supervisor) tickInterval(name types.LoopName) time.Duration {
	switch name {
	case types.LoopTemperature:
		return s.cfg.Temperature.Tick
	case types.LoopHumidity:
		return s.cfg.Humidity.Tick
	case types.LoopO2:
		return s.cfg.O2.Tick
	case types.LoopCO2:
		return s.cfg.CO2.Tick
	case types.LoopAirPump:
		return s.cfg.AirPump.Tick
	default:
		return time.Second
	}
}

// Start opens the CO2 probe's serial session and launches all five loop
// tasks plus the supervisor's own status-poll task and the historian's
// sampling task. It must be called at most once.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("supervisor: already started")
	}
	s.started = true
	s.mu.Unlock()

	if err := s.dev.CO2Probe.Open(ctx); err != nil {
		log.Error().Err(err).Msg("supervisor: co2 probe open failed, co2 loop will report not-connected")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, loop := range s.loops {
		loop := loop
		interval := s.tickInterval(loop.Name())
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			control.Run(runCtx, loop, s, interval)
		}()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.pollLoop(runCtx)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.historianLoop(runCtx)
	}()

	return nil
}

// GetSnapshot returns the supervisor's latest known view, non-blocking
// and never forcing fresh I/O — the cache the poll task last built, not
// a synchronous re-read of every loop.
func (s *Supervisor) GetSnapshot() types.Snapshot {
	s.snapMu.RLock()
	defer s.snapMu.RUnlock()
	return s.snapshot
}

// UpdateSetpoints validates each requested setpoint against its loop's
// domain, applies only the values that actually differ, and persists the
// full state document iff at least one value changed.
// Unknown loop names are rejected as errcode.NotFound; out-of-domain
// values are rejected as errcode.InvalidParams by the loop's own
// SetSetpoint. Either way the prior value is retained.
func (s *Supervisor) UpdateSetpoints(updates map[types.LoopName]float64) (applied map[types.LoopName]float64, rejected map[types.LoopName]error) {
	applied = map[types.LoopName]float64{}
	rejected = map[types.LoopName]error{}
	changed := false

	for name, v := range updates {
		loop, ok := s.setpointLoopFor(name)
		if !ok {
			rejected[name] = fmt.Errorf("%w: loop %q has no setpoint", errcode.NotFound, name)
			continue
		}
		if loop.Setpoint() == v {
			applied[name] = v
			continue
		}
		if err := loop.SetSetpoint(v); err != nil {
			rejected[name] = err
			continue
		}
		applied[name] = v
		changed = true
		log.Info().Str("loop", string(name)).Float64("setpoint", v).Msg("supervisor: setpoint updated")
	}

	if changed {
		s.persist()
	}
	return applied, rejected
}

func (s *Supervisor) setpointLoopFor(name types.LoopName) (setpointLoop, bool) {
	switch name {
	case types.LoopTemperature:
		return s.temperature, true
	case types.LoopHumidity:
		return s.humidity, true
	case types.LoopO2:
		return s.oxygen, true
	case types.LoopCO2:
		return s.co2, true
	default:
		return nil, false
	}
}

// SetEnabled flips the named loop's enable flag. Disabling immediately
// and synchronously forces that loop's actuator off; the flag change is
// persisted. An unknown loop name is rejected as errcode.NotFound.
func (s *Supervisor) SetEnabled(ctx context.Context, name types.LoopName, on bool) error {
	loop, ok := s.loopFor(name)
	if !ok {
		return fmt.Errorf("%w: unknown loop %q", errcode.NotFound, name)
	}

	s.mu.Lock()
	prev := s.flags.enabled[name]
	s.flags.enabled[name] = on
	s.mu.Unlock()

	if prev == on {
		return nil
	}

	log.Info().Str("loop", string(name)).Bool("enabled", on).Msg("supervisor: enable flag changed")
	if !on {
		loop.EnsureOff(ctx)
	}
	s.persist()
	return nil
}

func (s *Supervisor) loopFor(name types.LoopName) (control.ControlLoop, bool) {
	for _, l := range s.loops {
		if l.Name() == name {
			return l, true
		}
	}
	return nil, false
}

// SetGlobalRunning flips the global run flag. On false it calls
// EnsureOff on every loop synchronously before returning — defence in
// depth on top of the gate each loop already evaluates on its own next
// tick. By policy the global run flag is not itself persisted on every
// toggle, to avoid write amplification; its current value is still
// folded into the next persist() triggered by a setpoint or enable-flag
// change. Shutdown does not persist state.
func (s *Supervisor) SetGlobalRunning(ctx context.Context, on bool) {
	s.mu.Lock()
	prev := s.flags.globalRun
	s.flags.globalRun = on
	s.mu.Unlock()

	if prev == on {
		return
	}
	log.Info().Bool("running", on).Msg("supervisor: global run flag changed")
	if !on {
		for _, loop := range s.loops {
			loop.EnsureOff(ctx)
		}
	}
}

// buildState assembles the full persisted document from current loop
// setpoints and flags. Callers must not hold s.mu (Setpoint() methods take
// their own lock).
func (s *Supervisor) buildState() types.GlobalState {
	s.mu.RLock()
	flags := s.flags
	s.mu.RUnlock()

	return types.GlobalState{
		TempSetpoint:     s.temperature.Setpoint(),
		HumiditySetpoint: s.humidity.Setpoint(),
		O2Setpoint:       s.oxygen.Setpoint(),
		CO2Setpoint:      s.co2.Setpoint(),

		IncubatorRunning: flags.globalRun,

		TemperatureEnabled: flags.enabled[types.LoopTemperature],
		HumidityEnabled:    flags.enabled[types.LoopHumidity],
		O2Enabled:          flags.enabled[types.LoopO2],
		CO2Enabled:         flags.enabled[types.LoopCO2],
		AirPumpEnabled:     flags.enabled[types.LoopAirPump],
	}
}

func (s *Supervisor) persist() {
	if err := s.store.Save(s.buildState()); err != nil {
		log.Error().Err(err).Msg("supervisor: state persist failed, in-memory state remains authoritative")
	}
}

// Shutdown forces every actuator OFF, cancels every loop and background
// task, waits for them to finish within cfg.ShutdownTimeout, closes the
// HAL devices, and closes the historian. Idempotent.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		log.Info().Msg("supervisor: shutdown initiated")

		for _, loop := range s.loops {
			loop.EnsureOff(ctx)
		}

		if s.cancel != nil {
			s.cancel()
		}

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(s.cfg.ShutdownTimeout):
			log.Warn().Msg("supervisor: shutdown timed out waiting for loop tasks")
		}

		s.dev.Close()

		if closeErr := s.hist.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("supervisor: historian close failed")
			err = closeErr
		}

		log.Info().Msg("supervisor: shutdown complete")
	})
	return err
}
