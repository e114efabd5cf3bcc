package supervisor

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incubator-core/bus"
	"incubator-core/config"
	"incubator-core/errcode"
	"incubator-core/historian"
	"incubator-core/statestore"
	"incubator-core/types"
)

// fakeRelay is an in-memory relay: it starts off and records every Set call
// and when it happened.
type fakeRelay struct {
	mu  sync.Mutex
	on  bool
	set []bool
	at  []time.Time
}

func (r *fakeRelay) Set(ctx context.Context, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.on = on
	r.set = append(r.set, on)
	r.at = append(r.at, time.Now())
	return nil
}

// firstOnAt returns when the relay was first commanded ON, or the zero time.
func (r *fakeRelay) firstOnAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, on := range r.set {
		if on {
			return r.at[i]
		}
	}
	return time.Time{}
}
func (r *fakeRelay) On() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.on
}
func (r *fakeRelay) Close() error { return nil }

func (r *fakeRelay) history() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]bool, len(r.set))
	copy(out, r.set)
	return out
}

// fakeReadingProbe is a settable hal.HumidityProbe/hal.OxygenProbe stand-in.
type fakeReadingProbe struct {
	mu      sync.Mutex
	reading types.Reading
}

func newFakeReadingProbe(v float64) *fakeReadingProbe {
	return &fakeReadingProbe{reading: types.Value(v)}
}
func (p *fakeReadingProbe) Read(ctx context.Context) types.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reading
}
func (p *fakeReadingProbe) set(r types.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reading = r
}

type fakeTempProbe struct {
	mu       sync.Mutex
	ch1, ch2 types.Reading
}

func (p *fakeTempProbe) ReadCh1(ctx context.Context) types.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch1
}
func (p *fakeTempProbe) ReadCh2(ctx context.Context) types.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch2
}
func (p *fakeTempProbe) set(ch1, ch2 types.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ch1, p.ch2 = ch1, ch2
}

type fakeCO2Probe struct {
	mu      sync.Mutex
	reading types.Reading
	opened  bool
}

func (p *fakeCO2Probe) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opened = true
	return nil
}
func (p *fakeCO2Probe) Read(ctx context.Context) types.Reading {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reading
}
func (p *fakeCO2Probe) Close() error { return nil }
func (p *fakeCO2Probe) set(r types.Reading) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reading = r
}

type harness struct {
	sup *Supervisor

	heater     *fakeRelay
	humidifier *fakeRelay
	argon      *fakeRelay
	co2Primary *fakeRelay
	co2Second  *fakeRelay
	airPump    *fakeRelay

	tempProbe *fakeTempProbe
	humProbe  *fakeReadingProbe
	o2Probe   *fakeReadingProbe
	co2Probe  *fakeCO2Probe
}

func newHarness(t *testing.T, cfg config.Config) *harness {
	t.Helper()

	dir := t.TempDir()
	store := statestore.New(filepath.Join(dir, "state.json"))
	hist, err := historian.Open(config.HistorianConfig{
		DBPath:                 filepath.Join(dir, "history.db"),
		RangeQueryTimeoutShort: time.Second,
		RangeQueryTimeoutAll:   time.Second,
		SampleInterval:         cfg.Historian.SampleInterval,
	})
	require.NoError(t, err)
	t.Cleanup(func() { hist.Close() })

	h := &harness{
		heater:     &fakeRelay{},
		humidifier: &fakeRelay{},
		argon:      &fakeRelay{},
		co2Primary: &fakeRelay{},
		co2Second:  &fakeRelay{},
		airPump:    &fakeRelay{},
		tempProbe:  &fakeTempProbe{},
		humProbe:   newFakeReadingProbe(60),
		o2Probe:    newFakeReadingProbe(5),
		co2Probe:   &fakeCO2Probe{reading: types.Value(1000)},
	}

	dev := Devices{
		TemperatureProbe:  h.tempProbe,
		HumidityProbe:     h.humProbe,
		OxygenProbe:       h.o2Probe,
		CO2Probe:          h.co2Probe,
		HeaterRelay:       h.heater,
		HumidifierRelay:   h.humidifier,
		ArgonValveRelay:   h.argon,
		CO2PrimaryRelay:   h.co2Primary,
		CO2SecondaryRelay: h.co2Second,
		AirPumpRelay:      h.airPump,
	}

	b := bus.NewBus(8)
	h.sup = New(cfg, dev, store, hist, b)
	return h
}

func fastTestConfig() config.Config {
	cfg := config.Default()
	cfg.StateFilePath = "" // unused: newHarness builds its own store in a temp dir
	cfg.Temperature.Tick = 20 * time.Millisecond
	cfg.Humidity.Tick = 20 * time.Millisecond
	cfg.O2.Tick = 20 * time.Millisecond
	cfg.O2.Pulse = 5 * time.Millisecond
	cfg.O2.Cooldown = 200 * time.Millisecond
	cfg.CO2.Tick = 20 * time.Millisecond
	cfg.CO2.Pulse = 5 * time.Millisecond
	cfg.CO2.SolenoidSpacing = 10 * time.Millisecond
	cfg.CO2.Cooldown = 200 * time.Millisecond
	cfg.AirPump.Tick = 20 * time.Millisecond
	cfg.AirPump.On = 30 * time.Millisecond
	cfg.AirPump.Off = 60 * time.Millisecond
	cfg.SupervisorPollInterval = 20 * time.Millisecond
	cfg.Historian.SampleInterval = 30 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	return cfg
}

// TestGlobalRunFalseForcesAllActuatorsOff checks that with global run
// false and every loop enabled, every actuator is off.
func TestGlobalRunFalseForcesAllActuatorsOff(t *testing.T) {
	cfg := fastTestConfig()
	h := newHarness(t, cfg)

	h.tempProbe.set(types.Value(40), types.Value(40)) // above setpoint: heater would be off anyway
	h.humProbe.set(types.Value(10))                    // far under setpoint: would otherwise turn on
	h.o2Probe.set(types.Value(50))                     // far over setpoint: would otherwise pulse
	h.co2Probe.set(types.Value(1))                     // far under setpoint: would otherwise inject

	for _, name := range types.AllLoops {
		require.NoError(t, h.sup.SetEnabled(context.Background(), name, true))
	}
	h.sup.SetGlobalRunning(context.Background(), false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.sup.Start(ctx))

	time.Sleep(2 * cfg.Temperature.Tick)

	assert.False(t, h.heater.On())
	assert.False(t, h.humidifier.On())
	assert.False(t, h.argon.On())
	assert.False(t, h.co2Primary.On())
	assert.False(t, h.co2Second.On())
	assert.False(t, h.airPump.On())
}

// TestDisablingLoopForcesActuatorOff checks the per-loop half of the same
// invariant: disabling one loop while global run stays true forces that
// loop's actuator off.
func TestDisablingLoopForcesActuatorOff(t *testing.T) {
	cfg := fastTestConfig()
	h := newHarness(t, cfg)
	h.humProbe.set(types.Value(10)) // under setpoint: humidifier wants ON

	h.sup.SetGlobalRunning(context.Background(), true)
	require.NoError(t, h.sup.SetEnabled(context.Background(), types.LoopHumidity, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.sup.Start(ctx))

	require.Eventually(t, h.humidifier.On, time.Second, 5*time.Millisecond)

	require.NoError(t, h.sup.SetEnabled(context.Background(), types.LoopHumidity, false))
	assert.False(t, h.humidifier.On())
}

// TestNotConnectedForcesActuatorOff checks that a not-connected reading
// forces the loop's actuator off.
func TestNotConnectedForcesActuatorOff(t *testing.T) {
	cfg := fastTestConfig()
	h := newHarness(t, cfg)
	h.humProbe.set(types.NotConnected)

	h.sup.SetGlobalRunning(context.Background(), true)
	require.NoError(t, h.sup.SetEnabled(context.Background(), types.LoopHumidity, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.sup.Start(ctx))

	time.Sleep(3 * cfg.Humidity.Tick)
	assert.False(t, h.humidifier.On())
}

// TestUpdateSetpointsRejectsOutOfDomain checks that an out-of-domain
// setpoint is rejected and the prior value is retained.
func TestUpdateSetpointsRejectsOutOfDomain(t *testing.T) {
	cfg := fastTestConfig()
	h := newHarness(t, cfg)

	applied, rejected := h.sup.UpdateSetpoints(map[types.LoopName]float64{
		types.LoopTemperature: 999, // outside [0,80]
		types.LoopHumidity:    55,
	})

	assert.Empty(t, applied[types.LoopTemperature])
	assert.Contains(t, rejected, types.LoopTemperature)
	assert.Equal(t, 55.0, applied[types.LoopHumidity])

	snap := h.sup.GetSnapshot()
	assert.Equal(t, types.Defaults().TempSetpoint, snap.TempSetpoint)
}

// TestUpdateSetpointsRejectsUnknownLoop checks the not-found boundary
// error for a loop with no setpoint.
func TestUpdateSetpointsRejectsUnknownLoop(t *testing.T) {
	cfg := fastTestConfig()
	h := newHarness(t, cfg)

	_, rejected := h.sup.UpdateSetpoints(map[types.LoopName]float64{
		types.LoopAirPump: 1, // air pump has no setpoint
	})
	require.Contains(t, rejected, types.LoopAirPump)
	assert.ErrorIs(t, rejected[types.LoopAirPump], errcode.NotFound)
}

// TestShutdownForcesEveryActuatorOff checks that shutdown forces every
// actuator off.
func TestShutdownForcesEveryActuatorOff(t *testing.T) {
	cfg := fastTestConfig()
	h := newHarness(t, cfg)
	h.humProbe.set(types.Value(10))

	h.sup.SetGlobalRunning(context.Background(), true)
	for _, name := range types.AllLoops {
		require.NoError(t, h.sup.SetEnabled(context.Background(), name, true))
	}

	ctx := context.Background()
	require.NoError(t, h.sup.Start(ctx))
	require.Eventually(t, h.humidifier.On, time.Second, 5*time.Millisecond)

	require.NoError(t, h.sup.Shutdown(context.Background()))

	assert.False(t, h.heater.On())
	assert.False(t, h.humidifier.On())
	assert.False(t, h.argon.On())
	assert.False(t, h.co2Primary.On())
	assert.False(t, h.co2Second.On())
	assert.False(t, h.airPump.On())
}

// TestPersistAndRestartRoundTrips checks that state written by one store
// handle is observed identically through a fresh one, simulating a restart.
func TestPersistAndRestartRoundTrips(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	seed := types.GlobalState{
		TempSetpoint:       36.5,
		HumiditySetpoint:   60,
		O2Setpoint:         5,
		CO2Setpoint:        1000,
		IncubatorRunning:   true,
		TemperatureEnabled: true,
		HumidityEnabled:    false,
		O2Enabled:          true,
		CO2Enabled:         true,
		AirPumpEnabled:     true,
	}
	require.NoError(t, statestore.New(path).Save(seed))

	store2 := statestore.New(path)
	loaded := store2.Load()
	assert.Equal(t, seed, loaded)
}

// TestCO2InjectSequenceOrdering checks that the primary solenoid pulses
// before the secondary, when the reading is under setpoint and cooldown
// has elapsed.
func TestCO2InjectSequenceOrdering(t *testing.T) {
	cfg := fastTestConfig()
	h := newHarness(t, cfg)
	h.co2Probe.set(types.Value(500)) // under the 1000ppm default setpoint

	h.sup.SetGlobalRunning(context.Background(), true)
	require.NoError(t, h.sup.SetEnabled(context.Background(), types.LoopCO2, true))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, h.sup.Start(ctx))

	require.Eventually(t, func() bool {
		return len(h.co2Primary.history()) > 0 && len(h.co2Second.history()) > 0
	}, time.Second, 5*time.Millisecond)

	primary := h.co2Primary.history()
	secondary := h.co2Second.history()
	require.NotEmpty(t, primary)
	require.NotEmpty(t, secondary)
	assert.True(t, primary[0])
	assert.True(t, secondary[0])
	assert.True(t, h.co2Primary.firstOnAt().Before(h.co2Second.firstOnAt()),
		"primary solenoid must be commanded ON before the secondary")
}
