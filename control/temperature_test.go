package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incubator-core/config"
	"incubator-core/types"
)

type fakeTempProbe struct{ ch1, ch2 types.Reading }

func (p fakeTempProbe) ReadCh1(ctx context.Context) types.Reading { return p.ch1 }
func (p fakeTempProbe) ReadCh2(ctx context.Context) types.Reading { return p.ch2 }

type fakeRelay struct {
	on     bool
	setErr error
}

func (r *fakeRelay) Set(ctx context.Context, on bool) error {
	if r.setErr != nil {
		return r.setErr
	}
	r.on = on
	return nil
}
func (r *fakeRelay) On() bool      { return r.on }
func (r *fakeRelay) Close() error  { return nil }

func tempCfg() (config.TemperatureConfig, config.SetpointDomain) {
	return config.TemperatureConfig{P: 5, OutputThreshold: 0, OutputLimit: 100}, config.SetpointDomain{Min: 0, Max: 80}
}

func TestTemperatureHeaterOnBelowSetpoint(t *testing.T) {
	cfg, domain := tempCfg()
	probe := fakeTempProbe{ch1: types.Value(30), ch2: types.Value(30)}
	relay := &fakeRelay{}
	loop := NewTemperature(cfg, domain, probe, relay, 37)

	loop.Step(context.Background())

	assert.True(t, relay.On())
	assert.Equal(t, types.LoopTemperature, loop.Name())
}

func TestTemperatureHeaterOffAboveSetpoint(t *testing.T) {
	cfg, domain := tempCfg()
	probe := fakeTempProbe{ch1: types.Value(45), ch2: types.Value(45)}
	relay := &fakeRelay{on: true}
	loop := NewTemperature(cfg, domain, probe, relay, 37)

	loop.Step(context.Background())

	assert.False(t, relay.On())
}

func TestTemperatureSingleChannelFallbackIsDegraded(t *testing.T) {
	cfg, domain := tempCfg()
	probe := fakeTempProbe{ch1: types.Value(30), ch2: types.NotConnected}
	relay := &fakeRelay{}
	loop := NewTemperature(cfg, domain, probe, relay, 37)

	loop.Step(context.Background())

	status := loop.Status()
	assert.True(t, status.Degraded)
	v, ok := status.Reading.Get()
	require.True(t, ok)
	assert.Equal(t, 30.0, v)
}

func TestTemperatureBothChannelsDownForcesHeaterOff(t *testing.T) {
	cfg, domain := tempCfg()
	probe := fakeTempProbe{ch1: types.NotConnected, ch2: types.NotConnected}
	relay := &fakeRelay{on: true}
	loop := NewTemperature(cfg, domain, probe, relay, 37)

	loop.Step(context.Background())

	assert.False(t, relay.On())
	assert.False(t, loop.Status().Reading.Valid())
}

func TestTemperatureSetSetpointRejectsOutOfDomain(t *testing.T) {
	cfg, domain := tempCfg()
	loop := NewTemperature(cfg, domain, fakeTempProbe{}, &fakeRelay{}, 37)

	err := loop.SetSetpoint(999)
	require.Error(t, err)
	assert.Equal(t, 37.0, loop.Setpoint())
}

func TestTemperatureEnsureOffResetsIntegrator(t *testing.T) {
	cfg, domain := tempCfg()
	probe := fakeTempProbe{ch1: types.Value(20), ch2: types.Value(20)}
	relay := &fakeRelay{}
	loop := NewTemperature(cfg, domain, probe, relay, 37)

	loop.Step(context.Background())
	assert.NotZero(t, loop.integral)

	loop.EnsureOff(context.Background())
	assert.False(t, relay.On())
	assert.Zero(t, loop.integral)
}
