package control

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"incubator-core/config"
	"incubator-core/types"
)

type fakeHumidityProbe struct{ reading types.Reading }

func (p fakeHumidityProbe) Read(ctx context.Context) types.Reading { return p.reading }

func humidityCfg() (config.HumidityConfig, config.SetpointDomain) {
	return config.HumidityConfig{Hysteresis: 4.0}, config.SetpointDomain{Min: 0, Max: 100}
}

func TestHumidityTurnsOnAtLowerThreshold(t *testing.T) {
	cfg, domain := humidityCfg()
	probe := fakeHumidityProbe{reading: types.Value(58)} // setpoint 60, onThresh 58
	relay := &fakeRelay{}
	loop := NewHumidity(cfg, domain, probe, relay, 60)

	loop.Step(context.Background())

	assert.True(t, relay.On())
}

func TestHumidityStaysOffAboveLowerThreshold(t *testing.T) {
	cfg, domain := humidityCfg()
	probe := fakeHumidityProbe{reading: types.Value(59)}
	relay := &fakeRelay{}
	loop := NewHumidity(cfg, domain, probe, relay, 60)

	loop.Step(context.Background())

	assert.False(t, relay.On())
}

func TestHumidityTurnsOffAtUpperThreshold(t *testing.T) {
	cfg, domain := humidityCfg()
	probe := fakeHumidityProbe{reading: types.Value(62)} // offThresh 62
	relay := &fakeRelay{on: true}
	loop := NewHumidity(cfg, domain, probe, relay, 60)

	loop.Step(context.Background())

	assert.False(t, relay.On())
}

func TestHumidityHoldsInsideDeadband(t *testing.T) {
	cfg, domain := humidityCfg()
	probe := fakeHumidityProbe{reading: types.Value(60)}
	relay := &fakeRelay{on: true}
	loop := NewHumidity(cfg, domain, probe, relay, 60)

	loop.Step(context.Background())

	assert.True(t, relay.On(), "already-on relay stays on inside the deadband")
}

func TestHumidityNotConnectedForcesOff(t *testing.T) {
	cfg, domain := humidityCfg()
	probe := fakeHumidityProbe{reading: types.NotConnected}
	relay := &fakeRelay{on: true}
	loop := NewHumidity(cfg, domain, probe, relay, 60)

	loop.Step(context.Background())

	assert.False(t, relay.On())
	assert.False(t, loop.Status().Reading.Valid())
}

func TestHumiditySetSetpointRecomputesThresholds(t *testing.T) {
	cfg, domain := humidityCfg()
	loop := NewHumidity(cfg, domain, fakeHumidityProbe{}, &fakeRelay{}, 60)

	require := assert.New(t)
	err := loop.SetSetpoint(80)
	require.NoError(err)

	on, off := loop.thresholds()
	require.Equal(78.0, on)
	require.Equal(82.0, off)
}
