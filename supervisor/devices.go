package supervisor

import (
	"github.com/rs/zerolog/log"

	"incubator-core/hal"
)

// Devices bundles every HAL handle the supervisor wires into the five
// control loops: loops never instantiate hardware themselves; the
// supervisor constructs every dependency and transfers ownership to
// exactly one loop.
type Devices struct {
	TemperatureProbe hal.TemperatureProbe
	HumidityProbe    hal.HumidityProbe
	OxygenProbe      hal.OxygenProbe
	CO2Probe         hal.CO2Probe

	HeaterRelay       hal.Relay
	HumidifierRelay   hal.Relay
	ArgonValveRelay   hal.Relay
	CO2PrimaryRelay   hal.Relay
	CO2SecondaryRelay hal.Relay
	AirPumpRelay      hal.Relay
}

type closer interface{ Close() error }

// Close tears down every device that exposes a Close method, best-effort
// on shutdown. Errors are logged, not
// returned, so one stubborn device cannot stop the rest from closing.
func (d Devices) Close() {
	for name, c := range map[string]any{
		"temperature_probe": d.TemperatureProbe,
		"humidity_probe":    d.HumidityProbe,
		"oxygen_probe":      d.OxygenProbe,
		"co2_probe":         d.CO2Probe,
		"heater_relay":      d.HeaterRelay,
		"humidifier_relay":  d.HumidifierRelay,
		"argon_valve_relay": d.ArgonValveRelay,
		"co2_primary_relay": d.CO2PrimaryRelay,
		"co2_secondary_relay": d.CO2SecondaryRelay,
		"air_pump_relay":    d.AirPumpRelay,
	} {
		cl, ok := c.(closer)
		if !ok || cl == nil {
			continue
		}
		if err := cl.Close(); err != nil {
			log.Warn().Str("device", name).Err(err).Msg("hal device close failed")
		}
	}
}
