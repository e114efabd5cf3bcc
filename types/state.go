package types

// LoopName identifies one of the five control loops. Kept as a string newtype
// (not a bare string) so the supervisor's enable-map and the façade's
// not-found/bad-request errors have one comparable vocabulary.
type LoopName string

const (
	LoopTemperature LoopName = "temperature"
	LoopHumidity    LoopName = "humidity"
	LoopO2          LoopName = "o2"
	LoopCO2         LoopName = "co2"
	LoopAirPump     LoopName = "air_pump"
)

// AllLoops lists every loop name, in the order the supervisor constructs
// and polls them.
var AllLoops = [...]LoopName{LoopTemperature, LoopHumidity, LoopO2, LoopCO2, LoopAirPump}

// GlobalState is the persisted document: setpoints, the
// per-loop enable flags, and the global run flag. It is either fully valid
// or absent on disk — never half-written.
type GlobalState struct {
	TempSetpoint     float64 `json:"temp_setpoint"`
	HumiditySetpoint float64 `json:"humidity_setpoint"`
	O2Setpoint       float64 `json:"o2_setpoint"`
	CO2Setpoint      float64 `json:"co2_setpoint"`

	IncubatorRunning bool `json:"incubator_running"`

	TemperatureEnabled bool `json:"temperature_enabled"`
	HumidityEnabled    bool `json:"humidity_enabled"`
	O2Enabled          bool `json:"o2_enabled"`
	CO2Enabled         bool `json:"co2_enabled"`
	AirPumpEnabled     bool `json:"air_pump_enabled"`
}

// Enabled returns the persisted enable flag for the named loop.
func (s GlobalState) Enabled(name LoopName) bool {
	switch name {
	case LoopTemperature:
		return s.TemperatureEnabled
	case LoopHumidity:
		return s.HumidityEnabled
	case LoopO2:
		return s.O2Enabled
	case LoopCO2:
		return s.CO2Enabled
	case LoopAirPump:
		return s.AirPumpEnabled
	default:
		return false
	}
}

// WithEnabled returns a copy of s with the named loop's flag set.
func (s GlobalState) WithEnabled(name LoopName, on bool) GlobalState {
	switch name {
	case LoopTemperature:
		s.TemperatureEnabled = on
	case LoopHumidity:
		s.HumidityEnabled = on
	case LoopO2:
		s.O2Enabled = on
	case LoopCO2:
		s.CO2Enabled = on
	case LoopAirPump:
		s.AirPumpEnabled = on
	}
	return s
}

// Setpoint returns the persisted setpoint for the named loop. AirPump has no
// setpoint and returns (0, false).
func (s GlobalState) Setpoint(name LoopName) (float64, bool) {
	switch name {
	case LoopTemperature:
		return s.TempSetpoint, true
	case LoopHumidity:
		return s.HumiditySetpoint, true
	case LoopO2:
		return s.O2Setpoint, true
	case LoopCO2:
		return s.CO2Setpoint, true
	default:
		return 0, false
	}
}

// WithSetpoint returns a copy of s with the named loop's setpoint set.
func (s GlobalState) WithSetpoint(name LoopName, v float64) GlobalState {
	switch name {
	case LoopTemperature:
		s.TempSetpoint = v
	case LoopHumidity:
		s.HumiditySetpoint = v
	case LoopO2:
		s.O2Setpoint = v
	case LoopCO2:
		s.CO2Setpoint = v
	}
	return s
}

// Defaults are the fallback values used when the state file is
// absent, unreadable, or partially invalid.
func Defaults() GlobalState {
	return GlobalState{
		TempSetpoint:     37.0,
		HumiditySetpoint: 60.0,
		O2Setpoint:       5.0,
		CO2Setpoint:      1000.0,

		IncubatorRunning: false,

		TemperatureEnabled: true,
		HumidityEnabled:    true,
		O2Enabled:          true,
		CO2Enabled:         true,
		AirPumpEnabled:     true,
	}
}
