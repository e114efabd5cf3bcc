package types

import "time"

// Sample is one historian row: a timestamped bundle of every
// loop's reading and setpoint at the moment the historian polled the
// snapshot. Timestamp is the unique, monotonically non-decreasing primary
// key; readings that were "not connected" at sample time are stored as
// absent (nil) rather than zero, so a CSV export renders them empty
// instead of a misleading 0.
type Sample struct {
	Timestamp time.Time

	TemperatureAvg *float64
	TemperatureCh1 *float64
	TemperatureCh2 *float64
	Humidity       *float64
	O2             *float64
	CO2            *float64

	TempSetpoint     float64
	HumiditySetpoint float64
	O2Setpoint       float64
	CO2Setpoint      float64
}

// FromSnapshot builds the historian row the supervisor's snapshot implies
// at time t.
func FromSnapshot(s Snapshot, t time.Time) Sample {
	readingPtr := func(r Reading) *float64 {
		v, ok := r.Get()
		if !ok {
			return nil
		}
		return &v
	}
	return Sample{
		Timestamp:        t,
		TemperatureAvg:   readingPtr(s.Temperature.Reading),
		TemperatureCh1:   readingPtr(s.TemperatureCh1),
		TemperatureCh2:   readingPtr(s.TemperatureCh2),
		Humidity:         readingPtr(s.Humidity.Reading),
		O2:               readingPtr(s.O2.Reading),
		CO2:              readingPtr(s.CO2.Reading),
		TempSetpoint:     s.TempSetpoint,
		HumiditySetpoint: s.HumiditySetpoint,
		O2Setpoint:       s.O2Setpoint,
		CO2Setpoint:      s.CO2Setpoint,
	}
}
