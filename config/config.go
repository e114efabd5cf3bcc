// Package config holds the single, plain configuration struct the
// incubator core is built from. It is constructed once in main and passed
// down explicitly; nothing in this module re-reads environment state or a
// config file on its own.
package config

import "time"

// SetpointDomain is an inclusive [Min, Max] range a loop's setpoint must
// lie within. Values outside the domain are rejected at the
// supervisor boundary; the prior value is retained.
type SetpointDomain struct {
	Min float64
	Max float64
}

func (d SetpointDomain) Contains(v float64) bool { return v >= d.Min && v <= d.Max }

// Domains collects the four setpoint domains the control loops use.
type Domains struct {
	Temperature SetpointDomain
	Humidity    SetpointDomain
	O2          SetpointDomain
	CO2         SetpointDomain
}

// TemperatureConfig holds the PID loop's tunables.
type TemperatureConfig struct {
	Tick time.Duration
	P, I, D float64
	// OutputThreshold is the PID output above which the heater turns ON.
	OutputThreshold float64
	// OutputLimit bounds the PID output symmetrically (±OutputLimit).
	OutputLimit float64
}

// HumidityConfig holds the hysteresis loop's tunables.
type HumidityConfig struct {
	Tick      time.Duration
	Hysteresis float64
}

// OxygenConfig holds the threshold-pulse loop's tunables.
type OxygenConfig struct {
	Tick     time.Duration
	Cooldown time.Duration
	Pulse    time.Duration
}

// CO2Config holds the dual-solenoid threshold-pulse loop's tunables and
// the serial transport parameters for the probe.
type CO2Config struct {
	Tick           time.Duration
	Cooldown       time.Duration
	Pulse          time.Duration
	SolenoidSpacing time.Duration

	SerialPort    string
	BaudRate      int
	ReadRetries   int
	ReadTimeout   time.Duration
}

// AirPumpConfig holds the fixed duty-cycle loop's tunables.
type AirPumpConfig struct {
	Tick time.Duration
	On   time.Duration
	Off  time.Duration
}

// HALConfig holds the transport parameters for the non-CO2 HAL devices.
type HALConfig struct {
	// I2CBus names the bus device (e.g. "/dev/i2c-1").
	I2CBus            string
	HumidityAddr      uint16
	O2Addr            uint16
	// TemperatureSPIBus and TemperatureCh2SPIBus name the two independent
	// chip-selects of the dual-channel RTD hub. Ch2 may be left empty on a
	// single-probe installation; buildDevices then wires a nil channel,
	// which always reads not-connected and drives the temperature loop's
	// single-channel degraded fallback.
	TemperatureSPIBus    string
	TemperatureCh2SPIBus string

	HeaterRelayPin       string
	HumidifierRelayPin   string
	ArgonValveRelayPin   string
	CO2PrimaryRelayPin   string
	CO2SecondaryRelayPin string
	AirPumpRelayPin      string
}

// HistorianConfig holds the sample historian's store and timeout policy.
type HistorianConfig struct {
	DBPath string

	// RangeQueryTimeoutShort bounds a bounded-range query; RangeQueryTimeoutAll
	// bounds an unbounded ("all history") query.
	RangeQueryTimeoutShort time.Duration
	RangeQueryTimeoutAll   time.Duration

	SampleInterval time.Duration
}

// Config is the single struct every tunable in the system hangs off.
// Constructed once (Default, or a caller-supplied variant) and passed down
// by value or pointer from main; nothing below reads it piecemeal from
// globals.
type Config struct {
	StateFilePath string

	Domains Domains

	Temperature TemperatureConfig
	Humidity    HumidityConfig
	O2          OxygenConfig
	CO2         CO2Config
	AirPump     AirPumpConfig

	HAL       HALConfig
	Historian HistorianConfig

	// SupervisorPollInterval is the cadence at which the supervisor
	// refreshes the snapshot it serves to get_snapshot.
	SupervisorPollInterval time.Duration

	// ShutdownTimeout bounds how long shutdown() waits for loop tasks to
	// finish after cancellation.
	ShutdownTimeout time.Duration
}

// Default returns the incubator's literal factory-default tunables.
func Default() Config {
	return Config{
		StateFilePath: "/var/lib/incubator-core/state.json",

		Domains: Domains{
			Temperature: SetpointDomain{Min: 0, Max: 80},
			Humidity:    SetpointDomain{Min: 0, Max: 100},
			O2:          SetpointDomain{Min: 0, Max: 100},
			CO2:         SetpointDomain{Min: 0.0001, Max: 1e9},
		},

		Temperature: TemperatureConfig{
			Tick:            1 * time.Second,
			P:               5,
			I:               0,
			D:               0,
			OutputThreshold: 0,
			OutputLimit:     100,
		},

		Humidity: HumidityConfig{
			Tick:       1 * time.Second,
			Hysteresis: 4.0,
		},

		O2: OxygenConfig{
			Tick:     1 * time.Second,
			Cooldown: 60 * time.Second,
			Pulse:    100 * time.Millisecond,
		},

		CO2: CO2Config{
			Tick:            1 * time.Second,
			Cooldown:        15 * time.Second,
			Pulse:           100 * time.Millisecond,
			SolenoidSpacing: 1 * time.Second,

			SerialPort:  "/dev/ttyUSB0",
			BaudRate:    9600,
			ReadRetries: 3,
			ReadTimeout: 1200 * time.Millisecond,
		},

		AirPump: AirPumpConfig{
			Tick: 1 * time.Second,
			On:   1 * time.Second,
			Off:  29 * time.Second,
		},

		HAL: HALConfig{
			I2CBus:               "/dev/i2c-1",
			HumidityAddr:         0x44,
			O2Addr:               0x6a,
			TemperatureSPIBus:    "/dev/spidev0.0",
			TemperatureCh2SPIBus: "/dev/spidev0.1",

			HeaterRelayPin:       "GPIO17",
			HumidifierRelayPin:   "GPIO27",
			ArgonValveRelayPin:   "GPIO22",
			CO2PrimaryRelayPin:   "GPIO23",
			CO2SecondaryRelayPin: "GPIO24",
			AirPumpRelayPin:      "GPIO25",
		},

		Historian: HistorianConfig{
			DBPath:                 "/var/lib/incubator-core/history.db",
			RangeQueryTimeoutShort: 5 * time.Second,
			RangeQueryTimeoutAll:   60 * time.Second,
			SampleInterval:         1 * time.Second,
		},

		SupervisorPollInterval: 1 * time.Second,
		ShutdownTimeout:        5 * time.Second,
	}
}
