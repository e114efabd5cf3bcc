// Package hal defines the narrow capability interfaces each control loop
// consumes: TemperatureProbe, HumidityProbe, OxygenProbe, CO2Probe, and
// Relay. Concrete adaptors live under hal/devices; the low-level
// pin-multiplexing details of the specific sensor chips stay out of
// scope — these interfaces are the entire HAL contract a loop may depend
// on.
package hal

import (
	"context"

	"incubator-core/types"
)

// TemperatureProbe reads one or two RTD channels from a dual-probe hub.
// ReadCh1/ReadCh2 each return types.NotConnected when their channel is
// absent, faulted, or out of plausible range.
type TemperatureProbe interface {
	ReadCh1(ctx context.Context) types.Reading
	ReadCh2(ctx context.Context) types.Reading
}

// HumidityProbe reads relative humidity.
type HumidityProbe interface {
	Read(ctx context.Context) types.Reading
}

// OxygenProbe reads O2 vol%. The probe is expected to internally smooth a
// configurable window of samples; the loop consumes only the
// smoothed value.
type OxygenProbe interface {
	Read(ctx context.Context) types.Reading
}

// CO2Probe reads CO2 ppm over a framed serial line with multiplier
// auto-detection performed at Open.
type CO2Probe interface {
	// Open performs the multiplier-query and polling-mode-set init
	// sequence. Must be called once before the first Read.
	Open(ctx context.Context) error
	Read(ctx context.Context) types.Reading
	Close() error
}

// Relay is an on/off digital output with a known state on construction
// on construction. Set is idempotent; On reports the last commanded state.
type Relay interface {
	Set(ctx context.Context, on bool) error
	On() bool
	Close() error
}
