// Package oxygen adapts an I2C O2 probe into the hal.OxygenProbe
// capability. The probe internally smooths a configurable window of raw
// samples; the control loop only ever sees the smoothed value.
package oxygen

import (
	"context"

	"github.com/rs/zerolog/log"
	"periph.io/x/periph/conn/i2c"

	"incubator-core/types"
)

var cmdReadSmoothed = []byte{0x01}

const (
	minPlausiblePct = 0.0
	maxPlausiblePct = 100.0
)

// Probe implements hal.OxygenProbe with a rolling mean over Window raw
// reads, taken one per Read call so the smoothing cost is paid on the
// loop's own cadence rather than inside a background goroutine.
type Probe struct {
	dev    *i2c.Dev
	window int
	raw    []float64
	next   int
	filled int
}

// New wraps an already-opened periph.io I2C bus at the probe's address.
// window is the number of raw samples averaged into each Read.
func New(bus i2c.Bus, addr uint16, window int) *Probe {
	if window < 1 {
		window = 1
	}
	return &Probe{dev: &i2c.Dev{Bus: bus, Addr: addr}, window: window, raw: make([]float64, window)}
}

func (p *Probe) readRaw() (float64, error) {
	buf := make([]byte, 2)
	if err := p.dev.Tx(cmdReadSmoothed, buf); err != nil {
		return 0, err
	}
	raw := uint16(buf[0])<<8 | uint16(buf[1])
	// Sensor reports vol% in hundredths.
	return float64(raw) / 100.0, nil
}

func (p *Probe) Read(ctx context.Context) types.Reading {
	v, err := p.readRaw()
	if err != nil {
		log.Warn().Err(err).Msg("oxygen probe: read failed")
		return types.NotConnected
	}
	if v < minPlausiblePct || v > maxPlausiblePct {
		log.Warn().Float64("vol_pct", v).Msg("oxygen probe: reading out of plausible range")
		return types.NotConnected
	}

	p.raw[p.next] = v
	p.next = (p.next + 1) % p.window
	if p.filled < p.window {
		p.filled++
	}

	sum := 0.0
	for i := 0; i < p.filled; i++ {
		sum += p.raw[i]
	}
	return types.Value(sum / float64(p.filled))
}

// Close is a no-op; the bus is owned by whoever opened it.
func (p *Probe) Close() error { return nil }
