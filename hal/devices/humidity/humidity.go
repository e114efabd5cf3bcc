// Package humidity adapts an SHT3x-family humidity/temperature combo probe
// on I2C into the hal.HumidityProbe capability. The read sequencing (write
// command, sleep for conversion time, read N bytes, CRC-check) follows the
// shape of the d2r2/go-i2c family of drivers; the transport itself stays on
// periph.io's i2c.Dev so the HAL has one I2C stack end to end.
package humidity

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"periph.io/x/periph/conn/i2c"

	"incubator-core/types"
)

var cmdSingleMeasureHigh = []byte{0x24, 0x00}

const (
	measureTime = 15 * time.Millisecond

	minPlausiblePct = 0.0
	maxPlausiblePct = 100.0
)

func crc8(data []byte) byte {
	const poly = 0x31
	crc := byte(0xFF)
	for _, b := range data {
		crc ^= b
		for i := 0; i < 8; i++ {
			if crc&0x80 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc <<= 1
			}
		}
	}
	return crc
}

// Probe implements hal.HumidityProbe over a periph.io I2C device handle.
type Probe struct {
	dev *i2c.Dev
}

// New wraps an already-opened periph.io I2C bus at the probe's address.
func New(bus i2c.Bus, addr uint16) *Probe {
	return &Probe{dev: &i2c.Dev{Bus: bus, Addr: addr}}
}

func (p *Probe) Read(ctx context.Context) types.Reading {
	if err := p.dev.Tx(cmdSingleMeasureHigh, nil); err != nil {
		log.Warn().Err(err).Msg("humidity probe: write command failed")
		return types.NotConnected
	}

	timer := time.NewTimer(measureTime)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return types.NotConnected
	case <-timer.C:
	}

	buf := make([]byte, 6)
	if err := p.dev.Tx(nil, buf); err != nil {
		log.Warn().Err(err).Msg("humidity probe: read failed")
		return types.NotConnected
	}

	// bytes[0:2] temperature word + CRC (unused here), bytes[3:5] humidity
	// word + CRC (byte[5]).
	if crc8(buf[3:5]) != buf[5] {
		log.Warn().Msg("humidity probe: CRC mismatch")
		return types.NotConnected
	}

	raw := uint16(buf[3])<<8 | uint16(buf[4])
	pct := float64(raw) / 65535.0 * 100.0
	if pct < minPlausiblePct || pct > maxPlausiblePct {
		return types.NotConnected
	}
	return types.Value(pct)
}

// Close is a no-op; the underlying bus is owned and closed by whoever
// opened it (periph.io busses may be shared across probes).
func (p *Probe) Close() error { return nil }
