// Package rtdhub adapts a dual-channel RTD-to-digital hub (MAX31865-style)
// on an SPI bus into the hal.TemperatureProbe capability. Each channel is
// wired to its own SPI port (one chip-select per RTD), mirroring the
// two-channel RTD hub.
package rtdhub

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/rs/zerolog/log"
	"periph.io/x/periph/conn"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"

	"incubator-core/types"
)

// Reference resistor and RTD nominal resistance for a PT100 fitted with a
// 430 ohm reference, the MAX31865 application-note default.
const (
	rRef     = 430.0
	rNominal = 100.0

	// Plausible physical range for an incubator probe; readings outside
	// this band are treated as "not connected".
	minPlausibleC = -20.0
	maxPlausibleC = 120.0
)

// Channel is one RTD channel: an SPI port and its open connection.
type Channel struct {
	port spi.PortCloser
	conn conn.Conn
}

// OpenChannel opens an SPI port by periph.io name (e.g. "/dev/spidev0.0")
// in MAX31865's mode (SPI mode 1, MSB first, up to 5MHz).
func OpenChannel(portName string) (*Channel, error) {
	port, err := spireg.Open(portName)
	if err != nil {
		return nil, fmt.Errorf("rtdhub: open %s: %w", portName, err)
	}
	c, err := port.Connect(5_000_000, spi.Mode1, 8)
	if err != nil {
		port.Close()
		return nil, fmt.Errorf("rtdhub: connect %s: %w", portName, err)
	}
	return &Channel{port: port, conn: c}, nil
}

func (c *Channel) Close() error { return c.port.Close() }

// readRaw issues a 15-bit RTD register read: write the read-address byte,
// clock out two bytes, mask off the fault bit.
func (c *Channel) readRaw() (uint16, error) {
	w := []byte{0x01, 0x00, 0x00}
	r := make([]byte, 3)
	if err := c.conn.Tx(w, r); err != nil {
		return 0, err
	}
	raw := binary.BigEndian.Uint16(r[1:3]) >> 1
	return raw, nil
}

func rawToCelsius(raw uint16) float64 {
	rRTD := float64(raw) / 32768.0 * rRef
	// Simplified Callendar-Van Dusen linear approximation, adequate over
	// the incubator's narrow operating band; a full quadratic correction
	// is not needed at these temperatures.
	const a = 3.9083e-3
	return (rRTD/rNominal - 1) / a
}

// Hub implements hal.TemperatureProbe over two independent RTD channels.
type Hub struct {
	ch1, ch2 *Channel
}

// New wires two already-open channels into a Hub. A nil channel means that
// physical channel is absent and always reads not-connected.
func New(ch1, ch2 *Channel) *Hub {
	return &Hub{ch1: ch1, ch2: ch2}
}

func read(ctx context.Context, ch *Channel, label string) types.Reading {
	if ch == nil {
		return types.NotConnected
	}
	raw, err := ch.readRaw()
	if err != nil {
		log.Warn().Str("channel", label).Err(err).Msg("rtd read failed")
		return types.NotConnected
	}
	c := rawToCelsius(raw)
	if c < minPlausibleC || c > maxPlausibleC {
		log.Warn().Str("channel", label).Float64("celsius", c).Msg("rtd reading out of plausible range")
		return types.NotConnected
	}
	return types.Value(c)
}

func (h *Hub) ReadCh1(ctx context.Context) types.Reading { return read(ctx, h.ch1, "ch1") }
func (h *Hub) ReadCh2(ctx context.Context) types.Reading { return read(ctx, h.ch2, "ch2") }

// Close closes whichever channels are present.
func (h *Hub) Close() error {
	var err error
	if h.ch1 != nil {
		if e := h.ch1.Close(); e != nil {
			err = e
		}
	}
	if h.ch2 != nil {
		if e := h.ch2.Close(); e != nil {
			err = e
		}
	}
	return err
}
