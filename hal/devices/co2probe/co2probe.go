// Package co2probe adapts a framed-serial CO2 sensor into the
// hal.CO2Probe capability. The wire protocol is a single
// carriage-returned ASCII framing for configuration and most reads, plus a
// 7-byte binary frame variant; a multiplier queried once at Open time
// scales every subsequent ASCII reading.
package co2probe

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial"

	"incubator-core/errcode"
	"incubator-core/types"
)

const (
	multiplierQueryToken = "."
	pollingModeToken     = "K 2"
	readRequestToken     = "Z"

	minPlausiblePPM = 0.0
	maxPlausiblePPM = 1_000_000.0
)

// Params configures the serial transport and retry policy.
type Params struct {
	Port        string
	BaudRate    int
	ReadRetries int
	ReadTimeout time.Duration
}

// Probe implements hal.CO2Probe over a go.bug.st/serial port.
type Probe struct {
	params     Params
	port       serial.Port
	multiplier int
}

// New constructs a Probe. The port is not opened until Open is called.
func New(p Params) *Probe {
	return &Probe{params: p}
}

func (p *Probe) openPort() (serial.Port, error) {
	mode := &serial.Mode{
		BaudRate: p.params.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(p.params.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("co2probe: open %s: %w", p.params.Port, err)
	}
	port.SetReadTimeout(p.params.ReadTimeout)
	return port, nil
}

// Open performs the multiplier-query then polling-mode-set init sequence
// Must be called once before the first Read.
func (p *Probe) Open(ctx context.Context) error {
	port, err := p.openPort()
	if err != nil {
		return err
	}
	p.port = port

	frame, err := p.writeAndRead(multiplierQueryToken)
	if err != nil {
		p.port.Close()
		p.port = nil
		return fmt.Errorf("co2probe: multiplier query: %w", err)
	}
	mult, err := parseMultiplier(frame)
	if err != nil {
		p.port.Close()
		p.port = nil
		return fmt.Errorf("co2probe: parse multiplier: %w", err)
	}
	p.multiplier = mult
	log.Info().Int("multiplier", mult).Msg("co2 probe multiplier detected")

	if _, err := p.write(pollingModeToken); err != nil {
		p.port.Close()
		p.port = nil
		return fmt.Errorf("co2probe: set polling mode: %w", err)
	}
	return nil
}

func (p *Probe) write(token string) (int, error) {
	return p.port.Write([]byte(token + "\r\n"))
}

func (p *Probe) writeAndRead(token string) ([]byte, error) {
	if _, err := p.write(token); err != nil {
		return nil, err
	}
	return p.readFrame()
}

// readFrame reads either a 7-byte binary frame (detected by its leading
// 0xFE byte) or an LF-terminated ASCII line, whichever arrives first.
func (p *Probe) readFrame() ([]byte, error) {
	var buf bytes.Buffer
	one := make([]byte, 1)
	for buf.Len() < 256 {
		n, err := p.port.Read(one)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			// Read timeout with nothing available.
			return nil, fmt.Errorf("co2probe: %w", errcode.Timeout)
		}
		buf.WriteByte(one[0])

		if buf.Len() == 1 && one[0] == binaryFramePrefix {
			// Binary frame: read the remaining 6 bytes.
			rest := make([]byte, binaryFrameLen-1)
			if err := p.readFull(rest); err != nil {
				return nil, err
			}
			buf.Write(rest)
			return buf.Bytes(), nil
		}
		if one[0] == '\n' {
			return buf.Bytes(), nil
		}
	}
	return nil, fmt.Errorf("co2probe: frame exceeded max length without terminator")
}

func (p *Probe) readFull(dst []byte) error {
	read := 0
	for read < len(dst) {
		n, err := p.port.Read(dst[read:])
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("co2probe: %w", errcode.Timeout)
		}
		read += n
	}
	return nil
}

func (p *Probe) readOnce() (types.Reading, error) {
	frame, err := p.writeAndRead(readRequestToken)
	if err != nil {
		return types.NotConnected, err
	}
	ppm, err := parseFrame(frame, p.multiplier)
	if err != nil {
		return types.NotConnected, err
	}
	if float64(ppm) < minPlausiblePPM || float64(ppm) > maxPlausiblePPM {
		return types.NotConnected, fmt.Errorf("co2probe: reading %d out of plausible range", ppm)
	}
	return types.Value(float64(ppm)), nil
}

// reopen closes and reopens the port, replaying the multiplier-query and
// polling-mode init sequence (sensor disconnection
// recovery: "attempt one reopen cycle").
func (p *Probe) reopen(ctx context.Context) error {
	if p.port != nil {
		p.port.Close()
		p.port = nil
	}
	return p.Open(ctx)
}

// Read retries up to ReadRetries times; on persistent failure it attempts
// a single close-and-reopen cycle before reporting not-connected. Every
// port read is bounded by ReadTimeout via the port's read deadline; a Read
// that goes through the reopen cycle waits on ReadRetries+1 attempts, the
// reopen's multiplier query, and one final attempt, so roughly
// (ReadRetries+3)*ReadTimeout.
func (p *Probe) Read(ctx context.Context) types.Reading {
	if p.port == nil {
		log.Warn().Msg("co2 probe: read before open")
		return types.NotConnected
	}

	var lastErr error
	for attempt := 0; attempt <= p.params.ReadRetries; attempt++ {
		if ctx.Err() != nil {
			return types.NotConnected
		}
		reading, err := p.readOnce()
		if err == nil {
			return reading
		}
		lastErr = err
	}

	log.Warn().Err(lastErr).Msg("co2 probe: persistent read failure, attempting reopen")
	if err := p.reopen(ctx); err != nil {
		log.Error().Err(err).Msg("co2 probe: reopen failed")
		return types.NotConnected
	}
	reading, err := p.readOnce()
	if err != nil {
		log.Warn().Err(err).Msg("co2 probe: read failed after reopen")
		return types.NotConnected
	}
	return reading
}

// Close closes the serial port.
func (p *Probe) Close() error {
	if p.port == nil {
		return nil
	}
	err := p.port.Close()
	p.port = nil
	return err
}
