// Package statestore persists types.GlobalState to disk with an atomic
// write-temp-then-rename: the document is either fully
// valid or absent, never half-written.
package statestore

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog/log"

	"incubator-core/types"
)

// Store loads and saves the persisted GlobalState document at one fixed
// path.
type Store struct {
	path string
}

func New(path string) *Store {
	return &Store{path: path}
}

// Load reads the state document. A missing file, a parse error, or any
// deviation from the strict schema falls back to types.Defaults() and
// overwrites the file with the canonical defaults.
func (s *Store) Load() types.GlobalState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", s.path).Msg("state store: read failed, falling back to defaults")
		}
		defaults := types.Defaults()
		if saveErr := s.Save(defaults); saveErr != nil {
			log.Error().Err(saveErr).Msg("state store: failed to write default state")
		}
		return defaults
	}

	var doc document
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("state store: parse failed, falling back to defaults")
		defaults := types.Defaults()
		if saveErr := s.Save(defaults); saveErr != nil {
			log.Error().Err(saveErr).Msg("state store: failed to write default state")
		}
		return defaults
	}

	return doc.toState(types.Defaults())
}

// Save atomically replaces the state document via write-temp-then-rename.
// A write failure is logged and returns an error; callers keep the
// in-memory state authoritative for the current run (state-store
// fault).
func (s *Store) Save(state types.GlobalState) error {
	data, err := json.MarshalIndent(fromState(state), "", "  ")
	if err != nil {
		return err
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("state store: atomic write failed")
		return err
	}
	return nil
}

// document is the on-disk shape. Every field is a
// pointer so Load can detect a missing key and fall back to that key's
// default individually, per the "missing keys fall back to defaults"
// contract — full-document deviations (bad JSON, unknown fields) still
// fall back to Defaults() wholesale via Load's DisallowUnknownFields path.
type document struct {
	TempSetpoint     *float64 `json:"temp_setpoint"`
	HumiditySetpoint *float64 `json:"humidity_setpoint"`
	O2Setpoint       *float64 `json:"o2_setpoint"`
	CO2Setpoint      *float64 `json:"co2_setpoint"`
	IncubatorRunning *bool    `json:"incubator_running"`

	TemperatureEnabled *bool `json:"temperature_enabled"`
	HumidityEnabled    *bool `json:"humidity_enabled"`
	O2Enabled          *bool `json:"o2_enabled"`
	CO2Enabled         *bool `json:"co2_enabled"`
	AirPumpEnabled     *bool `json:"air_pump_enabled"`
}

func (d document) toState(defaults types.GlobalState) types.GlobalState {
	s := defaults
	if d.TempSetpoint != nil {
		s.TempSetpoint = *d.TempSetpoint
	}
	if d.HumiditySetpoint != nil {
		s.HumiditySetpoint = *d.HumiditySetpoint
	}
	if d.O2Setpoint != nil {
		s.O2Setpoint = *d.O2Setpoint
	}
	if d.CO2Setpoint != nil {
		s.CO2Setpoint = *d.CO2Setpoint
	}
	if d.IncubatorRunning != nil {
		s.IncubatorRunning = *d.IncubatorRunning
	}
	if d.TemperatureEnabled != nil {
		s.TemperatureEnabled = *d.TemperatureEnabled
	}
	if d.HumidityEnabled != nil {
		s.HumidityEnabled = *d.HumidityEnabled
	}
	if d.O2Enabled != nil {
		s.O2Enabled = *d.O2Enabled
	}
	if d.CO2Enabled != nil {
		s.CO2Enabled = *d.CO2Enabled
	}
	if d.AirPumpEnabled != nil {
		s.AirPumpEnabled = *d.AirPumpEnabled
	}
	return s
}

func fromState(s types.GlobalState) document {
	return document{
		TempSetpoint:       &s.TempSetpoint,
		HumiditySetpoint:   &s.HumiditySetpoint,
		O2Setpoint:         &s.O2Setpoint,
		CO2Setpoint:        &s.CO2Setpoint,
		IncubatorRunning:   &s.IncubatorRunning,
		TemperatureEnabled: &s.TemperatureEnabled,
		HumidityEnabled:    &s.HumidityEnabled,
		O2Enabled:          &s.O2Enabled,
		CO2Enabled:         &s.CO2Enabled,
		AirPumpEnabled:     &s.AirPumpEnabled,
	}
}
