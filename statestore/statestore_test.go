package statestore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"incubator-core/types"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "state.json"))

	got := store.Load()
	assert.Equal(t, types.Defaults(), got)

	// Defaults are written back so a subsequent read observes them too.
	_, err := os.Stat(filepath.Join(dir, "state.json"))
	require.NoError(t, err)
}

func TestLoad_CorruptFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	store := New(path)
	got := store.Load()
	assert.Equal(t, types.Defaults(), got)
}

func TestSaveThenLoad_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "state.json"))

	want := types.Defaults().
		WithSetpoint(types.LoopTemperature, 36.5).
		WithEnabled(types.LoopHumidity, false)
	want.IncubatorRunning = true

	require.NoError(t, store.Save(want))

	got := store.Load()
	assert.Equal(t, want, got)
}

func TestLoad_PartialStateRoundTripsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")

	first := New(path)
	state := types.Defaults()
	state.TempSetpoint = 36.5
	state.HumidityEnabled = false
	state.IncubatorRunning = true
	require.NoError(t, first.Save(state))

	second := New(path)
	got := second.Load()
	assert.Equal(t, state, got)
}
