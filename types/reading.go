// Package types holds the shared data model of the incubator control core:
// sensor readings, persisted state, and the snapshot/sample records the
// supervisor and historian assemble.
package types

import "fmt"

// Reading is the sum type from the spec's "duck-typed sensor value" redesign
// note: a sensor reading is either a finite numeric value or NotConnected.
// There is no third state and no sentinel float to misinterpret.
type Reading struct {
	value   float64
	present bool
}

// Value wraps a finite numeric reading.
func Value(v float64) Reading { return Reading{value: v, present: true} }

// NotConnected is the fault marker for a missing, timed-out, or
// out-of-plausible-range reading.
var NotConnected = Reading{}

// Get returns the numeric value and whether the reading is present.
func (r Reading) Get() (float64, bool) { return r.value, r.present }

// Valid reports whether the reading carries a value.
func (r Reading) Valid() bool { return r.present }

// Float returns the numeric value, or 0 if not connected. Callers that need
// to distinguish the fault case must use Get or Valid instead.
func (r Reading) Float() float64 { return r.value }

func (r Reading) String() string {
	if !r.present {
		return "not_connected"
	}
	return fmt.Sprintf("%.3f", r.value)
}
