// Package control implements the shared periodic-loop skeleton and the
// five per-variable control loops built on it. Dispatch is
// interface-driven: a single generic Run function schedules any ControlLoop, not
// a base class with hook methods.
package control

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"incubator-core/types"
)

// ControlLoop is the capability set every control loop implements:
// interface-driven dispatch, not inheritance. Step performs
// one control iteration; EnsureOff forces the actuator to a safe state and
// clears any latent controller state; Status returns a status fragment for
// the supervisor's snapshot; Reset clears controller memory (e.g. the PID
// integrator) without touching configuration.
type ControlLoop interface {
	Name() types.LoopName
	Step(ctx context.Context)
	EnsureOff(ctx context.Context)
	Status() types.LoopStatus
	Reset()
}

// Flags is the read-only handle a loop consumes to learn the global run
// flag and its own enable flag (no back-reference to the
// supervisor). Gate reads both under one atomic snapshot so a loop never
// observes a torn combination mid-tick.
type Flags interface {
	Gate(name types.LoopName) (globalRun bool, loopEnabled bool)
}

// Tick is the smallest unit of work Run performs: evaluate the
// gate, and drive the loop accordingly.
func Tick(ctx context.Context, loop ControlLoop, flags Flags) {
	globalRun, enabled := flags.Gate(loop.Name())
	if !globalRun || !enabled {
		loop.EnsureOff(ctx)
		return
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Str("loop", string(loop.Name())).Interface("panic", r).Msg("control_step panicked, actuator forced off")
				loop.EnsureOff(ctx)
			}
		}()
		loop.Step(ctx)
	}()

	// Re-check the gate: a disable request issued mid-step must not leave
	// an actuator energized.
	globalRun, enabled = flags.Gate(loop.Name())
	if !globalRun || !enabled {
		loop.EnsureOff(ctx)
	}
}

// sleepCtx blocks for d or until ctx is cancelled, whichever comes first.
// Every pulse/spacing wait inside a loop's Step uses this so cancellation
// is honoured at that suspension point too.
func sleepCtx(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Run schedules loop on a fixed-interval ticker until ctx is cancelled.
// The interval wait and every blocking call inside Step are the loop's
// only suspension/cancellation points; on cancellation the loop still
// forces its actuator off before Run returns.
func Run(ctx context.Context, loop ControlLoop, flags Flags, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			loop.EnsureOff(context.Background())
			return
		case <-ticker.C:
			Tick(ctx, loop, flags)
		}
	}
}
