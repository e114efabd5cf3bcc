package supervisor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"incubator-core/types"
)

// faultTracker keeps a rolling count of consecutive sensor faults and the
// wall-clock of the last good reading, so the façade can render
// "degraded" vs "never connected" instead of a flat boolean. This is
// additive status only; it never changes the actuator-off contract.
type faultTracker struct {
	consecutive int
	lastGood    time.Time
}

func (f *faultTracker) observe(valid bool) (consecutive int, lastGood time.Time) {
	if valid {
		f.consecutive = 0
		f.lastGood = time.Now()
	} else {
		f.consecutive++
	}
	return f.consecutive, f.lastGood
}

func (s *Supervisor) annotate(name types.LoopName, status types.LoopStatus) types.LoopStatus {
	consecutive, lastGood := s.faults[name].observe(status.Reading.Valid())
	status.ConsecutiveFaults = consecutive
	status.LastGoodReading = lastGood
	return status
}

// pollLoop runs on the supervisor's own cadence, independent of each
// loop's own tick interval, polling every loop to build the status
// snapshot.
func (s *Supervisor) pollLoop(ctx context.Context) {
	interval := s.cfg.SupervisorPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.rebuildSnapshot()
		}
	}
}

// rebuildSnapshot polls every loop's cached Status() (non-blocking;
// no fresh sensor I/O) and stores the assembled Snapshot for
// GetSnapshot to serve, publishing it on the bus for the façade layer.
func (s *Supervisor) rebuildSnapshot() {
	s.mu.RLock()
	running := s.flags.globalRun
	enabled := make(map[types.LoopName]bool, len(s.flags.enabled))
	for k, v := range s.flags.enabled {
		enabled[k] = v
	}
	s.mu.RUnlock()

	tempStatus := s.annotate(types.LoopTemperature, s.temperature.Status())
	tempStatus.Enabled = enabled[types.LoopTemperature]

	humStatus := s.annotate(types.LoopHumidity, s.humidity.Status())
	humStatus.Enabled = enabled[types.LoopHumidity]

	o2Status := s.annotate(types.LoopO2, s.oxygen.Status())
	o2Status.Enabled = enabled[types.LoopO2]

	co2Full := s.co2.FullStatus()
	co2Full.LoopStatus = s.annotate(types.LoopCO2, co2Full.LoopStatus)
	co2Full.Enabled = enabled[types.LoopCO2]

	pumpStatus := s.airPump.Status()
	pumpStatus.Enabled = enabled[types.LoopAirPump]

	ch1, ch2 := s.temperature.Channels()

	snap := types.Snapshot{
		Taken: time.Now(),

		IncubatorRunning: running,

		TempSetpoint:     s.temperature.Setpoint(),
		HumiditySetpoint: s.humidity.Setpoint(),
		O2Setpoint:       s.oxygen.Setpoint(),
		CO2Setpoint:      s.co2.Setpoint(),

		Temperature: tempStatus,
		Humidity:    humStatus,
		O2:          o2Status,
		CO2:         co2Full,
		AirPump:     pumpStatus,

		TemperatureCh1: ch1,
		TemperatureCh2: ch2,
	}

	s.snapMu.Lock()
	s.snapshot = snap
	s.snapMu.Unlock()

	s.conn.PublishSnapshot(snap)
	s.conn.PublishLoopStatus(types.LoopTemperature, tempStatus)
	s.conn.PublishLoopStatus(types.LoopHumidity, humStatus)
	s.conn.PublishLoopStatus(types.LoopO2, o2Status)
	s.conn.PublishLoopStatus(types.LoopCO2, co2Full.LoopStatus)
	s.conn.PublishLoopStatus(types.LoopAirPump, pumpStatus)
}

// historianLoop samples the supervisor's snapshot on its own cadence and
// appends one row per tick. A single slow or failing
// append never blocks a control loop: it runs on its own goroutine. The
// append carries no timeout of its own; it ends only when it completes or
// ctx is cancelled.
func (s *Supervisor) historianLoop(ctx context.Context) {
	interval := s.cfg.Historian.SampleInterval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.GetSnapshot()
			if snap.Taken.IsZero() {
				continue
			}
			sample := types.FromSnapshot(snap, time.Now())
			if err := s.hist.Append(ctx, sample); err != nil {
				log.Error().Err(err).Msg("supervisor: historian append failed")
				continue
			}
			s.conn.PublishSample(sample)
		}
	}
}
