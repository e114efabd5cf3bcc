// Package historian is the append-mostly sample store: schema
// creation on open, bounded-time range queries, and a CSV export view,
// backed by SQLite via database/sql and mattn/go-sqlite3.
package historian

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"

	"incubator-core/config"
	"incubator-core/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	timestamp REAL PRIMARY KEY,
	temperature_avg REAL,
	temperature_ch1 REAL,
	temperature_ch2 REAL,
	humidity REAL,
	o2 REAL,
	co2 REAL,
	temp_setpoint REAL NOT NULL,
	humidity_setpoint REAL NOT NULL,
	o2_setpoint REAL NOT NULL,
	co2_setpoint REAL NOT NULL
);
`

// Historian owns the durable sample store. All writes serialize through
// one mutex; database/sql already serializes its own pool, but
// the explicit mutex keeps the append path's intent obvious and matches
// a single-writer contract.
type Historian struct {
	db  *sql.DB
	cfg config.HistorianConfig

	writeMu sync.Mutex
}

// Open initialises the durable store at cfg.DBPath and creates the
// samples table if absent.
func Open(cfg config.HistorianConfig) (*Historian, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("historian: open %s: %w", cfg.DBPath, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("historian: create schema: %w", err)
	}
	return &Historian{db: db, cfg: cfg}, nil
}

// Append inserts one row, keyed by timestamp, atomically. A write failure
// is logged and returned; the caller's in-memory state remains
// authoritative for the current run.
func (h *Historian) Append(ctx context.Context, s types.Sample) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	_, err := h.db.ExecContext(ctx, `
		INSERT INTO samples (
			timestamp, temperature_avg, temperature_ch1, temperature_ch2,
			humidity, o2, co2,
			temp_setpoint, humidity_setpoint, o2_setpoint, co2_setpoint
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		timestampSeconds(s.Timestamp),
		s.TemperatureAvg, s.TemperatureCh1, s.TemperatureCh2,
		s.Humidity, s.O2, s.CO2,
		s.TempSetpoint, s.HumiditySetpoint, s.O2Setpoint, s.CO2Setpoint,
	)
	if err != nil {
		log.Error().Err(err).Msg("historian: append failed")
		return fmt.Errorf("historian: append: %w", err)
	}
	return nil
}

func timestampSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// rangeTimeout scales with the query span: short ranges are
// bounded by seconds, an unbounded "all history" query by roughly a
// minute.
func (h *Historian) rangeTimeout(start, end time.Time) time.Duration {
	if start.IsZero() && end.IsZero() {
		return h.cfg.RangeQueryTimeoutAll
	}
	span := end.Sub(start)
	if span <= 0 || span > 24*time.Hour {
		return h.cfg.RangeQueryTimeoutAll
	}
	return h.cfg.RangeQueryTimeoutShort
}

// Range returns every sample with start <= timestamp <= end, in
// chronological order. The query is cancelable via ctx and is additionally
// bounded by a timeout that grows with the requested span.
func (h *Historian) Range(ctx context.Context, start, end time.Time) ([]types.Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, h.rangeTimeout(start, end))
	defer cancel()

	query := "SELECT timestamp, temperature_avg, temperature_ch1, temperature_ch2, humidity, o2, co2, temp_setpoint, humidity_setpoint, o2_setpoint, co2_setpoint FROM samples"
	var args []interface{}
	var clauses []string
	if !start.IsZero() {
		clauses = append(clauses, "timestamp >= ?")
		args = append(args, timestampSeconds(start))
	}
	if !end.IsZero() {
		clauses = append(clauses, "timestamp <= ?")
		args = append(args, timestampSeconds(end))
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp ASC"

	rows, err := h.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("historian: range query: %w", err)
	}
	defer rows.Close()

	var out []types.Sample
	for rows.Next() {
		var ts float64
		var s types.Sample
		if err := rows.Scan(&ts, &s.TemperatureAvg, &s.TemperatureCh1, &s.TemperatureCh2,
			&s.Humidity, &s.O2, &s.CO2,
			&s.TempSetpoint, &s.HumiditySetpoint, &s.O2Setpoint, &s.CO2Setpoint); err != nil {
			return nil, fmt.Errorf("historian: scan row: %w", err)
		}
		s.Timestamp = time.Unix(0, int64(ts*1e9)).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("historian: row iteration: %w", err)
	}
	return out, nil
}

// ExportCSV renders the same range as CSV text with a header row and an
// ISO-8601 UTC timestamp column.
func (h *Historian) ExportCSV(ctx context.Context, start, end time.Time) (string, error) {
	samples, err := h.Range(ctx, start, end)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("timestamp,temperature_avg,temperature_ch1,temperature_ch2,humidity,o2,co2,temp_setpoint,humidity_setpoint,o2_setpoint,co2_setpoint\n")
	for _, s := range samples {
		b.WriteString(s.Timestamp.Format(time.RFC3339))
		b.WriteByte(',')
		writeOptFloat(&b, s.TemperatureAvg)
		b.WriteByte(',')
		writeOptFloat(&b, s.TemperatureCh1)
		b.WriteByte(',')
		writeOptFloat(&b, s.TemperatureCh2)
		b.WriteByte(',')
		writeOptFloat(&b, s.Humidity)
		b.WriteByte(',')
		writeOptFloat(&b, s.O2)
		b.WriteByte(',')
		writeOptFloat(&b, s.CO2)
		fmt.Fprintf(&b, ",%g,%g,%g,%g\n", s.TempSetpoint, s.HumiditySetpoint, s.O2Setpoint, s.CO2Setpoint)
	}
	return b.String(), nil
}

func writeOptFloat(b *strings.Builder, v *float64) {
	if v == nil {
		return
	}
	fmt.Fprintf(b, "%g", *v)
}

// Close closes the underlying database handle.
func (h *Historian) Close() error {
	return h.db.Close()
}
