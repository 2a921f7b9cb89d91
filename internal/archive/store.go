// Package archive implements a sqlite-backed durable history of
// temperature samples and valve transitions, independent of DataStore's
// bounded in-memory history and RollingLog's 120-line window. Purely
// observational — write failures are logged and never affect control flow.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/andreyvalerr/CONTROLLER/internal/datastore"
	"github.com/andreyvalerr/CONTROLLER/internal/mode"
	"github.com/andreyvalerr/CONTROLLER/internal/reading"
)

// Channel identifies which relay a ValveTransitionEvent concerns.
type Channel string

const (
	ChannelUpper Channel = "upper"
	ChannelLower Channel = "lower"
)

// TelemetrySample is one row per successful TEMPERATURE publish.
type TelemetrySample struct {
	ID         int64
	CapturedAt time.Time
	LiquidC    *float64
	Status     string
	UpperOn    bool
	LowerOn    bool
	Source     string
}

// ValveTransitionEvent is one row per committed relay transition.
type ValveTransitionEvent struct {
	ID             int64
	Channel        Channel
	TransitionedTo bool
	At             time.Time
	TemperatureC   *float64
	Algorithm      mode.Mode
	Reason         string
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS temperature_samples (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		captured_at TIMESTAMP NOT NULL,
		liquid_c REAL,
		status TEXT NOT NULL,
		upper_on INTEGER NOT NULL,
		lower_on INTEGER NOT NULL,
		source TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_temperature_samples_captured_at ON temperature_samples (captured_at DESC)`,
	`CREATE TABLE IF NOT EXISTS valve_transition_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		channel TEXT NOT NULL,
		transitioned_to INTEGER NOT NULL,
		at TIMESTAMP NOT NULL,
		temperature_c REAL,
		algorithm TEXT NOT NULL,
		reason TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_valve_transition_events_channel_at ON valve_transition_events (channel, at DESC)`,
}

// Archive wraps a sqlite connection and exposes telemetry/event
// persistence helpers.
type Archive struct {
	db  *sql.DB
	log *slog.Logger
}

// New creates an Archive and enables WAL + busy_timeout on the supplied
// connection.
func New(db *sql.DB, logger *slog.Logger) (*Archive, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is nil")
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	return &Archive{db: db, log: logger.With("component", "archive")}, nil
}

// Init installs the schema. Safe to call multiple times.
func (a *Archive) Init(ctx context.Context) error {
	for i, stmt := range schemaStatements {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			if isIgnorableSchemaError(err) {
				continue
			}
			return fmt.Errorf("apply schema statement %d: %w", i+1, err)
		}
	}
	return nil
}

// RecordSample inserts one temperature_samples row.
func (a *Archive) RecordSample(ctx context.Context, s TelemetrySample) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO temperature_samples (captured_at, liquid_c, status, upper_on, lower_on, source)
		VALUES (?, ?, ?, ?, ?, ?)
	`, s.CapturedAt, nullableFloat64(s.LiquidC), s.Status, boolToInt(s.UpperOn), boolToInt(s.LowerOn), s.Source)
	if err != nil {
		return fmt.Errorf("insert temperature sample: %w", err)
	}
	return nil
}

// RecordTransition inserts one valve_transition_events row.
func (a *Archive) RecordTransition(ctx context.Context, e ValveTransitionEvent) error {
	_, err := a.db.ExecContext(ctx, `
		INSERT INTO valve_transition_events (channel, transitioned_to, at, temperature_c, algorithm, reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(e.Channel), boolToInt(e.TransitionedTo), e.At, nullableFloat64(e.TemperatureC), string(e.Algorithm), e.Reason)
	if err != nil {
		return fmt.Errorf("insert valve transition event: %w", err)
	}
	return nil
}

// RecentSamples returns the most recent samples, newest first.
func (a *Archive) RecentSamples(ctx context.Context, limit int) ([]TelemetrySample, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := a.db.QueryContext(ctx, `
		SELECT id, captured_at, liquid_c, status, upper_on, lower_on, source
		FROM temperature_samples
		ORDER BY captured_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query temperature samples: %w", err)
	}
	defer rows.Close()

	var out []TelemetrySample
	for rows.Next() {
		var s TelemetrySample
		var liquidC sql.NullFloat64
		var upperOn, lowerOn int
		if err := rows.Scan(&s.ID, &s.CapturedAt, &liquidC, &s.Status, &upperOn, &lowerOn, &s.Source); err != nil {
			return nil, fmt.Errorf("scan temperature sample: %w", err)
		}
		if liquidC.Valid {
			v := liquidC.Float64
			s.LiquidC = &v
		}
		s.UpperOn = upperOn != 0
		s.LowerOn = lowerOn != 0
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate temperature samples: %w", err)
	}
	return out, nil
}

// RecentTransitions returns the most recent transitions for channel,
// newest first. Pass an empty channel to return all channels.
func (a *Archive) RecentTransitions(ctx context.Context, channel Channel, limit int) ([]ValveTransitionEvent, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, channel, transitioned_to, at, temperature_c, algorithm, reason FROM valve_transition_events`
	args := []any{}
	if channel != "" {
		query += ` WHERE channel = ?`
		args = append(args, string(channel))
	}
	query += ` ORDER BY at DESC, id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query valve transition events: %w", err)
	}
	defer rows.Close()

	var out []ValveTransitionEvent
	for rows.Next() {
		var e ValveTransitionEvent
		var channelRaw, algorithmRaw string
		var transitionedTo int
		var temperatureC sql.NullFloat64
		if err := rows.Scan(&e.ID, &channelRaw, &transitionedTo, &e.At, &temperatureC, &algorithmRaw, &e.Reason); err != nil {
			return nil, fmt.Errorf("scan valve transition event: %w", err)
		}
		e.Channel = Channel(channelRaw)
		e.Algorithm = mode.Mode(algorithmRaw)
		e.TransitionedTo = transitionedTo != 0
		if temperatureC.Valid {
			v := temperatureC.Float64
			e.TemperatureC = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate valve transition events: %w", err)
	}
	return out, nil
}

// Subscriber returns a datastore.Callback for KeyTemperature that records
// a TelemetrySample synchronously on the goroutine that called Set. The
// sample's UpperOn and LowerOn are left false. Errors are logged and
// swallowed.
func (a *Archive) Subscriber() datastore.Callback {
	return func(key datastore.Key, entry datastore.Entry) {
		tr, ok := entry.Value.(reading.TemperatureReading)
		if !ok {
			return
		}
		sample := TelemetrySample{
			CapturedAt: tr.CapturedAt,
			LiquidC:    tr.LiquidC,
			Status:     string(tr.Status),
			Source:     string(tr.Source),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.RecordSample(ctx, sample); err != nil {
			a.log.Warn("record telemetry sample failed", "err", err)
		}
	}
}

// ValveSubscriber returns a datastore.Callback for the valve state keys
// that records a ValveTransitionEvent. algorithm and temperature are read
// at call time from the supplied accessors; reason is the entry's source.
func (a *Archive) ValveSubscriber(channel Channel, currentAlgorithm func() mode.Mode, currentTempC func() *float64) datastore.Callback {
	return func(key datastore.Key, entry datastore.Entry) {
		on, ok := entry.Value.(bool)
		if !ok {
			return
		}
		event := ValveTransitionEvent{
			Channel:        channel,
			TransitionedTo: on,
			At:             entry.Timestamp,
			TemperatureC:   currentTempC(),
			Algorithm:      currentAlgorithm(),
			Reason:         entry.Source,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.RecordTransition(ctx, event); err != nil {
			a.log.Warn("record valve transition failed", "err", err)
		}
	}
}

func isIgnorableSchemaError(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "duplicate column name")
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableFloat64(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}
