// Package rollinglog implements a log that, every second, appends a
// one-line human-readable snapshot to a bounded ring of the last 120
// entries and atomically rewrites logs/rolling.log.
package rollinglog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/andreyvalerr/CONTROLLER/internal/datastore"
	"github.com/andreyvalerr/CONTROLLER/internal/reading"
	"github.com/andreyvalerr/CONTROLLER/internal/regulator"
	"github.com/andreyvalerr/CONTROLLER/internal/settingsstore"
)

// MaxEntries bounds the ring buffer.
const MaxEntries = 120

const fileName = "rolling.log"

// Log drives the periodic snapshot capture and file rewrite.
type Log struct {
	store    *datastore.Store
	dir      string
	interval time.Duration
	log      *slog.Logger

	entries []string
}

// New constructs a Log writing into dir/rolling.log. interval defaults to
// 1s if <= 0.
func New(store *datastore.Store, dir string, interval time.Duration, logger *slog.Logger) *Log {
	if interval <= 0 {
		interval = time.Second
	}
	return &Log{store: store, dir: dir, interval: interval, log: logger.With("component", "rollinglog")}
}

// Run captures a snapshot every interval until ctx is cancelled.
func (l *Log) Run(ctx context.Context) {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		l.log.Error("create log dir failed", "err", err)
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.capture()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.capture()
		}
	}
}

func (l *Log) capture() {
	line := l.renderLine(time.Now())
	l.entries = append(l.entries, line)
	if len(l.entries) > MaxEntries {
		l.entries = l.entries[len(l.entries)-MaxEntries:]
	}
	if err := l.rewrite(); err != nil {
		l.log.Error("rewrite rolling log failed", "err", err)
	}
}

func (l *Log) renderLine(at time.Time) string {
	setpoint := "N/A"
	if raw, ok := l.store.GetValue(datastore.KeyTemperatureSettings); ok {
		if s, ok := raw.(settingsstore.TemperatureSettings); ok {
			setpoint = fmt.Sprintf("%.1f-%.1f", s.MinC, s.MaxC)
		} else if s, ok := raw.(regulator.Settings); ok {
			setpoint = fmt.Sprintf("%.1f-%.1f", s.MinC, s.MaxC)
		}
	}

	currentTemp := "N/A"
	if raw, ok := l.store.GetValue(datastore.KeyTemperature); ok {
		if tr, ok := raw.(reading.TemperatureReading); ok && tr.LiquidC != nil {
			currentTemp = fmt.Sprintf("%.1f", *tr.LiquidC)
		}
	}

	cooling := "OFF"
	if raw, ok := l.store.GetValue(datastore.KeyValveStateUpper); ok {
		if on, ok := raw.(bool); ok && on {
			cooling = "ON"
		}
	}
	heating := "OFF"
	if raw, ok := l.store.GetValue(datastore.KeyValveStateLower); ok {
		if on, ok := raw.(bool); ok && on {
			heating = "ON"
		}
	}

	return fmt.Sprintf("%s, setpoint %s, current_temp %s, cooling %s, heating %s",
		at.Format("15:04:05"), setpoint, currentTemp, cooling, heating)
}

func (l *Log) rewrite() error {
	path := filepath.Join(l.dir, fileName)
	tmp := path + ".tmp"

	content := strings.Join(l.entries, "\n")
	if len(l.entries) > 0 {
		content += "\n"
	}

	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write temp rolling log: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename rolling log: %w", err)
	}
	return nil
}

// Entries returns a copy of the currently buffered lines, oldest first.
func (l *Log) Entries() []string {
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}
