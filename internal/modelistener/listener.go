// Package modelistener subscribes to MODE and COOLING_STATE in DataStore
// and applies them to Regulator, synchronizing startup state before the
// Regulator's first tick.
package modelistener

import (
	"log/slog"

	"github.com/andreyvalerr/CONTROLLER/internal/datastore"
	"github.com/andreyvalerr/CONTROLLER/internal/mode"
)

// RegulatorTarget is the subset of *regulator.Regulator this package needs,
// so it can be unit-tested without constructing a real Regulator.
type RegulatorTarget interface {
	SetMode(m mode.Mode)
	SetCoolingCommand(on bool)
}

// Listener wires DataStore's MODE/COOLING_STATE keys to a Regulator.
type Listener struct {
	store      *datastore.Store
	regulator  RegulatorTarget
	log        *slog.Logger
}

// New constructs a Listener. Call Start to subscribe and apply any
// already-present values before the Regulator's first tick.
func New(store *datastore.Store, reg RegulatorTarget, logger *slog.Logger) *Listener {
	return &Listener{store: store, regulator: reg, log: logger.With("component", "modelistener")}
}

// Start applies any current MODE/COOLING_STATE values synchronously, then
// subscribes for future changes.
func (l *Listener) Start() {
	if v, ok := l.store.GetValue(datastore.KeyMode); ok {
		if raw, ok := v.(string); ok {
			if m, ok := mode.Normalize(raw); ok {
				l.regulator.SetMode(m)
			}
		} else if m, ok := v.(mode.Mode); ok {
			l.regulator.SetMode(m)
		}
	}
	if v, ok := l.store.GetValue(datastore.KeyCoolingState); ok {
		if on, ok := v.(bool); ok {
			l.regulator.SetCoolingCommand(on)
		}
	}

	l.store.Subscribe(datastore.KeyMode, l.onMode)
	l.store.Subscribe(datastore.KeyCoolingState, l.onCooling)
	l.log.Info("modelistener started")
}

func (l *Listener) onMode(key datastore.Key, entry datastore.Entry) {
	var m mode.Mode
	switch v := entry.Value.(type) {
	case mode.Mode:
		m = v
	case string:
		normalized, ok := mode.Normalize(v)
		if !ok {
			l.log.Warn("ignoring unrecognized mode", "raw", v)
			return
		}
		m = normalized
	default:
		return
	}
	l.log.Info("mode update observed", "mode", m)
	l.regulator.SetMode(m)
}

func (l *Listener) onCooling(key datastore.Key, entry datastore.Entry) {
	on, ok := entry.Value.(bool)
	if !ok {
		return
	}
	l.log.Info("cooling command observed", "on", on)
	l.regulator.SetCoolingCommand(on)
}
