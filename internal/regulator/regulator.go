// Package regulator implements a periodic control loop driving two relays
// with hysteresis or predictive slope-based actuation, under
// mutual-exclusion and minimum-cycle-time safety constraints.
package regulator

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/andreyvalerr/CONTROLLER/internal/datastore"
	"github.com/andreyvalerr/CONTROLLER/internal/mode"
	"github.com/andreyvalerr/CONTROLLER/internal/reading"
	"github.com/andreyvalerr/CONTROLLER/internal/relay"
)

// staleAfter is the age beyond which a TEMPERATURE reading is considered
// stale and temperature-driven transitions must not occur.
const staleAfter = 10 * time.Second

// Regulator is the periodic two-relay control loop.
type Regulator struct {
	upper *relay.Driver
	lower *relay.Driver
	store *datastore.Store
	log   *slog.Logger

	minCycle time.Duration
	interval time.Duration
	pred     PredictiveParams

	mu              sync.Mutex
	settings        Settings
	algorithm       mode.Mode
	coolingCommand  bool
	upperMinSinceOn *float64
	lowerMaxSinceOn *float64
	upperCycles     uint64
	lowerCycles     uint64
	runState        RunState
	samples         []sample
	lastSlope       *float64

	// clock supplies "now" for the predictive sample window. Defaults to
	// time.Now; overridden in tests so slope scenarios don't depend on
	// real wall-clock delay between ticks.
	clock func() time.Time
}

// New constructs a Regulator. interval defaults to 1s if <= 0. minCycle of
// exactly 0 is accepted as "no gating" (used by tests that drive tick()
// directly without real time passing); negative values default to 1s.
func New(upper, lower *relay.Driver, store *datastore.Store, interval, minCycle time.Duration, pred PredictiveParams, logger *slog.Logger) *Regulator {
	if interval <= 0 {
		interval = time.Second
	}
	if minCycle < 0 {
		minCycle = time.Second
	}
	return &Regulator{
		upper:     upper,
		lower:     lower,
		store:     store,
		log:       logger.With("component", "regulator"),
		minCycle:  minCycle,
		interval:  interval,
		pred:      pred,
		algorithm: mode.Auto,
		runState:  StateStopped,
		clock:     time.Now,
	}
}

// SetMode switches the active algorithm (invoked by ModeListener). Entering
// Manual forces the lower channel off and releases upper to manual control.
func (r *Regulator) SetMode(m mode.Mode) {
	r.mu.Lock()
	prev := r.algorithm
	r.algorithm = m
	r.mu.Unlock()

	if m == mode.Manual && prev != mode.Manual {
		r.turnOffChannel(r.lower)
		r.log.Info("mode -> manual: lower forced off")
	}
	r.log.Info("mode changed", "from", prev, "to", m)
}

// SetCoolingCommand applies a manual on/off command. Outside Manual mode it
// is ignored.
func (r *Regulator) SetCoolingCommand(on bool) {
	r.mu.Lock()
	r.coolingCommand = on
	algo := r.algorithm
	r.mu.Unlock()

	if algo != mode.Manual {
		return
	}
	r.applyManual(on)
}

// UpdateSettings replaces the regulator's working temperature band.
func (r *Regulator) UpdateSettings(s Settings) {
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
}

// GetState returns a snapshot of the regulator's observable state.
func (r *Regulator) GetState() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	upperLast, upperOK := r.upper.LastSwitchTime()
	lowerLast, lowerOK := r.lower.LastSwitchTime()

	st := State{
		UpperOn:         r.upper.GetState(),
		LowerOn:         r.lower.GetState(),
		UpperMinSinceOn: r.upperMinSinceOn,
		LowerMaxSinceOn: r.lowerMaxSinceOn,
		UpperCycles:     r.upperCycles,
		LowerCycles:     r.lowerCycles,
		Algorithm:       r.algorithm,
		LastSlopeCPerS:  r.lastSlope,
		RunState:        r.runState,
	}
	if upperOK {
		st.LastUpperSwitch = upperLast
	}
	if lowerOK {
		st.LastLowerSwitch = lowerLast
	}
	return st
}

// Run drives the control loop until ctx is cancelled, forcing both relays
// off on the way out.
func (r *Regulator) Run(ctx context.Context) {
	r.mu.Lock()
	r.runState = StateRunning
	r.mu.Unlock()
	r.log.Info("regulator starting", "interval", r.interval, "min_cycle", r.minCycle)

	defer func() {
		r.upper.TurnOff()
		r.lower.TurnOff()
		r.mu.Lock()
		r.runState = StateStopped
		r.mu.Unlock()
		r.log.Info("regulator stopped, relays forced off")
	}()

	r.tick()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

func (r *Regulator) tick() {
	r.refreshSettings()

	r.mu.Lock()
	algo := r.algorithm
	r.mu.Unlock()

	if algo == mode.Manual {
		// Manual never evaluates temperature.
		return
	}

	if r.upper.GetState() && r.lower.GetState() {
		// Both relays on simultaneously is a logic bug. Force both off, mark
		// Error, keep looping.
		r.log.Error("logic bug: both relays on, forcing off")
		r.upper.TurnOff()
		r.lower.TurnOff()
		r.mu.Lock()
		r.runState = StateError
		r.mu.Unlock()
		return
	}

	rawT, ok := r.store.GetValue(datastore.KeyTemperature)
	if !ok {
		return
	}
	tr, ok := rawT.(reading.TemperatureReading)
	if !ok {
		return
	}

	if tr.LiquidC != nil {
		r.recordSample(r.clock(), *tr.LiquidC)
	}

	fresh := r.store.IsFresh(datastore.KeyTemperature, staleAfter) && tr.Status != reading.StatusError
	if !fresh || tr.LiquidC == nil {
		// Stale or errored reading: relays hold their last state.
		return
	}

	r.mu.Lock()
	r.runState = StateRunning
	r.mu.Unlock()

	switch algo {
	case mode.Predictive:
		r.tickPredictive(*tr.LiquidC)
	default:
		r.tickHysteresis(*tr.LiquidC)
	}
}

func (r *Regulator) refreshSettings() {
	raw, ok := r.store.GetValue(datastore.KeyTemperatureSettings)
	if !ok {
		return
	}
	s, ok := raw.(Settings)
	if !ok {
		return
	}
	r.mu.Lock()
	r.settings = s
	r.mu.Unlock()
}

// canSwitch reports whether d is eligible to transition given min-cycle
// time.
func canSwitch(d *relay.Driver, minCycle time.Duration) bool {
	last, ok := d.LastSwitchTime()
	if !ok {
		return true
	}
	return time.Since(last) >= minCycle
}

// turnOnExclusive attempts to turn target on, first turning other off if
// it's on. If other cannot switch off yet (min-cycle-blocked), the whole
// operation is deferred — target is not turned on this tick.
func (r *Regulator) turnOnExclusive(target, other *relay.Driver) bool {
	if other.GetState() {
		if !canSwitch(other, r.minCycle) {
			r.log.Debug("mutual exclusion: deferring, other channel min-cycle blocked")
			return false
		}
		other.TurnOff()
	}
	if !canSwitch(target, r.minCycle) {
		r.log.Debug("min cycle time blocks transition")
		return false
	}
	return target.TurnOn()
}

func (r *Regulator) turnOffChannel(target *relay.Driver) bool {
	if !target.GetState() {
		return true
	}
	if !canSwitch(target, r.minCycle) {
		r.log.Debug("min cycle time blocks transition")
		return false
	}
	return target.TurnOff()
}

func (r *Regulator) applyManual(on bool) {
	if on {
		if r.turnOnExclusive(r.upper, r.lower) {
			r.log.Info("manual cooling ON")
		}
	} else {
		if r.turnOffChannel(r.upper) {
			r.log.Info("manual cooling OFF")
		}
	}
}

func (r *Regulator) recordSample(at time.Time, t float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, sample{at: at, t: t})
	cutoff := at.Add(-sampleWindowCap)
	i := 0
	for i < len(r.samples) && r.samples[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		r.samples = r.samples[i:]
	}
}

// slope computes ΔT/Δt over the last windowSeconds of recorded samples,
// relative to now/currentT. Returns 0 if there is no sample old enough.
func (r *Regulator) slope(now time.Time, currentT float64, windowSeconds float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := now.Add(-time.Duration(windowSeconds * float64(time.Second)))
	var oldest *sample
	for i := range r.samples {
		if r.samples[i].at.Before(cutoff) || r.samples[i].at.Equal(cutoff) {
			oldest = &r.samples[i]
			continue
		}
		if oldest == nil {
			oldest = &r.samples[i]
		}
		break
	}
	if oldest == nil {
		return 0
	}
	dt := now.Sub(oldest.at).Seconds()
	if dt <= 0 {
		return 0
	}
	s := (currentT - oldest.t) / dt
	r.lastSlope = &s
	return s
}
