// Package supervisor wires every component together, loads persisted state
// at boot, and exposes the read/write API the UI calls. It is the sole
// owner of the RelayDriver handles, MinerClient construction, TempPoller,
// Regulator and ModeListener — every write from the UI routes through
// SettingsStore then DataStore, never mutating runtime state directly.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/andreyvalerr/CONTROLLER/internal/archive"
	"github.com/andreyvalerr/CONTROLLER/internal/config"
	"github.com/andreyvalerr/CONTROLLER/internal/datastore"
	"github.com/andreyvalerr/CONTROLLER/internal/miner"
	"github.com/andreyvalerr/CONTROLLER/internal/mode"
	"github.com/andreyvalerr/CONTROLLER/internal/modelistener"
	"github.com/andreyvalerr/CONTROLLER/internal/reading"
	"github.com/andreyvalerr/CONTROLLER/internal/regulator"
	"github.com/andreyvalerr/CONTROLLER/internal/relay"
	"github.com/andreyvalerr/CONTROLLER/internal/rollinglog"
	"github.com/andreyvalerr/CONTROLLER/internal/settingsstore"
	"github.com/andreyvalerr/CONTROLLER/internal/temppoller"
)

// ValidationError wraps a rejected set_settings/set_mode/set_asic_ip call.
type ValidationError struct{ Err error }

func (e *ValidationError) Error() string { return "supervisor: validation: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// SettingsPartial carries an optional min/max temperature update; a nil
// field leaves that bound unchanged.
type SettingsPartial struct {
	MinC *float64
	MaxC *float64
}

// ValveState reports both relay positions.
type ValveState struct {
	Upper bool
	Lower bool
}

// Snapshot is the full system state returned to the UI on request.
type Snapshot struct {
	Temperature *reading.TemperatureReading
	Settings    settingsstore.TemperatureSettings
	Mode        mode.Mode
	Cooling     bool
	AsicIP      string
	ValveState  ValveState
	UptimeS     float64
	LastError   *string
}

// Supervisor owns every runtime component and the read/write API.
type Supervisor struct {
	cfg   config.AppConfig
	log   *slog.Logger
	store *datastore.Store

	settings *settingsstore.Store
	archive  *archive.Archive // nil if no telemetry db configured

	upperRelay *relay.Driver
	lowerRelay *relay.Driver

	poller    *temppoller.Poller
	reg       *regulator.Regulator
	listener  *modelistener.Listener
	rlog      *rollinglog.Log

	startedAt time.Time

	mu        sync.Mutex
	lastError *string
}

// New constructs a Supervisor with every dependency wired but not started.
// archivist may be nil if telemetry archiving is disabled.
func New(cfg config.AppConfig, store *datastore.Store, settings *settingsstore.Store, archivist *archive.Archive, logger *slog.Logger) (*Supervisor, error) {
	log := logger.With("component", "supervisor")

	upperPin, err := relay.NewSysfsOutputPin(cfg.Relay.UpperPin, cfg.Relay.Mode)
	if err != nil {
		return nil, fmt.Errorf("open upper relay pin: %w", err)
	}
	upperRelay, err := relay.New("upper", upperPin, cfg.Relay.ActiveLow, log)
	if err != nil {
		return nil, fmt.Errorf("init upper relay: %w", err)
	}

	lowerPin, err := relay.NewSysfsOutputPin(cfg.Relay.LowerPin, cfg.Relay.Mode)
	if err != nil {
		return nil, fmt.Errorf("open lower relay pin: %w", err)
	}
	lowerRelay, err := relay.New("lower", lowerPin, cfg.Relay.ActiveLow, log)
	if err != nil {
		return nil, fmt.Errorf("init lower relay: %w", err)
	}

	newFetcher := func(ip string) temppoller.Fetcher {
		return miner.New(miner.Endpoint{
			IP:       ip,
			Port:     cfg.Miner.Port,
			Account:  cfg.Miner.Account,
			Password: cfg.Miner.Password,
		})
	}
	poller := temppoller.New(store, newFetcher, secondsToDuration(cfg.Intervals.PollSeconds), log)

	pred := regulator.PredictiveParams{
		WindowSeconds:      cfg.Predictive.WindowSeconds,
		LookAheadSeconds:   cfg.Predictive.LookAheadSeconds,
		MinRateCPerSec:     cfg.Predictive.MinRateCPerSec,
		PreOnMarginC:       cfg.Predictive.PreOnMarginC,
		PreOffMarginC:      cfg.Predictive.PreOffMarginC,
		ReverseRateCPerSec: cfg.Predictive.ReverseRateCPerSec,
		ReverseMarginC:     cfg.Predictive.ReverseMarginC,
	}
	reg := regulator.New(upperRelay, lowerRelay, store,
		secondsToDuration(cfg.Intervals.ControlSeconds),
		secondsToDuration(cfg.Safety.MinCycleSeconds),
		pred, log)

	listener := modelistener.New(store, reg, log)
	rlog := rollinglog.New(store, "logs", secondsToDuration(cfg.Intervals.LogSeconds), log)

	return &Supervisor{
		cfg:        cfg,
		log:        log,
		store:      store,
		settings:   settings,
		archive:    archivist,
		upperRelay: upperRelay,
		lowerRelay: lowerRelay,
		poller:     poller,
		reg:        reg,
		listener:   listener,
		rlog:       rlog,
	}, nil
}

// Start loads persisted state, publishes it into DataStore, and launches
// every background task. It returns once every task has been started;
// tasks run until ctx is cancelled.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := s.settings.CopyDefaultsToSettings(); err != nil {
		return fmt.Errorf("materialize default settings: %w", err)
	}
	doc, err := s.settings.LoadAll()
	if err != nil {
		return fmt.Errorf("load persisted settings: %w", err)
	}

	regSettings := documentToRegulatorSettings(doc)
	s.store.Set(datastore.KeyTemperatureSettings, regSettings, "supervisor", nil)
	s.reg.UpdateSettings(regSettings)

	s.store.Set(datastore.KeyIPAddressASIC, doc.IPAddressASIC, "supervisor", nil)
	s.store.Set(datastore.KeyMode, doc.ModeSettings.Mode, "supervisor", nil)
	s.store.Set(datastore.KeyCoolingState, doc.CoolingSettings.CoolingOn, "supervisor", nil)

	s.startedAt = time.Now()

	s.listener.Start()

	if s.archive != nil {
		s.store.Subscribe(datastore.KeyTemperature, s.archive.Subscriber())
		s.store.Subscribe(datastore.KeyValveStateUpper, s.archive.ValveSubscriber(archive.ChannelUpper, s.currentAlgorithm, s.currentTempC))
		s.store.Subscribe(datastore.KeyValveStateLower, s.archive.ValveSubscriber(archive.ChannelLower, s.currentAlgorithm, s.currentTempC))
	}

	s.store.Subscribe(datastore.KeyTemperature, s.trackLastError)

	go s.poller.Run(ctx)
	go s.reg.Run(ctx)
	go s.rlog.Run(ctx)
	go s.publishValveState(ctx)

	s.log.Info("supervisor started")
	return nil
}

// Stop forces both relays off and releases GPIO handles when
// cfg.Relay.CleanupOnEnd is set; otherwise it only logs. The listener,
// regulator, poller and log goroutines are cancelled via ctx by the
// caller; this performs the final GPIO cleanup.
func (s *Supervisor) Stop() {
	if s.cfg.Relay.CleanupOnEnd {
		if err := s.upperRelay.Cleanup(); err != nil {
			s.log.Warn("upper relay cleanup failed", "err", err)
		}
		if err := s.lowerRelay.Cleanup(); err != nil {
			s.log.Warn("lower relay cleanup failed", "err", err)
		}
	}
	s.log.Info("supervisor stopped")
}

// GetSystemSnapshot assembles the current system state for the UI.
func (s *Supervisor) GetSystemSnapshot() Snapshot {
	state := s.reg.GetState()

	snap := Snapshot{
		Mode:    state.Algorithm,
		Cooling: state.UpperOn || state.LowerOn,
		ValveState: ValveState{
			Upper: state.UpperOn,
			Lower: state.LowerOn,
		},
		UptimeS: time.Since(s.startedAt).Seconds(),
	}

	if raw, ok := s.store.GetValue(datastore.KeyTemperature); ok {
		if tr, ok := raw.(reading.TemperatureReading); ok {
			cp := tr
			snap.Temperature = &cp
		}
	}
	if raw, ok := s.store.GetValue(datastore.KeyTemperatureSettings); ok {
		if rs, ok := raw.(regulator.Settings); ok {
			snap.Settings = settingsstore.TemperatureSettings{MinC: rs.MinC, MaxC: rs.MaxC, HysteresisC: rs.HysteresisC}
		}
	}
	if raw, ok := s.store.GetValue(datastore.KeyIPAddressASIC); ok {
		if ip, ok := raw.(string); ok {
			snap.AsicIP = ip
		}
	}

	s.mu.Lock()
	snap.LastError = s.lastError
	s.mu.Unlock()

	return snap
}

// SetSettings persists a new min/max temperature pair; validation failures
// surface as *ValidationError and leave the prior settings untouched.
func (s *Supervisor) SetSettings(partial SettingsPartial) error {
	ok, err := s.settings.SaveSettings(settingsstore.PartialSettings{MinC: partial.MinC, MaxC: partial.MaxC})
	if err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	if !ok {
		return &ValidationError{Err: fmt.Errorf("min_c/max_c out of range or min_c >= max_c")}
	}

	doc, err := s.settings.LoadAll()
	if err != nil {
		return fmt.Errorf("reload settings: %w", err)
	}
	regSettings := documentToRegulatorSettings(doc)
	s.store.Set(datastore.KeyTemperatureSettings, regSettings, "ui", nil)
	return nil
}

func documentToRegulatorSettings(doc settingsstore.Document) regulator.Settings {
	minC := doc.TemperatureSettings.MinTemp
	maxC := doc.TemperatureSettings.MaxTemp
	return regulator.Settings{MinC: minC, MaxC: maxC, HysteresisC: maxC - minC}
}

// SetMode persists and publishes a new algorithm selection. Setting MODE to
// its already-persisted value is a no-op: no backup, no regulator reset.
func (s *Supervisor) SetMode(raw string) error {
	normalized, ok := settingsstore.NormalizeMode(raw)
	if !ok {
		return &ValidationError{Err: fmt.Errorf("unrecognized mode %q", raw)}
	}

	if current, err := s.settings.LoadMode(); err == nil && current == normalized {
		return nil
	}

	if err := s.settings.SaveMode(raw); err != nil {
		return &ValidationError{Err: err}
	}
	s.store.Set(datastore.KeyMode, string(normalized), "ui", nil)
	return nil
}

// SetCooling persists and publishes the operator's manual cooling command.
// Outside Manual mode it is stored but the regulator ignores it, and
// entering Manual later does not apply it; only a command issued while in
// Manual switches the upper relay.
func (s *Supervisor) SetCooling(on bool) error {
	if err := s.settings.SaveCooling(on); err != nil {
		return fmt.Errorf("save cooling command: %w", err)
	}
	s.store.Set(datastore.KeyCoolingState, on, "ui", nil)
	return nil
}

// SetAsicIP persists and publishes a new miner endpoint address.
func (s *Supervisor) SetAsicIP(ip string) error {
	if err := s.settings.SaveIP(ip); err != nil {
		return &ValidationError{Err: err}
	}
	s.store.Set(datastore.KeyIPAddressASIC, ip, "ui", nil)
	return nil
}

func (s *Supervisor) currentAlgorithm() mode.Mode {
	return s.reg.GetState().Algorithm
}

func (s *Supervisor) currentTempC() *float64 {
	raw, ok := s.store.GetValue(datastore.KeyTemperature)
	if !ok {
		return nil
	}
	tr, ok := raw.(reading.TemperatureReading)
	if !ok {
		return nil
	}
	return tr.LiquidC
}

func (s *Supervisor) trackLastError(key datastore.Key, entry datastore.Entry) {
	tr, ok := entry.Value.(reading.TemperatureReading)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if tr.Status == reading.StatusError && tr.Error != "" {
		msg := tr.Error
		s.lastError = &msg
	}
}

// publishValveState mirrors the regulator's relay states into DataStore so
// RollingLog, TelemetryArchive and the UI can observe them without a direct
// dependency on *regulator.Regulator.
func (s *Supervisor) publishValveState(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var lastUpper, lastLower *bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := s.reg.GetState()
			if lastUpper == nil || *lastUpper != state.UpperOn {
				v := state.UpperOn
				lastUpper = &v
				s.store.Set(datastore.KeyValveStateUpper, state.UpperOn, "regulator", nil)
			}
			if lastLower == nil || *lastLower != state.LowerOn {
				v := state.LowerOn
				lastLower = &v
				s.store.Set(datastore.KeyValveStateLower, state.LowerOn, "regulator", nil)
			}
		}
	}
}

func secondsToDuration(seconds float64) time.Duration {
	if seconds <= 0 {
		return time.Second
	}
	return time.Duration(seconds * float64(time.Second))
}
