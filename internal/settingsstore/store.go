// Package settingsstore owns the persisted settings JSON document
// (config/gui_settings.json) and its rotating backups: atomic tmp+rename
// writes, a 5-file FIFO backup policy, and mode alias normalization at the
// persistence boundary.
package settingsstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/andreyvalerr/CONTROLLER/internal/mode"
)

// Mode re-exports the shared algorithm-selection enum so callers of this
// package don't need a second import for it.
type Mode = mode.Mode

const (
	ModeAuto       = mode.Auto
	ModePredictive = mode.Predictive
	ModeManual     = mode.Manual
)

// NormalizeMode maps a raw mode string (any case, any known alias) to its
// canonical Mode, or reports ok=false for anything unrecognized.
func NormalizeMode(raw string) (Mode, bool) {
	return mode.Normalize(raw)
}

// TemperatureSettings is the validated min/max temperature band.
type TemperatureSettings struct {
	MinC        float64 `json:"min_temp"`
	MaxC        float64 `json:"max_temp"`
	HysteresisC float64 `json:"-"`
}

// Validate enforces 0 ≤ min < max ≤ 100, and 0.1 ≤ (max-min) ≤ 30.0.
func (s TemperatureSettings) Validate() error {
	if s.MinC < 0 || s.MaxC > 100 || s.MinC >= s.MaxC {
		return fmt.Errorf("settings: require 0 <= min_c(%v) < max_c(%v) <= 100", s.MinC, s.MaxC)
	}
	h := s.MaxC - s.MinC
	if h < 0.1 || h > 30.0 {
		return fmt.Errorf("settings: hysteresis %.2f out of range [0.1, 30.0]", h)
	}
	return nil
}

// Document is the full on-disk shape of the persisted settings file.
type Document struct {
	Version             string              `json:"version"`
	LastUpdated         string              `json:"last_updated"`
	TemperatureSettings temperatureSettings `json:"temperature_settings"`
	ModeSettings        modeSettings        `json:"mode_settings"`
	CoolingSettings     coolingSettings     `json:"cooling_settings"`
	IPAddressASIC       string              `json:"ip_address_asic"`
	Metadata            Metadata            `json:"metadata"`
}

type temperatureSettings struct {
	MinTemp float64 `json:"min_temp"`
	MaxTemp float64 `json:"max_temp"`
}

type modeSettings struct {
	Mode string `json:"mode"`
}

type coolingSettings struct {
	CoolingOn bool `json:"cooling_on"`
}

// Metadata carries device identity and backup bookkeeping.
type Metadata struct {
	DeviceID    string `json:"device_id"`
	CreatedBy   string `json:"created_by"`
	BackupCount int    `json:"backup_count"`
	Source      string `json:"source"`
}

const (
	docVersion   = "1.0"
	maxBackups   = 5
	settingsName = "gui_settings.json"
	backupsDir   = "backups"
)

// Store owns the settings document and its backups under dir. Every
// operation serializes on mu, since everything here runs in a single
// process and no cross-process file lock is needed.
type Store struct {
	mu  sync.Mutex
	dir string
}

// New returns a Store rooted at dir (created if missing).
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("settingsstore: create dir %s: %w", dir, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, backupsDir), 0755); err != nil {
		return nil, fmt.Errorf("settingsstore: create backups dir: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) settingsPath() string {
	return filepath.Join(s.dir, settingsName)
}

// LoadAll reads the persisted document. A missing or structurally invalid
// file is a PersistenceFatalError — the caller (typically CoreSupervisor at
// boot) is expected to exit(1) rather than continue, but this function
// returns the error rather than calling os.Exit itself so callers control
// when/how the process actually terminates.
func (s *Store) LoadAll() (Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() (Document, error) {
	data, err := os.ReadFile(s.settingsPath())
	if err != nil {
		return Document{}, &PersistenceFatalError{Path: s.settingsPath(), Err: err}
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, &PersistenceFatalError{Path: s.settingsPath(), Err: err}
	}
	return doc, nil
}

// PersistenceFatalError signals that the settings file is missing or
// corrupt at boot — the file is canonical truth, so this is unrecoverable.
type PersistenceFatalError struct {
	Path string
	Err  error
}

func (e *PersistenceFatalError) Error() string {
	return fmt.Sprintf("settingsstore: fatal: %s: %v", e.Path, e.Err)
}

func (e *PersistenceFatalError) Unwrap() error { return e.Err }

// ValidationError signals a rejected partial update: no state changes,
// no write.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return "settingsstore: validation: " + e.Err.Error() }
func (e *ValidationError) Unwrap() error { return e.Err }

// PartialSettings is the set of optionally-present fields SaveSettings
// merges into the existing document.
type PartialSettings struct {
	MinC *float64
	MaxC *float64
}

// SaveSettings merges partial into the existing document, validates,
// timestamps, writes atomically, and rotates backups. Returns false (no
// error) if validation fails — this is a rejected update, not a fatal
// condition.
func (s *Store) SaveSettings(partial PartialSettings) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.loadLocked()
	if err != nil {
		return false, err
	}

	next := doc.TemperatureSettings
	if partial.MinC != nil {
		next.MinTemp = *partial.MinC
	}
	if partial.MaxC != nil {
		next.MaxTemp = *partial.MaxC
	}

	candidate := TemperatureSettings{MinC: next.MinTemp, MaxC: next.MaxTemp}
	if err := candidate.Validate(); err != nil {
		return false, nil
	}

	doc.TemperatureSettings = next
	if err := s.writeDocLocked(doc); err != nil {
		return false, err
	}
	return true, nil
}

// LoadIP returns the persisted ASIC IP address.
func (s *Store) LoadIP() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return "", err
	}
	return doc.IPAddressASIC, nil
}

// SaveIP persists a new ASIC IP address.
func (s *Store) SaveIP(ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	doc.IPAddressASIC = ip
	return s.writeDocLocked(doc)
}

// LoadMode returns the persisted, normalized Mode.
func (s *Store) LoadMode() (Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return "", err
	}
	mode, ok := NormalizeMode(doc.ModeSettings.Mode)
	if !ok {
		return "", &ValidationError{Err: fmt.Errorf("unrecognized persisted mode %q", doc.ModeSettings.Mode)}
	}
	return mode, nil
}

// SaveMode normalizes raw and persists it. Unknown values are rejected
// with no write. If raw normalizes to the already-persisted mode, this is
// a no-op: no write, no backup.
func (s *Store) SaveMode(raw string) error {
	mode, ok := NormalizeMode(raw)
	if !ok {
		return &ValidationError{Err: fmt.Errorf("unrecognized mode %q", raw)}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	if current, ok := NormalizeMode(doc.ModeSettings.Mode); ok && current == mode {
		return nil
	}
	doc.ModeSettings.Mode = string(mode)
	return s.writeDocLocked(doc)
}

// LoadCooling returns the persisted manual-cooling command.
func (s *Store) LoadCooling() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return false, err
	}
	return doc.CoolingSettings.CoolingOn, nil
}

// SaveCooling persists the manual-cooling command.
func (s *Store) SaveCooling(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.loadLocked()
	if err != nil {
		return err
	}
	doc.CoolingSettings.CoolingOn = on
	return s.writeDocLocked(doc)
}

// CopyDefaultsToSettings materializes the user settings file from
// config/defaults.json if the user file is missing. If defaults.json is
// also absent, a baked-in default document is used.
func (s *Store) CopyDefaultsToSettings() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.settingsPath()); err == nil {
		return nil
	}

	defaultsPath := filepath.Join(s.dir, "defaults.json")
	data, err := os.ReadFile(defaultsPath)
	var doc Document
	if err == nil {
		if jsonErr := json.Unmarshal(data, &doc); jsonErr != nil {
			return fmt.Errorf("settingsstore: parse defaults.json: %w", jsonErr)
		}
	} else {
		doc = defaultDocument()
	}
	if doc.Metadata.DeviceID == "" {
		doc.Metadata.DeviceID = uuid.NewString()
	}
	return s.writeDocLocked(doc)
}

func defaultDocument() Document {
	return Document{
		Version: docVersion,
		TemperatureSettings: temperatureSettings{
			MinTemp: 45.0,
			MaxTemp: 55.0,
		},
		ModeSettings:    modeSettings{Mode: string(ModeAuto)},
		CoolingSettings: coolingSettings{CoolingOn: false},
		IPAddressASIC:   "",
		Metadata: Metadata{
			CreatedBy:   "controller",
			BackupCount: 0,
			Source:      "defaults",
		},
	}
}

// writeDocLocked validates invariants, timestamps, writes atomically via
// tmp+rename, and rotates backups to at most maxBackups. Caller must hold
// mu.
func (s *Store) writeDocLocked(doc Document) error {
	candidate := TemperatureSettings{MinC: doc.TemperatureSettings.MinTemp, MaxC: doc.TemperatureSettings.MaxTemp}
	if err := candidate.Validate(); err != nil {
		return &ValidationError{Err: err}
	}
	if _, ok := NormalizeMode(doc.ModeSettings.Mode); !ok {
		return &ValidationError{Err: fmt.Errorf("unrecognized mode %q", doc.ModeSettings.Mode)}
	}

	doc.Version = docVersion
	doc.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	if doc.Metadata.DeviceID == "" {
		doc.Metadata.DeviceID = uuid.NewString()
	}

	existed := false
	if _, err := os.Stat(s.settingsPath()); err == nil {
		existed = true
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("settingsstore: marshal: %w", err)
	}

	if err := atomicWrite(s.settingsPath(), data); err != nil {
		return fmt.Errorf("settingsstore: write: %w", err)
	}

	if existed {
		if err := s.createBackupLocked(data); err != nil {
			return fmt.Errorf("settingsstore: backup: %w", err)
		}
	}

	return nil
}

// atomicWrite writes data to path via a temp file in the same directory
// followed by rename, so a reader never observes a partial file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

func (s *Store) createBackupLocked(data []byte) error {
	dir := filepath.Join(s.dir, backupsDir)
	name := fmt.Sprintf("gui_settings_%s.json", time.Now().UTC().Format("2006-01-02_15-04-05"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return err
	}
	return s.pruneBackupsLocked(dir)
}

func (s *Store) pruneBackupsLocked(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	type backupFile struct {
		path    string
		modTime time.Time
	}
	var backups []backupFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "gui_settings_") && !strings.HasPrefix(name, "temperature_settings_") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backupFile{path: filepath.Join(dir, name), modTime: info.ModTime()})
	}

	sort.Slice(backups, func(i, j int) bool { return backups[i].modTime.Before(backups[j].modTime) })

	for len(backups) > maxBackups {
		if err := os.Remove(backups[0].path); err != nil {
			return err
		}
		backups = backups[1:]
	}
	return nil
}
