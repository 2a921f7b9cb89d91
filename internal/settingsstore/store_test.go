package settingsstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)
	require.NoError(t, s.CopyDefaultsToSettings())
	return s
}

func TestCopyDefaultsMaterializesFile(t *testing.T) {
	s := newTestStore(t)
	doc, err := s.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 45.0, doc.TemperatureSettings.MinTemp)
	assert.Equal(t, 55.0, doc.TemperatureSettings.MaxTemp)
	assert.NotEmpty(t, doc.Metadata.DeviceID)
}

func TestLoadAllMissingFileIsFatal(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir)
	require.NoError(t, err)

	_, err = s.LoadAll()
	require.Error(t, err)
	var fatalErr *PersistenceFatalError
	require.ErrorAs(t, err, &fatalErr)
}

func TestSaveSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	min, max := 46.0, 48.0
	ok, err := s.SaveSettings(PartialSettings{MinC: &min, MaxC: &max})
	require.NoError(t, err)
	require.True(t, ok)

	doc, err := s.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 46.0, doc.TemperatureSettings.MinTemp)
	assert.Equal(t, 48.0, doc.TemperatureSettings.MaxTemp)
}

func TestSaveSettingsRejectsInvalid(t *testing.T) {
	s := newTestStore(t)
	min, max := 50.0, 40.0 // min >= max
	ok, err := s.SaveSettings(PartialSettings{MinC: &min, MaxC: &max})
	require.NoError(t, err)
	assert.False(t, ok)

	// Original document must be untouched.
	doc, err := s.LoadAll()
	require.NoError(t, err)
	assert.Equal(t, 45.0, doc.TemperatureSettings.MinTemp)
}

func TestSaveSettingsCreatesBackupAndPrunes(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 7; i++ {
		min, max := 40.0+float64(i), 60.0
		ok, err := s.SaveSettings(PartialSettings{MinC: &min, MaxC: &max})
		require.NoError(t, err)
		require.True(t, ok)
	}

	entries, err := os.ReadDir(filepath.Join(s.dir, backupsDir))
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), maxBackups)
}

func TestModeNormalizationAliases(t *testing.T) {
	cases := map[string]Mode{
		"Авто":                 ModeAuto,
		"automatic":            ModeAuto,
		"AUTO":                 ModeAuto,
		"Ручной":               ModeManual,
		"manual":               ModeManual,
		"Авто (предиктивный)":  ModePredictive,
		"predictive":           ModePredictive,
	}
	for raw, want := range cases {
		got, ok := NormalizeMode(raw)
		require.Truef(t, ok, "expected %q to normalize", raw)
		assert.Equal(t, want, got)
	}

	_, ok := NormalizeMode("turbo")
	assert.False(t, ok)
}

func TestSaveModeRejectsUnknown(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveMode("turbo")
	require.Error(t, err)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}

func TestSaveModeUnchangedIsNoOp(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveMode("auto")) // default document already has mode "auto"

	entries, err := os.ReadDir(filepath.Join(s.dir, backupsDir))
	require.NoError(t, err)
	assert.Empty(t, entries, "no-op mode save must not create a backup")
}

func TestSaveModeChangeCreatesBackup(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveMode("manual"))

	entries, err := os.ReadDir(filepath.Join(s.dir, backupsDir))
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "a real mode change must create a backup")
}

func TestSaveAndLoadIP(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.SaveIP("192.168.1.50"))
	ip, err := s.LoadIP()
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", ip)
}

func TestAtomicWriteNeverLeavesPartialFile(t *testing.T) {
	s := newTestStore(t)
	min, max := 46.0, 48.0
	_, err := s.SaveSettings(PartialSettings{MinC: &min, MaxC: &max})
	require.NoError(t, err)

	data, err := os.ReadFile(s.settingsPath())
	require.NoError(t, err)
	var doc Document
	require.NoError(t, json.Unmarshal(data, &doc))
}
