package supervisor

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvalerr/CONTROLLER/internal/datastore"
	"github.com/andreyvalerr/CONTROLLER/internal/mode"
	"github.com/andreyvalerr/CONTROLLER/internal/regulator"
	"github.com/andreyvalerr/CONTROLLER/internal/relay"
	"github.com/andreyvalerr/CONTROLLER/internal/settingsstore"
)

type fakePin struct{ level bool }

func (f *fakePin) Name() string       { return "fake" }
func (f *fakePin) Number() int        { return 0 }
func (f *fakePin) Close() error       { return nil }
func (f *fakePin) Write(h bool) error { f.level = h; return nil }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestSupervisor builds a Supervisor with fake relay pins and a
// temp-dir settings store, bypassing New's sysfs GPIO dependency so
// SetMode/SetSettings/SetCooling logic can be exercised without hardware.
func newTestSupervisor(t *testing.T) (*Supervisor, string) {
	t.Helper()
	upperPin, lowerPin := &fakePin{}, &fakePin{}
	upper, err := relay.New("upper", upperPin, true, testLogger())
	require.NoError(t, err)
	lower, err := relay.New("lower", lowerPin, true, testLogger())
	require.NoError(t, err)

	store := datastore.New()
	reg := regulator.New(upper, lower, store, time.Hour, 0, regulator.DefaultPredictiveParams(), testLogger())

	dir := t.TempDir()
	settings, err := settingsstore.New(dir)
	require.NoError(t, err)
	require.NoError(t, settings.CopyDefaultsToSettings())

	s := &Supervisor{
		log:        testLogger(),
		store:      store,
		settings:   settings,
		upperRelay: upper,
		lowerRelay: lower,
		reg:        reg,
	}
	return s, dir
}

func TestDocumentToRegulatorSettingsComputesHysteresis(t *testing.T) {
	doc := settingsstore.Document{}
	doc.TemperatureSettings.MinTemp = 45.0
	doc.TemperatureSettings.MaxTemp = 55.0

	s := documentToRegulatorSettings(doc)
	assert.Equal(t, 45.0, s.MinC)
	assert.Equal(t, 55.0, s.MaxC)
	assert.Equal(t, 10.0, s.HysteresisC)
}

func TestValidationErrorUnwraps(t *testing.T) {
	inner := assert.AnError
	err := &ValidationError{Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), inner.Error())
}

func TestSetModeUnchangedIsNoOp(t *testing.T) {
	s, dir := newTestSupervisor(t)

	var published []any
	s.store.Subscribe(datastore.KeyMode, func(key datastore.Key, entry datastore.Entry) {
		published = append(published, entry.Value)
	})

	require.NoError(t, s.SetMode("auto")) // default document already has mode "auto"

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no-op mode set must not create a settings backup")
	assert.Empty(t, published, "no-op mode set must not publish to the data store")
}

func TestSetModeChangePublishesAndPersists(t *testing.T) {
	s, dir := newTestSupervisor(t)

	var published []any
	s.store.Subscribe(datastore.KeyMode, func(key datastore.Key, entry datastore.Entry) {
		published = append(published, entry.Value)
	})

	require.NoError(t, s.SetMode("manual"))

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries, "a real mode change must create a settings backup")

	require.Len(t, published, 1)
	assert.Equal(t, string(mode.Manual), published[0])

	got, err := s.settings.LoadMode()
	require.NoError(t, err)
	assert.Equal(t, mode.Manual, got)
}

func TestSetModeRejectsUnknown(t *testing.T) {
	s, _ := newTestSupervisor(t)
	err := s.SetMode("turbo")
	require.Error(t, err)
	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
}
