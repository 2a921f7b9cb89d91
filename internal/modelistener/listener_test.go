package modelistener

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/andreyvalerr/CONTROLLER/internal/datastore"
	"github.com/andreyvalerr/CONTROLLER/internal/mode"
)

type fakeRegulator struct {
	lastMode    mode.Mode
	modeCalls   int
	lastCooling bool
	coolCalls   int
}

func (f *fakeRegulator) SetMode(m mode.Mode) {
	f.lastMode = m
	f.modeCalls++
}

func (f *fakeRegulator) SetCoolingCommand(on bool) {
	f.lastCooling = on
	f.coolCalls++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestStartAppliesExistingValuesSynchronously(t *testing.T) {
	store := datastore.New()
	store.Set(datastore.KeyMode, "Ручной", "gui", nil)
	store.Set(datastore.KeyCoolingState, true, "gui", nil)

	reg := &fakeRegulator{}
	l := New(store, reg, testLogger())
	l.Start()

	assert.Equal(t, 1, reg.modeCalls)
	assert.Equal(t, mode.Manual, reg.lastMode)
	assert.Equal(t, 1, reg.coolCalls)
	assert.True(t, reg.lastCooling)
}

func TestStartWithNoExistingValuesDoesNothing(t *testing.T) {
	store := datastore.New()
	reg := &fakeRegulator{}
	l := New(store, reg, testLogger())
	l.Start()

	assert.Equal(t, 0, reg.modeCalls)
	assert.Equal(t, 0, reg.coolCalls)
}

func TestModeChangePropagatesAfterStart(t *testing.T) {
	store := datastore.New()
	reg := &fakeRegulator{}
	l := New(store, reg, testLogger())
	l.Start()

	store.Set(datastore.KeyMode, "auto", "gui", nil)
	assert.Equal(t, mode.Auto, reg.lastMode)

	store.Set(datastore.KeyMode, "Авто (предиктивный)", "gui", nil)
	assert.Equal(t, mode.Predictive, reg.lastMode)
}

func TestUnrecognizedModeIsIgnored(t *testing.T) {
	store := datastore.New()
	reg := &fakeRegulator{}
	l := New(store, reg, testLogger())
	l.Start()

	store.Set(datastore.KeyMode, "bogus", "gui", nil)
	assert.Equal(t, 0, reg.modeCalls)
}

func TestCoolingStateChangePropagates(t *testing.T) {
	store := datastore.New()
	reg := &fakeRegulator{}
	l := New(store, reg, testLogger())
	l.Start()

	store.Set(datastore.KeyCoolingState, true, "gui", nil)
	assert.True(t, reg.lastCooling)

	store.Set(datastore.KeyCoolingState, false, "gui", nil)
	assert.False(t, reg.lastCooling)
	assert.Equal(t, 2, reg.coolCalls)
}

func TestSubscriptionFiresSynchronouslyOnSet(t *testing.T) {
	// datastore.Set notifies subscribers synchronously outside its lock but
	// still on the caller's goroutine; this test guards against a future
	// regression to an async dispatch that would break startup ordering
	// guarantees.
	store := datastore.New()
	reg := &fakeRegulator{}
	l := New(store, reg, testLogger())
	l.Start()

	store.Set(datastore.KeyMode, "manual", "gui", nil)
	// If dispatch were async, this assertion could flake; it must be
	// immediately true given the current synchronous contract.
	assert.Equal(t, mode.Manual, reg.lastMode)
	_ = time.Now()
}
