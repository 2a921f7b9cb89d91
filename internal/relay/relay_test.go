package relay

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePin struct {
	level     bool
	writeErr  error
	closed    bool
	writeLog  []bool
}

func (f *fakePin) Name() string { return "fake" }
func (f *fakePin) Number() int  { return 0 }
func (f *fakePin) Close() error {
	f.closed = true
	return nil
}
func (f *fakePin) Write(high bool) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	f.level = high
	f.writeLog = append(f.writeLog, high)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewInitializesOff(t *testing.T) {
	pin := &fakePin{}
	d, err := New("upper", pin, true, testLogger())
	require.NoError(t, err)
	assert.False(t, d.GetState())
	assert.True(t, pin.level, "active-low off should drive pin high")
}

func TestTurnOnIdempotent(t *testing.T) {
	pin := &fakePin{}
	d, err := New("upper", pin, true, testLogger())
	require.NoError(t, err)

	assert.True(t, d.TurnOn())
	assert.True(t, d.TurnOn())
	stats := d.Statistics()
	assert.Equal(t, uint64(1), stats.SwitchCount)
	assert.False(t, pin.level, "active-low on should drive pin low")
}

func TestTurnOnOffAccumulatesOnTime(t *testing.T) {
	pin := &fakePin{}
	d, err := New("upper", pin, true, testLogger())
	require.NoError(t, err)

	require.True(t, d.TurnOn())
	time.Sleep(5 * time.Millisecond)
	require.True(t, d.TurnOff())

	stats := d.Statistics()
	assert.Equal(t, uint64(2), stats.SwitchCount)
	assert.Greater(t, stats.TotalOnTime, time.Duration(0))
}

func TestNewFailsWhenInitWriteFails(t *testing.T) {
	pin := &fakePin{writeErr: errors.New("gpio fault")}
	// New() itself will fail because it tries to init off.
	_, err := New("upper", pin, true, testLogger())
	require.Error(t, err)
}

func TestTurnOnFailsTransiently(t *testing.T) {
	pin := &fakePin{}
	d, err := New("upper", pin, true, testLogger())
	require.NoError(t, err)

	pin.writeErr = errors.New("transient fault")
	assert.False(t, d.TurnOn())
	assert.False(t, d.GetState())
}

func TestToggle(t *testing.T) {
	pin := &fakePin{}
	d, err := New("lower", pin, true, testLogger())
	require.NoError(t, err)

	assert.True(t, d.Toggle())
	assert.True(t, d.GetState())
	assert.True(t, d.Toggle())
	assert.False(t, d.GetState())
}

func TestCleanupIsOnceAndDrivesOff(t *testing.T) {
	pin := &fakePin{}
	d, err := New("upper", pin, true, testLogger())
	require.NoError(t, err)
	require.True(t, d.TurnOn())

	require.NoError(t, d.Cleanup())
	assert.True(t, pin.level, "pin should be driven high (off) on cleanup for active-low")
	assert.True(t, pin.closed)

	// second call is a no-op, must not error or re-close
	require.NoError(t, d.Cleanup())
}
