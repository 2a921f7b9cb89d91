package temppoller

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvalerr/CONTROLLER/internal/datastore"
	"github.com/andreyvalerr/CONTROLLER/internal/miner"
	"github.com/andreyvalerr/CONTROLLER/internal/reading"
)

type fakeFetcher struct {
	reading miner.Reading
	err     error
}

func (f fakeFetcher) Fetch() (miner.Reading, error) { return f.reading, f.err }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPollPublishesSuccessReading(t *testing.T) {
	store := datastore.New()
	store.Set(datastore.KeyIPAddressASIC, "10.0.0.5", "test", nil)

	liquid := 49.0
	p := New(store, func(ip string) Fetcher {
		assert.Equal(t, "10.0.0.5", ip)
		return fakeFetcher{reading: miner.Reading{LiquidC: &liquid, CapturedAt: time.Now()}}
	}, time.Second, testLogger())

	p.poll(context.Background())

	v, ok := store.GetValue(datastore.KeyTemperature)
	require.True(t, ok)
	rd := v.(reading.TemperatureReading)
	require.NotNil(t, rd.LiquidC)
	assert.Equal(t, 49.0, *rd.LiquidC)
	assert.Equal(t, reading.StatusNormal, rd.Status)
}

func TestPollPublishesErrorOnFetchFailure(t *testing.T) {
	store := datastore.New()
	store.Set(datastore.KeyIPAddressASIC, "10.0.0.5", "test", nil)

	p := New(store, func(ip string) Fetcher {
		return fakeFetcher{err: errors.New("connect refused")}
	}, time.Second, testLogger())

	p.poll(context.Background())

	v, ok := store.GetValue(datastore.KeyTemperature)
	require.True(t, ok)
	rd := v.(reading.TemperatureReading)
	assert.Equal(t, reading.StatusError, rd.Status)
	assert.Nil(t, rd.LiquidC)
	assert.NotEmpty(t, rd.Error)
}

func TestPollWithNoIPConfigured(t *testing.T) {
	store := datastore.New()
	p := New(store, func(ip string) Fetcher {
		t.Fatal("fetcher should not be constructed without an IP")
		return nil
	}, time.Second, testLogger())

	p.poll(context.Background())

	v, ok := store.GetValue(datastore.KeyTemperature)
	require.True(t, ok)
	rd := v.(reading.TemperatureReading)
	assert.Equal(t, reading.StatusError, rd.Status)
}
