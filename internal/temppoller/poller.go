// Package temppoller implements a periodic task that fetches coolant
// temperature from the ASIC and publishes it into DataStore: an immediate
// first pass, then a time.Ticker loop, with structured start/stop logging.
package temppoller

import (
	"context"
	"log/slog"
	"time"

	"github.com/andreyvalerr/CONTROLLER/internal/datastore"
	"github.com/andreyvalerr/CONTROLLER/internal/miner"
	"github.com/andreyvalerr/CONTROLLER/internal/reading"
)

// Fetcher is the subset of miner.Client this package depends on, so tests
// can substitute a fake without a real TCP server.
type Fetcher interface {
	Fetch() (miner.Reading, error)
}

// FetcherFactory builds a Fetcher for the given ASIC IP. Production code
// passes a closure constructing miner.New with an Endpoint built from ip and
// the configured port/account/password; tests substitute a fake.
type FetcherFactory func(ip string) Fetcher

// Poller periodically reads IP_ADDRESS_ASIC, fetches a reading, and
// publishes it to TEMPERATURE.
type Poller struct {
	store      *datastore.Store
	newFetcher FetcherFactory
	interval   time.Duration
	log        *slog.Logger

	lastGoodIP string
	failures   int64
}

// New constructs a Poller. interval defaults to 1s if <= 0.
func New(store *datastore.Store, newFetcher FetcherFactory, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		store:      store,
		newFetcher: newFetcher,
		interval:   interval,
		log:        logger.With("component", "temppoller"),
	}
}

// Run performs an immediate poll, then polls every interval until ctx is
// cancelled. The in-flight TCP operation is allowed to return or time out
// on cancellation rather than being hard-aborted.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info("temppoller starting", "interval", p.interval)
	defer p.log.Info("temppoller stopped")

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	ip, ok := p.store.GetValue(datastore.KeyIPAddressASIC)
	ipStr, _ := ip.(string)
	if !ok || ipStr == "" {
		if p.lastGoodIP == "" {
			p.publishError("no ASIC IP configured")
			return
		}
		ipStr = p.lastGoodIP
	}

	fetcher := p.newFetcher(ipStr)
	r, err := fetcher.Fetch()
	if err != nil {
		p.failures++
		p.log.Warn("fetch failed", "ip", ipStr, "error", err, "failures", p.failures)
		p.publishError(err.Error())
		return
	}

	p.lastGoodIP = ipStr
	if r.LiquidC == nil {
		p.publishError("response missing liquid-temperature")
		return
	}

	rd := reading.NewSuccess(*r.LiquidC, r.PSUC, r.FanRPM, reading.SourceMiner, r.CapturedAt)
	p.store.Set(datastore.KeyTemperature, rd, "miner", map[string]any{"ip": ipStr})
}

func (p *Poller) publishError(msg string) {
	rd := reading.NewError(reading.SourceMiner, time.Now(), msg)
	p.store.Set(datastore.KeyTemperature, rd, "miner", nil)
}
