// Package relay drives a single GPIO line as a relay (active-low or
// active-high, per the activeLow flag), with
// switch-count and on-time bookkeeping, on top of a github.com/reef-pi/hal
// hal.DigitalOutputPin.
package relay

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reef-pi/hal"
)

// Statistics reports switch-count and on-time bookkeeping for a channel.
type Statistics struct {
	SwitchCount     uint64
	TotalOnTime     time.Duration
	Uptime          time.Duration
	OnTimePercent   float64
	LastSwitchTime  time.Time
	LastSwitchValid bool
}

// Driver wraps one GPIO output pin as a logical relay. The logical "on"
// state is translated to the physical pin level according to activeLow.
// Safe for concurrent use; every operation holds mu across the full
// read-modify-write so a write never interleaves with bookkeeping.
type Driver struct {
	mu sync.Mutex

	pin       hal.DigitalOutputPin
	name      string
	activeLow bool
	log       *slog.Logger

	initialized bool
	cleanedUp   bool
	state       bool // logical state: true = energized/on

	switchCount    uint64
	lastSwitchTime time.Time
	hasSwitched    bool
	createdAt      time.Time
	totalOnTime    time.Duration
	onSince        time.Time
	isAccruing     bool
}

// New constructs a Driver over pin, initializing it to the off state.
// name identifies the channel in logs ("upper" or "lower").
func New(name string, pin hal.DigitalOutputPin, activeLow bool, logger *slog.Logger) (*Driver, error) {
	if pin == nil {
		return nil, fmt.Errorf("relay %s: nil pin", name)
	}
	d := &Driver{
		pin:       pin,
		name:      name,
		activeLow: activeLow,
		log:       logger.With("component", "relay", "channel", name),
		createdAt: time.Now(),
	}
	if err := d.writeLevel(false); err != nil {
		return nil, fmt.Errorf("relay %s: init off: %w", name, err)
	}
	d.initialized = true
	d.log.Info("relay initialized", "active_low", activeLow)
	return d, nil
}

func (d *Driver) writeLevel(on bool) error {
	level := on
	if d.activeLow {
		level = !on
	}
	return d.pin.Write(level)
}

// TurnOn drives the relay to its logical on state. Idempotent: returns true
// without re-writing the pin if already on. Returns false only on hardware
// write failure or if not initialized — callers must treat false as
// transient and retry on the next tick.
func (d *Driver) TurnOn() bool {
	return d.setState(true)
}

// TurnOff drives the relay to its logical off state, accumulating on-time.
func (d *Driver) TurnOff() bool {
	return d.setState(false)
}

func (d *Driver) setState(on bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.initialized {
		return false
	}
	if d.state == on {
		return true
	}
	if err := d.writeLevel(on); err != nil {
		d.log.Warn("relay write failed", "target_state", on, "error", err)
		return false
	}

	now := time.Now()
	if on {
		d.onSince = now
		d.isAccruing = true
	} else if d.isAccruing {
		d.totalOnTime += now.Sub(d.onSince)
		d.isAccruing = false
	}
	d.state = on
	d.switchCount++
	d.lastSwitchTime = now
	d.hasSwitched = true
	d.log.Info("relay switched", "state", on, "switch_count", d.switchCount)
	return true
}

// Toggle flips the current logical state.
func (d *Driver) Toggle() bool {
	d.mu.Lock()
	cur := d.state
	d.mu.Unlock()
	if cur {
		return d.TurnOff()
	}
	return d.TurnOn()
}

// GetState returns the current logical on/off state.
func (d *Driver) GetState() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// LastSwitchTime returns the time of the last committed transition, if any.
func (d *Driver) LastSwitchTime() (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastSwitchTime, d.hasSwitched
}

// Statistics reports switch count, accumulated on-time, uptime, and the
// on-time percentage since construction.
func (d *Driver) Statistics() Statistics {
	d.mu.Lock()
	defer d.mu.Unlock()

	total := d.totalOnTime
	if d.isAccruing {
		total += time.Since(d.onSince)
	}
	uptime := time.Since(d.createdAt)
	pct := 0.0
	if uptime > 0 {
		pct = float64(total) / float64(uptime) * 100.0
	}
	return Statistics{
		SwitchCount:     d.switchCount,
		TotalOnTime:     total,
		Uptime:          uptime,
		OnTimePercent:   pct,
		LastSwitchTime:  d.lastSwitchTime,
		LastSwitchValid: d.hasSwitched,
	}
}

// Cleanup drives the relay off and releases the underlying pin. Must be
// called at most once; subsequent calls are no-ops. Callers register this
// with the process shutdown path (CoreSupervisor), not with atexit-style
// hooks, since Go has none.
func (d *Driver) Cleanup() error {
	d.mu.Lock()
	if d.cleanedUp {
		d.mu.Unlock()
		return nil
	}
	d.cleanedUp = true
	d.mu.Unlock()

	if err := d.writeLevel(false); err != nil {
		d.log.Warn("cleanup: failed to drive off", "error", err)
	}
	if err := d.pin.Close(); err != nil {
		d.log.Warn("cleanup: failed to close pin", "error", err)
		return err
	}
	d.log.Info("relay cleaned up")
	return nil
}
