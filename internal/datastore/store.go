// Package datastore implements the controller's shared, thread-safe
// publish/subscribe data plane: one mutex guarding the latest value and
// bounded history for every runtime key, with subscribers notified outside
// the lock.
package datastore

import (
	"sync"
	"time"
)

// Key is the closed set of runtime keys the store accepts.
type Key string

const (
	KeyTemperature         Key = "TEMPERATURE"
	KeyTemperatureSettings Key = "TEMPERATURE_SETTINGS"
	KeySystemStatus        Key = "SYSTEM_STATUS"
	KeyIPAddressASIC       Key = "IP_ADDRESS_ASIC"
	KeyMode                Key = "MODE"
	KeyCoolingState        Key = "COOLING_STATE"
	KeyValveStateUpper     Key = "VALVE_STATE_UPPER"
	KeyValveStateLower     Key = "VALVE_STATE_LOWER"
	KeyError               Key = "ERROR"
)

// DefaultHistoryLimit bounds the per-key FIFO history when callers do not
// override it via NewWithHistoryLimit.
const DefaultHistoryLimit = 1000

// Entry is one recorded value for a key, with provenance.
type Entry struct {
	Value     any
	Timestamp time.Time
	Source    string
	Metadata  map[string]any
}

// Callback is a subscriber notified after a Set commits. Callbacks must not
// block and must not call back into the Store synchronously from the
// notification goroutine in a way that could deadlock on the same key —
// the store itself is safe to re-enter because notification happens after
// the lock is released.
type Callback func(key Key, entry Entry)

// Subscription identifies one Subscribe call, for use with Unsubscribe.
type Subscription struct {
	key Key
	id  uint64
}

type subscriberEntry struct {
	id uint64
	cb Callback
}

// Store is the in-process pub/sub key-value plane shared by every
// component: readers Get the latest value for a key, writers Set a new
// value and fan it out to subscribers. Zero value is not usable; construct
// with New.
type Store struct {
	mu            sync.Mutex
	historyLimit  int
	latest        map[Key]Entry
	history       map[Key][]Entry
	subscribers   map[Key][]subscriberEntry
	nextSubID     uint64
	statsByKey    map[Key]int64
	statsBySource map[string]int64
}

// New returns a Store with the default per-key history cap.
func New() *Store {
	return NewWithHistoryLimit(DefaultHistoryLimit)
}

// NewWithHistoryLimit returns a Store whose per-key history is capped at
// limit entries (FIFO eviction of the oldest).
func NewWithHistoryLimit(limit int) *Store {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Store{
		historyLimit:  limit,
		latest:        make(map[Key]Entry),
		history:       make(map[Key][]Entry),
		subscribers:   make(map[Key][]subscriberEntry),
		statsByKey:    make(map[Key]int64),
		statsBySource: make(map[string]int64),
	}
}

// Set atomically replaces the latest entry for key, appends it to the
// bounded history, then notifies subscribers outside the lock.
func (s *Store) Set(key Key, value any, source string, metadata map[string]any) Entry {
	entry := Entry{Value: value, Timestamp: time.Now(), Source: source, Metadata: metadata}

	s.mu.Lock()
	s.latest[key] = entry
	hist := append(s.history[key], entry)
	if len(hist) > s.historyLimit {
		hist = hist[len(hist)-s.historyLimit:]
	}
	s.history[key] = hist
	s.statsByKey[key]++
	s.statsBySource[source]++
	subs := make([]subscriberEntry, len(s.subscribers[key]))
	copy(subs, s.subscribers[key])
	s.mu.Unlock()

	for _, sub := range subs {
		sub.cb(key, entry)
	}
	return entry
}

// Get returns the latest entry for key, if any.
func (s *Store) Get(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.latest[key]
	return e, ok
}

// GetValue returns the latest value for key, if any.
func (s *Store) GetValue(key Key) (any, bool) {
	e, ok := s.Get(key)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

// Subscribe registers cb to be invoked for every future Set on key. It
// returns a Subscription usable with Unsubscribe.
func (s *Store) Subscribe(key Key, cb Callback) Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subscribers[key] = append(s.subscribers[key], subscriberEntry{id: id, cb: cb})
	return Subscription{key: key, id: id}
}

// Unsubscribe removes a callback previously registered with Subscribe. It
// is a no-op if sub was already removed or came from a different Store.
func (s *Store) Unsubscribe(sub Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subs := s.subscribers[sub.key]
	for i, e := range subs {
		if e.id == sub.id {
			s.subscribers[sub.key] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// History returns up to limit of the most recent entries for key (all of
// them if limit <= 0), optionally filtered to entries at or after since.
func (s *Store) History(key Key, limit int, since time.Time) []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.history[key]
	out := make([]Entry, 0, len(src))
	for _, e := range src {
		if !since.IsZero() && e.Timestamp.Before(since) {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// IsFresh reports whether key has an entry whose age is within maxAge.
func (s *Store) IsFresh(key Key, maxAge time.Duration) bool {
	e, ok := s.Get(key)
	if !ok {
		return false
	}
	return time.Since(e.Timestamp) <= maxAge
}

// Statistics reports write counts by key and by source.
type Statistics struct {
	ByKey    map[Key]int64
	BySource map[string]int64
}

// Statistics returns a snapshot of write counters.
func (s *Store) Statistics() Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	byKey := make(map[Key]int64, len(s.statsByKey))
	for k, v := range s.statsByKey {
		byKey[k] = v
	}
	bySource := make(map[string]int64, len(s.statsBySource))
	for k, v := range s.statsBySource {
		bySource[k] = v
	}
	return Statistics{ByKey: byKey, BySource: bySource}
}
