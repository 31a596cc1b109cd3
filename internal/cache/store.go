// Package cache is a TTL + LRU bounded store for repair outcomes, keyed by a
// content hash of the failure that produced them.
package cache

import (
	"container/list"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kamilpajak/heisenberg-heal/internal/logger"
	"go.uber.org/zap"
)

// EvictionLRU is the only supported eviction policy.
const EvictionLRU = "lru"

// ErrInvalidConfig is returned when a cache configuration cannot be used.
var ErrInvalidConfig = errors.New("invalid cache config")

// Config bounds the store.
type Config struct {
	DefaultTTL     time.Duration `yaml:"default_ttl" json:"default_ttl"`
	MaxSize        int           `yaml:"max_size" json:"max_size"`
	EvictionPolicy string        `yaml:"eviction_policy" json:"eviction_policy"`
	// AverageRepairCost is the AI spend a hit is assumed to save, in USD.
	AverageRepairCost float64 `yaml:"average_repair_cost" json:"average_repair_cost"`
}

// DefaultConfig returns a 24h TTL, 1000 entry LRU store.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:        24 * time.Hour,
		MaxSize:           1000,
		EvictionPolicy:    EvictionLRU,
		AverageRepairCost: 0.02,
	}
}

// Validate checks the config without clamping anything.
func (c Config) Validate() error {
	if c.MaxSize < 1 {
		return fmt.Errorf("%w: max_size must be >= 1, got %d", ErrInvalidConfig, c.MaxSize)
	}
	if c.DefaultTTL <= 0 {
		return fmt.Errorf("%w: default_ttl must be > 0, got %s", ErrInvalidConfig, c.DefaultTTL)
	}
	if c.EvictionPolicy != "" && c.EvictionPolicy != EvictionLRU {
		return fmt.Errorf("%w: unsupported eviction_policy %q", ErrInvalidConfig, c.EvictionPolicy)
	}
	if c.AverageRepairCost < 0 {
		return fmt.Errorf("%w: average_repair_cost must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// Entry is a cached value plus its bookkeeping. Entries handed out by the
// store are copies.
type Entry[V any] struct {
	Key            string    `json:"key"`
	Value          V         `json:"value"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	AccessCount    int       `json:"access_count"`
	Size           int       `json:"size"`
}

func (e *Entry[V]) expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Option configures a Store.
type Option func(*options)

type options struct {
	log *zap.Logger
	now func() time.Time
}

// WithLogger sets the logger used for eviction and expiry events.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = logger.OrNop(l) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Store is safe for concurrent use. Every read-modify-write (capacity check,
// eviction, insert) runs under one lock.
type Store[V any] struct {
	mu    sync.Mutex
	cfg   Config
	items map[string]*list.Element // values are *Entry[V]
	lru   *list.List               // front = most recently used

	hits      int64
	misses    int64
	evictions int64
	expired   int64

	log *zap.Logger
	now func() time.Time
}

// New validates cfg and returns an empty store.
func New[V any](cfg Config, opts ...Option) (*Store[V], error) {
	if cfg.EvictionPolicy == "" {
		cfg.EvictionPolicy = EvictionLRU
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[V]{
		cfg:   cfg,
		items: make(map[string]*list.Element),
		lru:   list.New(),
		log:   o.log,
		now:   o.now,
	}, nil
}

// Config returns the store configuration.
func (s *Store[V]) Config() Config {
	return s.cfg
}

// Set stores value under key with the default TTL.
func (s *Store[V]) Set(key string, value V) {
	s.SetWithTTL(key, value, s.cfg.DefaultTTL)
}

// SetWithTTL stores value under key for ttl. A non-positive ttl falls back
// to the default. Inserting a new key into a full store first evicts the
// least recently used entry.
func (s *Store[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	size := estimateSize(value)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if el, ok := s.items[key]; ok {
		e := el.Value.(*Entry[V])
		e.Value = value
		e.CreatedAt = now
		e.LastAccessedAt = now
		e.ExpiresAt = now.Add(ttl)
		e.Size = size
		s.lru.MoveToFront(el)
		return
	}

	for len(s.items) >= s.cfg.MaxSize {
		s.evictOldest()
	}

	e := &Entry[V]{
		Key:            key,
		Value:          value,
		CreatedAt:      now,
		LastAccessedAt: now,
		ExpiresAt:      now.Add(ttl),
		Size:           size,
	}
	s.items[key] = s.lru.PushFront(e)
}

// Get returns a copy of the entry for key and marks it as used. Missing and
// expired keys count as misses; an expired entry is removed here.
func (s *Store[V]) Get(key string) (*Entry[V], bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		s.misses++
		return nil, false
	}

	now := s.now()
	e := el.Value.(*Entry[V])
	if e.expired(now) {
		s.removeExpired(el)
		s.misses++
		return nil, false
	}

	e.LastAccessedAt = now
	e.AccessCount++
	s.lru.MoveToFront(el)
	s.hits++

	cp := *e
	return &cp, true
}

// Has reports whether key is present and unexpired. It does not count as an
// access for LRU or hit-rate purposes.
func (s *Store[V]) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return false
	}
	if el.Value.(*Entry[V]).expired(s.now()) {
		s.removeExpired(el)
		return false
	}
	return true
}

// Delete removes key and reports whether it was present.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return false
	}
	s.lru.Remove(el)
	delete(s.items, key)
	return true
}

// Clear drops every entry and resets the counters.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.lru.Init()
	s.hits, s.misses, s.evictions, s.expired = 0, 0, 0, 0
}

// Cleanup removes every expired entry and returns how many were removed.
func (s *Store[V]) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for el := s.lru.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*Entry[V]).expired(now) {
			s.removeExpired(el)
			removed++
		}
		el = prev
	}
	if removed > 0 {
		s.log.Debug("cache cleanup", zap.Int("removed", removed))
	}
	return removed
}

// Size returns the number of stored entries, including expired entries
// that have not been discovered yet.
func (s *Store[V]) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Keys returns keys from most to least recently used.
func (s *Store[V]) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.items))
	for el := s.lru.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*Entry[V]).Key)
	}
	return keys
}

// GetAll returns copies of all unexpired entries, most recently used first.
func (s *Store[V]) GetAll() []Entry[V] {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := make([]Entry[V], 0, len(s.items))
	for el := s.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry[V])
		if e.expired(now) {
			continue
		}
		out = append(out, *e)
	}
	return out
}

// CalculateHitRate returns hits/(hits+misses), or 0 before any access.
func (s *Store[V]) CalculateHitRate() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hitRate(s.hits, s.misses)
}

// evictOldest must be called with s.mu held. The list back is the entry with
// the oldest access; among never-accessed entries that is the earliest insert.
func (s *Store[V]) evictOldest() {
	el := s.lru.Back()
	if el == nil {
		return
	}
	e := el.Value.(*Entry[V])
	s.lru.Remove(el)
	delete(s.items, e.Key)
	s.evictions++
	s.log.Debug("cache eviction",
		zap.String("key", e.Key),
		zap.Time("last_accessed_at", e.LastAccessedAt))
}

func (s *Store[V]) removeExpired(el *list.Element) {
	e := el.Value.(*Entry[V])
	s.lru.Remove(el)
	delete(s.items, e.Key)
	s.expired++
}

func hitRate(hits, misses int64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

// estimateSize approximates the entry footprint from its JSON encoding.
func estimateSize(v any) int {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return len(data)
}
