package cache

import (
	"container/list"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/kamilpajak/heisenberg-heal/internal/fileutil"
	"go.uber.org/zap"
)

// ExportVersion is written into every export document.
const ExportVersion = "1.0"

// ExportDocument is the on-disk form of a store. Items are ordered from
// least to most recently used.
type ExportDocument[V any] struct {
	Version   string     `json:"version"`
	Timestamp time.Time  `json:"timestamp"`
	Config    Config     `json:"config"`
	Items     []Entry[V] `json:"items"`
	Stats     Stats      `json:"stats"`
}

// ExportCache writes every entry and the counters to path as JSON.
func (s *Store[V]) ExportCache(path string) error {
	doc := s.snapshot()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("Failed to export cache: %w", err)
	}
	if err := fileutil.AtomicWrite(path, data); err != nil {
		return fmt.Errorf("Failed to export cache: %w", err)
	}

	s.log.Info("cache exported", zap.String("path", path), zap.Int("entries", len(doc.Items)))
	return nil
}

func (s *Store[V]) snapshot() ExportDocument[V] {
	stats := s.GetCacheStats()

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Entry[V], 0, len(s.items))
	for el := s.lru.Back(); el != nil; el = el.Prev() {
		items = append(items, *el.Value.(*Entry[V]))
	}
	return ExportDocument[V]{
		Version:   ExportVersion,
		Timestamp: s.now(),
		Config:    s.cfg,
		Items:     items,
		Stats:     stats,
	}
}

// ImportCache replaces the store contents with the document at path.
// Entries that have already expired are skipped; hit, miss and eviction
// counters are restored as written.
func (s *Store[V]) ImportCache(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Failed to import cache: %w", err)
	}

	var doc ExportDocument[V]
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("Failed to import cache: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.items = make(map[string]*list.Element)
	s.lru.Init()

	now := s.now()
	skipped := 0
	for i := range doc.Items {
		e := doc.Items[i]
		if e.expired(now) {
			skipped++
			continue
		}
		if el, ok := s.items[e.Key]; ok {
			s.lru.Remove(el)
			delete(s.items, e.Key)
		}
		for len(s.items) >= s.cfg.MaxSize {
			s.evictOldest()
		}
		s.items[e.Key] = s.lru.PushFront(&e)
	}

	s.hits = doc.Stats.Hits
	s.misses = doc.Stats.Misses
	s.evictions = doc.Stats.Evictions
	s.expired = doc.Stats.Expired

	s.log.Info("cache imported",
		zap.String("path", path),
		zap.Int("entries", len(s.items)),
		zap.Int("skipped_expired", skipped))
	return nil
}
