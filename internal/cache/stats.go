package cache

import "time"

// Stats is a point-in-time view of store health.
type Stats struct {
	TotalEntries     int           `json:"total_entries"`
	Hits             int64         `json:"hits"`
	Misses           int64         `json:"misses"`
	HitRate          float64       `json:"hit_rate"`
	TotalSize        int           `json:"total_size"`
	AverageSize      float64       `json:"average_size"`
	OldestEntryAge   time.Duration `json:"oldest_entry_age"`
	Evictions        int64         `json:"evictions"`
	Expired          int64         `json:"expired"`
	EstimatedSavings float64       `json:"estimated_savings"`
	// Effectiveness is 0-100: 70% weight on hit rate, 30% on the share of
	// repair spend the cache avoided, where every stored entry is assumed
	// to have cost one repair.
	Effectiveness float64 `json:"effectiveness"`
}

// GetCacheStats computes statistics over the current entries.
func (s *Store[V]) GetCacheStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stats := Stats{
		TotalEntries: len(s.items),
		Hits:         s.hits,
		Misses:       s.misses,
		HitRate:      hitRate(s.hits, s.misses),
		Evictions:    s.evictions,
		Expired:      s.expired,
	}

	var oldest time.Time
	for el := s.lru.Front(); el != nil; el = el.Next() {
		e := el.Value.(*Entry[V])
		stats.TotalSize += e.Size
		if oldest.IsZero() || e.CreatedAt.Before(oldest) {
			oldest = e.CreatedAt
		}
	}
	if stats.TotalEntries > 0 {
		stats.AverageSize = float64(stats.TotalSize) / float64(stats.TotalEntries)
		stats.OldestEntryAge = now.Sub(oldest)
	}

	stats.EstimatedSavings = float64(s.hits) * s.cfg.AverageRepairCost
	spent := float64(stats.TotalEntries) * s.cfg.AverageRepairCost
	stats.Effectiveness = effectiveness(stats.HitRate, stats.EstimatedSavings, spent)
	return stats
}

func effectiveness(hitRate, savings, spent float64) float64 {
	saved := 0.0
	if savings > 0 {
		saved = savings / (savings + spent)
	}
	return (0.7*hitRate + 0.3*saved) * 100
}
