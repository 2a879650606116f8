package stats

import (
	"context"
	"sync"
)

type Snapshot struct {
	Total       int64             `json:"total"`
	ByOutcome   map[Outcome]int64 `json:"byOutcome"`
	CacheHits   int64             `json:"cacheHits"`
	CacheMisses int64             `json:"cacheMisses"`
	AvgElapsed  float64           `json:"avgElapsedSeconds"`
}

// MemoryStore keeps process lifetime counters.
type MemoryStore struct {
	mu           sync.Mutex
	total        int64
	byOutcome    map[Outcome]int64
	hits         int64
	misses       int64
	elapsedTotal float64
	elapsedCount int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byOutcome: make(map[Outcome]int64)}
}

func (s *MemoryStore) Record(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	s.byOutcome[ev.Outcome]++

	if ev.Outcome != OutcomeOK {
		return nil
	}

	if ev.Cached {
		s.hits++
	} else {
		s.misses++
	}
	s.elapsedTotal += ev.Elapsed.Seconds()
	s.elapsedCount++

	return nil
}

func (s *MemoryStore) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	byOutcome := make(map[Outcome]int64, len(s.byOutcome))
	for k, v := range s.byOutcome {
		byOutcome[k] = v
	}

	var avg float64
	if s.elapsedCount > 0 {
		avg = s.elapsedTotal / float64(s.elapsedCount)
	}

	return Snapshot{
		Total:       s.total,
		ByOutcome:   byOutcome,
		CacheHits:   s.hits,
		CacheMisses: s.misses,
		AvgElapsed:  avg,
	}
}
