package memory

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultSweepInterval   = time.Hour
	defaultEventCapacity   = 1000
	defaultEventRetention  = 30 * 24 * time.Hour
	defaultPatternCapacity = 100
	defaultSearchLimit     = 10
)

// Options configures a Store.
type Options struct {
	Backend         Backend // defaults to a MapBackend
	Logger          *slog.Logger
	SweepInterval   time.Duration
	EventCapacity   int
	EventRetention  time.Duration
	PatternCapacity int
	Now             func() time.Time
}

// Store is the shared agent memory.
type Store struct {
	backend Backend
	logger  *slog.Logger
	now     func() time.Time

	sweepInterval   time.Duration
	eventCapacity   int
	eventRetention  time.Duration
	patternCapacity int

	mu       sync.RWMutex
	events   []AgentEvent
	triples  []*KnowledgeTriple
	patterns map[string][]Pattern

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore creates a Store with defaults applied.
func NewStore(opts Options) *Store {
	s := &Store{
		backend:         opts.Backend,
		logger:          opts.Logger,
		now:             opts.Now,
		sweepInterval:   opts.SweepInterval,
		eventCapacity:   opts.EventCapacity,
		eventRetention:  opts.EventRetention,
		patternCapacity: opts.PatternCapacity,
		patterns:        make(map[string][]Pattern),
	}
	if s.backend == nil {
		s.backend = NewMapBackend()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.sweepInterval <= 0 {
		s.sweepInterval = defaultSweepInterval
	}
	if s.eventCapacity <= 0 {
		s.eventCapacity = defaultEventCapacity
	}
	if s.eventRetention <= 0 {
		s.eventRetention = defaultEventRetention
	}
	if s.patternCapacity <= 0 {
		s.patternCapacity = defaultPatternCapacity
	}
	return s
}

// Start runs the periodic sweep in a background goroutine.
func (s *Store) Start(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return // already running
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				stats := s.Sweep()
				s.logger.Debug("memory sweep",
					"entries", stats.Entries,
					"events", stats.Events,
					"triples", stats.Triples,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background sweep and closes the backend.
func (s *Store) Stop() error {
	s.runMu.Lock()
	if s.cancel != nil {
		s.cancel()
		<-s.done
		s.cancel = nil
	}
	s.runMu.Unlock()
	return s.backend.Close()
}

// Remember writes a long-term entry. A ttl of zero never expires.
func (s *Store) Remember(key string, value any, ttl time.Duration) error {
	now := s.now()
	entry := &Entry{Key: key, Value: value, CreatedAt: now, UpdatedAt: now}
	if ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	if prev, ok, _ := s.backend.Get(key); ok {
		entry.CreatedAt = prev.CreatedAt
	}
	return s.backend.Put(entry)
}

// Recall reads a long-term entry. Expired entries are removed and reported absent.
func (s *Store) Recall(key string) (any, bool) {
	entry, ok, err := s.backend.Get(key)
	if err != nil {
		s.logger.Warn("memory recall failed", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if entry.Expired(s.now()) {
		if err := s.backend.Delete(key); err != nil {
			s.logger.Warn("memory expire failed", "key", key, "error", err)
		}
		return nil, false
	}
	return entry.Value, true
}

// Forget removes a long-term entry.
func (s *Store) Forget(key string) {
	if err := s.backend.Delete(key); err != nil {
		s.logger.Warn("memory forget failed", "key", key, "error", err)
	}
}

// Search scores live long-term entries against the whitespace-separated terms
// of query: 2 points per term found in the key, 1 per term found in the
// JSON-encoded value. Matching is case-insensitive.
func (s *Store) Search(query string, limit int) []SearchResult {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil
	}

	entries, err := s.backend.List()
	if err != nil {
		s.logger.Warn("memory search failed", "error", err)
		return nil
	}

	now := s.now()
	var results []SearchResult
	for _, e := range entries {
		if e.Expired(now) || reserved(e.Key) {
			continue
		}
		key := strings.ToLower(e.Key)
		value := strings.ToLower(serialize(e.Value))

		var score float64
		for _, term := range terms {
			if strings.Contains(key, term) {
				score += 2
			}
			if strings.Contains(value, term) {
				score++
			}
		}
		if score > 0 {
			results = append(results, SearchResult{Key: e.Key, Value: e.Value, Score: score})
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results
}

// Keys lists live long-term keys with the given prefix.
func (s *Store) Keys(prefix string) []string {
	entries, err := s.backend.List()
	if err != nil {
		s.logger.Warn("memory list failed", "error", err)
		return nil
	}
	now := s.now()
	var keys []string
	for _, e := range entries {
		if strings.HasPrefix(e.Key, prefix) && !e.Expired(now) && !reserved(e.Key) {
			keys = append(keys, e.Key)
		}
	}
	return keys
}

// SweepStats reports what a Sweep removed.
type SweepStats struct {
	Entries int `json:"entries"`
	Events  int `json:"events"`
	Triples int `json:"triples"`
}

// Sweep removes expired entries, events outside the retention window and
// weak triples that have not been reinforced within it.
func (s *Store) Sweep() SweepStats {
	var stats SweepStats
	now := s.now()

	if entries, err := s.backend.List(); err != nil {
		s.logger.Warn("memory sweep list failed", "error", err)
	} else {
		for _, e := range entries {
			if !e.Expired(now) {
				continue
			}
			if err := s.backend.Delete(e.Key); err != nil {
				s.logger.Warn("memory sweep delete failed", "key", e.Key, "error", err)
				continue
			}
			stats.Entries++
		}
	}

	s.mu.Lock()
	stats.Events = s.pruneEventsLocked(now)
	stats.Triples = s.pruneTriplesLocked(now)
	s.mu.Unlock()

	return stats
}

func serialize(v any) string {
	if str, ok := v.(string); ok {
		return str
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
