package memory

import (
	"sort"
	"time"
)

// StoreEvent appends an event to the episodic log, defaulting its id and
// timestamp. Successful learning events refresh the pattern cache.
func (s *Store) StoreEvent(ev AgentEvent) AgentEvent {
	now := s.now()
	if ev.ID == "" {
		ev.ID = generateEventID()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}

	s.mu.Lock()
	s.events = append(s.events, ev)
	s.pruneEventsLocked(now)
	if ev.Type == EventLearning && ev.Outcome == OutcomeSuccess {
		if p, ok := patternFromEvent(ev); ok {
			s.addPatternLocked(p)
		}
	}
	s.mu.Unlock()

	return ev
}

// RecallEvents returns matching events, newest first.
func (s *Store) RecallEvents(f EventFilter) []AgentEvent {
	s.mu.RLock()
	var result []AgentEvent
	for _, ev := range s.events {
		if f.matches(ev) {
			result = append(result, ev)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.After(result[j].Timestamp)
	})
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result
}

// EventCount returns the number of retained events.
func (s *Store) EventCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (f EventFilter) matches(ev AgentEvent) bool {
	if f.AgentID != "" && ev.AgentID != f.AgentID {
		return false
	}
	if f.Type != "" && ev.Type != f.Type {
		return false
	}
	if f.Outcome != "" && ev.Outcome != f.Outcome {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// pruneEventsLocked drops events outside the retention window, then the
// oldest inserted events beyond capacity. Caller holds s.mu.
func (s *Store) pruneEventsLocked(now time.Time) int {
	before := len(s.events)
	cutoff := now.Add(-s.eventRetention)

	kept := s.events[:0]
	for _, ev := range s.events {
		if !ev.Timestamp.Before(cutoff) {
			kept = append(kept, ev)
		}
	}
	s.events = kept

	if over := len(s.events) - s.eventCapacity; over > 0 {
		s.events = append([]AgentEvent(nil), s.events[over:]...)
	}
	return before - len(s.events)
}
