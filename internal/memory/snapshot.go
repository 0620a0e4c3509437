package memory

import (
	"encoding/json"
	"fmt"
	"strings"
)

// reservedPrefix marks backend entries owned by the store itself. They are
// hidden from Search and Keys.
const reservedPrefix = "_memory:"

const snapshotKey = reservedPrefix + "snapshot"

// snapshot is the in-process state persisted next to long-term entries.
type snapshot struct {
	Events   []AgentEvent         `json:"events"`
	Triples  []KnowledgeTriple    `json:"triples"`
	Patterns map[string][]Pattern `json:"patterns"`
}

// SaveSnapshot writes the episodic, semantic and pattern tiers to the
// backend so a later process can LoadSnapshot them.
func (s *Store) SaveSnapshot() error {
	s.mu.RLock()
	snap := snapshot{
		Events:   append([]AgentEvent(nil), s.events...),
		Triples:  make([]KnowledgeTriple, 0, len(s.triples)),
		Patterns: make(map[string][]Pattern, len(s.patterns)),
	}
	for _, t := range s.triples {
		snap.Triples = append(snap.Triples, *t)
	}
	for k, v := range s.patterns {
		snap.Patterns[k] = append([]Pattern(nil), v...)
	}
	s.mu.RUnlock()

	now := s.now()
	return s.backend.Put(&Entry{Key: snapshotKey, Value: snap, CreatedAt: now, UpdatedAt: now})
}

// LoadSnapshot replaces the in-process tiers with the last saved snapshot.
// A missing snapshot is not an error.
func (s *Store) LoadSnapshot() error {
	entry, ok, err := s.backend.Get(snapshotKey)
	if err != nil || !ok {
		return err
	}

	// Backends that serialize hand the value back as decoded JSON.
	data, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("memory snapshot: %w", err)
	}
	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("memory snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = snap.Events
	s.triples = make([]*KnowledgeTriple, 0, len(snap.Triples))
	for i := range snap.Triples {
		t := snap.Triples[i]
		s.triples = append(s.triples, &t)
	}
	s.patterns = make(map[string][]Pattern, len(snap.Patterns))
	for k, v := range snap.Patterns {
		s.patterns[k] = v
	}
	return nil
}

func reserved(key string) bool {
	return strings.HasPrefix(key, reservedPrefix)
}
