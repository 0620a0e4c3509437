package memory

import (
	"sort"
	"strings"
	"time"
)

const (
	initialTripleConfidence = 0.5
	reinforceStep           = 0.1
	solvedByPatternBoost    = 0.05
	weakTripleConfidence    = 0.2
)

// AddRelation upserts a triple. Re-asserting an existing triple raises its
// confidence by 0.1 (capped at 1) and refreshes its timestamp. A solved_by
// relation also boosts cached patterns using the same tools.
func (s *Store) AddRelation(subject, predicate, object string) KnowledgeTriple {
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	var triple *KnowledgeTriple
	for _, t := range s.triples {
		if t.Subject == subject && t.Predicate == predicate && t.Object == object {
			triple = t
			break
		}
	}
	if triple == nil {
		triple = &KnowledgeTriple{
			Subject:    subject,
			Predicate:  predicate,
			Object:     object,
			Confidence: initialTripleConfidence,
		}
		s.triples = append(s.triples, triple)
	} else {
		triple.Confidence = clamp01(triple.Confidence + reinforceStep)
	}
	triple.Timestamp = now

	if predicate == PredicateSolvedBy {
		tools := splitTools(object)
		s.adjustPatternsLocked(subject, tools, solvedByPatternBoost)
	}

	return *triple
}

// Query returns triples matching p, highest confidence first.
func (s *Store) Query(p TriplePattern) []KnowledgeTriple {
	s.mu.RLock()
	var result []KnowledgeTriple
	for _, t := range s.triples {
		if p.matches(t) {
			result = append(result, *t)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool { return result[i].Confidence > result[j].Confidence })
	return result
}

// pruneTriplesLocked evicts weak triples not reinforced within the retention
// window. Caller holds s.mu.
func (s *Store) pruneTriplesLocked(now time.Time) int {
	cutoff := now.Add(-s.eventRetention)
	kept := s.triples[:0]
	removed := 0
	for _, t := range s.triples {
		if t.Confidence <= weakTripleConfidence && t.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, t)
	}
	s.triples = kept
	return removed
}

func splitTools(s string) []string {
	var tools []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			tools = append(tools, part)
		}
	}
	return tools
}
