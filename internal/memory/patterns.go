package memory

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	approachTTL           = 7 * 24 * time.Hour
	approachKeyPrefix     = "approach:"
	initialPatternConf    = 0.7
	successPatternStep    = 0.1
	failurePatternStep    = -0.2
	suggestionThreshold   = 0.6
	maxSuggestedPatterns  = 3
	maxSuggestedRelations = 2
)

// Patterns returns the cached patterns for a task type, oldest first.
func (s *Store) Patterns(taskType string) []Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Pattern(nil), s.patterns[taskType]...)
}

// LearnFromSuccess records the approach and reinforces matching patterns.
func (s *Store) LearnFromSuccess(taskType string, approach Approach) {
	s.recordApproach(taskType, approach, OutcomeSuccess)
	s.mu.Lock()
	s.adjustPatternsLocked(taskType, approach.ToolsUsed, successPatternStep)
	s.mu.Unlock()
}

// LearnFromFailure records the approach and weakens matching patterns.
func (s *Store) LearnFromFailure(taskType string, approach Approach) {
	s.recordApproach(taskType, approach, OutcomeFailure)
	s.mu.Lock()
	s.adjustPatternsLocked(taskType, approach.ToolsUsed, failurePatternStep)
	s.mu.Unlock()
}

// SuggestApproach returns the strongest known ways of solving taskType.
func (s *Store) SuggestApproach(taskType string) Suggestion {
	var sug Suggestion

	s.mu.RLock()
	for _, p := range s.patterns[taskType] {
		if p.Confidence > suggestionThreshold {
			sug.Patterns = append(sug.Patterns, p)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(sug.Patterns, func(i, j int) bool {
		return sug.Patterns[i].Confidence > sug.Patterns[j].Confidence
	})
	if len(sug.Patterns) > maxSuggestedPatterns {
		sug.Patterns = sug.Patterns[:maxSuggestedPatterns]
	}

	sug.Relations = s.Query(TriplePattern{Subject: taskType, Predicate: PredicateSolvedBy})
	if len(sug.Relations) > maxSuggestedRelations {
		sug.Relations = sug.Relations[:maxSuggestedRelations]
	}
	return sug
}

// Approaches returns the recorded approaches for taskType. Values that are
// not approach JSON are read as a comma-separated tool list.
func (s *Store) Approaches(taskType string) []Approach {
	var result []Approach
	for _, key := range s.Keys(approachKeyPrefix + taskType + ":") {
		v, ok := s.Recall(key)
		if !ok {
			continue
		}
		result = append(result, decodeApproach(v))
	}
	return result
}

func (s *Store) recordApproach(taskType string, approach Approach, outcome Outcome) {
	record := struct {
		Approach
		Outcome Outcome `json:"outcome"`
	}{approach, outcome}

	data, err := json.Marshal(record)
	if err != nil {
		s.logger.Warn("encode approach", "task_type", taskType, "error", err)
		return
	}
	key := fmt.Sprintf("%s%s:%s", approachKeyPrefix, taskType, uuid.New().String()[:8])
	if err := s.Remember(key, string(data), approachTTL); err != nil {
		s.logger.Warn("record approach", "task_type", taskType, "error", err)
	}
}

func decodeApproach(v any) Approach {
	raw, ok := v.(string)
	if !ok {
		raw = serialize(v)
	}
	var a Approach
	if err := json.Unmarshal([]byte(raw), &a); err == nil {
		return a
	}
	return Approach{ToolsUsed: splitTools(raw)}
}

// addPatternLocked appends p, dropping the oldest beyond capacity.
// Caller holds s.mu.
func (s *Store) addPatternLocked(p Pattern) {
	list := append(s.patterns[p.TaskType], p)
	if over := len(list) - s.patternCapacity; over > 0 {
		list = append([]Pattern(nil), list[over:]...)
	}
	s.patterns[p.TaskType] = list
}

// adjustPatternsLocked shifts the confidence of patterns whose tool set
// equals tools. Caller holds s.mu.
func (s *Store) adjustPatternsLocked(taskType string, tools []string, delta float64) {
	list := s.patterns[taskType]
	for i := range list {
		if sameTools(list[i].ToolsUsed, tools) {
			list[i].Confidence = clamp01(list[i].Confidence + delta)
		}
	}
}

func patternFromEvent(ev AgentEvent) (Pattern, bool) {
	taskType, _ := ev.Data["task_type"].(string)
	if taskType == "" {
		return Pattern{}, false
	}
	p := Pattern{
		TaskType:      taskType,
		ToolsUsed:     stringList(ev.Data["tools_used"]),
		ExecutionTime: durationValue(ev.Data["execution_time"]),
		Confidence:    initialPatternConf,
		RecordedAt:    ev.Timestamp,
	}
	if c, ok := ev.Data["confidence"].(float64); ok {
		p.Confidence = clamp01(c)
	}
	return p, true
}

func sameTools(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[string]int, len(a))
	for _, t := range a {
		seen[t]++
	}
	for _, t := range b {
		if seen[t] == 0 {
			return false
		}
		seen[t]--
	}
	return true
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...)
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return splitTools(t)
	}
	return nil
}

func durationValue(v any) time.Duration {
	switch t := v.(type) {
	case time.Duration:
		return t
	case int64:
		return time.Duration(t)
	case int:
		return time.Duration(t)
	case float64:
		return time.Duration(t)
	case string:
		d, _ := time.ParseDuration(strings.TrimSpace(t))
		return d
	}
	return 0
}
