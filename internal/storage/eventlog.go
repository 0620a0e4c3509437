// Package storage persists bus events, tool costs and finished workflow
// executions.
package storage

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/dohr-michael/foreman/internal/events"
	"github.com/dohr-michael/foreman/internal/storage/dirstore"
)

const (
	eventsFile = "events.jsonl"
	globalLog  = "_global"
)

// EventLogger appends bus events to JSONL files, one directory per trace.
// Events without a trace go to _global.
type EventLogger struct {
	mu          sync.Mutex
	store       *dirstore.DirStore
	logger      *slog.Logger
	unsubscribe func()
}

// NewEventLogger subscribes to every bus event and logs it under dir.
func NewEventLogger(dir string, bus *events.Bus, logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	el := &EventLogger{store: dirstore.New(dir, "trace"), logger: logger}
	el.unsubscribe = bus.Subscribe(el.handleEvent)
	return el
}

// Close unsubscribes the logger from the event bus.
func (el *EventLogger) Close() {
	if el.unsubscribe != nil {
		el.unsubscribe()
	}
}

func (el *EventLogger) handleEvent(e events.Event) {
	el.mu.Lock()
	defer el.mu.Unlock()
	if err := el.store.AppendJSONL(traceDir(e.TraceID), eventsFile, e); err != nil {
		el.logger.Warn("event log: write failed", "event", e.Type, "trace_id", e.TraceID, "error", err)
	}
}

// ReadTrace loads the events logged for traceID, oldest first. An empty
// traceID reads the untraced log.
func ReadTrace(dir, traceID string) ([]events.Event, error) {
	evts, err := dirstore.LoadJSONL[events.Event](dirstore.New(dir, "trace"), traceDir(traceID), eventsFile)
	if err != nil {
		return nil, err
	}
	// Subscribers run concurrently, so lines may be slightly out of order.
	sort.SliceStable(evts, func(i, j int) bool { return evts[i].Timestamp.Before(evts[j].Timestamp) })
	return evts, nil
}

// Traces lists the trace ids with a log under dir.
func Traces(dir string) ([]string, error) {
	ids, err := dirstore.New(dir, "trace").IDs()
	if err != nil {
		return nil, err
	}
	out := ids[:0]
	for _, id := range ids {
		if id != globalLog {
			out = append(out, id)
		}
	}
	return out, nil
}

func traceDir(traceID string) string {
	if traceID == "" {
		return globalLog
	}
	return traceID
}
