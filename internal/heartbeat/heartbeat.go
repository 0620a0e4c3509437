// Package heartbeat lets `foreman status` tell whether a `foreman serve`
// process is alive and what it is running.
package heartbeat

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultInterval is how often a Writer refreshes the heartbeat file.
const DefaultInterval = 30 * time.Second

// Status is the liveness state read from a heartbeat file.
type Status string

const (
	StatusAlive Status = "alive"
	StatusStale Status = "stale"
	StatusDead  Status = "dead"
)

// Stats describes what the server is running.
type Stats struct {
	Addr      string `json:"addr"`
	Agents    int    `json:"agents"`
	Workflows int    `json:"workflows"`
	Triggers  int    `json:"triggers"`
	WSClients int    `json:"ws_clients"`
}

// Heartbeat is the content of the heartbeat file.
type Heartbeat struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
	Stats     Stats     `json:"stats"`
}

// Uptime is the time between start and the last beat.
func (hb *Heartbeat) Uptime() time.Duration {
	return hb.Timestamp.Sub(hb.StartedAt).Truncate(time.Second)
}

// Path returns the heartbeat file location under dir.
func Path(dir string) string {
	return filepath.Join(dir, "serve.heartbeat.json")
}

// Writer periodically rewrites the heartbeat file with fresh stats.
type Writer struct {
	path     string
	interval time.Duration
	stats    func() Stats
	started  time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewWriter creates a writer for path. A zero interval uses DefaultInterval;
// stats may be nil.
func NewWriter(path string, interval time.Duration, stats func() Stats) *Writer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if stats == nil {
		stats = func() Stats { return Stats{} }
	}
	return &Writer{path: path, interval: interval, stats: stats}
}

// Start writes a first beat synchronously, then keeps beating in the
// background until Stop.
func (w *Writer) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel != nil {
		return nil
	}

	w.started = time.Now()
	if err := w.write(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = w.write()
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Stop halts the writer and removes the file.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
	w.cancel = nil
	_ = os.Remove(w.path)
}

func (w *Writer) write() error {
	hb := Heartbeat{
		PID:       os.Getpid(),
		StartedAt: w.started,
		Timestamp: time.Now(),
		Stats:     w.stats(),
	}
	data, err := json.MarshalIndent(hb, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, w.path)
}

// Check reads the heartbeat at path. A missing file is StatusDead with no
// error; a beat older than maxAge is StatusStale.
func Check(path string, maxAge time.Duration) (Status, *Heartbeat, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return StatusDead, nil, nil
		}
		return StatusDead, nil, fmt.Errorf("read heartbeat: %w", err)
	}

	var hb Heartbeat
	if err := json.Unmarshal(data, &hb); err != nil {
		return StatusDead, nil, fmt.Errorf("unmarshal heartbeat: %w", err)
	}
	if time.Since(hb.Timestamp) > maxAge {
		return StatusStale, &hb, nil
	}
	return StatusAlive, &hb, nil
}
