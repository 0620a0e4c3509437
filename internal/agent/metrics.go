package agent

import (
	"sync"
	"time"
)

const metricsWindow = 100

// Metrics summarizes an agent's execution history.
type Metrics struct {
	TasksCompleted       int           `json:"tasks_completed"`
	TasksFailed          int           `json:"tasks_failed"`
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	SuccessRate          float64       `json:"success_rate"`
	ErrorRate            float64       `json:"error_rate"`
	APICalls             int           `json:"api_calls"`
	ComputeTime          time.Duration `json:"compute_time"`
	TotalCost            float64       `json:"total_cost"`
}

// metricsTracker keeps running totals and the last results for rate math.
type metricsTracker struct {
	mu      sync.Mutex
	m       Metrics
	count   int
	window  []bool // success flags, oldest first
	avgNano float64
}

func (t *metricsTracker) recordExecution(d time.Duration, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.count++
	t.avgNano += (float64(d) - t.avgNano) / float64(t.count)
	t.m.AverageExecutionTime = time.Duration(t.avgNano)

	if success {
		t.m.TasksCompleted++
	} else {
		t.m.TasksFailed++
	}

	t.window = append(t.window, success)
	if len(t.window) > metricsWindow {
		t.window = t.window[len(t.window)-metricsWindow:]
	}
	ok := 0
	for _, s := range t.window {
		if s {
			ok++
		}
	}
	t.m.SuccessRate = float64(ok) / float64(len(t.window))
	t.m.ErrorRate = 1 - t.m.SuccessRate
}

func (t *metricsTracker) recordToolCall(d time.Duration, cost float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m.APICalls++
	t.m.ComputeTime += d
	t.m.TotalCost += cost
}

func (t *metricsTracker) snapshot() Metrics {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.m
}
