package workflow

import (
	"context"
	"log/slog"

	"github.com/dohr-michael/foreman/internal/events"
)

// Alert is a failure notification for one channel.
type Alert struct {
	WorkflowID  string `json:"workflow_id"`
	ExecutionID string `json:"execution_id"`
	Channel     string `json:"channel"`
	Severity    string `json:"severity"`
	Message     string `json:"message"`
}

// AlertSink delivers alerts.
type AlertSink interface {
	Alert(ctx context.Context, a Alert) error
}

// BusAlertSink publishes alerts as workflow.alert events and logs them.
type BusAlertSink struct {
	bus    *events.Bus
	logger *slog.Logger
}

// NewBusAlertSink creates a sink on bus. A nil bus only logs.
func NewBusAlertSink(bus *events.Bus, logger *slog.Logger) *BusAlertSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &BusAlertSink{bus: bus, logger: logger}
}

func (s *BusAlertSink) Alert(_ context.Context, a Alert) error {
	s.bus.Publish(events.NewTypedEvent(events.SourceWorkflow, events.WorkflowAlertPayload{
		WorkflowID:  a.WorkflowID,
		ExecutionID: a.ExecutionID,
		Channel:     a.Channel,
		Severity:    a.Severity,
		Message:     a.Message,
	}))
	s.logger.Warn("workflow alert",
		"channel", a.Channel,
		"severity", a.Severity,
		"workflow", a.WorkflowID,
		"message", a.Message,
	)
	return nil
}
