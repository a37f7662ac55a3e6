// Package events implements the outbound event publisher port. The engine
// emits workflow events; delivery channels (email, webhooks) subscribe
// downstream.
package events

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/signato/signato/internal/ports"
)

// LogPublisher writes events to the structured log. It stands in for a real
// broker in single-node deployments; a log shipper or sidecar can pick the
// events up from there.
type LogPublisher struct {
	logger *logrus.Logger
}

// NewLogPublisher creates a log-backed event publisher
func NewLogPublisher(logger *logrus.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

// Publish emits one event
func (p *LogPublisher) Publish(ctx context.Context, event ports.Event) error {
	fields := logrus.Fields{
		"event_type":  string(event.Type),
		"document_id": event.DocumentID,
		"occurred_at": event.OccurredAt,
	}
	for k, v := range event.Data {
		// signing tokens are live credentials; they never reach log files
		if strings.HasPrefix(k, "token") {
			v = "[REDACTED]"
		}
		fields["data_"+k] = v
	}
	p.logger.WithContext(ctx).WithFields(fields).Info("Workflow event")
	return nil
}

var _ ports.EventPublisher = (*LogPublisher)(nil)
