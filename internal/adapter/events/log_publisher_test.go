package events

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signato/signato/internal/ports"
)

func TestLogPublisherRedactsSigningTokens(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	p := NewLogPublisher(logger)
	err := p.Publish(context.Background(), ports.Event{
		Type:       ports.EventDocumentSent,
		DocumentID: "doc-1",
		Data: map[string]string{
			"title":       "Lease Agreement",
			"token:rec-1": "live-signing-credential",
		},
		OccurredAt: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	out := buf.String()
	assert.NotContains(t, out, "live-signing-credential")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, "Lease Agreement")
	assert.Contains(t, out, "doc-1")
}
