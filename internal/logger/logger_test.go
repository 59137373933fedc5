package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestLoggerRedactsSensitiveKeys(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := FromZap(zap.New(core))

	log.Info("submitted", "job_id", "job-1", "api_key", "sk-123", "resume_text", "Jane Doe, 555-0100")

	entries := logs.All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "job-1", fields["job_id"])
	assert.Equal(t, redacted, fields["api_key"])
	assert.Equal(t, redacted, fields["resume_text"])
}

func TestWithCarriesSanitizedFields(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	log := FromZap(zap.New(core)).With("authorization", "Bearer abc")

	log.Warn("denied")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, redacted, entries[0].ContextMap()["authorization"])
}

func TestOrNopHandlesNil(t *testing.T) {
	assert.NotPanics(t, func() { OrNop(nil).Info("noop") })
}
