package slogevent

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestEmit_WritesEventAndFields(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	Emit(logger, TaskStarted, map[string]any{"task_id": "abc123", "lock_key": "global"})

	out := buf.String()
	assert.Contains(t, out, `"event":"task_started"`)
	assert.Contains(t, out, `"task_id":"abc123"`)
	assert.Contains(t, out, `"lock_key":"global"`)
}
