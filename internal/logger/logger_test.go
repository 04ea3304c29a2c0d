package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, false, "json")
	t.Cleanup(func() { SetOutput(os.Stderr, false, "") })

	Info("message saved", "conversation", "c1")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "message saved", entry["msg"])
	assert.Equal(t, "c1", entry["conversation"])
}

func TestDebugSuppressedByDefault(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, false, "")
	t.Cleanup(func() { SetOutput(os.Stderr, false, "") })

	Debug("hidden")
	assert.Empty(t, buf.String())

	SetOutput(&buf, true, "")
	With("component", "memory").Debug("shown")
	assert.Contains(t, buf.String(), "component=memory")
}
