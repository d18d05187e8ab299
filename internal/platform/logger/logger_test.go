package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Environment: "production", ServiceName: "placements", Version: "1.2.3", Output: &buf})

	log.Component("approval").Info().Str("chain_id", "c-1").Msg("step approved")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "placements", line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.Equal(t, "approval", line["component"])
	assert.Equal(t, "c-1", line["chain_id"])
	assert.Equal(t, "step approved", line["message"])
}

func TestNew_DefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "not-a-level", Output: &buf})

	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}
