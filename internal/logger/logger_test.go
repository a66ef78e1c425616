package logger_test

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pulseboard/internal/logger"
)

func TestInit_JSONWithComponent(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Options{Level: "debug", Format: "json", Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	buf.Reset()
	log := logger.WithJob("evaluation", "pass-1")
	log.Info().Int("cards", 3).Msg("pass completed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "evaluation", entry["job"])
	assert.Equal(t, "pass-1", entry["pass_id"])
	assert.Equal(t, "job", entry["component"])
	assert.Equal(t, "pulseboard", entry["service"])
	assert.Equal(t, float64(3), entry["cards"])
}

func TestInit_BadLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger.Init(logger.Options{Level: "loud", Format: "json", Output: &buf})
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	buf.Reset()
	log := logger.WithComponent("test")
	log.Debug().Msg("hidden")
	assert.Empty(t, strings.TrimSpace(buf.String()))
}
