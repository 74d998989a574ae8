package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildTagsService(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "scoreboard")
	log.Info().Msg("hello")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "scoreboard", line["service"])
	assert.Equal(t, "hello", line["message"])
	assert.Contains(t, line, "time")
}

func TestStackIsRendered(t *testing.T) {
	var buf bytes.Buffer
	log := build(&buf, "scoreboard")
	log.Error().Stack().Err(pkgerrors.New("boom")).Msg("failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "boom", line["error"])
	assert.NotEmpty(t, line["stack"])
}

func TestWithLevel(t *testing.T) {
	base := zerolog.New(&bytes.Buffer{})
	assert.Equal(t, zerolog.DebugLevel, WithLevel(base, "DEBUG").GetLevel())
	assert.Equal(t, zerolog.WarnLevel, WithLevel(base, "warn").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, WithLevel(base, "loud").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, WithLevel(base, "").GetLevel())
}
