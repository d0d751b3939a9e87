package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	setup(&buf, "debug", false)
	log.Warn().Str("offer_id", "offer-1").Msg("condition not satisfied")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "offer-1", entry["offer_id"])
	assert.Equal(t, "coursecart", entry["service"])
}

func TestSetupFallsBackToInfo(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var buf bytes.Buffer
	setup(&buf, "loud", false)
	log.Debug().Msg("hidden")
	assert.Zero(t, buf.Len())
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
