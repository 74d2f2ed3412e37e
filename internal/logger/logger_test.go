package logger

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("production", &buf)

	log.Info().Str("key", "abc1234").Msg("resolved")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "resolved", entry["message"])
	assert.Equal(t, "abc1234", entry["key"])
	assert.Equal(t, "production", entry["env"])
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

func TestInitWithWriter_Levels(t *testing.T) {
	tests := []struct {
		env   string
		level zerolog.Level
	}{
		{"development", zerolog.DebugLevel},
		{"production", zerolog.InfoLevel},
		{"test", zerolog.WarnLevel},
		{"staging", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			InitWithWriter(tt.env, &bytes.Buffer{})
			assert.Equal(t, tt.level, zerolog.GlobalLevel())
		})
	}
}

func TestWatermillAdapter(t *testing.T) {
	var buf bytes.Buffer
	InitWithWriter("production", &buf)

	adapter := NewWatermillAdapter().With(watermill.LogFields{"topic": "visits.track"})
	adapter.Error("handler failed", errors.New("boom"), watermill.LogFields{"attempt": 2})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "handler failed", entry["message"])
	assert.Equal(t, "boom", entry["error"])
	assert.Equal(t, "visits.track", entry["topic"])
	assert.Equal(t, "watermill", entry["component"])
	assert.EqualValues(t, 2, entry["attempt"])
}
