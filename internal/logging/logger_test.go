package logging_test

import (
	"log/slog"
	"testing"

	"github.com/aretw0/pergola/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	level, err := logging.ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)

	level, err = logging.ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelInfo, level)

	_, err = logging.ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWithFormat(t *testing.T) {
	for _, format := range []string{"", "text", "JSON"} {
		logger, err := logging.NewWithFormat(format, slog.LevelInfo)
		require.NoError(t, err)
		assert.NotNil(t, logger)
	}

	_, err := logging.NewWithFormat("xml", slog.LevelInfo)
	assert.Error(t, err)
}
