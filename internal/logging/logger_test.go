package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		development bool
		level       string
		enabled     zapcore.Level
		disabled    zapcore.Level
	}{
		{name: "dev debug", development: true, level: "debug", enabled: zapcore.DebugLevel, disabled: zapcore.InvalidLevel},
		{name: "prod default", development: false, level: "", enabled: zapcore.InfoLevel, disabled: zapcore.DebugLevel},
		{name: "prod warn", development: false, level: "warn", enabled: zapcore.WarnLevel, disabled: zapcore.InfoLevel},
		{name: "dev upper case", development: true, level: "ERROR", enabled: zapcore.ErrorLevel, disabled: zapcore.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			logger, err := New(tt.development, tt.level)
			require.NoError(t, err)
			defer logger.Sync() //nolint:errcheck // best-effort flush

			assert.True(t, logger.Core().Enabled(tt.enabled))
			if tt.disabled != zapcore.InvalidLevel {
				assert.False(t, logger.Core().Enabled(tt.disabled))
			}
			logger.Info("logger ready")
		})
	}
}

func TestNewInvalidLevel(t *testing.T) {
	t.Parallel()

	_, err := New(true, "loud")
	require.ErrorContains(t, err, "parse log level")
}
