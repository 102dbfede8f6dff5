package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"mjpegrelay/internal/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.LogConfig
		enabled zapcore.Level
		muted   zapcore.Level
	}{
		{name: "default", cfg: config.LogConfig{}, enabled: zapcore.InfoLevel, muted: zapcore.DebugLevel},
		{name: "json debug", cfg: config.LogConfig{Level: "debug", Format: "json"}, enabled: zapcore.DebugLevel, muted: zapcore.DebugLevel - 1},
		{name: "console warn", cfg: config.LogConfig{Level: "warn", Format: "console"}, enabled: zapcore.WarnLevel, muted: zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			require.NoError(t, err)
			require.NotNil(t, logger)

			assert.True(t, logger.Core().Enabled(tt.enabled))
			assert.False(t, logger.Core().Enabled(tt.muted))
		})
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	_, err := New(config.LogConfig{Level: "verbose"})
	assert.Error(t, err)
}
