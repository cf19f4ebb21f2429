package config

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, "", cfg.DatabaseURL)
	assert.Equal(t, "reshape.db", cfg.StatePath)
	assert.Equal(t, "public", cfg.SchemaName)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.NoError(t, cfg.Validate())
}

func TestParseEnvironment(t *testing.T) {
	cfg, err := Parse(map[string]string{
		"RESHAPE_DATABASE_URL": "postgres://localhost/app",
		"RESHAPE_STATE_PATH":   "/var/lib/reshape/state.db",
		"RESHAPE_SCHEMA":       "app",
		"RESHAPE_LOG_LEVEL":    "debug",
		"RESHAPE_LOG_FORMAT":   "json",
		"DATABASE_URL":         "ignored without prefix",
	})
	require.NoError(t, err)

	assert.Equal(t, &Config{
		DatabaseURL: "postgres://localhost/app",
		StatePath:   "/var/lib/reshape/state.db",
		SchemaName:  "app",
		LogLevel:    "debug",
		LogFormat:   "json",
	}, cfg)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "valid", cfg: Config{StatePath: "s.db", LogLevel: "warn", LogFormat: "json"}},
		{name: "upper case level", cfg: Config{StatePath: "s.db", LogLevel: "ERROR", LogFormat: "text"}},
		{name: "bad level", cfg: Config{StatePath: "s.db", LogLevel: "loud", LogFormat: "text"}, wantErr: true},
		{name: "bad format", cfg: Config{StatePath: "s.db", LogLevel: "info", LogFormat: "xml"}, wantErr: true},
		{name: "no state path", cfg: Config{LogLevel: "info", LogFormat: "text"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	cfg := &Config{LogLevel: "warn", LogFormat: "json"}

	logger, err := cfg.NewLogger(&buf)
	require.NoError(t, err)

	logger.Info("hidden")
	logger.Warn("shown", "migration", "0001_users")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)
	assert.Contains(t, buf.String(), `"migration":"0001_users"`)
}
