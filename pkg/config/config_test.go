package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"NCCHUP_SERVER_URL", "NCCHUP_REQUEST_TIMEOUT", "NCCHUP_MAX_APPENDS",
		"NCCHUP_ALL_PARTITIONS", "SERVER_HOST", "SERVER_PORT", "STUB_SCRIPT",
		"STUB_CAPTURE_DIR", "LOG_LEVEL", "LOG_FORMAT",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadFromEnv()

	assert.Equal(t, "http://127.0.0.1:8080", cfg.Client.ServerURL)
	assert.Equal(t, 30*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, 1024, cfg.Client.MaxAppends)
	assert.False(t, cfg.Client.AllPartitions)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr())
	assert.Equal(t, "0:512;Finished", cfg.Stub.Script)
	assert.Empty(t, cfg.Stub.CaptureDir)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.NoError(t, cfg.Client.Validate())
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("NCCHUP_SERVER_URL", "https://index.example:8443")
	t.Setenv("NCCHUP_REQUEST_TIMEOUT", "5s")
	t.Setenv("NCCHUP_MAX_APPENDS", "16")
	t.Setenv("NCCHUP_ALL_PARTITIONS", "true")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("STUB_SESSION_TIMEOUT", "1m")
	t.Setenv("STUB_CAPTURE_DIR", "/var/lib/ncch-stub")

	cfg := LoadFromEnv()

	assert.Equal(t, "https://index.example:8443", cfg.Client.ServerURL)
	assert.Equal(t, 5*time.Second, cfg.Client.RequestTimeout)
	assert.Equal(t, 16, cfg.Client.MaxAppends)
	assert.True(t, cfg.Client.AllPartitions)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, time.Minute, cfg.Stub.SessionTimeout)
	assert.Equal(t, "/var/lib/ncch-stub", cfg.Stub.CaptureDir)
}

func TestLoadFromEnv_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("NCCHUP_MAX_APPENDS", "many")
	t.Setenv("NCCHUP_REQUEST_TIMEOUT", "soon")
	t.Setenv("NCCHUP_ALL_PARTITIONS", "maybe")

	cfg := LoadFromEnv()

	assert.Equal(t, 1024, cfg.Client.MaxAppends)
	assert.Equal(t, 30*time.Second, cfg.Client.RequestTimeout)
	assert.False(t, cfg.Client.AllPartitions)
}

func TestClientConfig_Validate(t *testing.T) {
	valid := ClientConfig{ServerURL: "http://localhost:8080", RequestTimeout: time.Second, MaxAppends: 1}

	tests := []struct {
		name    string
		mutate  func(c *ClientConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(c *ClientConfig) {}},
		{name: "missing scheme", mutate: func(c *ClientConfig) { c.ServerURL = "localhost:8080" }, wantErr: "invalid server url"},
		{name: "zero max appends", mutate: func(c *ClientConfig) { c.MaxAppends = 0 }, wantErr: "invalid max appends"},
		{name: "zero timeout", mutate: func(c *ClientConfig) { c.RequestTimeout = 0 }, wantErr: "invalid request timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoggingConfig_SetupLogging(t *testing.T) {
	previous := log.Logger
	previousLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = previous
		zerolog.SetGlobalLevel(previousLevel)
	}()

	var buf bytes.Buffer
	cfg := LoggingConfig{Level: "WARN", Format: "json"}
	cfg.SetupLoggingTo(&buf)

	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	log.Info().Msg("dropped")
	log.Warn().Str("phase", "initial").Msg("kept")

	assert.NotContains(t, buf.String(), "dropped")
	assert.Contains(t, buf.String(), `"phase":"initial"`)

	cfg = LoggingConfig{Level: "nonsense", Format: "json"}
	cfg.SetupLoggingTo(&buf)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
