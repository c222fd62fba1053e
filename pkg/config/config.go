package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the configuration for the uploader and the stub service
type Config struct {
	Client  ClientConfig  `yaml:"client"`
	Server  ServerConfig  `yaml:"server"`
	Stub    StubConfig    `yaml:"stub"`
	Logging LoggingConfig `yaml:"logging"`
}

// ClientConfig holds settings for the upload client
type ClientConfig struct {
	ServerURL      string        `yaml:"server_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	MaxAppends     int           `yaml:"max_appends"`
	AllPartitions  bool          `yaml:"all_partitions"`
}

// ServerConfig holds HTTP server configuration for the stub service
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// StubConfig controls how the stub service answers uploads
type StubConfig struct {
	// Script is the request plan, e.g. "0:512,512:1024;Finished"
	Script         string        `yaml:"script"`
	MaxSessions    int           `yaml:"max_sessions"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	// CaptureDir receives copies of headers and chunks; empty disables capture
	CaptureDir string `yaml:"capture_dir"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json, console
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() *Config {
	return &Config{
		Client: ClientConfig{
			ServerURL:      getEnv("NCCHUP_SERVER_URL", "http://127.0.0.1:8080"),
			RequestTimeout: getEnvDuration("NCCHUP_REQUEST_TIMEOUT", 30*time.Second),
			MaxAppends:     getEnvInt("NCCHUP_MAX_APPENDS", 1024),
			AllPartitions:  getEnvBool("NCCHUP_ALL_PARTITIONS", false),
		},
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "127.0.0.1"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Stub: StubConfig{
			Script:         getEnv("STUB_SCRIPT", "0:512;Finished"),
			MaxSessions:    getEnvInt("STUB_MAX_SESSIONS", 64),
			SessionTimeout: getEnvDuration("STUB_SESSION_TIMEOUT", 10*time.Minute),
			CaptureDir:     getEnv("STUB_CAPTURE_DIR", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
		},
	}
}

// Validate checks the client settings before an upload starts
func (c *ClientConfig) Validate() error {
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("invalid server url %q: must start with http:// or https://", c.ServerURL)
	}
	if c.MaxAppends <= 0 {
		return fmt.Errorf("invalid max appends %d: must be positive", c.MaxAppends)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("invalid request timeout %s: must be positive", c.RequestTimeout)
	}
	return nil
}

// Addr returns the listen address of the stub service
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// SetupLogging configures the global zerolog logger. Unknown levels fall back to info.
func (l *LoggingConfig) SetupLogging() {
	l.SetupLoggingTo(os.Stderr)
}

// SetupLoggingTo is SetupLogging with an explicit destination
func (l *LoggingConfig) SetupLoggingTo(w io.Writer) {
	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if l.Format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
