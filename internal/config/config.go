package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/alkime/mp3rec/internal/audio"
	"github.com/alkime/mp3rec/internal/format/shine"
	"github.com/alkime/mp3rec/internal/mp3"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	// EnvProduction represents the production environment.
	EnvProduction = "production"
)

// Config holds all application configuration.
type Config struct {
	// Server settings
	Env       string `envconfig:"ENV" default:"development"`
	Port      string `envconfig:"PORT" default:"8080"`
	RecordDir string `envconfig:"RECORD_DIR" default:"recordings"`

	// Security settings
	HSTSMaxAge int    `envconfig:"HSTS_MAX_AGE" default:"31536000"`
	CSPMode    string `envconfig:"CSP_MODE" default:"relaxed"`

	// Logging settings
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// Encoder settings
	SampleRate int      `envconfig:"MP3_SAMPLE_RATE" default:"32000"`
	Bitrate    int      `envconfig:"MP3_BITRATE" default:"48"`
	Channels   int      `envconfig:"MP3_CHANNELS" default:"2"`
	Policy     string   `envconfig:"MP3_POLICY" default:"warn"`
	Upmix      string   `envconfig:"MP3_UPMIX" default:"silence"`
	Extensions []string `envconfig:"MP3_EXTENSIONS" default:"mp3"`
}

// LoadConfig loads configuration from .env file and environment variables.
func LoadConfig() (*Config, error) {
	// Try to load .env file (optional for development)
	if err := godotenv.Load(); err != nil {
		// Not an error if file doesn't exist (expected in production)
		if !os.IsNotExist(err) {
			log.Printf("Warning: Error loading .env file: %v", err)
		}
	}

	return Process()
}

// Process reads the configuration from the environment only.
func Process() (*Config, error) {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		return nil, fmt.Errorf("failed to process environment variables: %w", err)
	}

	if _, err := config.FormatConfig(); err != nil {
		return nil, err
	}

	return &config, nil
}

// EncoderConfig returns the encoder settings.
func (c *Config) EncoderConfig() (mp3.EncoderConfig, error) {
	policy, err := mp3.ParsePolicy(c.Policy)
	if err != nil {
		return mp3.EncoderConfig{}, fmt.Errorf("MP3_POLICY: %w", err)
	}

	cfg := mp3.EncoderConfig{
		SampleRate: c.SampleRate,
		Bitrate:    c.Bitrate,
		Channels:   c.Channels,
		Policy:     policy,
	}

	if err := cfg.Validate(); err != nil {
		return mp3.EncoderConfig{}, fmt.Errorf("invalid encoder settings: %w", err)
	}

	return cfg, nil
}

// FormatConfig returns the MP3 format settings.
func (c *Config) FormatConfig() (shine.Config, error) {
	enc, err := c.EncoderConfig()
	if err != nil {
		return shine.Config{}, err
	}

	upmix, err := audio.ParseUpmixMode(strings.ToLower(c.Upmix))
	if err != nil {
		return shine.Config{}, fmt.Errorf("MP3_UPMIX: %w", err)
	}

	if len(c.Extensions) == 0 {
		return shine.Config{}, errors.New("MP3_EXTENSIONS cannot be empty")
	}

	return shine.Config{
		Encoder:    enc,
		Upmix:      upmix,
		Extensions: c.Extensions,
	}, nil
}

// BuildCSP constructs Content Security Policy based on mode.
func BuildCSP(mode string) string {
	if mode == "strict" {
		return "default-src 'none'; " +
			"frame-ancestors 'none'; " +
			"base-uri 'none'; " +
			"form-action 'none'"
	}

	// Development/relaxed CSP
	return "default-src 'self'; " +
		"style-src 'self' 'unsafe-inline'; " +
		"img-src 'self' data:"
}
