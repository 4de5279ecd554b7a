package config_test

import (
	"testing"

	"github.com/alkime/mp3rec/internal/audio"
	"github.com/alkime/mp3rec/internal/config"
	"github.com/alkime/mp3rec/internal/mp3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tests here use t.Setenv and cannot run in parallel.

func TestProcess_Defaults(t *testing.T) {
	cfg, err := config.Process()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "recordings", cfg.RecordDir)

	fc, err := cfg.FormatConfig()
	require.NoError(t, err)
	assert.Equal(t, mp3.EncoderConfig{
		SampleRate: 32000,
		Bitrate:    48,
		Channels:   2,
		Policy:     mp3.PolicyWarn,
	}, fc.Encoder)
	assert.Equal(t, audio.UpmixSilence, fc.Upmix)
	assert.Equal(t, []string{"mp3"}, fc.Extensions)
}

func TestProcess_Overrides(t *testing.T) {
	t.Setenv("MP3_SAMPLE_RATE", "16000")
	t.Setenv("MP3_BITRATE", "32")
	t.Setenv("MP3_CHANNELS", "1")
	t.Setenv("MP3_POLICY", "reject")
	t.Setenv("MP3_UPMIX", "Duplicate")
	t.Setenv("MP3_EXTENSIONS", "mp3,mpga")

	cfg, err := config.Process()
	require.NoError(t, err)

	fc, err := cfg.FormatConfig()
	require.NoError(t, err)
	assert.Equal(t, mp3.EncoderConfig{
		SampleRate: 16000,
		Bitrate:    32,
		Channels:   1,
		Policy:     mp3.PolicyReject,
	}, fc.Encoder)
	assert.Equal(t, audio.UpmixDuplicate, fc.Upmix)
	assert.Equal(t, []string{"mp3", "mpga"}, fc.Extensions)
}

func TestProcess_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		key, value  string
		expectError string
	}{
		{name: "bad policy", key: "MP3_POLICY", value: "ignore", expectError: "MP3_POLICY"},
		{name: "bad upmix", key: "MP3_UPMIX", value: "surround", expectError: "MP3_UPMIX"},
		{name: "bad channels", key: "MP3_CHANNELS", value: "6", expectError: "channels must be 1 (mono) or 2 (stereo)"},
		{name: "not a number", key: "MP3_BITRATE", value: "fast", expectError: "failed to process environment variables"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := config.Process()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectError)
		})
	}
}

func TestBuildCSP(t *testing.T) {
	assert.Contains(t, config.BuildCSP("strict"), "default-src 'none'")
	assert.Contains(t, config.BuildCSP("relaxed"), "default-src 'self'")
}
