package mp3

import (
	"errors"
	"fmt"
	"strings"

	shine "github.com/braheezy/shine-mp3/pkg/mp3"
)

const (
	// DefaultSampleRate is 32kHz, the rate recordings have always used.
	DefaultSampleRate = 32000
	// DefaultBitrate is 48 kbps.
	DefaultBitrate = 48
	// DefaultChannels is stereo.
	DefaultChannels = 2
	// DefaultPolicy logs unsupported parameters instead of failing.
	DefaultPolicy = PolicyWarn
)

var (
	ErrUnsupportedSampleRate = errors.New("unsupported sample rate")
	ErrUnsupportedBitrate    = errors.New("unsupported bitrate")
)

// ValidationPolicy decides what happens when the encoder does not accept the
// configured sample rate or bitrate.
type ValidationPolicy string

const (
	// PolicyWarn logs a warning and encodes anyway.
	PolicyWarn ValidationPolicy = "warn"
	// PolicyReject fails encoder creation.
	PolicyReject ValidationPolicy = "reject"
)

// ParsePolicy parses "warn" or "reject", case-insensitively.
func ParsePolicy(s string) (ValidationPolicy, error) {
	switch p := ValidationPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case PolicyWarn, PolicyReject:
		return p, nil
	case "":
		return DefaultPolicy, nil
	default:
		return "", fmt.Errorf("unknown validation policy %q", s)
	}
}

// EncoderConfig configures the MP3 encoder.
type EncoderConfig struct {
	// SampleRate is the input sample rate in Hz (default: 32000).
	SampleRate int

	// Bitrate is the constant output bitrate in kbps (default: 48).
	Bitrate int

	// Channels is 1 (mono mode) or 2 (stereo mode). Default: 2.
	Channels int

	// Policy applies when SampleRate or Bitrate is outside the encoder tables.
	Policy ValidationPolicy
}

// Validate returns an error if the config is invalid.
func (c EncoderConfig) Validate() error {
	if c.SampleRate <= 0 {
		return errors.New("sample rate must be positive")
	}

	if c.Bitrate <= 0 {
		return errors.New("bitrate must be positive")
	}

	if c.Channels != 1 && c.Channels != 2 {
		return errors.New("channels must be 1 (mono) or 2 (stereo)")
	}

	if c.Policy != PolicyWarn && c.Policy != PolicyReject {
		return fmt.Errorf("unknown validation policy %q", c.Policy)
	}

	return nil
}

// WithDefaults returns a config with default values applied to zero fields.
func (c EncoderConfig) WithDefaults() EncoderConfig {
	if c.SampleRate == 0 {
		c.SampleRate = DefaultSampleRate
	}

	if c.Bitrate == 0 {
		c.Bitrate = DefaultBitrate
	}

	if c.Channels == 0 {
		c.Channels = DefaultChannels
	}

	if c.Policy == "" {
		c.Policy = DefaultPolicy
	}

	return c
}

// CheckSupported reports whether the encoder tables contain the sample rate
// and, for the MPEG version that rate implies, the bitrate.
func (c EncoderConfig) CheckSupported() error {
	version, ok := versionForRate(c.SampleRate)
	if !ok {
		return fmt.Errorf("%w: %d Hz", ErrUnsupportedSampleRate, c.SampleRate)
	}

	if shine.CheckConfig(c.SampleRate, c.Bitrate) < 0 {
		return fmt.Errorf("%w: %d kbps at %d Hz", ErrUnsupportedBitrate, c.Bitrate, c.SampleRate)
	}

	if _, ok := bitrateIndex(version, c.Bitrate); !ok {
		return fmt.Errorf("%w: %d kbps at %d Hz", ErrUnsupportedBitrate, c.Bitrate, c.SampleRate)
	}

	return nil
}

type mpegVersion int

const (
	mpeg1 mpegVersion = iota
	mpeg2
	mpeg25
)

func (v mpegVersion) String() string {
	switch v {
	case mpeg1:
		return "MPEG-I"
	case mpeg2:
		return "MPEG-II"
	default:
		return "MPEG-2.5"
	}
}

func versionForRate(rate int) (mpegVersion, bool) {
	switch rate {
	case 44100, 48000, 32000:
		return mpeg1, true
	case 22050, 24000, 16000:
		return mpeg2, true
	case 11025, 12000, 8000:
		return mpeg25, true
	default:
		return 0, false
	}
}

// Layer III bitrate tables in kbps; the index is the header bitrate index.
var (
	mpeg1Bitrates = [...]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320}
	mpeg2Bitrates = [...]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160}
)

func bitrateIndex(v mpegVersion, kbps int) (int, bool) {
	table := mpeg2Bitrates[:]
	if v == mpeg1 {
		table = mpeg1Bitrates[:]
	}

	for i := 1; i < len(table); i++ {
		if table[i] == kbps {
			return i, true
		}
	}
	return 0, false
}
