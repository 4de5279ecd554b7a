// Package mp3 wraps the shine fixed-point MP3 encoder behind a frame-level
// interface: initialize with a configuration, encode one frame at a time,
// flush, close.
package mp3

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	shine "github.com/braheezy/shine-mp3/pkg/mp3"
)

var (
	ErrEncoderClosed = errors.New("encoder closed")
	ErrFrameShape    = errors.New("frame does not match encoder layout")
	ErrEncoderPanic  = errors.New("encoder failed")
)

// Encoder turns fixed-size PCM frames into MPEG audio bytes.
type Encoder interface {
	// EncodeFrame encodes one frame given as one slice of FrameLength()
	// samples per channel. The returned bytes are owned by the caller.
	EncodeFrame(frame [][]int16) ([]byte, error)
	// Flush returns bytes still held by the encoder.
	Flush() ([]byte, error)
	Close() error

	FrameLength() int
	Channels() int
	SampleRate() int
	Bitrate() int
}

// ShineEncoder is an Encoder backed by shine-mp3.
//
// A ShineEncoder is not safe for concurrent use.
type ShineEncoder struct {
	enc      *shine.Encoder
	channels int
	frameLen int
	rate     int
	bitrate  int

	pcm    []int16
	out    bytes.Buffer
	closed bool
}

// NewShineEncoder initializes shine with cfg. Zero fields take defaults.
//
// A sample rate or bitrate missing from the encoder tables is logged and
// tolerated under PolicyWarn, and fails with ErrUnsupportedSampleRate or
// ErrUnsupportedBitrate under PolicyReject.
func NewShineEncoder(cfg EncoderConfig, logger *slog.Logger) (*ShineEncoder, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid encoder config: %w", err)
	}

	supportErr := cfg.CheckSupported()
	if supportErr != nil {
		if cfg.Policy == PolicyReject {
			return nil, supportErr
		}
		logger.Warn("encoder parameters not supported, encoding anyway",
			"error", supportErr,
			"sampleRate", cfg.SampleRate,
			"bitrate", cfg.Bitrate)
	}

	enc := shine.NewEncoder(cfg.SampleRate, cfg.Channels)

	// NewEncoder always starts at its built-in bitrate; switch to the
	// configured one when the tables allow it.
	if version, ok := versionForRate(cfg.SampleRate); ok {
		if idx, ok := bitrateIndex(version, cfg.Bitrate); ok {
			enc.Mpeg.Bitrate = int64(cfg.Bitrate)
			enc.Mpeg.BitrateIndex = int64(idx)
		}
	}
	applySlots(enc)

	e := &ShineEncoder{
		enc:      enc,
		channels: cfg.Channels,
		frameLen: int(enc.Mpeg.GranulesPerFrame) * shine.GRANULE_SIZE,
		rate:     cfg.SampleRate,
		bitrate:  int(enc.Mpeg.Bitrate),
	}
	e.pcm = make([]int16, e.frameLen*e.channels)

	logEncoder(logger, e)

	return e, nil
}

// applySlots derives the frame size in slots from the current bitrate.
// shine computes it in floating point, where 1152/32000*6000 lands just under
// 216 and every frame gets a padding slot it never writes. Integer division
// keeps exact sizes exact.
func applySlots(enc *shine.Encoder) {
	m := &enc.Mpeg

	num := m.GranulesPerFrame * shine.GRANULE_SIZE * m.Bitrate * 1000
	den := enc.Wave.SampleRate * m.BitsPerSlot

	m.WholeSlotsPerFrame = num / den
	m.FracSlotsPerFrame = float64(num%den) / float64(den)
	m.Slot_lag = -m.FracSlotsPerFrame
	if m.FracSlotsPerFrame == 0 {
		m.Padding = 0
	}
}

func logEncoder(logger *slog.Logger, e *ShineEncoder) {
	mode := "stereo"
	if e.enc.Mpeg.Mode == shine.MONO {
		mode = "mono"
	}

	emphasis := "none"
	switch e.enc.Mpeg.Emph {
	case shine.MU50_15:
		emphasis = "50/15us"
	case shine.CITT:
		emphasis = "CITT"
	}

	version := "unknown"
	if v, ok := versionForRate(e.rate); ok {
		version = v.String()
	}

	logger.Info("MP3 encoder initialized",
		"layer", "III",
		"version", version,
		"mode", mode,
		"psychoacousticModel", "shine",
		"sampleRate", e.rate,
		"bitrate", e.bitrate,
		"emphasis", emphasis,
		"original", e.enc.Mpeg.Original != 0,
		"copyright", e.enc.Mpeg.Copyright != 0,
		"frameLength", e.frameLen)
}

// EncodeFrame implements Encoder.
func (e *ShineEncoder) EncodeFrame(frame [][]int16) (out []byte, err error) {
	if e.closed {
		return nil, ErrEncoderClosed
	}

	if len(frame) != e.channels {
		return nil, fmt.Errorf("%w: got %d channels, want %d", ErrFrameShape, len(frame), e.channels)
	}

	for c, ch := range frame {
		if len(ch) != e.frameLen {
			return nil, fmt.Errorf("%w: channel %d has %d samples, want %d",
				ErrFrameShape, c, len(ch), e.frameLen)
		}
	}

	for i := range e.frameLen {
		for c := range frame {
			e.pcm[i*e.channels+c] = frame[c][i]
		}
	}

	e.out.Reset()

	defer func() {
		if r := recover(); r != nil {
			out, err = nil, fmt.Errorf("%w: %v", ErrEncoderPanic, r)
		}
	}()

	// pcm holds exactly one frame, so Write encodes exactly one pass.
	if err := e.enc.Write(&e.out, e.pcm); err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}

	return bytes.Clone(e.out.Bytes()), nil
}

// Flush implements Encoder. shine-mp3 hands over the whole bitstream after
// every frame, so nothing is ever left behind.
func (e *ShineEncoder) Flush() ([]byte, error) {
	if e.closed {
		return nil, ErrEncoderClosed
	}

	return nil, nil
}

// Close releases the encoder. Safe to call multiple times.
func (e *ShineEncoder) Close() error {
	e.closed = true
	e.enc = nil
	e.pcm = nil

	return nil
}

func (e *ShineEncoder) FrameLength() int { return e.frameLen }
func (e *ShineEncoder) Channels() int    { return e.channels }
func (e *ShineEncoder) SampleRate() int  { return e.rate }
func (e *ShineEncoder) Bitrate() int     { return e.bitrate }
