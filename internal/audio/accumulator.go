package audio

import (
	"errors"
	"fmt"
	"io"
)

// MaxFrameLength bounds the per-channel frame buffer.
const MaxFrameLength = 1 << 16

var (
	ErrBufferSize    = errors.New("frame buffer cannot be allocated")
	ErrChannelLayout = errors.New("unsupported channel layout")
	ErrSampleCount   = errors.New("sample count is not a multiple of the channel count")
	ErrSinkWrite     = errors.New("sink write failed")
	ErrEncode        = errors.New("frame encode failed")
)

// UpmixMode decides what fills the second channel when mono samples are
// written into a stereo accumulator.
type UpmixMode int

const (
	// UpmixSilence leaves the second channel at zero.
	UpmixSilence UpmixMode = iota
	// UpmixDuplicate copies the first channel into the second.
	UpmixDuplicate
)

func (m UpmixMode) String() string {
	switch m {
	case UpmixSilence:
		return "silence"
	case UpmixDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("UpmixMode(%d)", int(m))
	}
}

// ParseUpmixMode parses "silence" or "duplicate".
func ParseUpmixMode(s string) (UpmixMode, error) {
	switch s {
	case "", "silence", "zero":
		return UpmixSilence, nil
	case "duplicate", "copy":
		return UpmixDuplicate, nil
	default:
		return 0, fmt.Errorf("unknown upmix mode %q", s)
	}
}

// FrameEncoder encodes one full frame given as one slice per channel.
type FrameEncoder interface {
	EncodeFrame(frame [][]int16) ([]byte, error)
}

// FrameAccumulator turns interleaved sample writes of any size into
// fixed-length per-channel frames. Every completed frame is encoded and the
// result written to the sink in order.
//
// A FrameAccumulator is not safe for concurrent use.
type FrameAccumulator struct {
	enc      FrameEncoder
	out      io.Writer
	upmix    UpmixMode
	frameLen int

	buf      [][]int16
	buffered int
	frames   int64
}

// NewFrameAccumulator allocates a per-channel buffer of frameLength samples.
func NewFrameAccumulator(
	enc FrameEncoder,
	out io.Writer,
	channels, frameLength int,
	upmix UpmixMode,
) (*FrameAccumulator, error) {
	if enc == nil {
		return nil, errors.New("frame encoder cannot be nil")
	}

	if out == nil {
		return nil, errors.New("output writer cannot be nil")
	}

	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrChannelLayout, channels)
	}

	if frameLength <= 0 || frameLength > MaxFrameLength {
		return nil, fmt.Errorf("%w: %d samples per channel", ErrBufferSize, frameLength)
	}

	buf := make([][]int16, channels)
	for c := range buf {
		buf[c] = make([]int16, frameLength)
	}

	return &FrameAccumulator{
		enc:      enc,
		out:      out,
		upmix:    upmix,
		frameLen: frameLength,
		buf:      buf,
	}, nil
}

// Write consumes interleaved samples carrying inChannels channels. Full
// frames are encoded as soon as they complete; a trailing partial frame stays
// buffered for the next call.
//
// A failed frame is dropped and the error returned; frames completed before
// it have already reached the sink.
func (a *FrameAccumulator) Write(samples []int16, inChannels int) error {
	if inChannels != 1 && inChannels != 2 {
		return fmt.Errorf("%w: %d input channels", ErrChannelLayout, inChannels)
	}

	if len(samples)%inChannels != 0 {
		return fmt.Errorf("%w: %d samples, %d channels", ErrSampleCount, len(samples), inChannels)
	}

	left := len(samples) / inChannels

	for left > 0 {
		room := a.frameLen - a.buffered

		if left < room {
			a.deinterleave(samples, inChannels, left)
			a.buffered += left
			return nil
		}

		a.deinterleave(samples, inChannels, room)
		samples = samples[room*inChannels:]
		left -= room

		if err := a.emit(); err != nil {
			return err
		}
	}

	return nil
}

// Pad zero-fills a partial frame up to the frame length and encodes it.
// It does nothing when no samples are buffered.
func (a *FrameAccumulator) Pad() error {
	if a.buffered == 0 {
		return nil
	}

	for c := range a.buf {
		clear(a.buf[c][a.buffered:])
	}

	return a.emit()
}

// Buffered returns the number of samples per channel waiting for a full frame.
func (a *FrameAccumulator) Buffered() int { return a.buffered }

// Frames returns the number of frames handed to the encoder.
func (a *FrameAccumulator) Frames() int64 { return a.frames }

func (a *FrameAccumulator) FrameLength() int { return a.frameLen }

func (a *FrameAccumulator) Channels() int { return len(a.buf) }

// deinterleave copies n samples per channel from the front of src into the
// buffer at the current fill offset.
func (a *FrameAccumulator) deinterleave(src []int16, inChannels, n int) {
	off := a.buffered

	switch {
	case inChannels == len(a.buf):
		for i := range n {
			for c := range a.buf {
				a.buf[c][off+i] = src[i*inChannels+c]
			}
		}

	case inChannels == 1: // mono into stereo
		left, right := a.buf[0], a.buf[1]
		for i := range n {
			left[off+i] = src[i]
			if a.upmix == UpmixDuplicate {
				right[off+i] = src[i]
			} else {
				right[off+i] = 0
			}
		}

	default: // stereo into mono
		mono := a.buf[0]
		for i := range n {
			mono[off+i] = int16((int32(src[2*i]) + int32(src[2*i+1])) / 2)
		}
	}
}

// emit encodes the full buffer, writes the result and resets the fill count.
func (a *FrameAccumulator) emit() error {
	a.buffered = 0
	a.frames++

	data, err := a.enc.EncodeFrame(a.buf)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	if len(data) == 0 {
		return nil
	}

	if _, err := a.out.Write(data); err != nil {
		return fmt.Errorf("%w: %w", ErrSinkWrite, err)
	}

	return nil
}
