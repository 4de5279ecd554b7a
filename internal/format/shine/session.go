package shine

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/alkime/mp3rec/internal/audio"
	"github.com/alkime/mp3rec/internal/format"
	"github.com/alkime/mp3rec/internal/mp3"
	"github.com/alkime/mp3rec/internal/sink"
)

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// session is one open MP3 stream. It owns its sink and encoder.
//
// A session is not safe for concurrent use.
type session struct {
	logger   *slog.Logger
	observer Observer

	sink sink.Sink
	enc  mp3.Encoder
	out  *countingWriter
	acc  *audio.FrameAccumulator

	samples int64
	closed  bool
}

var _ format.Handle = (*session)(nil)

// Write buffers interleaved samples and encodes every frame they complete.
func (s *session) Write(samples []int16, channels int) error {
	if s.closed {
		return format.ErrClosed
	}

	bytesBefore := s.out.n
	framesBefore, bufferedBefore := s.acc.Frames(), s.acc.Buffered()

	err := s.acc.Write(samples, channels)

	// frames that reached the encoder before a failure still advance the
	// position
	consumed := int(s.acc.Frames()-framesBefore)*s.acc.FrameLength() + s.acc.Buffered() - bufferedBefore
	s.samples += int64(consumed)
	s.observer.Written(consumed, s.out.n-bytesBefore)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, audio.ErrChannelLayout), errors.Is(err, audio.ErrSampleCount):
		return fmt.Errorf("%w: %w", format.ErrUnsupportedParameter, err)
	default:
		return fmt.Errorf("%w: %w", format.ErrResource, err)
	}
}

// Close pads and encodes the last partial frame, writes whatever the encoder
// still holds, then releases the sink and the encoder. Both are released
// even when an earlier step fails.
func (s *session) Close() error {
	if s.closed {
		return format.ErrClosed
	}
	s.closed = true

	var errs []error

	if err := s.acc.Pad(); err != nil {
		errs = append(errs, fmt.Errorf("%w: failed to encode final frame: %w", format.ErrResource, err))
	} else if err := s.flush(); err != nil {
		errs = append(errs, err)
	}

	if err := s.sink.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: failed to close sink: %w", format.ErrResource, err))
	}

	if err := s.enc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: failed to close encoder: %w", format.ErrResource, err))
	}

	err := errors.Join(errs...)
	info := s.Info()
	s.observer.Closed(info, err)

	if err != nil {
		s.logger.Error("file closed with errors", "error", err)
	} else {
		s.logger.Info("file closed",
			"samples", info.Samples,
			"frames", info.Frames,
			"bytes", info.Bytes)
	}

	return err
}

func (s *session) flush() error {
	tail, err := s.enc.Flush()
	if err != nil {
		return fmt.Errorf("%w: failed to flush encoder: %w", format.ErrResource, err)
	}

	if len(tail) == 0 {
		return nil
	}

	if _, err := s.out.Write(tail); err != nil {
		return fmt.Errorf("%w: failed to write flushed data: %w", format.ErrResource, err)
	}

	return nil
}

// Truncate cuts the file at offset bytes and resets the sample position.
func (s *session) Truncate(offset int64) error {
	if s.closed {
		return format.ErrClosed
	}

	if err := s.sink.Truncate(offset); err != nil {
		return fmt.Errorf("%w: %w", format.ErrResource, err)
	}

	s.samples = 0
	return nil
}

func (s *session) Read([]int16) (int, error) {
	return 0, format.ErrUnsupported
}

func (s *session) Seek(int64, int) (int64, error) {
	return 0, format.ErrUnsupported
}

func (s *session) GetString(format.Tag) (string, error) {
	return "", format.ErrUnsupported
}

func (s *session) SetString(format.Tag, string) error {
	return format.ErrUnsupported
}

func (s *session) Info() format.Info {
	return format.Info{
		SampleRate:  s.enc.SampleRate(),
		Channels:    s.enc.Channels(),
		Bitrate:     s.enc.Bitrate(),
		FrameLength: s.acc.FrameLength(),
		Seekable:    false,
		Samples:     s.samples,
		Frames:      s.acc.Frames(),
		Bytes:       s.out.n,
	}
}
