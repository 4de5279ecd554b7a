package shine_test

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/alkime/mp3rec/internal/audio"
	"github.com/alkime/mp3rec/internal/format"
	"github.com/alkime/mp3rec/internal/format/shine"
	"github.com/alkime/mp3rec/internal/mp3"
	"github.com/alkime/mp3rec/internal/sink"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeEncoder struct {
	channels int
	frameLen int
	frames   [][][]int16
	flushed  int
	closed   bool
	tail     []byte
}

func (e *fakeEncoder) EncodeFrame(frame [][]int16) ([]byte, error) {
	cp := make([][]int16, len(frame))
	for c := range frame {
		cp[c] = append([]int16(nil), frame[c]...)
	}
	e.frames = append(e.frames, cp)
	return []byte{0xFF, 0xFB, byte(len(e.frames)), 0x00}, nil
}

func (e *fakeEncoder) Flush() ([]byte, error) {
	e.flushed++
	return e.tail, nil
}

func (e *fakeEncoder) Close() error {
	e.closed = true
	return nil
}

func (e *fakeEncoder) FrameLength() int { return e.frameLen }
func (e *fakeEncoder) Channels() int    { return e.channels }
func (e *fakeEncoder) SampleRate() int  { return 32000 }
func (e *fakeEncoder) Bitrate() int     { return 48 }

type memSink struct {
	path     string
	buf      bytes.Buffer
	writes   int
	failFrom int // fail every write from this 1-based index on, 0 never
	closed   bool
}

func (s *memSink) Write(p []byte) (int, error) {
	s.writes++
	if s.failFrom > 0 && s.writes >= s.failFrom {
		return 0, errors.New("disk full")
	}
	return s.buf.Write(p)
}

func (s *memSink) Seek(int64, int) (int64, error) { return int64(s.buf.Len()), nil }

func (s *memSink) Truncate(size int64) error {
	s.buf.Truncate(int(size))
	return nil
}

func (s *memSink) Close() error {
	s.closed = true
	return nil
}

func (s *memSink) Path() string { return s.path }

type fixture struct {
	enc  *fakeEncoder
	sink *memSink
	obs  *countingObserver
	f    *shine.Format
}

func newFixture(t *testing.T, channels, frameLen int, upmix audio.UpmixMode) *fixture {
	t.Helper()

	fx := &fixture{
		enc:  &fakeEncoder{channels: channels, frameLen: frameLen, tail: []byte("TAIL")},
		sink: &memSink{},
		obs:  &countingObserver{},
	}

	f, err := shine.New(shine.Config{Upmix: upmix},
		shine.WithLogger(quietLogger),
		shine.WithObserver(fx.obs),
		shine.WithEncoderFactory(func(mp3.EncoderConfig, *slog.Logger) (mp3.Encoder, error) {
			return fx.enc, nil
		}),
		shine.WithSinkOpener(func(path string, _ format.Flags) (sink.Sink, error) {
			fx.sink.path = path
			return fx.sink, nil
		}),
	)
	require.NoError(t, err)
	fx.f = f

	return fx
}

type countingObserver struct {
	opened, failed, closed int
	samples                int
	bytes                  int64
	closeErr               error
}

func (o *countingObserver) Opened(format.Info) { o.opened++ }
func (o *countingObserver) OpenFailed(error)   { o.failed++ }

func (o *countingObserver) Written(s int, b int64) {
	o.samples += s
	o.bytes += b
}

func (o *countingObserver) Closed(_ format.Info, err error) {
	o.closed++
	o.closeErr = err
}

func interleaved(channels, perChannel int) []int16 {
	s := make([]int16, channels*perChannel)
	for i := range perChannel {
		for c := range channels {
			s[i*channels+c] = int16(i + 1)
		}
	}
	return s
}

func TestNew_Extensions(t *testing.T) {
	t.Parallel()

	f, err := shine.New(shine.Config{})
	require.NoError(t, err)
	assert.Equal(t, shine.Name, f.Name())
	assert.Equal(t, []string{"mp3"}, f.Extensions())

	exts := []string{".MP3", "mpga", "mp3"}
	f, err = shine.New(shine.Config{Extensions: exts})
	require.NoError(t, err)
	assert.Equal(t, []string{"mp3", "mpga"}, f.Extensions())

	// neither the caller's slice nor the returned copy reach the format
	exts[1] = "wav"
	got := f.Extensions()
	got[0] = "ogg"
	assert.Equal(t, []string{"mp3", "mpga"}, f.Extensions())

	_, err = shine.New(shine.Config{Extensions: []string{" "}})
	require.ErrorIs(t, err, format.ErrInvalidPath)

	_, err = shine.New(shine.Config{Encoder: mp3.EncoderConfig{Channels: 3}})
	require.Error(t, err)
}

func TestOpen_Errors(t *testing.T) {
	t.Parallel()

	t.Run("no extension", func(t *testing.T) {
		t.Parallel()
		fx := newFixture(t, 2, 1152, audio.UpmixSilence)

		_, err := fx.f.Open("recording", format.FlagWrite)
		require.ErrorIs(t, err, format.ErrInvalidPath)
		assert.Empty(t, fx.sink.path, "sink is never opened")
		assert.Equal(t, 1, fx.obs.failed)
	})

	t.Run("read only", func(t *testing.T) {
		t.Parallel()
		fx := newFixture(t, 2, 1152, audio.UpmixSilence)

		_, err := fx.f.Open("in.mp3", format.FlagRead)
		require.ErrorIs(t, err, format.ErrUnsupported)
	})

	t.Run("sink fails", func(t *testing.T) {
		t.Parallel()
		f, err := shine.New(shine.Config{}, shine.WithLogger(quietLogger),
			shine.WithSinkOpener(func(string, format.Flags) (sink.Sink, error) {
				return nil, os.ErrPermission
			}))
		require.NoError(t, err)

		_, err = f.Open("out.mp3", format.FlagWrite)
		require.ErrorIs(t, err, format.ErrResource)
		require.ErrorIs(t, err, os.ErrPermission)
	})

	t.Run("encoder rejects", func(t *testing.T) {
		t.Parallel()
		s := &memSink{}
		f, err := shine.New(shine.Config{}, shine.WithLogger(quietLogger),
			shine.WithSinkOpener(func(string, format.Flags) (sink.Sink, error) { return s, nil }),
			shine.WithEncoderFactory(func(mp3.EncoderConfig, *slog.Logger) (mp3.Encoder, error) {
				return nil, mp3.ErrUnsupportedBitrate
			}))
		require.NoError(t, err)

		_, err = f.Open("out.mp3", format.FlagWrite)
		require.ErrorIs(t, err, format.ErrUnsupportedParameter)
		require.ErrorIs(t, err, mp3.ErrUnsupportedBitrate)
		assert.True(t, s.closed, "sink released on failed open")
	})

	t.Run("frame buffer cannot be allocated", func(t *testing.T) {
		t.Parallel()
		fx := newFixture(t, 2, 0, audio.UpmixSilence)

		_, err := fx.f.Open("out.mp3", format.FlagWrite)
		require.ErrorIs(t, err, format.ErrOutOfMemory)
		assert.True(t, fx.sink.closed)
		assert.True(t, fx.enc.closed)
	})

	t.Run("format closed", func(t *testing.T) {
		t.Parallel()
		fx := newFixture(t, 2, 1152, audio.UpmixSilence)
		require.NoError(t, fx.f.Close())
		require.NoError(t, fx.f.Close())

		_, err := fx.f.Open("out.mp3", format.FlagWrite)
		require.ErrorIs(t, err, format.ErrClosed)
	})
}

func TestOpen_RejectPolicy(t *testing.T) {
	t.Parallel()

	f, err := shine.New(shine.Config{
		Encoder: mp3.EncoderConfig{SampleRate: 12345, Policy: mp3.PolicyReject},
	}, shine.WithLogger(quietLogger))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.mp3")
	_, err = f.Open(path, format.FlagWrite)
	require.ErrorIs(t, err, format.ErrUnsupportedParameter)
	require.ErrorIs(t, err, mp3.ErrUnsupportedSampleRate)
}

func TestSession_FullFrameIsEncodedImmediately(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 2, 1152, audio.UpmixSilence)

	h, err := fx.f.Open("out.mp3", format.FlagWrite)
	require.NoError(t, err)

	require.NoError(t, h.Write(interleaved(2, 1152), 2))

	require.Len(t, fx.enc.frames, 1)
	assert.Equal(t, int16(1), fx.enc.frames[0][0][0])
	assert.Equal(t, int16(1152), fx.enc.frames[0][1][1151])
	assert.Equal(t, 4, fx.sink.buf.Len())

	info := h.Info()
	assert.Equal(t, int64(1152), info.Samples)
	assert.Equal(t, int64(1), info.Frames)
	assert.Equal(t, int64(4), info.Bytes)
	assert.False(t, info.Seekable)

	assert.Equal(t, 1, fx.obs.opened)
	assert.Equal(t, 1152, fx.obs.samples)
	assert.Equal(t, int64(4), fx.obs.bytes)
}

func TestSession_CloseFlushesPaddedFrame(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 2, 1152, audio.UpmixSilence)

	h, err := fx.f.Open("out.mp3", format.FlagWrite)
	require.NoError(t, err)

	require.NoError(t, h.Write(interleaved(2, 100), 2))
	assert.Empty(t, fx.enc.frames, "partial frame stays buffered")
	assert.Zero(t, fx.sink.buf.Len())

	require.NoError(t, h.Close())

	require.Len(t, fx.enc.frames, 1)
	for c := range 2 {
		assert.Equal(t, int16(100), fx.enc.frames[0][c][99])
		for _, v := range fx.enc.frames[0][c][100:] {
			require.Zero(t, v)
		}
	}

	assert.Equal(t, 1, fx.enc.flushed)
	assert.Equal(t, "TAIL", fx.sink.buf.String()[4:])
	assert.True(t, fx.sink.closed)
	assert.True(t, fx.enc.closed)
	assert.Equal(t, 1, fx.obs.closed)
	require.NoError(t, fx.obs.closeErr)

	require.ErrorIs(t, h.Close(), format.ErrClosed)
	require.ErrorIs(t, h.Write(interleaved(2, 1), 2), format.ErrClosed)
	require.ErrorIs(t, h.Truncate(0), format.ErrClosed)
}

func TestSession_CloseWithoutBufferedSamplesOnlyFlushes(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 1, 576, audio.UpmixSilence)

	h, err := fx.f.Open("out.mp3", format.FlagWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(interleaved(1, 576), 1))
	require.NoError(t, h.Close())

	assert.Len(t, fx.enc.frames, 1)
	assert.Equal(t, 1, fx.enc.flushed)
}

func TestSession_ClosePadFailureSkipsFlushButReleases(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 2, 1152, audio.UpmixSilence)
	fx.sink.failFrom = 1

	h, err := fx.f.Open("out.mp3", format.FlagWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(interleaved(2, 10), 2))

	err = h.Close()
	require.ErrorIs(t, err, format.ErrResource)
	require.ErrorIs(t, err, audio.ErrSinkWrite)

	assert.Zero(t, fx.enc.flushed, "flush skipped after failed pad write")
	assert.True(t, fx.sink.closed)
	assert.True(t, fx.enc.closed)
	require.ErrorIs(t, fx.obs.closeErr, format.ErrResource)
}

func TestSession_WriteErrors(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 2, 4, audio.UpmixSilence)
	fx.sink.failFrom = 2

	h, err := fx.f.Open("out.mp3", format.FlagWrite)
	require.NoError(t, err)

	require.ErrorIs(t, h.Write(make([]int16, 3), 2), format.ErrUnsupportedParameter)
	require.ErrorIs(t, h.Write(make([]int16, 6), 6), format.ErrUnsupportedParameter)

	// first frame lands, second fails
	err = h.Write(interleaved(2, 8), 2)
	require.ErrorIs(t, err, format.ErrResource)
	assert.Equal(t, 4, fx.sink.buf.Len())
	assert.Equal(t, int64(8), h.Info().Samples, "rejected layouts consume nothing")
}

func TestSession_PartialWriteAdvancesPosition(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 2, 4, audio.UpmixSilence)
	fx.sink.failFrom = 3

	h, err := fx.f.Open("out.mp3", format.FlagWrite)
	require.NoError(t, err)

	require.NoError(t, h.Write(interleaved(2, 2), 2))

	// completes frame 1, encodes frame 2, frame 3 fails at the sink
	err = h.Write(interleaved(2, 12), 2)
	require.ErrorIs(t, err, format.ErrResource)

	info := h.Info()
	assert.Equal(t, int64(3), info.Frames)
	assert.Equal(t, int64(8), info.Bytes)
	assert.Equal(t, info.Frames*int64(info.FrameLength), info.Samples)
	assert.Equal(t, 12, fx.obs.samples)
	assert.Equal(t, int64(8), fx.obs.bytes)

	// the carry was dropped with the failed frame, so the next write starts clean
	fx.sink.failFrom = 0
	require.NoError(t, h.Write(interleaved(2, 1), 2))
	assert.Equal(t, int64(13), h.Info().Samples)
}

func TestSession_MonoIntoStereo(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		upmix audio.UpmixMode
		right int16
	}{
		{upmix: audio.UpmixSilence, right: 0},
		{upmix: audio.UpmixDuplicate, right: 7},
	} {
		fx := newFixture(t, 2, 2, tt.upmix)
		h, err := fx.f.Open("out.mp3", format.FlagWrite)
		require.NoError(t, err)

		require.NoError(t, h.Write([]int16{7, 7}, 1))
		require.Len(t, fx.enc.frames, 1)
		assert.Equal(t, []int16{7, 7}, fx.enc.frames[0][0])
		assert.Equal(t, []int16{tt.right, tt.right}, fx.enc.frames[0][1], tt.upmix.String())
	}
}

func TestSession_UnsupportedOperationsLeaveStateAlone(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 2, 1152, audio.UpmixSilence)

	h, err := fx.f.Open("out.mp3", format.FlagWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(interleaved(2, 10), 2))

	before := h.Info()

	_, err = h.Seek(0, io.SeekStart)
	require.ErrorIs(t, err, format.ErrUnsupported)
	_, err = h.Read(make([]int16, 10))
	require.ErrorIs(t, err, format.ErrUnsupported)
	_, err = h.GetString(format.TagTitle)
	require.ErrorIs(t, err, format.ErrUnsupported)
	require.ErrorIs(t, h.SetString(format.TagArtist, "me"), format.ErrUnsupported)

	assert.Equal(t, before, h.Info())
	assert.Empty(t, fx.enc.frames)
}

func TestSession_Truncate(t *testing.T) {
	t.Parallel()
	fx := newFixture(t, 1, 2, audio.UpmixSilence)

	h, err := fx.f.Open("out.mp3", format.FlagWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(interleaved(1, 4), 1))
	assert.Equal(t, 8, fx.sink.buf.Len())

	require.NoError(t, h.Truncate(4))
	assert.Equal(t, 4, fx.sink.buf.Len())
	assert.Zero(t, h.Info().Samples)
}

func sine(channels, perChannel, rate int) []int16 {
	s := make([]int16, channels*perChannel)
	for i := range perChannel {
		v := int16(math.Sin(2*math.Pi*440*float64(i)/float64(rate)) * 10000)
		for c := range channels {
			s[i*channels+c] = v
		}
	}
	return s
}

func TestRegistry_EncodesDecodableFile(t *testing.T) {
	t.Parallel()

	reg := format.NewRegistry(quietLogger)
	_, err := shine.Register(reg, shine.Config{}, shine.WithLogger(quietLogger))
	require.NoError(t, err)
	defer reg.Close()

	path := filepath.Join(t.TempDir(), "Take1.MP3")
	h, err := reg.Open(path, format.FlagWrite)
	require.NoError(t, err)

	samples := sine(2, 32000, 32000)
	// odd chunk sizes exercise the partial-frame carry
	for len(samples) > 0 {
		n := min(len(samples), 2*333)
		require.NoError(t, h.Write(samples[:n], 2))
		samples = samples[n:]
	}

	info := h.Info()
	assert.Equal(t, 32000, info.SampleRate)
	assert.Equal(t, 48, info.Bitrate)
	assert.Equal(t, 1152, info.FrameLength)
	assert.Equal(t, int64(32000/1152), info.Frames)

	require.NoError(t, h.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NotEmpty(t, data)
	assert.Equal(t, byte(0xFF), data[0])

	dec, err := gomp3.NewDecoder(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 32000, dec.SampleRate())

	pcm, err := io.ReadAll(dec)
	require.NoError(t, err)
	// 27 full frames plus the padded one, 4 bytes per decoded sample
	assert.Len(t, pcm, 28*1152*4)
}

func TestRegistry_AppendKeepsExistingFrames(t *testing.T) {
	t.Parallel()

	reg := format.NewRegistry(quietLogger)
	_, err := shine.Register(reg, shine.Config{Encoder: mp3.EncoderConfig{Channels: 1}}, shine.WithLogger(quietLogger))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "out.mp3")

	h, err := reg.Open(path, format.FlagWrite)
	require.NoError(t, err)
	require.NoError(t, h.Write(sine(1, 1152, 32000), 1))
	require.NoError(t, h.Close())

	first, err := os.ReadFile(path)
	require.NoError(t, err)

	h, err = reg.Open(path, format.FlagWrite|format.FlagAppend)
	require.NoError(t, err)
	require.NoError(t, h.Write(sine(1, 1152, 32000), 1))
	require.NoError(t, h.Close())

	both, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Greater(t, len(both), len(first))
	assert.Equal(t, first, both[:len(first)])
}
