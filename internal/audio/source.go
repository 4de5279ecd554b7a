package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	pbxaudio "github.com/ik5/audpbx/audio"
	"github.com/ik5/audpbx/formats/aiff"
	"github.com/ik5/audpbx/formats/mp3"
	"github.com/ik5/audpbx/formats/vorbis"
	"github.com/ik5/audpbx/formats/wav"
	"github.com/ik5/audpbx/utils"
)

// ErrUnknownInput is returned when no decoder handles an input extension.
var ErrUnknownInput = errors.New("unsupported input format")

// InputExtensions lists the extensions DecodeFile understands.
var InputExtensions = []string{"wav", "mp3", "ogg", "oga", "aiff", "aif"}

// NewDecoderRegistry returns the input decoders keyed by extension.
func NewDecoderRegistry() *pbxaudio.Registry {
	reg := pbxaudio.NewRegistry()
	reg.Register("wav", wav.Decoder{})
	reg.Register("mp3", mp3.Decoder{})
	reg.Register("ogg", vorbis.Decoder{})
	reg.Register("oga", vorbis.Decoder{})
	reg.Register("aiff", aiff.Decoder{})
	reg.Register("aif", aiff.Decoder{})
	return reg
}

// Source is a decoded input stream of at most two channels.
type Source struct {
	src  pbxaudio.Source
	file io.Closer

	inputRate     int
	inputChannels int
}

// DecodeFile opens and decodes path. The stream is resampled to sampleRate
// when it differs from the input rate, and mixed down to mono when the input
// has more than two channels.
func DecodeFile(path string, sampleRate int) (*Source, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	dec, ok := NewDecoderRegistry().Get(ext)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownInput, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input %s: %w", path, err)
	}

	src, err := NewSource(dec, f, sampleRate)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	src.file = f

	return src, nil
}

// NewSource decodes r with dec and adapts it like DecodeFile.
func NewSource(dec pbxaudio.Decoder, r io.Reader, sampleRate int) (*Source, error) {
	src, err := dec.Decode(r)
	if err != nil {
		return nil, err
	}

	s := &Source{
		inputRate:     src.SampleRate(),
		inputChannels: src.Channels(),
	}

	if s.inputChannels <= 0 || s.inputRate <= 0 {
		src.Close()
		return nil, fmt.Errorf("%w: %d channels at %d Hz", ErrChannelLayout, s.inputChannels, s.inputRate)
	}

	if sampleRate > 0 && sampleRate != s.inputRate {
		src = pbxaudio.NewResampler(src, sampleRate)
	}

	if s.inputChannels > 2 {
		src = pbxaudio.NewMonoMixer(src)
	}

	s.src = src
	return s, nil
}

func (s *Source) SampleRate() int    { return s.src.SampleRate() }
func (s *Source) Channels() int      { return s.src.Channels() }
func (s *Source) InputRate() int     { return s.inputRate }
func (s *Source) InputChannels() int { return s.inputChannels }

// Close closes the decoder and the underlying file.
func (s *Source) Close() error {
	err := s.src.Close()
	if s.file != nil {
		err = errors.Join(err, s.file.Close())
	}
	return err
}

// Stream decodes the whole source into w as interleaved 16-bit samples and
// returns the number of samples per channel written.
func (s *Source) Stream(w SampleWriter, bufSize int) (int64, error) {
	channels := s.Channels()

	if bufSize <= 0 {
		bufSize = 4096
	}
	bufSize -= bufSize % channels
	if bufSize == 0 {
		bufSize = channels
	}

	buf := make([]float32, bufSize)
	pcm := make([]int16, bufSize)

	var total int64

	for {
		n, err := s.src.ReadSamples(buf)
		n -= n % channels

		if n > 0 {
			for i, v := range buf[:n] {
				pcm[i] = utils.Float32ToInt16(v)
			}

			if werr := w.Write(pcm[:n], channels); werr != nil {
				return total, werr
			}
			total += int64(n / channels)
		}

		if errors.Is(err, io.EOF) {
			return total, nil
		}

		if err != nil {
			return total, fmt.Errorf("failed to read samples: %w", err)
		}
	}
}
