// Package shine is the MP3 file format. It encodes recorded audio with the
// shine fixed-point encoder and writes the frames to a file sink.
package shine

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/alkime/mp3rec/internal/audio"
	"github.com/alkime/mp3rec/internal/format"
	"github.com/alkime/mp3rec/internal/mp3"
	"github.com/alkime/mp3rec/internal/sink"
)

// Name is the format name reported to the registry.
const Name = "shine"

// DefaultExtensions are claimed when Config.Extensions is empty.
var DefaultExtensions = []string{"mp3"}

// Config configures every session the format opens.
type Config struct {
	Encoder    mp3.EncoderConfig
	Upmix      audio.UpmixMode
	Extensions []string
}

// EncoderFactory creates the encoder for a new session.
type EncoderFactory func(cfg mp3.EncoderConfig, logger *slog.Logger) (mp3.Encoder, error)

// Observer is told about session lifecycle events.
type Observer interface {
	Opened(info format.Info)
	OpenFailed(err error)
	Written(samples int, bytes int64)
	Closed(info format.Info, err error)
}

type nopObserver struct{}

func (nopObserver) Opened(format.Info)        {}
func (nopObserver) OpenFailed(error)          {}
func (nopObserver) Written(int, int64)        {}
func (nopObserver) Closed(format.Info, error) {}

// Option configures a Format.
type Option func(*Format)

// WithLogger sets the logger sessions log to.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Format) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithObserver reports session events to o.
func WithObserver(o Observer) Option {
	return func(f *Format) {
		if o != nil {
			f.observer = o
		}
	}
}

// WithEncoderFactory replaces the shine encoder.
func WithEncoderFactory(fn EncoderFactory) Option {
	return func(f *Format) {
		if fn != nil {
			f.newEncoder = fn
		}
	}
}

// WithSinkOpener replaces the file sink.
func WithSinkOpener(fn sink.Opener) Option {
	return func(f *Format) {
		if fn != nil {
			f.openSink = fn
		}
	}
}

// Format is the MP3 format.Format.
type Format struct {
	cfg  Config
	exts []string

	logger     *slog.Logger
	observer   Observer
	newEncoder EncoderFactory
	openSink   sink.Opener

	closed atomic.Bool
}

var _ format.Format = (*Format)(nil)

func newShineEncoder(cfg mp3.EncoderConfig, logger *slog.Logger) (mp3.Encoder, error) {
	enc, err := mp3.NewShineEncoder(cfg, logger)
	if err != nil {
		return nil, err
	}
	return enc, nil
}

// New creates the format. Zero encoder fields take the encoder defaults.
func New(cfg Config, opts ...Option) (*Format, error) {
	cfg.Encoder = cfg.Encoder.WithDefaults()
	if err := cfg.Encoder.Validate(); err != nil {
		return nil, fmt.Errorf("invalid encoder config: %w", err)
	}

	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = DefaultExtensions
	}

	normalized := make([]string, 0, len(exts))
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext == "" {
			return nil, fmt.Errorf("%w: empty extension", format.ErrInvalidPath)
		}
		if !slices.Contains(normalized, ext) {
			normalized = append(normalized, ext)
		}
	}
	cfg.Extensions = normalized

	f := &Format{
		cfg:        cfg,
		exts:       normalized,
		logger:     slog.Default(),
		observer:   nopObserver{},
		newEncoder: newShineEncoder,
		openSink:   sink.OpenSink,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f, nil
}

// Register creates the format and adds it to reg.
func Register(reg *format.Registry, cfg Config, opts ...Option) (*Format, error) {
	f, err := New(cfg, opts...)
	if err != nil {
		return nil, err
	}

	if err := reg.Register(f); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *Format) Name() string { return Name }

// Extensions returns a copy of the extensions the format claims.
func (f *Format) Extensions() []string { return slices.Clone(f.exts) }

// Config returns the configuration sessions are opened with.
func (f *Format) Config() Config {
	cfg := f.cfg
	cfg.Extensions = slices.Clone(f.exts)
	return cfg
}

// Open starts an encode session writing to path. Only write opens are
// supported.
func (f *Format) Open(path string, flags format.Flags) (format.Handle, error) {
	h, err := f.open(path, flags)
	if err != nil {
		f.observer.OpenFailed(err)
		f.logger.Error("failed to open file", "path", path, "flags", flags.String(), "error", err)
		return nil, err
	}

	f.observer.Opened(h.Info())
	f.logger.Info("opening file", "path", path, "sampleRate", h.enc.SampleRate(), "flags", flags.String())

	return h, nil
}

func (f *Format) open(path string, flags format.Flags) (*session, error) {
	if f.closed.Load() {
		return nil, format.ErrClosed
	}

	if format.Ext(path) == "" {
		return nil, fmt.Errorf("%w: %q has no extension", format.ErrInvalidPath, path)
	}

	if !flags.Has(format.FlagWrite) {
		return nil, fmt.Errorf("%w: %s open, streams are write-only", format.ErrUnsupported, flags)
	}

	out, err := f.openSink(path, flags)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", format.ErrResource, err)
	}

	enc, err := f.newEncoder(f.cfg.Encoder, f.logger)
	if err != nil {
		out.Close()
		return nil, fmt.Errorf("%w: %w", format.ErrUnsupportedParameter, err)
	}

	counter := &countingWriter{w: out}

	acc, err := audio.NewFrameAccumulator(enc, counter, enc.Channels(), enc.FrameLength(), f.cfg.Upmix)
	if err != nil {
		out.Close()
		enc.Close()

		if errors.Is(err, audio.ErrBufferSize) {
			return nil, fmt.Errorf("%w: %w", format.ErrOutOfMemory, err)
		}
		return nil, fmt.Errorf("%w: %w", format.ErrUnsupportedParameter, err)
	}

	return &session{
		logger:   f.logger.With("path", path),
		observer: f.observer,
		sink:     out,
		enc:      enc,
		out:      counter,
		acc:      acc,
	}, nil
}

// Close stops the format from opening new sessions. Open sessions are not
// affected.
func (f *Format) Close() error {
	if f.closed.Swap(true) {
		return nil
	}

	f.logger.Debug("format unloaded", "format", Name)
	return nil
}
