package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// SampleStream is a sample writer that must be closed once the input ends.
type SampleStream interface {
	SampleWriter
	io.Closer
}

// Pump reads raw PCM bytes from a channel and streams them into an open
// audio stream. The stream is closed when the input channel is closed or the
// context is cancelled.
//
// The pump runs in a goroutine; it is the only caller of the stream while
// running.
type Pump struct {
	channels int
	input    <-chan []byte
	output   SampleStream
	logger   *slog.Logger

	started   atomic.Bool
	bytesRead atomic.Int64

	wg      sync.WaitGroup
	errOnce sync.Once
	err     error
}

// NewPump creates a pump for S16LE audio with the given channel count.
//
// Parameters:
//   - channels: Channels interleaved in the input (1 or 2)
//   - input: Channel of raw PCM bytes (S16LE format)
//   - output: Stream the samples are written to; closed by the pump
//
// Returns error if parameters are invalid.
func NewPump(channels int, input <-chan []byte, output SampleStream, logger *slog.Logger) (*Pump, error) {
	if input == nil {
		return nil, errors.New("input channel cannot be nil")
	}

	if output == nil {
		return nil, errors.New("output stream cannot be nil")
	}

	if channels != 1 && channels != 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrChannelLayout, channels)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Pump{ //nolint:exhaustruct // wg, errOnce, err initialized on Start()
		channels: channels,
		input:    input,
		output:   output,
		logger:   logger,
	}, nil
}

// Start begins the pumping goroutine. Returns error if already started.
func (p *Pump) Start(ctx context.Context) error {
	if !p.started.CompareAndSwap(false, true) {
		return errors.New("pump already started")
	}

	dec := NewPCMDecoder(p.channels)

	p.wg.Go(func() {
		defer func() {
			if pending := dec.Pending(); pending > 0 {
				p.logger.Debug("dropping partial sample frame", "bytes", pending)
			}

			if err := p.output.Close(); err != nil {
				p.setError(fmt.Errorf("failed to close stream: %w", err))
			}
		}()

		for {
			select {
			case data, ok := <-p.input:
				if !ok {
					return
				}

				p.bytesRead.Add(int64(len(data)))

				samples := dec.Decode(data)
				if len(samples) == 0 {
					continue
				}

				if err := p.output.Write(samples, p.channels); err != nil {
					p.setError(fmt.Errorf("failed to write samples: %w", err))
					return
				}

			case <-ctx.Done():
				p.setError(fmt.Errorf("pump context cancelled: %w", ctx.Err()))
				return
			}
		}
	})

	return nil
}

// Wait blocks until the stream is closed and returns the first error that
// occurred.
func (p *Pump) Wait() error {
	p.wg.Wait()

	return p.err
}

// BytesRead returns the number of PCM bytes taken from the input channel.
// This method is safe to call concurrently.
func (p *Pump) BytesRead() int64 {
	return p.bytesRead.Load()
}

// setError records the first error that occurs (subsequent calls are no-ops).
func (p *Pump) setError(err error) {
	p.errOnce.Do(func() {
		p.err = err
		p.logger.Debug("pump error", "error", err)
	})
}
