package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// SampleWriter accepts interleaved samples. format.Handle satisfies it.
type SampleWriter interface {
	Write(samples []int16, channels int) error
}

// BytesToInt16 converts S16LE (signed 16-bit little-endian) bytes to int16 samples.
func BytesToInt16(data []byte) []int16 {
	numSamples := len(data) / 2
	if numSamples == 0 {
		return nil
	}

	samples := make([]int16, numSamples)

	for i := 0; i < numSamples; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}

	return samples
}

// PCMDecoder converts a stream of S16LE byte chunks into whole sample
// frames. Bytes that do not complete a frame are carried into the next chunk.
type PCMDecoder struct {
	channels int
	carry    []byte
}

// NewPCMDecoder creates a decoder for interleaved audio with the given
// channel count.
func NewPCMDecoder(channels int) *PCMDecoder {
	return &PCMDecoder{channels: channels}
}

// Decode returns the complete frames available after appending chunk.
func (d *PCMDecoder) Decode(chunk []byte) []int16 {
	data := chunk
	if len(d.carry) > 0 {
		data = append(d.carry, chunk...)
	}

	frameBytes := 2 * d.channels
	whole := len(data) - len(data)%frameBytes

	// copy the remainder out; data may alias the caller's chunk
	d.carry = append(d.carry[:0:0], data[whole:]...)

	return BytesToInt16(data[:whole])
}

// Pending returns the number of carried bytes.
func (d *PCMDecoder) Pending() int { return len(d.carry) }

// CopyPCM reads S16LE audio from r until EOF and writes it to w. It returns
// the number of bytes read. A trailing partial frame is dropped.
func CopyPCM(w SampleWriter, r io.Reader, channels, bufSize int) (int64, error) {
	if channels != 1 && channels != 2 {
		return 0, fmt.Errorf("%w: %d channels", ErrChannelLayout, channels)
	}

	if bufSize <= 0 {
		bufSize = 4096
	}

	dec := NewPCMDecoder(channels)
	buf := make([]byte, bufSize)

	var total int64

	for {
		n, err := r.Read(buf)
		if n > 0 {
			total += int64(n)
			if samples := dec.Decode(buf[:n]); len(samples) > 0 {
				if werr := w.Write(samples, channels); werr != nil {
					return total, werr
				}
			}
		}

		if errors.Is(err, io.EOF) {
			return total, nil
		}

		if err != nil {
			return total, fmt.Errorf("failed to read PCM data: %w", err)
		}
	}
}
