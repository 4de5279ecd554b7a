package audio

import (
	"math"
	"sync"
)

// SilenceDBFS is reported when no signal has been seen.
const SilenceDBFS = -96.0

// LevelMeter passes samples through to a stream and keeps the most recent
// ones, mixed to mono, so another goroutine can read the input level.
type LevelMeter struct {
	next SampleStream

	mu      sync.RWMutex
	history []int16
	head    int // next write position
	count   int // valid samples, up to len(history)
}

// NewLevelMeter wraps next and remembers the last capacity samples.
func NewLevelMeter(next SampleStream, capacity int) *LevelMeter {
	if capacity <= 0 {
		capacity = 1
	}

	return &LevelMeter{
		next:    next,
		history: make([]int16, capacity),
	}
}

// Write records samples and forwards them unchanged.
func (m *LevelMeter) Write(samples []int16, channels int) error {
	m.record(samples, channels)
	return m.next.Write(samples, channels)
}

func (m *LevelMeter) Close() error {
	return m.next.Close()
}

func (m *LevelMeter) record(samples []int16, channels int) {
	if channels <= 0 || len(samples) < channels {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	capacity := len(m.history)

	for i := 0; i+channels <= len(samples); i += channels {
		var sum int32
		for c := range channels {
			sum += int32(samples[i+c])
		}

		m.history[m.head] = int16(sum / int32(channels))
		m.head = (m.head + 1) % capacity

		if m.count < capacity {
			m.count++
		}
	}
}

// Recent returns up to n most recent mono samples in chronological order.
func (m *LevelMeter) Recent(n int) []int16 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.count == 0 || n <= 0 {
		return nil
	}

	n = min(n, m.count)
	capacity := len(m.history)
	start := (m.head - n + capacity) % capacity

	result := make([]int16, n)
	for i := range n {
		result[i] = m.history[(start+i)%capacity]
	}

	return result
}

// PeakDBFS returns the peak of the last n samples relative to full scale.
func (m *LevelMeter) PeakDBFS(n int) float64 {
	var peak float64
	for _, s := range m.Recent(n) {
		peak = max(peak, math.Abs(float64(s)))
	}

	if peak == 0 {
		return SilenceDBFS
	}

	return max(SilenceDBFS, 20*math.Log10(peak/32768))
}
