// Package metrics exports recording session metrics to Prometheus.
package metrics

import (
	"errors"

	"github.com/alkime/mp3rec/internal/format"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics for recording sessions. It is a
// shine.Observer.
type Metrics struct {
	SessionsOpened prometheus.Counter
	SessionsActive prometheus.Gauge
	OpenFailures   *prometheus.CounterVec
	CloseFailures  prometheus.Counter

	SamplesWritten prometheus.Counter
	BytesWritten   prometheus.Counter
	FramesEncoded  prometheus.Counter
	SessionSeconds prometheus.Histogram
}

// New creates the metrics and registers them with reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		SessionsOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "mp3rec_sessions_opened_total",
			Help: "Total number of recording sessions opened",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "mp3rec_sessions_active",
			Help: "Current number of open recording sessions",
		}),
		OpenFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "mp3rec_open_failures_total",
			Help: "Total number of failed session opens by reason",
		}, []string{"reason"}),
		CloseFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "mp3rec_close_failures_total",
			Help: "Total number of sessions that closed with errors",
		}),
		SamplesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "mp3rec_samples_written_total",
			Help: "Total number of samples per channel accepted",
		}),
		BytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "mp3rec_bytes_written_total",
			Help: "Total number of encoded bytes written to sinks",
		}),
		FramesEncoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "mp3rec_frames_encoded_total",
			Help: "Total number of MPEG frames encoded",
		}),
		SessionSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "mp3rec_session_audio_seconds",
			Help:    "Audio duration of closed sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68 minutes
		}),
	}
}

func (m *Metrics) Opened(format.Info) {
	m.SessionsOpened.Inc()
	m.SessionsActive.Inc()
}

func (m *Metrics) OpenFailed(err error) {
	m.OpenFailures.WithLabelValues(Reason(err)).Inc()
}

func (m *Metrics) Written(samples int, bytes int64) {
	m.SamplesWritten.Add(float64(samples))
	m.BytesWritten.Add(float64(bytes))
}

func (m *Metrics) Closed(info format.Info, err error) {
	m.SessionsActive.Dec()
	m.FramesEncoded.Add(float64(info.Frames))

	if info.SampleRate > 0 {
		m.SessionSeconds.Observe(float64(info.Samples) / float64(info.SampleRate))
	}

	if err != nil {
		m.CloseFailures.Inc()
	}
}

// Reason maps an open error to a short label value.
func Reason(err error) string {
	switch {
	case errors.Is(err, format.ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, format.ErrUnsupportedParameter):
		return "unsupported_parameter"
	case errors.Is(err, format.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, format.ErrOutOfMemory):
		return "out_of_memory"
	case errors.Is(err, format.ErrResource):
		return "resource"
	case errors.Is(err, format.ErrClosed):
		return "closed"
	default:
		return "other"
	}
}
