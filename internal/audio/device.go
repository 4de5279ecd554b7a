package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// DataPacket is one callback's worth of captured S16LE bytes.
type DataPacket = []byte

// Device captures audio from the default input device.
type Device interface {
	// Capture allocates the device and returns the channel captured packets
	// are delivered on once Start is called. The channel is closed by Close.
	Capture(ctx context.Context) (<-chan DataPacket, error)
	Start(ctx context.Context) error
	// Stop stops the device. It is a no-op if the device was never captured.
	Stop(ctx context.Context) error
	IsStarted() bool
	// Dropped returns the number of packets dropped because the channel
	// was full.
	Dropped() int64
	// Close frees the device and closes the packet channel.
	Close()
}

type device struct {
	conf   DeviceConfig
	logger *slog.Logger

	mu       sync.Mutex
	mgCtx    *malgo.AllocatedContext
	mgDevice *malgo.Device
	dataC    chan DataPacket
	dropped  atomic.Int64
}

// NewDevice returns a capture device. A nil logger uses slog.Default().
func NewDevice(conf DeviceConfig, logger *slog.Logger) (Device, error) {
	if err := conf.Validate(); err != nil {
		return nil, fmt.Errorf("invalid device config: %w", err)
	}

	if conf.PacketBuffer == 0 {
		conf.PacketBuffer = DefaultPacketBuffer
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &device{conf: conf, logger: logger}, nil
}

func (d *device) Capture(ctx context.Context) (<-chan DataPacket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mgDevice != nil {
		return nil, errors.New("device already captured")
	}

	mgCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}

	dataC := make(chan DataPacket, d.conf.PacketBuffer)

	callBacks := malgo.DeviceCallbacks{
		Data: func(_, samples []byte, _ uint32) {
			// malgo reuses the buffer after the callback returns
			packet := make([]byte, len(samples))
			copy(packet, samples)

			select {
			case dataC <- packet:
			default:
				d.dropped.Add(1)
			}
		},
	}

	mgDevice, err := malgo.InitDevice(mgCtx.Context, d.conf.malgoConfig(), callBacks)
	if err != nil {
		uninitializeContext(mgCtx)
		return nil, fmt.Errorf("failed to initialize malgo device: %w", err)
	}

	d.mgCtx, d.mgDevice, d.dataC = mgCtx, mgDevice, dataC

	d.logger.Debug("capture device allocated",
		"sampleRate", d.conf.SampleRate,
		"channels", d.conf.Channels)

	return dataC, nil
}

func (d *device) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mgDevice == nil {
		return errors.New("device nil. have you Capture()ed it?")
	}

	if d.mgDevice.IsStarted() {
		return nil
	}

	if err := d.mgDevice.Start(); err != nil {
		return fmt.Errorf("failed to start malgo device: %w", err)
	}

	return nil
}

func (d *device) Stop(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mgDevice == nil {
		return nil
	}

	if err := d.mgDevice.Stop(); err != nil {
		return fmt.Errorf("failed to stop malgo device: %w", err)
	}

	return nil
}

func (d *device) IsStarted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.mgDevice != nil && d.mgDevice.IsStarted()
}

func (d *device) Dropped() int64 { return d.dropped.Load() }

func (d *device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mgDevice == nil {
		return
	}

	// Uninit stops the device, so no callback runs after it returns.
	d.mgDevice.Uninit()
	uninitializeContext(d.mgCtx)
	close(d.dataC)

	if n := d.dropped.Load(); n > 0 {
		d.logger.Warn("capture packets dropped", "count", n)
	}

	d.mgDevice, d.mgCtx, d.dataC = nil, nil, nil
}

// Info describes a capture device.
type Info struct {
	Name      string
	IsDefault bool
	Formats   []string
}

// ListCaptureDevices enumerates the capture devices of the default backend.
func ListCaptureDevices() ([]Info, error) {
	devCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	defer uninitializeContext(devCtx)

	captureDevices, err := devCtx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to get capture devices: %w", err)
	}

	infos := make([]Info, 0, len(captureDevices))
	for _, mdi := range captureDevices {
		infos = append(infos, deviceInfo(mdi))
	}

	return infos, nil
}

func deviceInfo(mdi malgo.DeviceInfo) Info {
	formats := make([]string, len(mdi.Formats))
	for i, mf := range mdi.Formats {
		formats[i] = fmt.Sprintf("%d-bit %dch %dHz",
			8*malgo.SampleSizeInBytes(mf.Format),
			mf.Channels, mf.SampleRate)
	}

	return Info{
		Name:      mdi.Name(),
		IsDefault: mdi.IsDefault != 0,
		Formats:   formats,
	}
}

func uninitializeContext(deviceCtx *malgo.AllocatedContext) {
	if deviceCtx == nil {
		return
	}

	if err := deviceCtx.Uninit(); err != nil {
		slog.Error("failed to uninitialize malgo context", "error", err)
	}
	deviceCtx.Free()
}
