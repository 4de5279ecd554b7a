package audio

import (
	"errors"
	"fmt"

	"github.com/gen2brain/malgo"
)

// DefaultPacketBuffer is the number of capture packets queued before the
// device starts dropping them.
const DefaultPacketBuffer = 64

// DeviceConfig configures a capture device. Samples are always S16LE.
type DeviceConfig struct {
	SampleRate int
	Channels   int
	// PacketBuffer is the capacity of the packet channel.
	PacketBuffer int
}

// Validate returns an error if the config is invalid.
func (c DeviceConfig) Validate() error {
	if c.SampleRate <= 0 {
		return errors.New("sample rate must be positive")
	}

	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("%w: %d channels", ErrChannelLayout, c.Channels)
	}

	if c.PacketBuffer < 0 {
		return errors.New("packet buffer cannot be negative")
	}

	return nil
}

func (c DeviceConfig) malgoConfig() malgo.DeviceConfig {
	devCnf := malgo.DefaultDeviceConfig(malgo.Capture)
	devCnf.Capture.Format = malgo.FormatS16
	devCnf.Capture.Channels = uint32(c.Channels)
	devCnf.SampleRate = uint32(c.SampleRate)
	return devCnf
}
