package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/alkime/mp3rec/internal/audio"
	"github.com/alkime/mp3rec/internal/format"
	"github.com/alkime/mp3rec/internal/format/shine"
	"github.com/alkime/mp3rec/internal/logger"
	"github.com/alkime/mp3rec/internal/mp3"
)

// CLI defines the mp3rec command structure.
type CLI struct {
	Verbose bool `flag:"" short:"v" help:"Enable debug logging"`

	Encode  EncodeCmd  `cmd:"" help:"Encode a WAV, MP3, Ogg Vorbis or AIFF file to MP3"`
	Record  RecordCmd  `cmd:"" help:"Record from the default microphone to MP3"`
	Devices DevicesCmd `cmd:"" help:"List available capture devices"`
	Formats FormatsCmd `cmd:"" help:"List registered output formats"`
}

// EncoderFlags configure the output encoder. Each can also be set from the
// environment.
type EncoderFlags struct {
	SampleRate int      `flag:"" name:"sample-rate" env:"MP3_SAMPLE_RATE" default:"32000" help:"Output sample rate in Hz"`
	Bitrate    int      `flag:"" env:"MP3_BITRATE" default:"48" help:"Output bitrate in kbps"`
	Channels   int      `flag:"" env:"MP3_CHANNELS" default:"2" help:"Output channels (1 or 2)"`
	Policy     string   `flag:"" env:"MP3_POLICY" default:"warn" enum:"warn,reject" help:"Unsupported rate/bitrate policy"`
	Upmix      string   `flag:"" env:"MP3_UPMIX" default:"silence" enum:"silence,duplicate" help:"Second channel for mono input"`
	Extensions []string `flag:"" env:"MP3_EXTENSIONS" default:"mp3" help:"Extensions claimed by the MP3 format"`
}

func (f EncoderFlags) formatConfig() (shine.Config, error) {
	policy, err := mp3.ParsePolicy(f.Policy)
	if err != nil {
		return shine.Config{}, err
	}

	upmix, err := audio.ParseUpmixMode(f.Upmix)
	if err != nil {
		return shine.Config{}, err
	}

	return shine.Config{
		Encoder: mp3.EncoderConfig{
			SampleRate: f.SampleRate,
			Bitrate:    f.Bitrate,
			Channels:   f.Channels,
			Policy:     policy,
		},
		Upmix:      upmix,
		Extensions: f.Extensions,
	}, nil
}

// newRegistry registers the MP3 format. The caller closes the registry.
func (f EncoderFlags) newRegistry(logger *slog.Logger) (*format.Registry, error) {
	cfg, err := f.formatConfig()
	if err != nil {
		return nil, fmt.Errorf("invalid encoder flags: %w", err)
	}

	reg := format.NewRegistry(logger)
	if _, err := shine.Register(reg, cfg, shine.WithLogger(logger)); err != nil {
		return nil, fmt.Errorf("failed to register mp3 format: %w", err)
	}

	return reg, nil
}

// writeFlags maps --append/--overwrite to open flags.
func writeFlags(appendMode, overwrite bool) format.Flags {
	flags := format.FlagWrite
	if appendMode {
		flags |= format.FlagAppend
	}
	if overwrite {
		flags |= format.FlagOverwrite
	}
	return flags
}

// EncodeCmd transcodes an audio file.
type EncodeCmd struct {
	Input     string `arg:"" type:"existingfile" help:"Input audio file"`
	Output    string `arg:"" help:"Output MP3 file"`
	Append    bool   `flag:"" xor:"mode" help:"Append to an existing file"`
	Overwrite bool   `flag:"" xor:"mode" help:"Write over an existing file without truncating it"`

	EncoderFlags `embed:""`
}

// Run executes the encode command.
func (c *EncodeCmd) Run(logger *slog.Logger) error {
	reg, err := c.newRegistry(logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	src, err := audio.DecodeFile(c.Input, c.SampleRate)
	if err != nil {
		return err
	}
	defer src.Close()

	logger.Debug("decoded input",
		"input", c.Input,
		"inputRate", src.InputRate(),
		"inputChannels", src.InputChannels(),
		"sampleRate", src.SampleRate())

	h, err := reg.Open(c.Output, writeFlags(c.Append, c.Overwrite))
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}

	start := time.Now()
	samples, streamErr := src.Stream(h, 0)
	closeErr := h.Close()

	if err := errors.Join(streamErr, closeErr); err != nil {
		return fmt.Errorf("failed to encode %s: %w", c.Input, err)
	}

	info := h.Info()
	logger.Info("encoding complete",
		"output", c.Output,
		"samples", samples,
		"frames", info.Frames,
		"bytes", info.Bytes,
		"duration", time.Since(start).Round(time.Millisecond))

	return nil
}

// RecordCmd records from the microphone.
type RecordCmd struct {
	Output    string        `arg:"" help:"Output MP3 file"`
	Duration  time.Duration `flag:"" short:"d" default:"0s" help:"Stop after this long (0 records until interrupted)"`
	Append    bool          `flag:"" xor:"mode" help:"Append to an existing file"`
	Overwrite bool          `flag:"" xor:"mode" help:"Write over an existing file without truncating it"`

	EncoderFlags `embed:""`
}

// Run executes the record command.
func (c *RecordCmd) Run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Duration)
		defer cancel()
	}

	reg, err := c.newRegistry(logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	dev, err := audio.NewDevice(audio.DeviceConfig{
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
	}, logger)
	if err != nil {
		return err
	}

	dataC, err := dev.Capture(ctx)
	if err != nil {
		return fmt.Errorf("failed to start audio capture: %w", err)
	}

	// always release the device; this also closes dataC
	defer func() {
		dev.Close()
		logger.Debug("Audio device deallocated")
	}()

	h, err := reg.Open(c.Output, writeFlags(c.Append, c.Overwrite))
	if err != nil {
		return fmt.Errorf("failed to open output: %w", err)
	}

	// one second of history for the level readout
	meter := audio.NewLevelMeter(h, c.SampleRate)

	pump, err := audio.NewPump(c.Channels, dataC, meter, logger)
	if err != nil {
		h.Close()
		return err
	}

	// the pump drains until dataC closes, so it must outlive ctx
	if err := pump.Start(context.WithoutCancel(ctx)); err != nil {
		h.Close()
		return err
	}

	if err := dev.Start(ctx); err != nil {
		dev.Close()
		pump.Wait()
		return err
	}

	logger.Info("recording", "output", c.Output, "duration", c.Duration)
	c.reportLevels(ctx, meter, logger)

	if err := dev.Stop(ctx); err != nil {
		logger.Error("Failed to stop audio device", "error", err)
	}
	dev.Close()

	if err := pump.Wait(); err != nil {
		return fmt.Errorf("recording failed: %w", err)
	}

	info := h.Info()
	logger.Info("recording complete",
		"output", c.Output,
		"bytesCaptured", pump.BytesRead(),
		"samples", info.Samples,
		"frames", info.Frames,
		"dropped", dev.Dropped())

	return nil
}

// reportLevels logs the input peak once a second until ctx is done.
func (c *RecordCmd) reportLevels(ctx context.Context, meter *audio.LevelMeter, logger *slog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Debug("input level", "peakDBFS", fmt.Sprintf("%.1f", meter.PeakDBFS(c.SampleRate)))
		}
	}
}

// DevicesCmd lists available capture devices.
type DevicesCmd struct{}

// Run executes the devices command.
func (dcmd *DevicesCmd) Run(logger *slog.Logger) error {
	logger.Info("Enumerating audio devices...")

	devices, err := audio.ListCaptureDevices()
	if err != nil {
		return fmt.Errorf("failed to enumerate audio devices: %w", err)
	}

	for _, dev := range devices {
		logger.Info("Audio Device",
			"name", dev.Name,
			"isDefault", dev.IsDefault,
			"formats", dev.Formats,
		)
	}

	return nil
}

// FormatsCmd lists output formats and supported inputs.
type FormatsCmd struct {
	EncoderFlags `embed:""`
}

// Run executes the formats command.
func (c *FormatsCmd) Run(logger *slog.Logger) error {
	reg, err := c.newRegistry(logger)
	if err != nil {
		return err
	}
	defer reg.Close()

	for _, d := range reg.Formats() {
		fmt.Printf("%s: %s\n", d.Name, strings.Join(d.Extensions, ", "))
	}
	fmt.Printf("inputs: %s\n", strings.Join(audio.InputExtensions, ", "))

	return nil
}

func main() {
	cli := &CLI{} //nolint:exhaustruct // Kong fills in command fields
	ctx := kong.Parse(cli,
		kong.Name("mp3rec"),
		kong.Description("Record and encode audio to MP3."),
		kong.UsageOnError(),
	)

	// Set up text-based logger for CLI output
	log := logger.SetupCLILogger(os.Stderr, cli.Verbose)

	err := ctx.Run(log)
	ctx.FatalIfErrorf(err)
	os.Exit(0)
}
