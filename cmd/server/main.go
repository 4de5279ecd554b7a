package main

import (
	"log"

	"github.com/alkime/mp3rec/internal/config"
	"github.com/alkime/mp3rec/internal/format"
	"github.com/alkime/mp3rec/internal/format/shine"
	"github.com/alkime/mp3rec/internal/logger"
	"github.com/alkime/mp3rec/internal/metrics"
	"github.com/alkime/mp3rec/internal/server"
	"github.com/alkime/mp3rec/internal/workdir"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup structured logging
	logger := logger.SetupLogger(cfg)

	formatCfg, err := cfg.FormatConfig()
	if err != nil {
		log.Fatalf("Invalid encoder configuration: %v", err)
	}

	// Log startup information
	logger.Info("Starting mp3rec server",
		"env", cfg.Env,
		"port", cfg.Port,
		"recordDir", cfg.RecordDir,
		"sampleRate", formatCfg.Encoder.SampleRate,
		"bitrate", formatCfg.Encoder.Bitrate,
		"channels", formatCfg.Encoder.Channels,
		"policy", formatCfg.Encoder.Policy,
		"upmix", formatCfg.Upmix.String(),
	)

	if err := workdir.Prep(cfg.RecordDir); err != nil {
		log.Fatalf("Fatal: %v", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	registry := format.NewRegistry(logger)
	defer registry.Close()

	if _, err := shine.Register(registry, formatCfg,
		shine.WithLogger(logger),
		shine.WithObserver(m),
	); err != nil {
		log.Fatalf("Failed to register mp3 format: %v", err)
	}

	srv := server.New(cfg, logger, registry, prometheus.DefaultGatherer)
	if err := server.Run(srv); err != nil {
		logger.Error("Failed to start server", "error", err)
		log.Fatalf("Fatal: %v", err)
	}
}
