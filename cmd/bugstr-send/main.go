// bugstr-send exercises the full delivery pipeline from the command line:
// it reads a payload, runs it through chunking, rate limiting, and
// distribution against in-memory relays, and reports where every event
// landed. Useful for tuning chunk sizes and rate intervals before wiring
// real relay connectivity.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	progressbar "github.com/schollz/progressbar/v3"
	"gopkg.in/yaml.v2"

	bugstr "github.com/alltheseas/bugstr"
	"github.com/alltheseas/bugstr/pkg/logging"
	"github.com/alltheseas/bugstr/pkg/progress"
	"github.com/alltheseas/bugstr/pkg/transport"
)

const (
	logKeyConfigPath = "configPath"
	logKeyRelayCount = "relayCount"
	logKeyPayload    = "payloadBytes"
	logKeyRelay      = "relay"
	logKeyEvents     = "events"
	logKeyError      = "error"
)

func main() {
	cfg := parseFlags()

	level := slog.LevelInfo
	if cfg.debug {
		level = slog.LevelDebug
	}
	logger := logging.New(level)

	if err := run(cfg, logger); err != nil {
		logger.Error("send failed", logKeyError, err)
		os.Exit(1)
	}
}

// cliConfig holds the parsed command line configuration.
type cliConfig struct {
	configPath string
	file       string
	message    string
	debug      bool
}

func parseFlags() cliConfig {
	cfg := cliConfig{}

	flag.StringVar(&cfg.configPath, "config", "",
		"Path to YAML config file")
	flag.StringVar(&cfg.file, "file", "",
		"File whose contents become the report payload")
	flag.StringVar(&cfg.message, "message", "test crash from bugstr-send",
		"Report message (ignored when -file is set)")
	flag.BoolVar(&cfg.debug, "debug", false,
		"Enable debug logging")

	flag.Parse()

	return cfg
}

// fileConfig is the YAML configuration file format.
type fileConfig struct {
	Recipient      string   `yaml:"recipient"`
	Relays         []string `yaml:"relays"`
	Environment    string   `yaml:"environment"`
	Release        string   `yaml:"release"`
	RateIntervalMS int      `yaml:"rate_interval_ms"`
	MaxChunkSize   int      `yaml:"max_chunk_size"`
	SpoolPath      string   `yaml:"spool_path"`
}

func loadFileConfig(path string) (fileConfig, error) {
	cfg := fileConfig{
		Recipient:      "npub1demo",
		Relays:         bugstr.DefaultRelays,
		RateIntervalMS: 100,
	}
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

func run(cli cliConfig, logger *slog.Logger) error {
	cfg, err := loadFileConfig(cli.configPath)
	if err != nil {
		return err
	}

	logger.Info("starting bugstr-send",
		logKeyConfigPath, cli.configPath,
		logKeyRelayCount, len(cfg.Relays))

	relays := make([]*transport.MemoryRelay, len(cfg.Relays))
	for i, url := range cfg.Relays {
		relays[i] = transport.NewMemoryRelay(url)
	}

	var bar *progressbar.ProgressBar
	onProgress := func(ev progress.Event) {
		switch ev.Phase {
		case progress.PhasePreparing:
			bar = progressbar.Default(int64(ev.Total), "uploading chunks")
		case progress.PhaseUploading:
			if bar != nil {
				_ = bar.Set(ev.Current)
			}
		case progress.PhaseFinalizing:
			if bar != nil && ev.Fraction >= 1.0 {
				_ = bar.Finish()
			}
		}
	}

	reporter, err := bugstr.New(bugstr.Config{
		DeveloperPubkey: cfg.Recipient,
		Relays:          cfg.Relays,
		Envelope:        transport.PlainEnvelope{},
		Dialer:          transport.NewMemoryDialer(relays...),
		Environment:     cfg.Environment,
		Release:         cfg.Release,
		RateInterval:    time.Duration(cfg.RateIntervalMS) * time.Millisecond,
		MaxChunkSize:    cfg.MaxChunkSize,
		SpoolPath:       cfg.SpoolPath,
		OnProgress:      onProgress,
		Logger:          logger,
	})
	if err != nil {
		return fmt.Errorf("create reporter: %w", err)
	}
	defer reporter.Close()

	if cli.file != "" {
		payload, err := os.ReadFile(cli.file)
		if err != nil {
			return fmt.Errorf("read payload file: %w", err)
		}
		logger.Info("sending file payload", logKeyPayload, len(payload))
		reporter.CaptureMessage(string(payload))
	} else {
		reporter.CaptureMessage(cli.message)
	}

	reporter.Flush()

	for _, relay := range relays {
		logger.Info("relay state",
			logKeyRelay, relay.URL,
			logKeyEvents, len(relay.Events()))
	}
	return nil
}
