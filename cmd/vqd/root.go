package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vqd/internal/config"
	"vqd/internal/detect"
	"vqd/internal/detect/detectors"
)

var (
	flagConfig    string
	flagProfile   string
	flagLevel     string
	flagLogLevel  string
	flagLogFormat string
)

var rootCmd = &cobra.Command{
	Use:           "vqd",
	Short:         "Video and image quality diagnosis",
	Long:          "vqd analyzes frames, video files and live streams for quality defects: blur, exposure, noise, color casts, signal loss, freezes, scene cuts and camera shake.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "detection profile: strict, normal or loose")
	rootCmd.PersistentFlags().StringVar(&flagLevel, "level", "", "detection level: fast, standard or deep")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level override")
	rootCmd.PersistentFlags().StringVar(&flagLogFormat, "log-format", "", "log format: json or console")

	rootCmd.AddCommand(serveCmd, detectCmd, videoCmd, streamCmd, batchCmd)
}

// loadConfig resolves the effective configuration: file, environment, then
// command-line flags.
func loadConfig() (config.AppConfig, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return cfg, err
	}
	if flagProfile != "" {
		cfg.Profile = flagProfile
	}
	if flagLevel != "" {
		cfg.DetectionLevel = flagLevel
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.Log.Format = flagLogFormat
	}
	return cfg, nil
}

func newLogger(cfg config.AppConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Log.Format == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func newRegistry() (*detect.Registry, error) {
	r := detect.NewRegistry()
	if err := detectors.RegisterAll(r); err != nil {
		return nil, err
	}
	return r, nil
}
