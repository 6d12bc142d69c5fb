package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"vqd/internal/detect"
	"vqd/internal/imaging"
	"vqd/internal/pipeline"
)

var detectDetectors []string

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Diagnose a single image file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		registry, err := newRegistry()
		if err != nil {
			return err
		}

		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("read image: %w", err)
		}
		img, err := imaging.Decode(data)
		if err != nil {
			return err
		}
		defer img.Close()

		opts := pipeline.DefaultOptions()
		opts.Parallel = cfg.Parallel
		opts.MaxWorkers = cfg.MaxWorkers
		opts.Profile = cfg.Profile
		opts.Configs = cfg.DetectorConfigs()
		pl := pipeline.New(registry, opts, log)

		var names []string
		for _, n := range detectDetectors {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}

		d := pl.Diagnose(cmd.Context(), img, filepath.Base(args[0]), detect.ParseLevel(cfg.DetectionLevel), names)
		return printJSON(d)
	},
}

func init() {
	detectCmd.Flags().StringSliceVar(&detectDetectors, "detectors", nil, "explicit detector subset (default: all for the level)")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
