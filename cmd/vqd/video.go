package main

import (
	"github.com/spf13/cobra"

	"vqd/internal/video"
)

var (
	videoStrategy  string
	videoInterval  float64
	videoMaxFrames int
)

var videoCmd = &cobra.Command{
	Use:   "video <file>",
	Short: "Analyze a video file for temporal defects",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		opts := video.DefaultSamplerOptions()
		if videoStrategy != "" {
			opts.Strategy = video.Strategy(videoStrategy)
		}
		if videoInterval > 0 {
			opts.IntervalSec = videoInterval
		}
		if videoMaxFrames > 0 {
			opts.MaxFrames = videoMaxFrames
		}

		pl := video.NewPipeline(video.PipelineOptions{Sampler: opts}, log)
		d, err := pl.Analyze(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(d)
	},
}

func init() {
	videoCmd.Flags().StringVar(&videoStrategy, "strategy", "", "sampling strategy: all, interval, scene or hybrid")
	videoCmd.Flags().Float64Var(&videoInterval, "interval", 0, "sampling interval in seconds")
	videoCmd.Flags().IntVar(&videoMaxFrames, "max-frames", 0, "sampled frame cap")
}
