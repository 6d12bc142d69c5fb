package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vqd/internal/detect"
	"vqd/internal/pipeline"
	"vqd/internal/stream"
	"vqd/internal/video"
)

var streamDuration time.Duration

var streamCmd = &cobra.Command{
	Use:   "stream <url>",
	Short: "Monitor a live RTSP/RTMP stream, printing each diagnosis",
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

		frameOpts := pipeline.DefaultOptions()
		frameOpts.Profile = cfg.Profile
		frameOpts.Configs = cfg.DetectorConfigs()
		framePipe := pipeline.New(registry, frameOpts, log)
		videoPipe := video.NewPipeline(video.PipelineOptions{}, log)

		svc := stream.NewService(framePipe, videoPipe, func(r stream.Result) {
			_ = printJSON(r)
		}, log)

		opts := stream.DefaultIngestorOptions()
		opts.Level = detect.ParseLevel(cfg.DetectionLevel)
		id, err := svc.Add(args[0], opts)
		if err != nil {
			return err
		}
		log.Info().Str("stream_id", id).Str("url", args[0]).Msg("monitoring stream")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		if streamDuration > 0 {
			select {
			case <-sigCh:
			case <-time.After(streamDuration):
			}
		} else {
			<-sigCh
		}

		svc.StopAll()
		return nil
	},
}

func init() {
	streamCmd.Flags().DurationVar(&streamDuration, "duration", 0, "stop after this long (default: run until interrupted)")
}
