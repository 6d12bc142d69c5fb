package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vqd/internal/api"
	"vqd/internal/baseline"
	"vqd/internal/pipeline"
	"vqd/internal/scheduler"
	"vqd/internal/stream"
	"vqd/internal/video"
	"vqd/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the diagnosis HTTP service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log := newLogger(cfg)

		registry, err := newRegistry()
		if err != nil {
			return err
		}

		baselines, err := baseline.NewStore(cfg.Storage.DataDir, log)
		if err != nil {
			return err
		}

		hub := ws.NewHub(log)

		frameOpts := pipeline.DefaultOptions()
		frameOpts.Parallel = cfg.Parallel
		frameOpts.MaxWorkers = cfg.MaxWorkers
		frameOpts.Profile = cfg.Profile
		frameOpts.Configs = cfg.DetectorConfigs()
		framePipe := pipeline.New(registry, frameOpts, log)
		videoPipe := video.NewPipeline(video.PipelineOptions{}, log)

		streams := stream.NewService(framePipe, videoPipe, func(r stream.Result) {
			hub.BroadcastResult(ws.NewResultMessage(r))
		}, log)

		schedStore, err := scheduler.NewStore(cfg.Storage.DataDir)
		if err != nil {
			return err
		}
		sched, err := scheduler.NewService(schedStore, registry, cfg.Storage.ReportDir, log)
		if err != nil {
			return err
		}
		sched.Start()

		server := api.NewServer(cfg, registry, streams, sched, baselines, hub, log)
		httpSrv := &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           server.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			log.Info().Str("addr", httpSrv.Addr).Str("profile", cfg.Profile).Msg("http server listening")
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			log.Error().Err(err).Msg("http server failed")
			shutdown(httpSrv, streams, sched, log)
			return err
		}

		shutdown(httpSrv, streams, sched, log)
		return nil
	},
}

func shutdown(httpSrv *http.Server, streams *stream.Service, sched *scheduler.Service, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(ctx)
	streams.StopAll()
	sched.Stop()
	log.Info().Msg("shutdown complete")
}
