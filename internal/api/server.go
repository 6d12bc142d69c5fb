// Package api exposes the diagnosis platform over HTTP: one-shot frame and
// video analysis, live stream management, scheduled tasks, baselines and
// the WebSocket result feed.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"vqd/internal/baseline"
	"vqd/internal/config"
	"vqd/internal/detect"
	"vqd/internal/pipeline"
	"vqd/internal/scheduler"
	"vqd/internal/stream"
	"vqd/internal/video"
	"vqd/internal/ws"
)

// Server holds the service dependencies behind the HTTP handlers.
type Server struct {
	cfg       config.AppConfig
	registry  *detect.Registry
	streams   *stream.Service
	sched     *scheduler.Service
	baselines *baseline.Store
	hub       *ws.Hub
	wsHandler *ws.Handler
	log       zerolog.Logger

	// pipelines caches one frame pipeline per profile.
	mu        sync.Mutex
	pipelines map[string]*pipeline.Pipeline
}

// NewServer wires the handlers over the given services.
func NewServer(cfg config.AppConfig, registry *detect.Registry, streams *stream.Service, sched *scheduler.Service, baselines *baseline.Store, hub *ws.Hub, log zerolog.Logger) *Server {
	return &Server{
		cfg:       cfg,
		registry:  registry,
		streams:   streams,
		sched:     sched,
		baselines: baselines,
		hub:       hub,
		wsHandler: ws.NewHandler(hub, log),
		log:       log.With().Str("component", "api").Logger(),
		pipelines: make(map[string]*pipeline.Pipeline),
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/diagnose", s.handleDiagnose)
		r.Get("/detectors", s.handleListDetectors)
		r.Post("/video/analyze", s.handleVideoAnalyze)

		r.Route("/streams", func(r chi.Router) {
			r.Post("/", s.handleStreamCreate)
			r.Get("/", s.handleStreamList)
			r.Get("/{id}", s.handleStreamStatus)
			r.Get("/{id}/results", s.handleStreamResults)
			r.Delete("/{id}", s.handleStreamDelete)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleTaskCreate)
			r.Get("/", s.handleTaskList)
			r.Get("/{id}", s.handleTaskGet)
			r.Put("/{id}", s.handleTaskUpdate)
			r.Delete("/{id}", s.handleTaskDelete)
			r.Post("/{id}/enable", s.handleTaskEnable)
			r.Post("/{id}/disable", s.handleTaskDisable)
			r.Post("/{id}/run", s.handleTaskRun)
		})
		r.Get("/executions", s.handleExecutionList)
		r.Get("/executions/{id}", s.handleExecutionGet)

		r.Route("/baselines", func(r chi.Router) {
			r.Post("/", s.handleBaselineCreate)
			r.Get("/", s.handleBaselineList)
			r.Get("/{id}", s.handleBaselineGet)
			r.Patch("/{id}", s.handleBaselineUpdate)
			r.Delete("/{id}", s.handleBaselineDelete)
			r.Post("/{id}/compare", s.handleBaselineCompare)
		})

		r.Get("/reports", s.handleReportList)
		r.Get("/reports/{name}", s.handleReportDownload)
	})

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ws/streams/{id}", s.wsHandler.ServeHTTP)

	return r
}

// pipelineFor returns the cached frame pipeline for a profile, building it
// on first use. Unknown profiles fall back to the configured default.
func (s *Server) pipelineFor(profile string) *pipeline.Pipeline {
	if !config.ValidProfile(profile) {
		profile = s.cfg.Profile
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.pipelines[profile]; ok {
		return p
	}

	opts := pipeline.DefaultOptions()
	opts.Parallel = s.cfg.Parallel
	opts.MaxWorkers = s.cfg.MaxWorkers
	opts.Profile = profile
	opts.Configs = config.MergeOverrides(config.ProfileConfigs(profile), s.cfg.CustomThresholds)

	p := pipeline.New(s.registry, opts, s.log)
	s.pipelines[profile] = p
	return p
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, map[string]any{
		"status":        "ok",
		"streams":       len(s.streams.List()),
		"ws_clients":    s.hub.ClientCount(),
		"detector_kits": s.registry.Names(),
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

// videoPipeline builds a video pipeline for one request's sampler options.
func (s *Server) videoPipeline(opts video.SamplerOptions) *video.Pipeline {
	return video.NewPipeline(video.PipelineOptions{Sampler: opts}, s.log)
}
