package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"vqd/internal/detect"
	"vqd/internal/stream"
)

type streamCreateRequest struct {
	URL               string  `json:"url"`
	SampleIntervalSec float64 `json:"sample_interval_seconds,omitempty"`
	DetectIntervalSec float64 `json:"detect_interval_seconds,omitempty"`
	Level             string  `json:"level,omitempty"`
}

func (s *Server) handleStreamCreate(w http.ResponseWriter, r *http.Request) {
	var req streamCreateRequest
	if err := decodeBody(r, &req); err != nil {
		respondInvalid(w, "invalid request body: "+err.Error())
		return
	}
	if req.URL == "" {
		respondInvalid(w, "url is required")
		return
	}

	opts := stream.DefaultIngestorOptions()
	if req.SampleIntervalSec > 0 {
		opts.SampleInterval = time.Duration(req.SampleIntervalSec * float64(time.Second))
	}
	if req.DetectIntervalSec > 0 {
		opts.DetectionInterval = time.Duration(req.DetectIntervalSec * float64(time.Second))
	}
	if req.Level != "" {
		opts.Level = detect.ParseLevel(req.Level)
	}

	id, err := s.streams.Add(req.URL, opts)
	if err != nil {
		respondInvalid(w, err.Error())
		return
	}
	respondCreated(w, map[string]string{"stream_id": id})
}

func (s *Server) handleStreamList(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, s.streams.List())
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	ing, err := s.streams.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondNotFound(w, "stream not found")
		return
	}
	respondOK(w, ing.GetStatus())
}

func (s *Server) handleStreamResults(w http.ResponseWriter, r *http.Request) {
	ing, err := s.streams.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondNotFound(w, "stream not found")
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	respondOK(w, ing.GetResults(limit, r.URL.Query().Get("since")))
}

func (s *Server) handleStreamDelete(w http.ResponseWriter, r *http.Request) {
	err := s.streams.Remove(chi.URLParam(r, "id"))
	if errors.Is(err, stream.ErrNotFound) {
		respondNotFound(w, "stream not found")
		return
	}
	if err != nil {
		respondInternal(w, err.Error())
		return
	}
	respondOK(w, nil)
}
