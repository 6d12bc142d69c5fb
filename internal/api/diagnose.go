package api

import (
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"vqd/internal/detect"
	"vqd/internal/imaging"
	"vqd/internal/video"
)

// maxUploadBytes bounds a single image upload.
const maxUploadBytes = 32 << 20

// handleDiagnose analyzes one uploaded frame. Multipart fields: "image"
// (required), "image_id", "level", "profile", "detectors" (comma separated).
func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		respondInvalid(w, "expected multipart form with an image field")
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		respondInvalid(w, "image field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		respondInternal(w, "could not read upload")
		return
	}

	img, err := imaging.Decode(data)
	if err != nil {
		respondInvalid(w, err.Error())
		return
	}
	defer img.Close()

	imageID := r.FormValue("image_id")
	if imageID == "" {
		imageID = uuid.NewString()[:8]
	}
	level := detect.ParseLevel(r.FormValue("level"))
	var detectors []string
	if v := strings.TrimSpace(r.FormValue("detectors")); v != "" {
		detectors = strings.Split(v, ",")
	}

	pl := s.pipelineFor(r.FormValue("profile"))
	d := pl.Diagnose(r.Context(), img, imageID, level, detectors)
	respondOK(w, d)
}

// handleListDetectors reports every registered detector's metadata.
func (s *Server) handleListDetectors(w http.ResponseWriter, _ *http.Request) {
	metas, err := s.registry.List()
	if err != nil {
		respondInternal(w, err.Error())
		return
	}
	respondOK(w, metas)
}

type videoAnalyzeRequest struct {
	Path           string  `json:"path"`
	Strategy       string  `json:"strategy,omitempty"`
	IntervalSec    float64 `json:"interval_seconds,omitempty"`
	MaxFrames      int     `json:"max_frames,omitempty"`
	SceneThreshold float64 `json:"scene_threshold,omitempty"`
}

// handleVideoAnalyze runs the temporal pipeline over a server-side video
// file.
func (s *Server) handleVideoAnalyze(w http.ResponseWriter, r *http.Request) {
	var req videoAnalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		respondInvalid(w, "invalid request body: "+err.Error())
		return
	}
	if req.Path == "" {
		respondInvalid(w, "path is required")
		return
	}
	if !video.IsSupportedFormat(req.Path) {
		respondInvalid(w, "unsupported video format")
		return
	}
	if _, err := os.Stat(req.Path); err != nil {
		respondNotFound(w, "video file not found")
		return
	}

	opts := video.DefaultSamplerOptions()
	if req.Strategy != "" {
		opts.Strategy = video.Strategy(req.Strategy)
	}
	if req.IntervalSec > 0 {
		opts.IntervalSec = req.IntervalSec
	}
	if req.MaxFrames > 0 {
		opts.MaxFrames = req.MaxFrames
	}
	if req.SceneThreshold > 0 {
		opts.SceneThreshold = req.SceneThreshold
	}

	d, err := s.videoPipeline(opts).Analyze(r.Context(), req.Path)
	if err != nil {
		respondInternal(w, err.Error())
		return
	}
	respondOK(w, d)
}
