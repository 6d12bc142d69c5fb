package api

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"vqd/internal/baseline"
	"vqd/internal/detect"
	"vqd/internal/imaging"
)

// handleBaselineCreate registers a reference image. Multipart fields:
// "image" (required), "name", "description", "tags" (comma separated).
func (s *Server) handleBaselineCreate(w http.ResponseWriter, r *http.Request) {
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

	var tags []string
	if v := strings.TrimSpace(r.FormValue("tags")); v != "" {
		tags = strings.Split(v, ",")
	}
	id, err := s.baselines.Save(img, r.FormValue("name"), r.FormValue("description"), tags)
	if err != nil {
		respondInternal(w, err.Error())
		return
	}
	respondCreated(w, map[string]string{"baseline_id": id})
}

func (s *Server) handleBaselineList(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, s.baselines.List())
}

func (s *Server) handleBaselineGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.baselines.Get(chi.URLParam(r, "id"))
	if errors.Is(err, baseline.ErrNotFound) {
		respondNotFound(w, "baseline not found")
		return
	}
	if err != nil {
		respondInternal(w, err.Error())
		return
	}
	respondOK(w, rec)
}

type baselineUpdateRequest struct {
	Name        *string  `json:"name,omitempty"`
	Description *string  `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

func (s *Server) handleBaselineUpdate(w http.ResponseWriter, r *http.Request) {
	var req baselineUpdateRequest
	if err := decodeBody(r, &req); err != nil {
		respondInvalid(w, "invalid request body: "+err.Error())
		return
	}
	rec, err := s.baselines.Update(chi.URLParam(r, "id"), req.Name, req.Description, req.Tags)
	if errors.Is(err, baseline.ErrNotFound) {
		respondNotFound(w, "baseline not found")
		return
	}
	if err != nil {
		respondInternal(w, err.Error())
		return
	}
	respondOK(w, rec)
}

func (s *Server) handleBaselineDelete(w http.ResponseWriter, r *http.Request) {
	err := s.baselines.Delete(chi.URLParam(r, "id"))
	if errors.Is(err, baseline.ErrNotFound) {
		respondNotFound(w, "baseline not found")
		return
	}
	if err != nil {
		respondInternal(w, err.Error())
		return
	}
	respondOK(w, nil)
}

// handleBaselineCompare diagnoses an uploaded frame against a stored
// reference. Multipart fields: "image" (required), "level".
func (s *Server) handleBaselineCompare(w http.ResponseWriter, r *http.Request) {
	ref, err := s.baselines.GetImage(chi.URLParam(r, "id"))
	if errors.Is(err, baseline.ErrNotFound) {
		respondNotFound(w, "baseline not found")
		return
	}
	if err != nil {
		respondInternal(w, err.Error())
		return
	}
	defer ref.Close()

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
	target, err := imaging.Decode(data)
	if err != nil {
		respondInvalid(w, err.Error())
		return
	}
	defer target.Close()

	cmp, err := baseline.NewComparator(ref, baseline.DefaultComparatorOptions())
	if err != nil {
		respondInternal(w, err.Error())
		return
	}
	defer cmp.Close()

	finding, err := cmp.Detect(target, detect.ParseLevel(r.FormValue("level")))
	if err != nil {
		respondInternal(w, err.Error())
		return
	}
	respondOK(w, finding)
}
