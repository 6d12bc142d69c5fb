package api

import (
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
)

type reportEntry struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	CreatedAt string `json:"created_at"`
}

// handleReportList enumerates generated report files, newest first.
func (s *Server) handleReportList(w http.ResponseWriter, _ *http.Request) {
	entries, err := os.ReadDir(s.cfg.Storage.ReportDir)
	if os.IsNotExist(err) {
		respondOK(w, []reportEntry{})
		return
	}
	if err != nil {
		respondInternal(w, err.Error())
		return
	}

	reports := make([]reportEntry, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		reports = append(reports, reportEntry{
			Name:      e.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	sort.Slice(reports, func(i, j int) bool { return reports[i].CreatedAt > reports[j].CreatedAt })
	respondOK(w, reports)
}

// handleReportDownload serves one report file by name. The name is
// restricted to a bare file name so callers cannot walk the filesystem.
func (s *Server) handleReportDownload(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		respondInvalid(w, "invalid report name")
		return
	}
	path := filepath.Join(s.cfg.Storage.ReportDir, name)
	if _, err := os.Stat(path); err != nil {
		respondNotFound(w, "report not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	http.ServeFile(w, r, path)
}
