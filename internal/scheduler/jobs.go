package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"gocv.io/x/gocv"

	"vqd/internal/config"
	"vqd/internal/detect"
	"vqd/internal/pipeline"
	"vqd/internal/video"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
	".webp": true,
}

// fileResult is one entry of a report's results list.
type fileResult struct {
	File      string `json:"file"`
	Diagnosis any    `json:"diagnosis,omitempty"`
	Error     string `json:"error,omitempty"`
}

type report struct {
	TaskID      string        `json:"task_id"`
	TaskName    string        `json:"task_name"`
	ExecutionID string        `json:"execution_id"`
	Timestamp   time.Time     `json:"timestamp"`
	Summary     reportSummary `json:"summary"`
	Results     []fileResult  `json:"results"`
}

type reportSummary struct {
	Total         int `json:"total"`
	NormalCount   int `json:"normal_count"`
	AbnormalCount int `json:"abnormal_count"`
	ErrorCount    int `json:"error_count"`
}

// runJob executes the task's job and fills the execution counters. The
// report path is returned even when some items errored.
func (s *Service) runJob(ctx context.Context, t *Task, exec *Execution) (string, error) {
	switch t.Kind {
	case KindBatch:
		return s.runImageJob(ctx, t, exec, false)
	case KindSample:
		return s.runImageJob(ctx, t, exec, true)
	case KindVideo:
		return s.runVideoJob(ctx, t, exec)
	default:
		return "", fmt.Errorf("unknown task kind %q", t.Kind)
	}
}

func (s *Service) runImageJob(ctx context.Context, t *Task, exec *Execution, sampled bool) (string, error) {
	files, err := collectFiles(t.Config.InputPath, t.Config.Pattern, t.Config.Recursive, imageExtensions)
	if err != nil {
		return "", err
	}
	if sampled {
		files = sampleFiles(files, t.Config.SampleRate, t.Config.MaxSamples)
	}

	pl := s.framePipeline(t)
	level := taskLevel(t)

	results := make([]fileResult, 0, len(files))
	for _, path := range files {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		r := fileResult{File: path}
		img := gocv.IMRead(path, gocv.IMReadColor)
		if img.Empty() {
			r.Error = "unreadable image"
			exec.ErrorCount++
		} else {
			d := pl.Diagnose(ctx, img, filepath.Base(path), level, t.Config.Detectors)
			img.Close()
			r.Diagnosis = d
			if d.PrimaryIssue == "error" {
				exec.ErrorCount++
			} else if d.IsAbnormal {
				exec.AbnormalCount++
			} else {
				exec.NormalCount++
			}
		}
		exec.TotalItems++
		results = append(results, r)
	}

	return s.writeReport(t, exec, results)
}

func (s *Service) runVideoJob(ctx context.Context, t *Task, exec *Execution) (string, error) {
	files, err := collectFiles(t.Config.InputPath, t.Config.Pattern, t.Config.Recursive, nil)
	if err != nil {
		return "", err
	}

	vp := video.NewPipeline(video.PipelineOptions{}, s.log)

	results := make([]fileResult, 0, len(files))
	for _, path := range files {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if !video.IsSupportedFormat(path) {
			continue
		}
		r := fileResult{File: path}
		d, err := vp.Analyze(ctx, path)
		if err != nil {
			r.Error = err.Error()
			exec.ErrorCount++
		} else {
			r.Diagnosis = d
			if d.IsAbnormal {
				exec.AbnormalCount++
			} else {
				exec.NormalCount++
			}
		}
		exec.TotalItems++
		results = append(results, r)
	}

	return s.writeReport(t, exec, results)
}

func (s *Service) framePipeline(t *Task) *pipeline.Pipeline {
	opts := pipeline.DefaultOptions()
	if t.Config.Profile != "" {
		opts.Profile = t.Config.Profile
	}
	opts.Configs = config.ProfileConfigs(opts.Profile)
	return pipeline.New(s.registry, opts, s.log)
}

func taskLevel(t *Task) detect.Level {
	switch detect.Level(t.Config.Level) {
	case detect.LevelFast, detect.LevelStandard, detect.LevelDeep:
		return detect.Level(t.Config.Level)
	default:
		return detect.LevelStandard
	}
}

// collectFiles gathers input files under root. With a nil extension set any
// regular file passes the extension check; pattern filters by base name.
func collectFiles(root, pattern string, recursive bool, exts map[string]bool) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("input path: %w", err)
	}
	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	keep := func(path string) error {
		if exts != nil && !exts[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		if pattern != "" {
			ok, err := filepath.Match(pattern, filepath.Base(path))
			if err != nil {
				return fmt.Errorf("bad pattern %q: %w", pattern, err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	}

	if recursive {
		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			return keep(path)
		})
	} else {
		var entries []os.DirEntry
		entries, err = os.ReadDir(root)
		if err == nil {
			for _, e := range entries {
				if e.IsDir() {
					continue
				}
				if kerr := keep(filepath.Join(root, e.Name())); kerr != nil {
					err = kerr
					break
				}
			}
		}
	}
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// sampleFiles picks a random subset sized by rate, bounded by maxSamples,
// always at least one when any file matched.
func sampleFiles(files []string, rate float64, maxSamples int) []string {
	if len(files) == 0 {
		return files
	}
	if rate <= 0 || rate > 1 {
		rate = 0.1
	}
	if maxSamples <= 0 {
		maxSamples = 100
	}
	count := int(float64(len(files)) * rate)
	if count > maxSamples {
		count = maxSamples
	}
	if count < 1 {
		count = 1
	}
	if count >= len(files) {
		return files
	}
	picked := rand.Perm(len(files))[:count]
	sort.Ints(picked)
	out := make([]string, 0, count)
	for _, i := range picked {
		out = append(out, files[i])
	}
	return out
}

func (s *Service) writeReport(t *Task, exec *Execution, results []fileResult) (string, error) {
	dir := t.Output.Path
	if dir == "" {
		dir = s.reportDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}

	rep := report{
		TaskID:      t.ID,
		TaskName:    t.Name,
		ExecutionID: exec.ID,
		Timestamp:   time.Now().UTC(),
		Summary: reportSummary{
			Total:         exec.TotalItems,
			NormalCount:   exec.NormalCount,
			AbnormalCount: exec.AbnormalCount,
			ErrorCount:    exec.ErrorCount,
		},
		Results: results,
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}

	name := fmt.Sprintf("batch_%s_%s.json", t.ID, rep.Timestamp.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := renameio.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
