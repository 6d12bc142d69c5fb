package video

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// PipelineOptions configures the video pipeline.
type PipelineOptions struct {
	Sampler SamplerOptions
	// Detectors is the ordered detector list; nil selects the default
	// freeze + scene change + shake set.
	Detectors []Detector
}

// Pipeline opens a video source, samples it and folds the temporal detector
// results into one diagnosis.
type Pipeline struct {
	opts PipelineOptions
	log  zerolog.Logger
}

// NewPipeline builds a video pipeline.
func NewPipeline(opts PipelineOptions, log zerolog.Logger) *Pipeline {
	if opts.Sampler.MaxFrames == 0 {
		opts.Sampler = DefaultSamplerOptions()
	}
	if opts.Detectors == nil {
		opts.Detectors = []Detector{
			NewFreezeDetector(DefaultFreezeOptions()),
			NewSceneChangeDetector(DefaultSceneChangeOptions()),
			NewShakeDetector(DefaultShakeOptions()),
		}
	}
	return &Pipeline{
		opts: opts,
		log:  log.With().Str("component", "video_pipeline").Logger(),
	}
}

// Analyze runs the configured detectors over a video file.
func (p *Pipeline) Analyze(ctx context.Context, path string) (Diagnosis, error) {
	start := time.Now()

	src, err := Open(path)
	if err != nil {
		return Diagnosis{}, err
	}
	defer src.Close()

	sample, err := SampleFrames(src, p.opts.Sampler)
	if err != nil {
		return Diagnosis{}, fmt.Errorf("sample %s: %w", path, err)
	}
	defer sample.Close()

	d := Diagnosis{
		VideoPath:     path,
		Metadata:      src.Meta,
		SampledFrames: len(sample.Frames),
		Severity:      SevNormal,
		OverallScore:  100,
		Timestamp:     time.Now().UTC(),
	}

	if len(sample.Frames) == 0 {
		d.IsAbnormal = true
		d.PrimaryIssue = "no_frames"
		d.Severity = SevError
		d.OverallScore = 0
		d.ProcessTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
		return d, nil
	}

	results := p.runDetectors(ctx, sample)
	p.aggregate(&d, results)
	d.ProcessTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return d, nil
}

// AnalyzeFrames runs the detectors over an already-sampled frame sequence,
// used by the stream ingestor's rolling window.
func (p *Pipeline) AnalyzeFrames(ctx context.Context, frames []gocv.Mat, fps float64, timestamps []float64) []Result {
	return p.runDetectors(ctx, Sample{Frames: frames, Timestamps: timestamps, fps: fps})
}

func (p *Pipeline) runDetectors(ctx context.Context, sample Sample) []Result {
	fps := sample.fps
	if fps <= 0 && len(sample.Timestamps) > 1 {
		span := sample.Timestamps[len(sample.Timestamps)-1] - sample.Timestamps[0]
		if span > 0 {
			fps = float64(len(sample.Timestamps)-1) / span
		}
	}

	results := make([]Result, 0, len(p.opts.Detectors))
	for _, det := range p.opts.Detectors {
		if ctx.Err() != nil {
			break
		}
		r, err := det.Detect(sample.Frames, fps, sample.Timestamps)
		if err != nil {
			p.log.Warn().Err(err).Str("detector", det.Name()).Msg("video detector failed")
			continue
		}
		results = append(results, r)
	}
	return results
}

// aggregate folds detector results into the diagnosis: a time-sorted issue
// list, the worst severity, and a penalty-based overall score.
func (p *Pipeline) aggregate(d *Diagnosis, results []Result) {
	d.Results = results

	score := 100.0
	for _, r := range results {
		if !r.IsAbnormal {
			continue
		}
		d.IsAbnormal = true

		switch r.Severity {
		case SevInfo:
			score -= 5
		case SevWarning:
			score -= 15
		case SevError:
			score -= 30
		}

		if severityRank(r.Severity) > severityRank(d.Severity) {
			d.Severity = r.Severity
			d.PrimaryIssue = r.IssueType
		}

		for _, s := range r.Segments {
			d.Issues = append(d.Issues, Issue{
				IssueType:   r.IssueType,
				Severity:    r.Severity,
				StartTime:   s.StartTime,
				EndTime:     s.EndTime,
				Duration:    s.Duration(),
				Confidence:  s.Confidence,
				Description: r.Description,
			})
		}
	}
	if score < 0 {
		score = 0
	}
	d.OverallScore = score

	sort.SliceStable(d.Issues, func(i, j int) bool {
		return d.Issues[i].StartTime < d.Issues[j].StartTime
	})
}
