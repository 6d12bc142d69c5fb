package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"vqd/internal/detect"
	"vqd/internal/metrics"
)

// Options configures a frame pipeline.
type Options struct {
	// Parallel fans detectors out onto a worker pool; serial otherwise.
	Parallel bool
	// MaxWorkers bounds the fan-out pool.
	MaxWorkers int
	// DetectorTimeout is the per-detector deadline.
	DetectorTimeout time.Duration
	// Profile is recorded on every diagnosis for traceability.
	Profile string
	// Configs carries per-detector threshold overrides.
	Configs map[string]map[string]any
}

// DefaultOptions returns the stock pipeline configuration.
func DefaultOptions() Options {
	return Options{
		Parallel:        true,
		MaxWorkers:      4,
		DetectorTimeout: 5 * time.Second,
		Profile:         "normal",
	}
}

// Pipeline owns a detector registry view and a suppression table. It is safe
// for concurrent use.
type Pipeline struct {
	registry   *detect.Registry
	suppressor *detect.Suppressor
	opts       Options
	log        zerolog.Logger
}

// New creates a frame pipeline over the given registry.
func New(registry *detect.Registry, opts Options, log zerolog.Logger) *Pipeline {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.DetectorTimeout <= 0 {
		opts.DetectorTimeout = 5 * time.Second
	}
	return &Pipeline{
		registry:   registry,
		suppressor: detect.NewSuppressor(),
		opts:       opts,
		log:        log.With().Str("component", "pipeline").Logger(),
	}
}

// AddSuppressionRule extends this pipeline's suppression table at runtime.
func (p *Pipeline) AddSuppressionRule(trigger string, targets ...string) {
	p.suppressor.AddRule(trigger, targets...)
}

// RemoveSuppressionRule drops a trigger from this pipeline's table.
func (p *Pipeline) RemoveSuppressionRule(trigger string) {
	p.suppressor.RemoveRule(trigger)
}

// SuppressionRules returns a copy of the active table.
func (p *Pipeline) SuppressionRules() map[string][]string {
	return p.suppressor.Rules()
}

// Diagnose analyzes one frame. detectorNames selects an explicit subset;
// nil means every detector supporting the level. Unknown names are dropped.
func (p *Pipeline) Diagnose(ctx context.Context, img gocv.Mat, imageID string, level detect.Level, detectorNames []string) Diagnosis {
	start := time.Now()

	var dets []detect.Detector
	if len(detectorNames) > 0 {
		dets = p.registry.Resolve(detectorNames, p.opts.Configs)
	} else {
		dets = p.registry.ForLevel(level, p.opts.Configs)
	}

	if img.Empty() || img.Rows() < 2 || img.Cols() < 2 || len(dets) == 0 {
		return p.errorDiagnosis(imageID, level, start)
	}

	metrics.FramesAnalyzed.Inc()

	findings := p.run(ctx, img, level, dets)

	// Deterministic aggregation order: priority, then the order in which
	// the detector set was resolved.
	sort.SliceStable(findings, func(i, j int) bool {
		return findings[i].meta.Priority < findings[j].meta.Priority
	})

	flat := make([]detect.Finding, len(findings))
	scores := make(map[string]float64, len(findings))
	for i, f := range findings {
		flat[i] = f.Finding
		scores[f.DetectorName] = f.Score
	}

	active, suppressed := p.suppressor.Apply(flat)

	d := Diagnosis{
		ImageID:          imageID,
		Width:            img.Cols(),
		Height:           img.Rows(),
		Findings:         flat,
		SuppressedIssues: suppressed,
		Scores:           scores,
		Level:            level,
		Profile:          p.opts.Profile,
		Timestamp:        time.Now().UTC(),
	}
	for _, f := range active {
		d.IndependentIssues = append(d.IndependentIssues, f.IssueType)
	}
	if len(active) > 0 {
		d.IsAbnormal = true
		d.PrimaryIssue = active[0].IssueType
		d.Severity = active[0].Severity
		metrics.AbnormalDiagnoses.WithLabelValues(d.PrimaryIssue).Inc()
	}
	d.ProcessTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	return d
}

type rankedFinding struct {
	detect.Finding
	meta detect.Metadata
}

// run dispatches the detectors, in parallel when configured, and collects
// only valid findings.
func (p *Pipeline) run(ctx context.Context, img gocv.Mat, level detect.Level, dets []detect.Detector) []rankedFinding {
	if !p.opts.Parallel || len(dets) == 1 {
		out := make([]rankedFinding, 0, len(dets))
		for _, d := range dets {
			if f, ok := p.invoke(ctx, d, img, level); ok {
				out = append(out, f)
			}
		}
		return out
	}

	results := make([]rankedFinding, len(dets))
	valid := make([]bool, len(dets))

	sem := make(chan struct{}, p.opts.MaxWorkers)
	var wg sync.WaitGroup
	for i, d := range dets {
		wg.Add(1)
		go func(i int, d detect.Detector) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if f, ok := p.invoke(ctx, d, img, level); ok {
				results[i] = f
				valid[i] = true
			}
		}(i, d)
	}
	wg.Wait()

	out := make([]rankedFinding, 0, len(dets))
	for i := range results {
		if valid[i] {
			out = append(out, results[i])
		}
	}
	return out
}

// invoke runs one detector under the per-call deadline. Failures, timeouts
// and invalid findings are logged and dropped; the pipeline run continues.
func (p *Pipeline) invoke(ctx context.Context, d detect.Detector, img gocv.Mat, level detect.Level) (rankedFinding, bool) {
	meta := d.Meta()

	type outcome struct {
		finding detect.Finding
		err     error
	}
	done := make(chan outcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				metrics.DetectorFailures.WithLabelValues(meta.Name, "panic").Inc()
				done <- outcome{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		f, err := d.Detect(img, level)
		done <- outcome{f, err}
	}()

	timer := time.NewTimer(p.opts.DetectorTimeout)
	defer timer.Stop()

	select {
	case o := <-done:
		metrics.DetectorDuration.WithLabelValues(meta.Name).Observe(time.Since(start).Seconds())
		if o.err != nil {
			p.log.Warn().Err(o.err).Str("detector", meta.Name).Msg("detector failed")
			metrics.DetectorFailures.WithLabelValues(meta.Name, "error").Inc()
			return rankedFinding{}, false
		}
		if !validFinding(o.finding) {
			p.log.Warn().Str("detector", meta.Name).Msg("detector returned an invalid finding")
			metrics.DetectorFailures.WithLabelValues(meta.Name, "invalid").Inc()
			return rankedFinding{}, false
		}
		return rankedFinding{Finding: o.finding, meta: meta}, true
	case <-timer.C:
		p.log.Warn().Str("detector", meta.Name).Dur("timeout", p.opts.DetectorTimeout).Msg("detector timed out")
		metrics.DetectorFailures.WithLabelValues(meta.Name, "timeout").Inc()
		return rankedFinding{}, false
	case <-ctx.Done():
		return rankedFinding{}, false
	}
}

// validFinding enforces the detector output contract.
func validFinding(f detect.Finding) bool {
	if f.DetectorName == "" || f.IssueType == "" {
		return false
	}
	if math.IsNaN(f.Score) || math.IsInf(f.Score, 0) {
		return false
	}
	if math.IsNaN(f.Threshold) || math.IsInf(f.Threshold, 0) {
		return false
	}
	if f.Confidence < 0 || f.Confidence > 1 {
		return false
	}
	if !f.IsAbnormal && f.Severity != detect.SeverityNormal {
		return false
	}
	if f.IsAbnormal && f.Severity == detect.SeverityNormal {
		return false
	}
	return true
}

// errorDiagnosis is the synthesized result for an invalid frame or an empty
// detector set.
func (p *Pipeline) errorDiagnosis(imageID string, level detect.Level, start time.Time) Diagnosis {
	p.log.Warn().Str("image_id", imageID).Msg("nothing to analyze: invalid frame or empty detector set")
	return Diagnosis{
		ImageID:       imageID,
		IsAbnormal:    true,
		PrimaryIssue:  "error",
		Severity:      detect.SeverityCritical,
		Findings:      []detect.Finding{},
		Scores:        map[string]float64{},
		Level:         level,
		Profile:       p.opts.Profile,
		Timestamp:     time.Now().UTC(),
		ProcessTimeMs: float64(time.Since(start).Microseconds()) / 1000.0,
	}
}
