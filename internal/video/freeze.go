package video

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// FreezeOptions configures freeze-run detection.
type FreezeOptions struct {
	// SimilarityThreshold is the frame-pair similarity above which the
	// picture counts as unchanged.
	SimilarityThreshold float64
	// MinFreezeFrames and MinFreezeDuration must both be met for a run to
	// become a segment.
	MinFreezeFrames   int
	MinFreezeDuration float64
	// Method selects the similarity measure: "histogram" or "mse".
	Method string
	// IgnoreBlackFrames breaks freeze runs on black frames, which usually
	// indicate signal loss rather than a stuck encoder.
	IgnoreBlackFrames bool
	BlackThreshold    float64
}

// DefaultFreezeOptions returns the stock freeze configuration.
func DefaultFreezeOptions() FreezeOptions {
	return FreezeOptions{
		SimilarityThreshold: 0.98,
		MinFreezeFrames:     30,
		MinFreezeDuration:   1.0,
		Method:              "histogram",
		IgnoreBlackFrames:   true,
		BlackThreshold:      10,
	}
}

// FreezeDetector finds stretches where consecutive frames are essentially
// identical.
type FreezeDetector struct {
	opts FreezeOptions
}

var _ Detector = (*FreezeDetector)(nil)

func NewFreezeDetector(opts FreezeOptions) *FreezeDetector {
	if opts.SimilarityThreshold <= 0 {
		opts = DefaultFreezeOptions()
	}
	return &FreezeDetector{opts: opts}
}

func (d *FreezeDetector) Name() string { return "freeze" }

func (d *FreezeDetector) Detect(frames []gocv.Mat, fps float64, timestamps []float64) (Result, error) {
	if len(frames) != len(timestamps) {
		return Result{}, fmt.Errorf("freeze: %d frames but %d timestamps", len(frames), len(timestamps))
	}
	res := Result{
		DetectorName:   "freeze",
		IssueType:      "freeze_normal",
		Threshold:      d.opts.SimilarityThreshold,
		Severity:       SevNormal,
		FramesAnalyzed: len(frames),
	}
	if len(frames) < 2 {
		return res, nil
	}

	var segments []Segment
	runStart := -1
	flush := func(end int) {
		if runStart < 0 {
			return
		}
		count := end - runStart + 1
		duration := timestamps[end] - timestamps[runStart]
		if count >= d.opts.MinFreezeFrames && duration >= d.opts.MinFreezeDuration {
			segments = append(segments, Segment{
				StartFrame: runStart,
				EndFrame:   end,
				StartTime:  timestamps[runStart],
				EndTime:    timestamps[end],
				Confidence: 0.95,
			})
		}
		runStart = -1
	}

	for i := 1; i < len(frames); i++ {
		sim := d.similarity(frames[i-1], frames[i])
		frozen := sim >= d.opts.SimilarityThreshold
		if frozen && d.opts.IgnoreBlackFrames && frameMean(frames[i]) < d.opts.BlackThreshold {
			frozen = false
		}
		if frozen {
			if runStart < 0 {
				runStart = i - 1
			}
		} else {
			flush(i - 1)
		}
	}
	flush(len(frames) - 1)

	var frozenTime float64
	for _, s := range segments {
		frozenTime += s.Duration()
	}
	total := timestamps[len(timestamps)-1] - timestamps[0]

	res.Segments = segments
	res.Score = frozenTime
	res.Evidence = map[string]any{
		"frozen_seconds": frozenTime,
		"segment_count":  len(segments),
	}
	if len(segments) > 0 {
		res.IssueType = "freeze"
		res.IsAbnormal = true
		ratio := 0.0
		if total > 0 {
			ratio = frozenTime / total
		}
		switch {
		case ratio > 0.5:
			res.Severity = SevError
		case ratio > 0.2:
			res.Severity = SevWarning
		default:
			res.Severity = SevInfo
		}
		res.Description = fmt.Sprintf("Picture frozen for %.1fs across %d segment(s)", frozenTime, len(segments))
	}
	return res, nil
}

// similarity compares two frames with the configured method.
func (d *FreezeDetector) similarity(a, b gocv.Mat) float64 {
	if d.opts.Method == "mse" {
		return mseSimilarity(a, b)
	}
	ha := frameHistogram(a)
	defer ha.Close()
	hb := frameHistogram(b)
	defer hb.Close()
	corr := float64(gocv.CompareHist(ha, hb, gocv.HistCmpCorrel))
	return (corr + 1) / 2
}

// mseSimilarity compares thumbnails pixel-wise; cheap and insensitive to
// histogram-preserving motion.
func mseSimilarity(a, b gocv.Mat) float64 {
	small := image.Pt(160, 120)
	ga := grayThumb(a, small)
	defer ga.Close()
	gb := grayThumb(b, small)
	defer gb.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(ga, gb, &diff)
	f := gocv.NewMat()
	defer f.Close()
	diff.ConvertTo(&f, gocv.MatTypeCV32F)
	sq := gocv.NewMat()
	defer sq.Close()
	gocv.Multiply(f, f, &sq)
	mse := sq.Mean().Val1
	return 1 - mse/65025.0
}

func grayThumb(m gocv.Mat, size image.Point) gocv.Mat {
	gray := gocv.NewMat()
	if m.Channels() == 3 {
		gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)
	} else {
		m.CopyTo(&gray)
	}
	gocv.Resize(gray, &gray, size, 0, 0, gocv.InterpolationArea)
	return gray
}

func frameMean(m gocv.Mat) float64 {
	gray := gocv.NewMat()
	defer gray.Close()
	if m.Channels() == 3 {
		gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)
	} else {
		m.CopyTo(&gray)
	}
	return gray.Mean().Val1
}
