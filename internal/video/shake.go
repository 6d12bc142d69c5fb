package video

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// ShakeOptions configures camera-shake detection.
type ShakeOptions struct {
	// MotionThreshold is the mean per-frame displacement (pixels) above
	// which a frame counts as shaking.
	MotionThreshold float64
	// VarianceThreshold is the variance of displacement magnitudes above
	// which the whole clip counts as shaky.
	VarianceThreshold float64
	MinShakeDuration  float64
	FeatureCount      int
	Quality           float64
	MinDistance       float64
}

// DefaultShakeOptions returns the stock configuration.
func DefaultShakeOptions() ShakeOptions {
	return ShakeOptions{
		MotionThreshold:   5.0,
		VarianceThreshold: 10.0,
		MinShakeDuration:  0.5,
		FeatureCount:      100,
		Quality:           0.01,
		MinDistance:       10,
	}
}

// ShakeDetector tracks corner features between consecutive frames with
// Lucas-Kanade optical flow. Steady pans produce consistent displacement;
// shake produces erratic magnitudes with high variance.
type ShakeDetector struct {
	opts ShakeOptions
}

var _ Detector = (*ShakeDetector)(nil)

func NewShakeDetector(opts ShakeOptions) *ShakeDetector {
	if opts.MotionThreshold <= 0 {
		opts = DefaultShakeOptions()
	}
	return &ShakeDetector{opts: opts}
}

func (d *ShakeDetector) Name() string { return "shake" }

func (d *ShakeDetector) Detect(frames []gocv.Mat, fps float64, timestamps []float64) (Result, error) {
	if len(frames) != len(timestamps) {
		return Result{}, fmt.Errorf("shake: %d frames but %d timestamps", len(frames), len(timestamps))
	}
	res := Result{
		DetectorName:   "shake",
		IssueType:      "shake_normal",
		Threshold:      d.opts.VarianceThreshold,
		Severity:       SevNormal,
		FramesAnalyzed: len(frames),
	}
	if len(frames) < 2 {
		return res, nil
	}

	magnitudes := d.flowMagnitudes(frames)

	variance := varianceOf(magnitudes)
	res.Score = variance
	res.Evidence = map[string]any{
		"motion_variance": variance,
		"mean_motion":     meanOf(magnitudes),
	}

	segments := d.shakeSegments(magnitudes, timestamps)
	res.Segments = segments

	if variance > d.opts.VarianceThreshold && len(segments) > 0 {
		res.IssueType = "shake"
		res.IsAbnormal = true
		ratio := variance / d.opts.VarianceThreshold
		switch {
		case ratio < 1.5:
			res.Severity = SevInfo
		case ratio < 2.0:
			res.Severity = SevWarning
		default:
			res.Severity = SevError
		}
		res.Description = fmt.Sprintf("Motion variance %.1f indicates camera shake across %d segment(s)",
			variance, len(segments))
	}
	return res, nil
}

// flowMagnitudes returns the mean tracked displacement for each consecutive
// frame pair. Features are re-seeded every 30 frames or whenever tracking
// thins out below 10 points.
func (d *ShakeDetector) flowMagnitudes(frames []gocv.Mat) []float64 {
	prevGray := grayFrame(frames[0])
	defer func() { prevGray.Close() }()

	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(prevGray, &corners, d.opts.FeatureCount, d.opts.Quality, d.opts.MinDistance)
	sinceSeed := 0

	magnitudes := make([]float64, 0, len(frames)-1)
	for i := 1; i < len(frames); i++ {
		gray := grayFrame(frames[i])

		if corners.Empty() {
			gocv.GoodFeaturesToTrack(prevGray, &corners, d.opts.FeatureCount, d.opts.Quality, d.opts.MinDistance)
			sinceSeed = 0
		}
		if corners.Empty() {
			magnitudes = append(magnitudes, 0)
			prevGray.Close()
			prevGray = gray
			continue
		}

		nextPts := gocv.NewMat()
		status := gocv.NewMat()
		errs := gocv.NewMat()
		gocv.CalcOpticalFlowPyrLK(prevGray, gray, corners, nextPts, &status, &errs)

		var sum float64
		tracked := 0
		for j := 0; j < corners.Rows(); j++ {
			if j >= status.Rows() || status.GetUCharAt(j, 0) == 0 {
				continue
			}
			p0 := corners.GetVecfAt(j, 0)
			p1 := nextPts.GetVecfAt(j, 0)
			dx := float64(p1[0] - p0[0])
			dy := float64(p1[1] - p0[1])
			sum += math.Hypot(dx, dy)
			tracked++
		}
		if tracked > 0 {
			magnitudes = append(magnitudes, sum/float64(tracked))
		} else {
			magnitudes = append(magnitudes, 0)
		}

		sinceSeed++
		if sinceSeed >= 30 || tracked < 10 {
			gocv.GoodFeaturesToTrack(gray, &corners, d.opts.FeatureCount, d.opts.Quality, d.opts.MinDistance)
			sinceSeed = 0
		} else {
			nextPts.CopyTo(&corners)
		}

		nextPts.Close()
		status.Close()
		errs.Close()
		prevGray.Close()
		prevGray = gray
	}
	return magnitudes
}

// shakeSegments groups frames whose displacement exceeds the motion
// threshold into runs, tolerating gaps of up to 5 frames.
func (d *ShakeDetector) shakeSegments(magnitudes, timestamps []float64) []Segment {
	var shakeIdx []int
	for i, m := range magnitudes {
		if m > d.opts.MotionThreshold {
			// magnitude i belongs to the pair (i, i+1)
			shakeIdx = append(shakeIdx, i+1)
		}
	}
	if len(shakeIdx) == 0 {
		return nil
	}

	var segments []Segment
	start := shakeIdx[0]
	prev := shakeIdx[0]
	flush := func(end int) {
		duration := timestamps[end] - timestamps[start]
		if duration >= d.opts.MinShakeDuration {
			segments = append(segments, Segment{
				StartFrame: start,
				EndFrame:   end,
				StartTime:  timestamps[start],
				EndTime:    timestamps[end],
				Confidence: 0.85,
			})
		}
	}
	for _, idx := range shakeIdx[1:] {
		if idx-prev > 5 {
			flush(prev)
			start = idx
		}
		prev = idx
	}
	flush(prev)
	return segments
}

func grayFrame(m gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if m.Channels() == 3 {
		gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)
	} else {
		m.CopyTo(&gray)
	}
	return gray
}

func meanOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}

func varianceOf(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	mean := meanOf(vals)
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	return sq / float64(len(vals))
}
