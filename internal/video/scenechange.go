package video

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// SceneChangeOptions configures scene-cut detection.
type SceneChangeOptions struct {
	HistogramThreshold  float64
	EdgeThreshold       float64
	MaxChangesPerMinute float64
	UseEdgeDetection    bool
	// Combine is "or" (either signal fires) or "and" (both must fire).
	Combine string
}

// DefaultSceneChangeOptions returns the stock configuration.
func DefaultSceneChangeOptions() SceneChangeOptions {
	return SceneChangeOptions{
		HistogramThreshold:  0.4,
		EdgeThreshold:       0.3,
		MaxChangesPerMinute: 5,
		UseEdgeDetection:    true,
		Combine:             "or",
	}
}

// SceneChangeDetector counts hard cuts between sampled frames. Individual
// cuts are normal; a storm of them means a flapping input or a corrupted
// feed.
type SceneChangeDetector struct {
	opts SceneChangeOptions
}

var _ Detector = (*SceneChangeDetector)(nil)

func NewSceneChangeDetector(opts SceneChangeOptions) *SceneChangeDetector {
	if opts.HistogramThreshold <= 0 {
		opts = DefaultSceneChangeOptions()
	}
	return &SceneChangeDetector{opts: opts}
}

func (d *SceneChangeDetector) Name() string { return "scene_change" }

func (d *SceneChangeDetector) Detect(frames []gocv.Mat, fps float64, timestamps []float64) (Result, error) {
	if len(frames) != len(timestamps) {
		return Result{}, fmt.Errorf("scene_change: %d frames but %d timestamps", len(frames), len(timestamps))
	}
	res := Result{
		DetectorName:   "scene_change",
		IssueType:      "scene_change_normal",
		Threshold:      d.opts.MaxChangesPerMinute,
		Severity:       SevNormal,
		FramesAnalyzed: len(frames),
	}
	if len(frames) < 2 {
		return res, nil
	}

	var segments []Segment
	var changePoints []float64
	for i := 1; i < len(frames); i++ {
		histDiff := histDistance(frames[i-1], frames[i])
		histHit := histDiff > d.opts.HistogramThreshold

		edgeHit := false
		var edgeDiff float64
		if d.opts.UseEdgeDetection {
			edgeDiff = edgeDifference(frames[i-1], frames[i])
			edgeHit = edgeDiff > d.opts.EdgeThreshold
		}

		changed := histHit || edgeHit
		if d.opts.Combine == "and" && d.opts.UseEdgeDetection {
			changed = histHit && edgeHit
		}
		if !changed {
			continue
		}

		changePoints = append(changePoints, timestamps[i])
		segments = append(segments, Segment{
			StartFrame: i,
			EndFrame:   i,
			StartTime:  timestamps[i],
			EndTime:    timestamps[i],
			Confidence: math.Min(histDiff/d.opts.HistogramThreshold, 1),
			Metadata: map[string]any{
				"hist_diff": histDiff,
				"edge_diff": edgeDiff,
			},
		})
	}

	duration := timestamps[len(timestamps)-1] - timestamps[0]
	changesPerMinute := 0.0
	if duration > 0 {
		changesPerMinute = float64(len(changePoints)) / (duration / 60)
	} else if len(changePoints) > 0 {
		changesPerMinute = d.opts.MaxChangesPerMinute + 1
	}

	capped := changePoints
	if len(capped) > 20 {
		capped = capped[:20]
	}
	res.Segments = segments
	res.Score = changesPerMinute
	res.Evidence = map[string]any{
		"change_count":  len(changePoints),
		"change_points": capped,
	}
	if changesPerMinute > d.opts.MaxChangesPerMinute {
		res.IssueType = "scene_change"
		res.IsAbnormal = true
		ratio := changesPerMinute / d.opts.MaxChangesPerMinute
		switch {
		case ratio < 1.5:
			res.Severity = SevInfo
		case ratio < 2.0:
			res.Severity = SevWarning
		default:
			res.Severity = SevError
		}
		res.Description = fmt.Sprintf("%.1f scene changes per minute exceeds the limit of %.1f",
			changesPerMinute, d.opts.MaxChangesPerMinute)
	}
	return res, nil
}

// histDistance is the Bhattacharyya distance between normalized gray
// histograms; 0 for identical frames, toward 1 for cuts.
func histDistance(a, b gocv.Mat) float64 {
	ha := frameHistogram(a)
	defer ha.Close()
	hb := frameHistogram(b)
	defer hb.Close()
	return float64(gocv.CompareHist(ha, hb, gocv.HistCmpBhattacharya))
}

// edgeDifference is the mean absolute difference between the binary edge
// maps of two frames, scaled to [0,1].
func edgeDifference(a, b gocv.Mat) float64 {
	ea := edgeMap(a)
	defer ea.Close()
	eb := edgeMap(b)
	defer eb.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(ea, eb, &diff)
	return diff.Mean().Val1 / 255.0
}

func edgeMap(m gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	if m.Channels() == 3 {
		gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)
	} else {
		m.CopyTo(&gray)
	}
	edges := gocv.NewMat()
	gocv.Canny(gray, &edges, 100, 200)
	return edges
}
