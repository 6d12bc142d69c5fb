// Package baseline compares live frames against stored reference images and
// manages the reference image store.
package baseline

import (
	"fmt"
	"image"
	"math"
	"time"

	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// ComparatorOptions holds the similarity thresholds for baseline comparison.
type ComparatorOptions struct {
	SSIMThreshold    float64
	HistThreshold    float64
	FeatureThreshold float64
	DiffThreshold    float64
	GridSize         int
}

// DefaultComparatorOptions returns the stock thresholds.
func DefaultComparatorOptions() ComparatorOptions {
	return ComparatorOptions{
		SSIMThreshold:    0.85,
		HistThreshold:    0.80,
		FeatureThreshold: 0.7,
		DiffThreshold:    0.15,
		GridSize:         3,
	}
}

// Comparator is a detector bound to one reference frame. It flags targets
// that drifted from the reference: a moved camera, a changed scene, a
// repositioned view.
type Comparator struct {
	opts ComparatorOptions
	ref  gocv.Mat
	gray gocv.Mat
}

var _ detect.Detector = (*Comparator)(nil)

// NewComparator clones the reference frame; the caller keeps ownership of
// its copy. Close releases the clone.
func NewComparator(reference gocv.Mat, opts ComparatorOptions) (*Comparator, error) {
	if reference.Empty() {
		return nil, fmt.Errorf("baseline: empty reference frame")
	}
	if opts.GridSize < 1 {
		opts.GridSize = 3
	}
	c := &Comparator{opts: opts, ref: reference.Clone()}
	c.gray = gocv.NewMat()
	if c.ref.Channels() == 3 {
		gocv.CvtColor(c.ref, &c.gray, gocv.ColorBGRToGray)
	} else {
		c.ref.CopyTo(&c.gray)
	}
	return c, nil
}

// Close releases the retained reference mats.
func (c *Comparator) Close() {
	c.ref.Close()
	c.gray.Close()
}

func (c *Comparator) Meta() detect.Metadata {
	return detect.Metadata{
		Name:            "baseline",
		DisplayName:     "Baseline Comparison",
		Description:     "Compares the frame against a stored reference image",
		Version:         "1.0",
		Priority:        40,
		SupportedLevels: []detect.Level{detect.LevelStandard, detect.LevelDeep},
	}
}

func (c *Comparator) Detect(img gocv.Mat, level detect.Level) (detect.Finding, error) {
	start := time.Now()
	if img.Empty() {
		return detect.Finding{}, fmt.Errorf("baseline: invalid frame")
	}

	target := gocv.NewMat()
	defer target.Close()
	if img.Cols() != c.ref.Cols() || img.Rows() != c.ref.Rows() {
		gocv.Resize(img, &target, image.Pt(c.ref.Cols(), c.ref.Rows()), 0, 0, gocv.InterpolationLinear)
	} else {
		img.CopyTo(&target)
	}

	targetGray := gocv.NewMat()
	defer targetGray.Close()
	if target.Channels() == 3 {
		gocv.CvtColor(target, &targetGray, gocv.ColorBGRToGray)
	} else {
		target.CopyTo(&targetGray)
	}

	ssimScore := ssim(c.gray, targetGray)
	histScore := histCorrelation(c.gray, targetGray)
	featScore := c.featureMatchScore(targetGray)
	cellRatio, badCells := c.gridDiff(targetGray)

	overall := (ssimScore + histScore + featScore) / 3
	score := 1 - overall

	abnormal := ssimScore < c.opts.SSIMThreshold ||
		histScore < c.opts.HistThreshold ||
		featScore < c.opts.FeatureThreshold ||
		cellRatio > c.opts.DiffThreshold

	f := detect.Finding{
		DetectorName: "baseline",
		IssueType:    detect.NormalIssue("baseline"),
		Score:        score,
		Threshold:    1 - c.opts.SSIMThreshold,
		Confidence:   math.Min(1, math.Abs(overall-c.opts.SSIMThreshold)/c.opts.SSIMThreshold+0.5),
		Severity:     detect.SeverityNormal,
		Evidence: map[string]any{
			"ssim":                ssimScore,
			"histogram_corr":      histScore,
			"feature_match":       featScore,
			"abnormal_cell_ratio": cellRatio,
			"abnormal_cells":      badCells,
		},
	}
	if abnormal {
		f.IssueType = "baseline_mismatch"
		f.IsAbnormal = true
		ratio := score / math.Max(1-c.opts.SSIMThreshold, 1e-9)
		switch {
		case ratio < 1.5:
			f.Severity = detect.SeverityInfo
		case ratio < 2.0:
			f.Severity = detect.SeverityWarning
		default:
			f.Severity = detect.SeverityCritical
		}
		f.Explanation = fmt.Sprintf("Frame similarity to the baseline dropped (ssim %.2f, hist %.2f, features %.2f)",
			ssimScore, histScore, featScore)
		f.PossibleCauses = []string{
			"Camera moved or rotated",
			"Scene changed substantially since the baseline was taken",
			"View partially blocked",
		}
		f.Suggestions = []string{
			"Verify the camera position and angle",
			"Re-capture the baseline if the change is intended",
		}
	}
	f.ProcessTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	f.DetectionLevel = level
	return f, nil
}

// featureMatchScore matches ORB descriptors between reference and target
// with a cross-checked Hamming matcher.
func (c *Comparator) featureMatchScore(targetGray gocv.Mat) float64 {
	orb := gocv.NewORB()
	defer orb.Close()

	noMask := gocv.NewMat()
	defer noMask.Close()

	kp1, desc1 := orb.DetectAndCompute(c.gray, noMask)
	defer desc1.Close()
	kp2, desc2 := orb.DetectAndCompute(targetGray, noMask)
	defer desc2.Close()

	if len(kp1) == 0 || len(kp2) == 0 || desc1.Empty() || desc2.Empty() {
		return 0
	}

	bf := gocv.NewBFMatcherWithParams(gocv.NormHamming, true)
	defer bf.Close()

	pairs := bf.KnnMatch(desc1, desc2, 1)
	matches := 0
	for _, p := range pairs {
		if len(p) > 0 {
			matches++
		}
	}
	denom := len(kp1)
	if len(kp2) > denom {
		denom = len(kp2)
	}
	return float64(matches) / float64(denom)
}

// gridDiff runs SSIM per grid cell and reports the share of cells below the
// SSIM threshold.
func (c *Comparator) gridDiff(targetGray gocv.Mat) (float64, int) {
	n := c.opts.GridSize
	cw := c.gray.Cols() / n
	ch := c.gray.Rows() / n
	if cw < 8 || ch < 8 {
		return 0, 0
	}

	bad := 0
	for gy := 0; gy < n; gy++ {
		for gx := 0; gx < n; gx++ {
			rect := image.Rect(gx*cw, gy*ch, (gx+1)*cw, (gy+1)*ch)
			a := c.gray.Region(rect)
			b := targetGray.Region(rect)
			s := ssim(a, b)
			a.Close()
			b.Close()
			if s < c.opts.SSIMThreshold {
				bad++
			}
		}
	}
	return float64(bad) / float64(n*n), bad
}

// histCorrelation compares normalized 256-bin intensity histograms.
func histCorrelation(a, b gocv.Mat) float64 {
	ha := gocv.NewMat()
	defer ha.Close()
	hb := gocv.NewMat()
	defer hb.Close()
	noMask := gocv.NewMat()
	defer noMask.Close()
	gocv.CalcHist([]gocv.Mat{a}, []int{0}, noMask, &ha, []int{256}, []float64{0, 256}, false)
	gocv.CalcHist([]gocv.Mat{b}, []int{0}, noMask, &hb, []int{256}, []float64{0, 256}, false)
	gocv.Normalize(ha, &ha, 1, 0, gocv.NormL1)
	gocv.Normalize(hb, &hb, 1, 0, gocv.NormL1)
	corr := float64(gocv.CompareHist(ha, hb, gocv.HistCmpCorrel))
	return math.Max(0, corr)
}
