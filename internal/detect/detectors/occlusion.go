package detectors

import (
	"fmt"
	"image"
	"math"
	"time"

	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// OcclusionOptions configures the occlusion score threshold.
type OcclusionOptions struct {
	Threshold float64
}

// OcclusionDetector flags lenses blocked by objects: it fuses several
// weighted indicators of "large featureless area" and tempers them with a
// natural-element factor so foliage does not count as an obstruction.
type OcclusionDetector struct {
	opts OcclusionOptions
}

var _ detect.Detector = (*OcclusionDetector)(nil)

func NewOcclusionDetector(cfg map[string]any) (*OcclusionDetector, error) {
	p := newOptionParser(cfg)
	opts := OcclusionOptions{
		Threshold: p.float("threshold", 0.25),
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return &OcclusionDetector{opts: opts}, nil
}

func (d *OcclusionDetector) Meta() detect.Metadata {
	return detect.Metadata{
		Name:            "occlusion",
		DisplayName:     "Occlusion Detection",
		Description:     "Detects lenses blocked by foreign objects",
		Version:         "1.2",
		Priority:        25,
		SupportedLevels: []detect.Level{detect.LevelFast, detect.LevelStandard, detect.LevelDeep},
		Suppresses:      []string{"partial_blur", "blur"},
	}
}

func (d *OcclusionDetector) Detect(img gocv.Mat, level detect.Level) (detect.Finding, error) {
	start := time.Now()
	if !validFrame(img) {
		return detect.Finding{}, fmt.Errorf("occlusion: invalid frame")
	}

	gray := grayOf(img)
	defer gray.Close()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 100, 200)

	var hue gocv.Mat
	hasHue := img.Channels() == 3
	if hasHue {
		hsv := gocv.NewMat()
		gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)
		planes := gocv.Split(hsv)
		hsv.Close()
		hue = planes[0]
		defer hue.Close()
		planes[1].Close()
		planes[2].Close()
	}

	total := float64(gray.Rows() * gray.Cols())
	evidence := map[string]any{}

	// (i) sparse edges across the whole frame
	density := float64(gocv.CountNonZero(edges)) / total
	edgeSparsity := clamp01(1 - density*10)

	// (ii) weak global contrast
	_, globalStd := meanStd(gray)
	lowContrast := clamp01(1 - globalStd/50)

	// (iii) concentrated hue distribution
	hueUniformity := 0.0
	dominantHue := 0.0
	if hasHue {
		hueUniformity, dominantHue = hueStats(hue)
	}

	// (iv) narrow brightness range
	minVal, maxVal, _, _ := gocv.MinMaxLoc(gray)
	narrowRange := clamp01(1 - float64(maxVal-minVal)/100)

	// (v) small flat blocks
	uniformBlocks := uniformBlockRatio(gray, 8, 3)

	// (vi) mosaic of dead cells: low texture, no edges, stable hue
	mosaic := deadCellRatio(gray, edges, hue, hasHue)

	// (vii) large flat regions under a wide kernel
	solidMask := gocv.NewMat()
	defer solidMask.Close()
	solidRatio := wideSolidRatio(gray, &solidMask, total)
	evidence["solid_color_ratio"] = solidRatio

	// (viii) a single hue owning much of the frame
	dominantIndicator := clamp01((dominantHue - 0.4) / 0.6)

	// (ix) long narrow uniform bands, e.g. a pillar across the view
	bands := uniformBandRatio(gray)

	natural := d.naturalElementFactor(gray, solidMask, solidRatio)
	evidence["natural_factor"] = natural

	score := edgeSparsity*0.15 +
		lowContrast*0.10 +
		hueUniformity*0.10 +
		narrowRange*0.05 +
		uniformBlocks*0.15*natural +
		mosaic*0.15*natural +
		clamp01(solidRatio*2)*0.15*natural +
		dominantIndicator*0.05 +
		bands*0.10
	score = clamp01(score)

	evidence["edge_sparsity"] = edgeSparsity
	evidence["low_contrast"] = lowContrast
	evidence["hue_uniformity"] = hueUniformity
	evidence["narrow_range"] = narrowRange
	evidence["uniform_blocks"] = uniformBlocks
	evidence["dead_cells"] = mosaic
	evidence["dominant_hue_ratio"] = dominantHue
	evidence["band_ratio"] = bands

	thr := d.opts.Threshold
	f := detect.Finding{
		DetectorName: "occlusion",
		IssueType:    detect.NormalIssue("occlusion"),
		Score:        score,
		Threshold:    thr,
		Confidence:   detect.Confidence(score, thr, false),
		Severity:     detect.SeverityNormal,
		Evidence:     evidence,
	}
	if score > thr {
		f.IssueType = "occlusion"
		f.IsAbnormal = true
		switch {
		case score <= 0.5:
			f.Severity = detect.SeverityInfo
		case score <= 0.7:
			f.Severity = detect.SeverityWarning
		default:
			f.Severity = detect.SeverityCritical
		}
		f.Explanation = fmt.Sprintf("Occlusion score %.2f exceeds %.2f, the view appears blocked", score, thr)
		f.PossibleCauses = []string{
			"Object placed in front of the lens",
			"Spray paint or tape on the dome",
			"Camera pushed against a wall or pillar",
		}
		f.Suggestions = []string{
			"Inspect the camera housing on site",
			"Review recent footage for tampering",
			"Re-aim the camera",
		}
	}
	finish(&f, start, level)
	return f, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

// hueStats returns a uniformity score derived from the hue histogram entropy
// and the share of the dominant hue bucket.
func hueStats(hue gocv.Mat) (uniformity, dominant float64) {
	hist := gocv.NewMat()
	defer hist.Close()
	gocv.CalcHist([]gocv.Mat{hue}, []int{0}, gocv.NewMat(), &hist, []int{18}, []float64{0, 180}, false)

	total := float64(hue.Rows() * hue.Cols())
	if total == 0 {
		return 0, 0
	}
	var entropy, maxShare float64
	for i := 0; i < 18; i++ {
		p := float64(hist.GetFloatAt(i, 0)) / total
		if p > maxShare {
			maxShare = p
		}
		if p > 0 {
			entropy -= p * math.Log2(p)
		}
	}
	maxEntropy := math.Log2(18)
	return clamp01(1 - entropy/maxEntropy), maxShare
}

// uniformBlockRatio is the fraction of size x size blocks whose std-dev is
// below stdMax.
func uniformBlockRatio(gray gocv.Mat, size int, stdMax float64) float64 {
	var flat, n float64
	for y := 0; y+size <= gray.Rows(); y += size {
		for x := 0; x+size <= gray.Cols(); x += size {
			region := gray.Region(image.Rect(x, y, x+size, y+size))
			_, std := meanStd(region)
			region.Close()
			n++
			if std < stdMax {
				flat++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return flat / n
}

// deadCellRatio is the fraction of 32px cells that are simultaneously
// low-texture, edge-free and hue-stable.
func deadCellRatio(gray, edges, hue gocv.Mat, hasHue bool) float64 {
	const cell = 32
	var dead, n float64
	for y := 0; y+cell <= gray.Rows(); y += cell {
		for x := 0; x+cell <= gray.Cols(); x += cell {
			rect := image.Rect(x, y, x+cell, y+cell)
			g := gray.Region(rect)
			_, std := meanStd(g)
			g.Close()

			e := edges.Region(rect)
			edgeRatio := float64(gocv.CountNonZero(e)) / float64(cell*cell)
			e.Close()

			hueStable := true
			if hasHue {
				hr := hue.Region(rect)
				_, hueStd := meanStd(hr)
				hr.Close()
				hueStable = hueStd < 10
			}

			n++
			if std < 8 && edgeRatio < 0.01 && hueStable {
				dead++
			}
		}
	}
	if n == 0 {
		return 0
	}
	return dead / n
}

// wideSolidRatio fills mask with the pixels flat under a 51px window and
// returns their share of the frame.
func wideSolidRatio(gray gocv.Mat, mask *gocv.Mat, total float64) float64 {
	std := localStdDev(gray, 51)
	defer std.Close()

	m32 := gocv.NewMat()
	defer m32.Close()
	gocv.Threshold(std, &m32, 5, 255, gocv.ThresholdBinaryInv)
	m32.ConvertTo(mask, gocv.MatTypeCV8U)
	return float64(gocv.CountNonZero(*mask)) / total
}

// uniformBandRatio looks for contiguous runs of flat rows or columns, the
// signature of a structural occluder crossing the frame.
func uniformBandRatio(gray gocv.Mat) float64 {
	rowRun := flatRunShare(gray, true)
	colRun := flatRunShare(gray, false)
	return math.Max(rowRun, colRun)
}

func flatRunShare(gray gocv.Mat, rows bool) float64 {
	n := gray.Cols()
	if rows {
		n = gray.Rows()
	}
	minRun := n / 20
	if minRun < 3 {
		minRun = 3
	}

	var longest, run int
	for i := 0; i < n; i++ {
		var region gocv.Mat
		if rows {
			region = gray.Region(image.Rect(0, i, gray.Cols(), i+1))
		} else {
			region = gray.Region(image.Rect(i, 0, i+1, gray.Rows()))
		}
		_, std := meanStd(region)
		region.Close()
		if std < 5 {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	if longest < minRun {
		return 0
	}
	return float64(longest) / float64(n)
}

// naturalElementFactor measures micro-texture inside the flat region: dense
// fine detail there (foliage, water) means the flatness is natural, and the
// area-based indicators are tempered accordingly.
func (d *OcclusionDetector) naturalElementFactor(gray, solidMask gocv.Mat, solidRatio float64) float64 {
	if solidRatio < 0.05 {
		return 1
	}
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV32F, 3, 1, 0, gocv.BorderDefault)

	abs := gocv.NewMat()
	defer abs.Close()
	zero := gocv.NewMatWithSize(lap.Rows(), lap.Cols(), gocv.MatTypeCV32F)
	defer zero.Close()
	gocv.AbsDiff(lap, zero, &abs)

	micro := abs.MeanWithMask(solidMask).Val1
	// micro ~0 for a true cover, tens for vegetation under wind blur
	return clamp01(1 - micro/50)
}
