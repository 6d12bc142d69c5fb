package detectors

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// StripeOptions configures the directional-energy threshold.
type StripeOptions struct {
	Threshold float64
}

// StripeDetector finds periodic interference stripes through the frequency
// spectrum: stripes concentrate energy on the spectrum's central axes.
type StripeDetector struct {
	opts StripeOptions
}

var _ detect.Detector = (*StripeDetector)(nil)

func NewStripeDetector(cfg map[string]any) (*StripeDetector, error) {
	p := newOptionParser(cfg)
	opts := StripeOptions{
		Threshold: p.float("threshold", 0.3),
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return &StripeDetector{opts: opts}, nil
}

func (d *StripeDetector) Meta() detect.Metadata {
	return detect.Metadata{
		Name:            "stripe",
		DisplayName:     "Stripe Interference Detection",
		Description:     "Detects periodic stripes caused by electrical interference",
		Version:         "1.0",
		Priority:        65,
		SupportedLevels: []detect.Level{detect.LevelFast, detect.LevelStandard, detect.LevelDeep},
	}
}

func (d *StripeDetector) Detect(img gocv.Mat, level detect.Level) (detect.Finding, error) {
	start := time.Now()
	if !validFrame(img) {
		return detect.Finding{}, fmt.Errorf("stripe: invalid frame")
	}

	gray := grayOf(img)
	defer gray.Close()

	mag := fftMagnitude(gray)
	defer mag.Close()

	hEnergy, vEnergy := axisEnergies(mag)
	score := hEnergy
	if vEnergy > score {
		score = vEnergy
	}

	direction := "both"
	switch {
	case hEnergy > vEnergy*1.5:
		direction = "horizontal"
	case vEnergy > hEnergy*1.5:
		direction = "vertical"
	}

	evidence := map[string]any{
		"horizontal_energy": hEnergy,
		"vertical_energy":   vEnergy,
		"direction":         direction,
	}
	if level == detect.LevelDeep {
		if period := stripePeriod(gray, direction); period > 0 {
			evidence["period_px"] = period
		}
	}

	thr := d.opts.Threshold
	f := detect.Finding{
		DetectorName: "stripe",
		IssueType:    detect.NormalIssue("stripe"),
		Score:        score,
		Threshold:    thr,
		Confidence:   detect.Confidence(score, thr, false),
		Severity:     detect.SeverityNormal,
		Evidence:     evidence,
	}
	if score > thr {
		f.IssueType = "stripe"
		f.IsAbnormal = true
		f.Severity = excessSeverity(score, thr)
		f.Explanation = fmt.Sprintf("%s stripe energy %.2f exceeds %.2f", direction, score, thr)
		f.PossibleCauses = []string{
			"Ground loop or power-line interference",
			"Unshielded cable near a power source",
			"Rolling shutter conflict with flickering light",
		}
		f.Suggestions = []string{
			"Check cable shielding and grounding",
			"Use a ground loop isolator",
			"Match shutter frequency to the lighting",
		}
	}
	finish(&f, start, level)
	return f, nil
}

// axisEnergies returns the fraction of spectral energy on the central
// vertical axis (horizontal stripes) and central horizontal axis (vertical
// stripes), excluding the DC neighborhood.
func axisEnergies(mag gocv.Mat) (hEnergy, vEnergy float64) {
	h, w := mag.Rows(), mag.Cols()
	cy, cx := h/2, w/2

	total := mag.Sum().Val1
	center := mag.Region(image.Rect(maxInt(cx-5, 0), maxInt(cy-5, 0), minInt(cx+5, w), minInt(cy+5, h)))
	dc := center.Sum().Val1
	center.Close()
	denom := total - dc
	if denom <= 0 {
		return 0, 0
	}

	vLine := mag.Region(image.Rect(maxInt(cx-2, 0), 0, minInt(cx+3, w), h))
	vSum := vLine.Sum().Val1
	vLine.Close()
	hLine := mag.Region(image.Rect(0, maxInt(cy-2, 0), w, minInt(cy+3, h)))
	hSum := hLine.Sum().Val1
	hLine.Close()

	// Both line regions overlap the DC block; subtract it once from each.
	hEnergy = (vSum - dc) / denom
	vEnergy = (hSum - dc) / denom
	if hEnergy < 0 {
		hEnergy = 0
	}
	if vEnergy < 0 {
		vEnergy = 0
	}
	return hEnergy, vEnergy
}

// stripePeriod estimates the dominant stripe spacing in pixels from the
// autocorrelation of the row or column intensity profile.
func stripePeriod(gray gocv.Mat, direction string) int {
	profile := intensityProfile(gray, direction != "vertical")
	if len(profile) < 8 {
		return 0
	}

	var mean float64
	for _, v := range profile {
		mean += v
	}
	mean /= float64(len(profile))

	n := len(profile) / 2
	best, bestLag := 0.0, 0
	var prev float64
	rising := false
	for lag := 1; lag < n; lag++ {
		var corr float64
		for i := 0; i+lag < len(profile); i++ {
			corr += (profile[i] - mean) * (profile[i+lag] - mean)
		}
		corr /= float64(len(profile) - lag)
		if lag > 2 && rising && corr < prev && prev > best {
			best, bestLag = prev, lag-1
		}
		rising = corr > prev
		prev = corr
	}
	return bestLag
}

// intensityProfile is the per-row (or per-column) mean intensity.
func intensityProfile(gray gocv.Mat, rows bool) []float64 {
	if rows {
		out := make([]float64, gray.Rows())
		for y := range out {
			region := gray.Region(image.Rect(0, y, gray.Cols(), y+1))
			out[y] = region.Mean().Val1
			region.Close()
		}
		return out
	}
	out := make([]float64, gray.Cols())
	for x := range out {
		region := gray.Region(image.Rect(x, 0, x+1, gray.Rows()))
		out[x] = region.Mean().Val1
		region.Close()
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
