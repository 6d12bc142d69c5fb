package detectors

import (
	"fmt"
	"math"
	"time"

	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// BrightnessOptions bounds the acceptable mean intensity band.
type BrightnessOptions struct {
	Min float64
	Max float64
}

// BrightnessDetector flags frames that are too dark or too bright.
type BrightnessDetector struct {
	opts BrightnessOptions
}

var _ detect.Detector = (*BrightnessDetector)(nil)

func NewBrightnessDetector(cfg map[string]any) (*BrightnessDetector, error) {
	p := newOptionParser(cfg)
	opts := BrightnessOptions{
		Min: p.float("min_brightness", 20),
		Max: p.float("max_brightness", 235),
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return &BrightnessDetector{opts: opts}, nil
}

func (d *BrightnessDetector) Meta() detect.Metadata {
	return detect.Metadata{
		Name:            "brightness",
		DisplayName:     "Brightness Detection",
		Description:     "Detects underexposed and overexposed frames",
		Version:         "1.0",
		Priority:        30,
		SupportedLevels: []detect.Level{detect.LevelFast, detect.LevelStandard, detect.LevelDeep},
	}
}

func (d *BrightnessDetector) Detect(img gocv.Mat, level detect.Level) (detect.Finding, error) {
	start := time.Now()
	if !validFrame(img) {
		return detect.Finding{}, fmt.Errorf("brightness: invalid frame")
	}

	gray := grayOf(img)
	defer gray.Close()

	mean, _ := meanStd(gray)
	evidence := map[string]any{"mean_brightness": mean}

	if level == detect.LevelDeep {
		d.deepEvidence(gray, evidence)
	}

	f := detect.Finding{
		DetectorName: "brightness",
		IssueType:    detect.NormalIssue("brightness"),
		Score:        mean,
		Severity:     detect.SeverityNormal,
		Evidence:     evidence,
	}

	switch {
	case mean < d.opts.Min:
		f.IssueType = "too_dark"
		f.IsAbnormal = true
		f.Threshold = d.opts.Min
		f.Confidence = detect.Confidence(mean, d.opts.Min, false)
		switch {
		case mean < 5:
			f.Severity = detect.SeverityCritical
		case mean < d.opts.Min*0.5:
			f.Severity = detect.SeverityWarning
		default:
			f.Severity = detect.SeverityInfo
		}
		f.Explanation = fmt.Sprintf("Mean brightness %.1f is below the minimum %.1f", mean, d.opts.Min)
		f.PossibleCauses = []string{
			"Insufficient scene illumination",
			"Exposure set too low",
			"Iris closed or lens covered",
		}
		f.Suggestions = []string{
			"Add lighting or enable IR mode",
			"Increase exposure or gain",
			"Check the lens for obstructions",
		}
	case mean > d.opts.Max:
		f.IssueType = "too_bright"
		f.IsAbnormal = true
		f.Threshold = d.opts.Max
		f.Confidence = detect.Confidence(mean, d.opts.Max, false)
		switch {
		case mean > 250:
			f.Severity = detect.SeverityCritical
		case mean > d.opts.Max+(255-d.opts.Max)*0.5:
			f.Severity = detect.SeverityWarning
		default:
			f.Severity = detect.SeverityInfo
		}
		f.Explanation = fmt.Sprintf("Mean brightness %.1f is above the maximum %.1f", mean, d.opts.Max)
		f.PossibleCauses = []string{
			"Direct light source in the field of view",
			"Exposure set too high",
			"Backlight compensation misconfigured",
		}
		f.Suggestions = []string{
			"Reduce exposure or gain",
			"Reposition the camera away from light sources",
			"Enable wide dynamic range mode",
		}
	default:
		f.Threshold = d.opts.Min
		f.Confidence = 1
	}

	finish(&f, start, level)
	return f, nil
}

// deepEvidence adds histogram statistics: the dark and bright pixel ratios
// and the intensity entropy.
func (d *BrightnessDetector) deepEvidence(gray gocv.Mat, evidence map[string]any) {
	hist := grayHistogram(gray, false)
	defer hist.Close()

	total := float64(gray.Rows() * gray.Cols())
	if total == 0 {
		return
	}

	var dark, bright, entropy float64
	for i := 0; i < 256; i++ {
		v := float64(hist.GetFloatAt(i, 0))
		if i < 30 {
			dark += v
		}
		if i >= 225 {
			bright += v
		}
		if p := v / total; p > 0 {
			entropy -= p * math.Log2(p)
		}
	}
	evidence["dark_ratio"] = dark / total
	evidence["bright_ratio"] = bright / total
	evidence["entropy"] = entropy
}
