package detectors

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// ContrastOptions configures the minimum acceptable global contrast.
type ContrastOptions struct {
	MinContrast float64
}

// ContrastDetector flags flat, washed-out frames.
type ContrastDetector struct {
	opts ContrastOptions
}

var _ detect.Detector = (*ContrastDetector)(nil)

func NewContrastDetector(cfg map[string]any) (*ContrastDetector, error) {
	p := newOptionParser(cfg)
	opts := ContrastOptions{
		MinContrast: p.float("min_contrast", 30),
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return &ContrastDetector{opts: opts}, nil
}

func (d *ContrastDetector) Meta() detect.Metadata {
	return detect.Metadata{
		Name:            "contrast",
		DisplayName:     "Contrast Detection",
		Description:     "Detects low-contrast, washed-out frames",
		Version:         "1.0",
		Priority:        60,
		SupportedLevels: []detect.Level{detect.LevelFast, detect.LevelStandard, detect.LevelDeep},
	}
}

func (d *ContrastDetector) Detect(img gocv.Mat, level detect.Level) (detect.Finding, error) {
	start := time.Now()
	if !validFrame(img) {
		return detect.Finding{}, fmt.Errorf("contrast: invalid frame")
	}

	gray := grayOf(img)
	defer gray.Close()

	_, globalStd := meanStd(gray)
	evidence := map[string]any{"global_std": globalStd}
	score := globalStd

	if level == detect.LevelStandard || level == detect.LevelDeep {
		local := localContrast(gray)
		evidence["local_contrast"] = local
		score = globalStd*0.7 + local*0.3
	}
	if level == detect.LevelDeep {
		d.deepEvidence(gray, evidence)
	}

	thr := d.opts.MinContrast
	abnormal := score < thr
	f := detect.Finding{
		DetectorName: "contrast",
		IssueType:    detect.NormalIssue("contrast"),
		Score:        score,
		Threshold:    thr,
		Confidence:   detect.Confidence(score, thr, true),
		Severity:     detect.SeverityNormal,
		Evidence:     evidence,
	}
	if abnormal {
		f.IssueType = "low_contrast"
		f.IsAbnormal = true
		f.Severity = sharpnessSeverity(score, thr)
		f.Explanation = fmt.Sprintf("Image contrast %.1f is below the acceptable level %.1f", score, thr)
		f.PossibleCauses = []string{
			"Fog, haze or rain in the scene",
			"Dirty dome or lens cover",
			"Flat lighting conditions",
		}
		f.Suggestions = []string{
			"Clean the lens or dome",
			"Enable defog processing if available",
			"Adjust gamma and contrast settings",
		}
	}
	finish(&f, start, level)
	return f, nil
}

// localContrast is the mean absolute residual against a large box blur.
func localContrast(gray gocv.Mat) float64 {
	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.Blur(gray, &blurred, image.Pt(31, 31))

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(gray, blurred, &diff)
	return diff.Mean().Val1
}

// deepEvidence adds RMS, Michelson and Weber contrast variants.
func (d *ContrastDetector) deepEvidence(gray gocv.Mat, evidence map[string]any) {
	mean, std := meanStd(gray)
	evidence["rms_contrast"] = std

	minVal, maxVal, _, _ := gocv.MinMaxLoc(gray)
	if maxVal+minVal > 0 {
		evidence["michelson_contrast"] = float64(maxVal-minVal) / float64(maxVal+minVal)
	}

	f := gocv.NewMat()
	defer f.Close()
	gray.ConvertTo(&f, gocv.MatTypeCV32F)
	median := medianFloat(matFloats(f))
	if median > 0 {
		evidence["weber_contrast"] = (mean - median) / median
	}
}
