package detectors

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// BlurOptions configures the blur detector.
type BlurOptions struct {
	// Threshold is the minimum acceptable sharpness score.
	Threshold float64
}

// BlurDetector flags frames whose edge energy is too low, i.e. out-of-focus
// or smeared pictures.
type BlurDetector struct {
	opts BlurOptions
}

var _ detect.Detector = (*BlurDetector)(nil)

// NewBlurDetector builds a blur detector from a raw config map.
func NewBlurDetector(cfg map[string]any) (*BlurDetector, error) {
	p := newOptionParser(cfg)
	opts := BlurOptions{
		Threshold: p.float("threshold", 100),
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return &BlurDetector{opts: opts}, nil
}

func (d *BlurDetector) Meta() detect.Metadata {
	return detect.Metadata{
		Name:            "blur",
		DisplayName:     "Blur Detection",
		Description:     "Detects out-of-focus and motion-smeared frames via edge energy",
		Version:         "1.0",
		Priority:        50,
		SupportedLevels: []detect.Level{detect.LevelFast, detect.LevelStandard, detect.LevelDeep},
	}
}

func (d *BlurDetector) Detect(img gocv.Mat, level detect.Level) (detect.Finding, error) {
	start := time.Now()
	if !validFrame(img) {
		return detect.Finding{}, fmt.Errorf("blur: invalid frame")
	}

	gray := grayOf(img)
	defer gray.Close()

	evidence := map[string]any{}
	var score float64

	switch level {
	case detect.LevelFast:
		score = laplacianVariance(gray)
		evidence["laplacian_var"] = score
	case detect.LevelDeep:
		score = d.deepScore(gray, evidence)
	default:
		lapVar := laplacianVariance(gray)
		mag := sobelMagnitude(gray)
		sobelMean := mag.Mean().Val1
		mag.Close()
		score = lapVar*0.6 + sobelMean*0.4
		evidence["laplacian_var"] = lapVar
		evidence["sobel_mean"] = sobelMean
	}

	thr := d.opts.Threshold
	abnormal := score < thr
	f := detect.Finding{
		DetectorName: "blur",
		IssueType:    detect.NormalIssue("blur"),
		Score:        score,
		Threshold:    thr,
		Confidence:   detect.Confidence(score, thr, true),
		Severity:     detect.SeverityNormal,
		Evidence:     evidence,
	}
	if abnormal {
		f.IssueType = "blur"
		f.IsAbnormal = true
		f.Severity = sharpnessSeverity(score, thr)
		f.Explanation = fmt.Sprintf("Image sharpness %.1f is below the acceptable level %.1f", score, thr)
		f.PossibleCauses = []string{
			"Lens out of focus",
			"Camera or subject motion during exposure",
			"Dirty or fogged lens",
		}
		f.Suggestions = []string{
			"Refocus the camera",
			"Clean the lens surface",
			"Check the camera mount for vibration",
		}
	}
	finish(&f, start, level)
	return f, nil
}

// deepScore fuses multiscale Laplacian variance with Brenner, Tenengrad and
// edge-density measures.
func (d *BlurDetector) deepScore(gray gocv.Mat, evidence map[string]any) float64 {
	scales := []float64{1.0, 0.5, 0.25}
	var lapSum float64
	for _, s := range scales {
		if s == 1.0 {
			lapSum += laplacianVariance(gray)
			continue
		}
		scaled := gocv.NewMat()
		w := int(float64(gray.Cols()) * s)
		h := int(float64(gray.Rows()) * s)
		if w < 2 || h < 2 {
			scaled.Close()
			continue
		}
		gocv.Resize(gray, &scaled, image.Pt(w, h), 0, 0, gocv.InterpolationArea)
		lapSum += laplacianVariance(scaled)
		scaled.Close()
	}
	lapScore := lapSum / float64(len(scales))

	brenner := brennerScore(gray)

	mag := sobelMagnitude(gray)
	sq := gocv.NewMat()
	gocv.Multiply(mag, mag, &sq)
	tenengrad := sq.Mean().Val1
	sq.Close()
	mag.Close()

	density := edgeDensity(gray)

	evidence["laplacian_multiscale"] = lapScore
	evidence["brenner"] = brenner
	evidence["tenengrad"] = tenengrad
	evidence["edge_density"] = density

	return lapScore*0.4 + brenner*0.2 + tenengrad*0.2 + density*1000*0.2
}

// brennerScore is the mean squared difference between pixels two columns
// apart.
func brennerScore(gray gocv.Mat) float64 {
	w := gray.Cols()
	h := gray.Rows()
	if w < 3 {
		return 0
	}
	left := gray.Region(image.Rect(0, 0, w-2, h))
	defer left.Close()
	right := gray.Region(image.Rect(2, 0, w, h))
	defer right.Close()

	lf := gocv.NewMat()
	defer lf.Close()
	rf := gocv.NewMat()
	defer rf.Close()
	left.ConvertTo(&lf, gocv.MatTypeCV32F)
	right.ConvertTo(&rf, gocv.MatTypeCV32F)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.Subtract(rf, lf, &diff)
	sq := gocv.NewMat()
	defer sq.Close()
	gocv.Multiply(diff, diff, &sq)
	return sq.Mean().Val1
}
