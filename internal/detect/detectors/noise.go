package detectors

import (
	"fmt"
	"image"
	"math"
	"time"

	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// NoiseOptions configures the maximum acceptable noise level.
type NoiseOptions struct {
	Threshold float64
}

// NoiseDetector estimates sensor noise, distinguishing gaussian grain,
// salt-and-pepper speckle and analog "snow".
type NoiseDetector struct {
	opts NoiseOptions
}

var _ detect.Detector = (*NoiseDetector)(nil)

func NewNoiseDetector(cfg map[string]any) (*NoiseDetector, error) {
	p := newOptionParser(cfg)
	opts := NoiseOptions{
		Threshold: p.float("threshold", 15),
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return &NoiseDetector{opts: opts}, nil
}

func (d *NoiseDetector) Meta() detect.Metadata {
	return detect.Metadata{
		Name:            "noise",
		DisplayName:     "Noise Detection",
		Description:     "Estimates image noise and classifies its kind",
		Version:         "1.0",
		Priority:        55,
		SupportedLevels: []detect.Level{detect.LevelFast, detect.LevelStandard, detect.LevelDeep},
	}
}

func (d *NoiseDetector) Detect(img gocv.Mat, level detect.Level) (detect.Finding, error) {
	start := time.Now()
	if !validFrame(img) {
		return detect.Finding{}, fmt.Errorf("noise: invalid frame")
	}

	gray := grayOf(img)
	defer gray.Close()

	evidence := map[string]any{}
	sigma := d.robustSigma(gray, evidence)
	score := sigma

	if level == detect.LevelStandard || level == detect.LevelDeep {
		resid := medianResidual(gray)
		evidence["median_residual"] = resid
		score = resid*0.6 + sigma*0.4
	}

	issue := "gaussian_noise"
	if level == detect.LevelDeep {
		issue = d.deepClassify(img, gray, evidence)
	}

	thr := d.opts.Threshold
	f := detect.Finding{
		DetectorName: "noise",
		IssueType:    detect.NormalIssue("noise"),
		Score:        score,
		Threshold:    thr,
		Confidence:   detect.Confidence(score, thr, false),
		Severity:     detect.SeverityNormal,
		Evidence:     evidence,
	}
	if score > thr {
		f.IssueType = issue
		f.IsAbnormal = true
		f.Severity = excessSeverity(score, thr)
		f.Explanation = fmt.Sprintf("Estimated noise level %.1f exceeds the acceptable %.1f", score, thr)
		f.PossibleCauses = []string{
			"High sensor gain in low light",
			"Electromagnetic interference on the cable",
			"Failing image sensor",
		}
		f.Suggestions = []string{
			"Improve scene lighting to reduce gain",
			"Check cable shielding and grounding",
			"Enable noise reduction if available",
		}
	}
	finish(&f, start, level)
	return f, nil
}

// robustSigma estimates gaussian noise from the median absolute deviation of
// the Laplacian, tempered by texture complexity so detailed scenes do not
// read as noisy.
func (d *NoiseDetector) robustSigma(gray gocv.Mat, evidence map[string]any) float64 {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV32F, 1, 1, 0, gocv.BorderDefault)

	abs := gocv.NewMat()
	defer abs.Close()
	zero := gocv.NewMatWithSize(lap.Rows(), lap.Cols(), gocv.MatTypeCV32F)
	defer zero.Close()
	gocv.AbsDiff(lap, zero, &abs)

	sigma := medianFloat(matFloats(abs)) / 0.6745

	mag := sobelMagnitude(gray)
	texture := mag.Mean().Val1
	mag.Close()
	sigma *= math.Min(1, 50/math.Max(texture, 1))

	_, contrast := meanStd(gray)
	if contrast > 40 {
		sigma *= 0.7 + 0.3*40/contrast
	}

	evidence["mad_sigma"] = sigma
	evidence["texture_complexity"] = texture
	return sigma
}

// medianResidual measures the deviation wiped out by a 5x5 median filter.
func medianResidual(gray gocv.Mat) float64 {
	med := gocv.NewMat()
	defer med.Close()
	gocv.MedianBlur(gray, &med, 5)

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(gray, med, &diff)
	_, std := meanStd(diff)
	return std
}

// deepClassify decides which noise family dominates and records the
// supporting ratios.
func (d *NoiseDetector) deepClassify(img, gray gocv.Mat, evidence map[string]any) string {
	total := float64(gray.Rows() * gray.Cols())

	evidence["high_freq_ratio"] = highFrequencyRatio(gray)

	spRatio := extremePixelRatio(gray, total)
	evidence["salt_pepper_ratio"] = spRatio

	snowRatio := 0.0
	if img.Channels() == 3 {
		hsv := gocv.NewMat()
		defer hsv.Close()
		gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)
		mask := gocv.NewMat()
		defer mask.Close()
		gocv.InRangeWithScalar(hsv,
			gocv.NewScalar(0, 0, 240, 0),
			gocv.NewScalar(180, 30, 255, 0),
			&mask)
		snowRatio = float64(gocv.CountNonZero(mask)) / total
	}
	evidence["snow_ratio"] = snowRatio

	switch {
	case snowRatio > 0.02:
		return "snow_noise"
	case spRatio > 0.01:
		return "salt_pepper_noise"
	default:
		return "gaussian_noise"
	}
}

// highFrequencyRatio is the share of spectral energy outside the low
// frequency block around DC.
func highFrequencyRatio(gray gocv.Mat) float64 {
	mag := fftMagnitude(gray)
	defer mag.Close()

	total := mag.Sum().Val1
	if total == 0 {
		return 0
	}
	h, w := mag.Rows(), mag.Cols()
	cy, cx := h/2, w/2
	bh, bw := h/8, w/8
	center := mag.Region(image.Rect(cx-bw/2, cy-bh/2, cx+bw/2, cy+bh/2))
	defer center.Close()
	low := center.Sum().Val1
	return (total - low) / total
}

// extremePixelRatio counts pixels pinned near black or white.
func extremePixelRatio(gray gocv.Mat, total float64) float64 {
	dark := gocv.NewMat()
	defer dark.Close()
	gocv.Threshold(gray, &dark, 5, 255, gocv.ThresholdBinaryInv)

	bright := gocv.NewMat()
	defer bright.Close()
	gocv.Threshold(gray, &bright, 250, 255, gocv.ThresholdBinary)

	return (float64(gocv.CountNonZero(dark)) + float64(gocv.CountNonZero(bright))) / total
}
