package detectors

import (
	"fmt"
	"image"
	"time"

	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// SignalLossOptions configures the black-screen intensity threshold.
type SignalLossOptions struct {
	BlackThreshold float64
}

// SignalLossDetector flags frames carrying no real picture: black screens,
// white screens, solid colors and "no signal" test cards.
type SignalLossDetector struct {
	opts SignalLossOptions
}

var _ detect.Detector = (*SignalLossDetector)(nil)

func NewSignalLossDetector(cfg map[string]any) (*SignalLossDetector, error) {
	p := newOptionParser(cfg)
	opts := SignalLossOptions{
		BlackThreshold: p.float("black_threshold", 10),
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return &SignalLossDetector{opts: opts}, nil
}

func (d *SignalLossDetector) Meta() detect.Metadata {
	return detect.Metadata{
		Name:            "signal_loss",
		DisplayName:     "Signal Loss Detection",
		Description:     "Detects black screens, white screens, solid colors and test cards",
		Version:         "1.0",
		Priority:        10,
		SupportedLevels: []detect.Level{detect.LevelFast, detect.LevelStandard, detect.LevelDeep},
		Suppresses:      []string{"too_dark", "blur", "low_contrast", "no_texture", "noise"},
	}
}

func (d *SignalLossDetector) Detect(img gocv.Mat, level detect.Level) (detect.Finding, error) {
	start := time.Now()
	if !validFrame(img) {
		return detect.Finding{}, fmt.Errorf("signal_loss: invalid frame")
	}

	gray := grayOf(img)
	defer gray.Close()

	mean, std := meanStd(gray)
	evidence := map[string]any{
		"mean_intensity": mean,
		"std_intensity":  std,
	}

	f := detect.Finding{
		DetectorName: "signal_loss",
		IssueType:    detect.NormalIssue("signal_loss"),
		Score:        mean,
		Threshold:    d.opts.BlackThreshold,
		Confidence:   1,
		Severity:     detect.SeverityNormal,
		Evidence:     evidence,
	}

	if level == detect.LevelDeep {
		evidence["edge_density"] = edgeDensity(gray)
		if img.Channels() == 3 {
			m := img.Mean()
			evidence["mean_bgr"] = []float64{m.Val1, m.Val2, m.Val3}
			if bars := colorBarCount(img); bars >= 5 {
				evidence["color_bars"] = bars
				f.IssueType = "signal_loss"
				f.IsAbnormal = true
				f.Score = float64(bars)
				f.Threshold = 5
				f.Confidence = 0.9
				f.Severity = detect.SeverityCritical
				f.Explanation = "The frame matches a no-signal color bar test card"
				f.PossibleCauses = []string{
					"Camera disconnected from the encoder",
					"Input channel without a source",
				}
				f.Suggestions = []string{
					"Check the camera connection",
					"Verify the channel mapping on the encoder",
				}
				finish(&f, start, level)
				return f, nil
			}
		}
	}

	switch {
	case mean < d.opts.BlackThreshold:
		f.IssueType = "black_screen"
		f.IsAbnormal = true
		f.Confidence = detect.Confidence(mean, d.opts.BlackThreshold, false)
		f.Severity = detect.SeverityWarning
		if mean < 3 {
			f.Severity = detect.SeverityCritical
		}
		f.Explanation = fmt.Sprintf("Frame is black (mean intensity %.1f)", mean)
		f.PossibleCauses = []string{
			"Camera powered off or disconnected",
			"Lens completely covered",
			"Video signal lost",
		}
		f.Suggestions = []string{
			"Check camera power and cabling",
			"Inspect the lens for a cover",
		}
	case mean > 250 && std < 3:
		f.IssueType = "white_screen"
		f.IsAbnormal = true
		f.Score = 255 - mean
		f.Threshold = 5
		f.Confidence = detect.Confidence(255-mean, 5, false)
		f.Severity = detect.SeverityWarning
		if mean > 253 {
			f.Severity = detect.SeverityCritical
		}
		f.Explanation = fmt.Sprintf("Frame is blown out white (mean intensity %.1f)", mean)
		f.PossibleCauses = []string{
			"Sensor overexposed by a direct light source",
			"Signal clipped to full scale",
		}
		f.Suggestions = []string{
			"Check for lights shining into the lens",
			"Reduce exposure settings",
		}
	case std < 3:
		f.IssueType = "solid_color"
		f.IsAbnormal = true
		f.Score = std
		f.Threshold = 3
		f.Confidence = detect.Confidence(std, 3, false)
		f.Severity = detect.SeverityWarning
		f.Explanation = fmt.Sprintf("Frame is a single flat tone (std %.2f)", std)
		f.PossibleCauses = []string{
			"Decoder outputting a fill color",
			"Camera fault producing a solid frame",
		}
		f.Suggestions = []string{
			"Restart the video source",
			"Check the decoder logs",
		}
	}

	finish(&f, start, level)
	return f, nil
}

// colorBarCount counts distinct vertical bands of stable hue across the
// middle of the frame, the structure of an SMPTE-style test card. Bands must
// be vertically uniform to count.
func colorBarCount(img gocv.Mat) int {
	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	w, h := img.Cols(), img.Rows()
	const samples = 64
	step := w / samples
	if step == 0 {
		step = 1
	}

	var bars int
	lastHue := -999.0
	for x := 0; x < w; x += step {
		col := hsv.Region(image.Rect(x, h/4, x+1, h*3/4))
		mean, std := col.MeanStdDev()
		col.Close()
		// A bar column has a constant hue top to bottom.
		if std.Val1 > 10 {
			lastHue = -999
			continue
		}
		hue := mean.Val1
		if lastHue == -999 || absFloat(hue-lastHue) > 15 {
			bars++
		}
		lastHue = hue
	}
	return bars
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
