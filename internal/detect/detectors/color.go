package detectors

import (
	"fmt"
	"image"
	"math"
	"time"

	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// ColorOptions configures the color anomaly detector.
type ColorOptions struct {
	// SaturationMin is the mean saturation below which the frame counts as
	// grayscale.
	SaturationMin float64
	// CastThreshold is the maximum acceptable channel-mean deviation.
	CastThreshold float64
}

// ColorDetector flags solid blue/green screens, grayscale frames and global
// color casts. Large pure-color objects in the scene are discounted so a red
// truck does not read as a red cast.
type ColorDetector struct {
	opts ColorOptions
}

var _ detect.Detector = (*ColorDetector)(nil)

func NewColorDetector(cfg map[string]any) (*ColorDetector, error) {
	p := newOptionParser(cfg)
	opts := ColorOptions{
		SaturationMin: p.float("saturation_min", 10),
		CastThreshold: p.float("color_cast_threshold", 30),
	}
	if err := p.finish(); err != nil {
		return nil, err
	}
	return &ColorDetector{opts: opts}, nil
}

func (d *ColorDetector) Meta() detect.Metadata {
	return detect.Metadata{
		Name:            "color",
		DisplayName:     "Color Anomaly Detection",
		Description:     "Detects blue/green screens, grayscale output and color casts",
		Version:         "1.1",
		Priority:        20,
		SupportedLevels: []detect.Level{detect.LevelFast, detect.LevelStandard, detect.LevelDeep},
		Suppresses:      []string{"color_cast", "low_contrast", "low_saturation"},
	}
}

func (d *ColorDetector) Detect(img gocv.Mat, level detect.Level) (detect.Finding, error) {
	start := time.Now()
	if !validFrame(img) || img.Channels() != 3 {
		return detect.Finding{}, fmt.Errorf("color: invalid frame")
	}

	total := float64(img.Rows() * img.Cols())

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(img, &hsv, gocv.ColorBGRToHSV)

	evidence := map[string]any{}
	f := detect.Finding{
		DetectorName: "color",
		IssueType:    detect.NormalIssue("color"),
		Severity:     detect.SeverityNormal,
		Evidence:     evidence,
	}

	// Solid blue or green screens dominate everything else.
	blueRatio := hueBandRatio(hsv, 100, 130, total)
	greenRatio := hueBandRatio(hsv, 35, 85, total)
	evidence["blue_ratio"] = blueRatio
	evidence["green_ratio"] = greenRatio
	if issue, ratio := screenIssue(blueRatio, greenRatio); issue != "" {
		f.IssueType = issue
		f.IsAbnormal = true
		f.Score = ratio
		f.Threshold = 0.8
		f.Confidence = math.Min(1, ratio/0.8)
		f.Severity = detect.SeverityCritical
		f.Explanation = fmt.Sprintf("%.0f%% of the frame is a single %s tone", ratio*100, issue[:len(issue)-len("_screen")])
		f.PossibleCauses = []string{
			"Video signal replaced by a solid test pattern",
			"Decoder failure upstream",
			"Camera fault producing a solid output",
		}
		f.Suggestions = []string{
			"Check the video source and cabling",
			"Restart the encoder or camera",
		}
		finish(&f, start, level)
		return f, nil
	}

	satMean := channelMean(hsv, 1)
	evidence["saturation_mean"] = satMean
	if satMean < d.opts.SaturationMin {
		f.IssueType = "grayscale"
		f.IsAbnormal = true
		f.Score = satMean
		f.Threshold = d.opts.SaturationMin
		f.Confidence = detect.Confidence(satMean, d.opts.SaturationMin, true)
		f.Severity = sharpnessSeverity(satMean, d.opts.SaturationMin)
		f.Explanation = fmt.Sprintf("Mean saturation %.1f indicates a grayscale or color-dead picture", satMean)
		f.PossibleCauses = []string{
			"Camera switched to black-and-white or IR mode",
			"Color signal lost in transmission",
		}
		f.Suggestions = []string{
			"Check day/night mode settings",
			"Verify the video cabling and connectors",
		}
		finish(&f, start, level)
		return f, nil
	}

	d.detectCast(img, hsv, evidence, &f)
	finish(&f, start, level)
	return f, nil
}

func screenIssue(blue, green float64) (string, float64) {
	if blue > 0.8 && blue >= green {
		return "blue_screen", blue
	}
	if green > 0.8 {
		return "green_screen", green
	}
	return "", 0
}

// detectCast checks channel-mean deviation, discounting large pure-color
// regions that are likely scene objects rather than a cast.
func (d *ColorDetector) detectCast(img, hsv gocv.Mat, evidence map[string]any, f *detect.Finding) {
	mean := img.Mean()
	b, g, r := mean.Val1, mean.Val2, mean.Val3
	avg := (b + g + r) / 3
	deviation := math.Max(math.Abs(b-avg), math.Max(math.Abs(g-avg), math.Abs(r-avg)))
	evidence["channel_means"] = []float64{b, g, r}
	evidence["channel_deviation"] = deviation

	gray := grayOf(img)
	defer gray.Close()

	mask := solidRegionMask(gray)
	defer mask.Close()
	total := float64(img.Rows() * img.Cols())
	solidRatio := float64(gocv.CountNonZero(mask)) / total
	evidence["solid_ratio"] = solidRatio

	adjusted := solidRatio
	if solidRatio > 0.15 {
		adjusted = solidRatio * solidRegionFactor(img, hsv, mask)
	}
	evidence["solid_ratio_adjusted"] = adjusted

	uniformity := brightnessUniformity(gray)
	evidence["uniformity"] = uniformity

	effDeviation := deviation
	effThreshold := d.opts.CastThreshold
	switch {
	case adjusted > 0.5:
		dev, ok := maskedDeviation(img, mask)
		if !ok {
			// Nearly the whole frame is one solid object; a cast
			// verdict would be meaningless.
			return
		}
		effDeviation = dev
		effThreshold = d.opts.CastThreshold * 2.5
	case adjusted > 0.2:
		if dev, ok := maskedDeviation(img, mask); ok {
			effDeviation = dev
			effThreshold = d.opts.CastThreshold * 2.2
		} else {
			effThreshold = d.opts.CastThreshold * 2.0
		}
	case adjusted > 0.15 || uniformity < 0.75:
		effThreshold = d.opts.CastThreshold * 1.8
	}

	f.Score = effDeviation
	f.Threshold = effThreshold
	f.Confidence = detect.Confidence(effDeviation, effThreshold, false)
	if effDeviation <= effThreshold {
		f.Confidence = 1
		return
	}

	dominant := "blue"
	switch {
	case g-avg >= r-avg && g-avg >= b-avg:
		dominant = "green"
	case r-avg >= b-avg:
		dominant = "red"
	}
	evidence["dominant_channel"] = dominant

	f.IssueType = "color_cast"
	f.IsAbnormal = true
	f.Severity = excessSeverity(effDeviation, effThreshold)
	f.Explanation = fmt.Sprintf("Channel deviation %.1f exceeds %.1f, picture leans %s", effDeviation, effThreshold, dominant)
	f.PossibleCauses = []string{
		"White balance misconfigured",
		"Aging image sensor",
		"Tinted lens cover or lighting",
	}
	f.Suggestions = []string{
		"Re-run automatic white balance",
		"Check for colored light sources in the scene",
		"Inspect the camera sensor",
	}
}

// hueBandRatio is the fraction of saturated, bright pixels whose hue lies in
// [lo, hi].
func hueBandRatio(hsv gocv.Mat, lo, hi float64, total float64) float64 {
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.InRangeWithScalar(hsv,
		gocv.NewScalar(lo, 100, 100, 0),
		gocv.NewScalar(hi, 255, 255, 0),
		&mask)
	return float64(gocv.CountNonZero(mask)) / total
}

// channelMean returns the mean of one HSV channel.
func channelMean(hsv gocv.Mat, ch int) float64 {
	planes := gocv.Split(hsv)
	defer func() {
		for i := range planes {
			planes[i].Close()
		}
	}()
	return planes[ch].Mean().Val1
}

// solidRegionMask marks pixels whose 51x51 neighborhood is nearly flat.
func solidRegionMask(gray gocv.Mat) gocv.Mat {
	std := localStdDev(gray, 51)
	defer std.Close()

	mask32 := gocv.NewMat()
	defer mask32.Close()
	gocv.Threshold(std, &mask32, 12, 255, gocv.ThresholdBinaryInv)

	mask := gocv.NewMat()
	mask32.ConvertTo(&mask, gocv.MatTypeCV8U)
	return mask
}

// solidRegionFactor weighs how much the flat region should count as a real
// pure-color object. Saturated regions with a concentrated hue keep full
// weight; noisy or desaturated ones are discounted.
func solidRegionFactor(img, hsv, mask gocv.Mat) float64 {
	hsvData, err := hsv.DataPtrUint8()
	if err != nil {
		return 1
	}
	maskData, err := mask.DataPtrUint8()
	if err != nil {
		return 1
	}
	bgrData, err := img.DataPtrUint8()
	if err != nil {
		return 1
	}

	var n float64
	var satSum, hueSum, hueSqSum float64
	var bgrSum, bgrSqSum float64
	for i, m := range maskData {
		if m == 0 {
			continue
		}
		hue := float64(hsvData[i*3])
		sat := float64(hsvData[i*3+1])
		n++
		satSum += sat
		hueSum += hue
		hueSqSum += hue * hue
		for c := 0; c < 3; c++ {
			v := float64(bgrData[i*3+c])
			bgrSum += v
			bgrSqSum += v * v
		}
	}
	if n == 0 {
		return 1
	}

	satMean := satSum / n
	hueMean := hueSum / n
	hueStd := math.Sqrt(math.Max(0, hueSqSum/n-hueMean*hueMean))
	bgrMean := bgrSum / (n * 3)
	bgrStd := math.Sqrt(math.Max(0, bgrSqSum/(n*3)-bgrMean*bgrMean))

	factor := 0.4
	switch {
	case satMean > 80 && hueStd < 20:
		factor = 1.0
	case satMean > 60 && hueStd < 30:
		factor = 0.8
	}
	if bgrStd > 18 {
		factor *= 0.6
	}
	return factor
}

// maskedDeviation recomputes the channel deviation over the non-solid part
// of the frame. Returns false when too little of the frame remains.
func maskedDeviation(img, solidMask gocv.Mat) (float64, bool) {
	inv := gocv.NewMat()
	defer inv.Close()
	gocv.BitwiseNot(solidMask, &inv)

	remaining := float64(gocv.CountNonZero(inv)) / float64(img.Rows()*img.Cols())
	if remaining < 0.1 {
		return 0, false
	}

	mean := img.MeanWithMask(inv)
	b, g, r := mean.Val1, mean.Val2, mean.Val3
	avg := (b + g + r) / 3
	dev := math.Max(math.Abs(b-avg), math.Max(math.Abs(g-avg), math.Abs(r-avg)))
	return dev, true
}

// brightnessUniformity scores how evenly lit the frame is, from the
// coefficient of variation across 64px blocks.
func brightnessUniformity(gray gocv.Mat) float64 {
	const block = 64
	var means []float64
	for y := 0; y+block <= gray.Rows(); y += block {
		for x := 0; x+block <= gray.Cols(); x += block {
			region := gray.Region(image.Rect(x, y, x+block, y+block))
			means = append(means, region.Mean().Val1)
			region.Close()
		}
	}
	if len(means) < 2 {
		return 1
	}
	var sum, sqSum float64
	for _, m := range means {
		sum += m
		sqSum += m * m
	}
	n := float64(len(means))
	mean := sum / n
	if mean == 0 {
		return 1
	}
	std := math.Sqrt(math.Max(0, sqSum/n-mean*mean))
	cv := std / mean
	switch {
	case cv < 0.3:
		return 1
	case cv > 0.6:
		return 0
	default:
		return 1 - (cv-0.3)/0.3
	}
}
