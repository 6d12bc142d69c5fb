// Package detectors contains the built-in still-frame quality detectors.
// Each detector lives in its own file and is registered through RegisterAll.
package detectors

import (
	"fmt"
	"image"
	"math"
	"sort"
	"time"

	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// optionParser pulls typed values out of a raw config map and rejects keys
// nobody consumed.
type optionParser struct {
	cfg  map[string]any
	seen map[string]bool
	err  error
}

func newOptionParser(cfg map[string]any) *optionParser {
	return &optionParser{cfg: cfg, seen: make(map[string]bool)}
}

func (p *optionParser) float(key string, def float64) float64 {
	p.seen[key] = true
	v, ok := p.cfg[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		p.fail("option %q: expected number, got %T", key, v)
		return def
	}
}

func (p *optionParser) int(key string, def int) int {
	return int(p.float(key, float64(def)))
}

func (p *optionParser) bool(key string, def bool) bool {
	p.seen[key] = true
	v, ok := p.cfg[key]
	if !ok {
		return def
	}
	b, ok := v.(bool)
	if !ok {
		p.fail("option %q: expected bool, got %T", key, v)
		return def
	}
	return b
}

func (p *optionParser) string(key, def string) string {
	p.seen[key] = true
	v, ok := p.cfg[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok {
		p.fail("option %q: expected string, got %T", key, v)
		return def
	}
	return s
}

func (p *optionParser) fail(format string, args ...any) {
	if p.err == nil {
		p.err = fmt.Errorf(format, args...)
	}
}

// finish reports the first type error or the first unknown key.
func (p *optionParser) finish() error {
	if p.err != nil {
		return p.err
	}
	for key := range p.cfg {
		if !p.seen[key] {
			return fmt.Errorf("unknown option %q", key)
		}
	}
	return nil
}

// validFrame reports whether a frame is usable by the detectors: non-empty
// BGR of at least 2x2.
func validFrame(img gocv.Mat) bool {
	return !img.Empty() && img.Rows() >= 2 && img.Cols() >= 2
}

// grayOf returns a single-channel copy of img. The caller owns the result.
func grayOf(img gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	if img.Channels() == 1 {
		img.CopyTo(&gray)
		return gray
	}
	gocv.CvtColor(img, &gray, gocv.ColorBGRToGray)
	return gray
}

// meanStd returns the first-channel mean and standard deviation of m.
func meanStd(m gocv.Mat) (float64, float64) {
	mean, std := m.MeanStdDev()
	return mean.Val1, std.Val1
}

// grayHistogram computes a 256-bin intensity histogram, L1-normalized when
// normalize is set.
func grayHistogram(gray gocv.Mat, normalize bool) gocv.Mat {
	hist := gocv.NewMat()
	gocv.CalcHist([]gocv.Mat{gray}, []int{0}, gocv.NewMat(), &hist, []int{256}, []float64{0, 256}, false)
	if normalize {
		gocv.Normalize(hist, &hist, 1, 0, gocv.NormL1)
	}
	return hist
}

// laplacianVariance is the classic sharpness measure: the variance of the
// second derivative across the whole frame.
func laplacianVariance(gray gocv.Mat) float64 {
	lap := gocv.NewMat()
	defer lap.Close()
	gocv.Laplacian(gray, &lap, gocv.MatTypeCV64F, 1, 1, 0, gocv.BorderDefault)
	_, std := meanStd(lap)
	return std * std
}

// sobelMagnitude returns the per-pixel first-order gradient magnitude as a
// CV32F mat. The caller owns the result.
func sobelMagnitude(gray gocv.Mat) gocv.Mat {
	gx := gocv.NewMat()
	defer gx.Close()
	gy := gocv.NewMat()
	defer gy.Close()
	gocv.Sobel(gray, &gx, gocv.MatTypeCV32F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray, &gy, gocv.MatTypeCV32F, 0, 1, 3, 1, 0, gocv.BorderDefault)
	mag := gocv.NewMat()
	gocv.Magnitude(gx, gy, &mag)
	return mag
}

// edgeDensity is the fraction of pixels Canny marks as edges.
func edgeDensity(gray gocv.Mat) float64 {
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 100, 200)
	total := gray.Rows() * gray.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(edges)) / float64(total)
}

// localStdDev computes a per-pixel standard deviation over a ksize x ksize
// window via the blurred-moments identity. Returns a CV32F mat owned by the
// caller.
func localStdDev(gray gocv.Mat, ksize int) gocv.Mat {
	f := gocv.NewMat()
	defer f.Close()
	gray.ConvertTo(&f, gocv.MatTypeCV32F)

	mean := gocv.NewMat()
	defer mean.Close()
	gocv.Blur(f, &mean, image.Pt(ksize, ksize))

	sq := gocv.NewMat()
	defer sq.Close()
	gocv.Multiply(f, f, &sq)
	meanSq := gocv.NewMat()
	defer meanSq.Close()
	gocv.Blur(sq, &meanSq, image.Pt(ksize, ksize))

	meanMean := gocv.NewMat()
	defer meanMean.Close()
	gocv.Multiply(mean, mean, &meanMean)

	variance := gocv.NewMat()
	defer variance.Close()
	gocv.Subtract(meanSq, meanMean, &variance)

	// Rounding can leave tiny negatives; clamp before the square root.
	zero := gocv.NewMatWithSize(variance.Rows(), variance.Cols(), gocv.MatTypeCV32F)
	defer zero.Close()
	gocv.Max(variance, zero, &variance)

	std := gocv.NewMat()
	gocv.Sqrt(variance, &std)
	return std
}

// matFloats copies a CV32F mat's samples into a slice.
func matFloats(m gocv.Mat) []float32 {
	c := m.Clone()
	defer c.Close()
	data, err := c.DataPtrFloat32()
	if err != nil {
		return nil
	}
	out := make([]float32, len(data))
	copy(out, data)
	return out
}

// medianFloat returns the median of vals, 0 for an empty slice.
func medianFloat(vals []float32) float64 {
	if len(vals) == 0 {
		return 0
	}
	sort.Slice(vals, func(i, j int) bool { return vals[i] < vals[j] })
	mid := len(vals) / 2
	if len(vals)%2 == 1 {
		return float64(vals[mid])
	}
	return float64(vals[mid-1]+vals[mid]) / 2
}

// fftMagnitude returns the centered magnitude spectrum of gray as a CV32F
// mat. The caller owns the result.
func fftMagnitude(gray gocv.Mat) gocv.Mat {
	f := gocv.NewMat()
	defer f.Close()
	gray.ConvertTo(&f, gocv.MatTypeCV32F)

	complexOut := gocv.NewMat()
	defer complexOut.Close()
	gocv.DFT(f, &complexOut, gocv.DftComplexOutput)

	planes := gocv.Split(complexOut)
	defer func() {
		for i := range planes {
			planes[i].Close()
		}
	}()

	mag := gocv.NewMat()
	gocv.Magnitude(planes[0], planes[1], &mag)
	fftShift(&mag)
	return mag
}

// fftShift swaps the spectrum quadrants in place so the DC component sits in
// the center. Odd rows or columns are cropped first.
func fftShift(m *gocv.Mat) {
	rows := m.Rows() &^ 1
	cols := m.Cols() &^ 1
	cy, cx := rows/2, cols/2

	q0 := m.Region(image.Rect(0, 0, cx, cy))
	q1 := m.Region(image.Rect(cx, 0, cols, cy))
	q2 := m.Region(image.Rect(0, cy, cx, rows))
	q3 := m.Region(image.Rect(cx, cy, cols, rows))
	defer q0.Close()
	defer q1.Close()
	defer q2.Close()
	defer q3.Close()

	tmp := gocv.NewMat()
	defer tmp.Close()
	q0.CopyTo(&tmp)
	q3.CopyTo(&q0)
	tmp.CopyTo(&q3)
	q1.CopyTo(&tmp)
	q2.CopyTo(&q1)
	tmp.CopyTo(&q2)
}

// sharpnessSeverity grades a higher-is-better score against its threshold.
func sharpnessSeverity(score, threshold float64) detect.Severity {
	switch {
	case score >= threshold:
		return detect.SeverityNormal
	case score >= 0.7*threshold:
		return detect.SeverityInfo
	case score >= 0.4*threshold:
		return detect.SeverityWarning
	default:
		return detect.SeverityCritical
	}
}

// excessSeverity grades a lower-is-better score that exceeded its threshold.
func excessSeverity(score, threshold float64) detect.Severity {
	ratio := score / math.Max(threshold, 1e-9)
	switch {
	case ratio < 1:
		return detect.SeverityNormal
	case ratio < 1.5:
		return detect.SeverityInfo
	case ratio < 2.5:
		return detect.SeverityWarning
	default:
		return detect.SeverityCritical
	}
}

// finish stamps the shared trailing fields on a finding.
func finish(f *detect.Finding, start time.Time, level detect.Level) {
	f.ProcessTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	f.DetectionLevel = level
}
