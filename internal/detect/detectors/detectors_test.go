package detectors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"vqd/internal/detect"
)

// solidMat builds a WxH BGR frame filled with one intensity.
func solidMat(t *testing.T, value float64) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), 120, 160, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

// checkerboard builds a high-frequency BGR frame: sharp, well exposed,
// full contrast.
func checkerboard(t *testing.T, block int) gocv.Mat {
	t.Helper()
	const size = 128
	buf := make([]byte, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if ((x/block)+(y/block))%2 == 0 {
				buf[y*size+x] = 255
			}
		}
	}
	gray, err := gocv.NewMatFromBytes(size, size, gocv.MatTypeCV8UC1, buf)
	require.NoError(t, err)
	defer gray.Close()

	bgr := gocv.NewMat()
	gocv.CvtColor(gray, &bgr, gocv.ColorGrayToBGR)
	t.Cleanup(func() { bgr.Close() })
	return bgr
}

func TestSignalLossBlackFrame(t *testing.T) {
	d, err := NewSignalLossDetector(nil)
	require.NoError(t, err)

	f, err := d.Detect(solidMat(t, 0), detect.LevelStandard)
	require.NoError(t, err)

	assert.True(t, f.IsAbnormal)
	assert.Equal(t, "black_screen", f.IssueType)
	assert.Equal(t, detect.SeverityCritical, f.Severity)
}

func TestSignalLossSolidColor(t *testing.T) {
	d, err := NewSignalLossDetector(nil)
	require.NoError(t, err)

	f, err := d.Detect(solidMat(t, 128), detect.LevelStandard)
	require.NoError(t, err)

	assert.True(t, f.IsAbnormal)
	assert.Equal(t, "solid_color", f.IssueType)
	assert.Equal(t, detect.SeverityWarning, f.Severity)
}

func TestSignalLossNormalFrame(t *testing.T) {
	d, err := NewSignalLossDetector(nil)
	require.NoError(t, err)

	f, err := d.Detect(checkerboard(t, 8), detect.LevelFast)
	require.NoError(t, err)

	assert.False(t, f.IsAbnormal)
	assert.Equal(t, detect.NormalIssue("signal_loss"), f.IssueType)
	assert.Equal(t, detect.SeverityNormal, f.Severity)
}

func TestSignalLossRejectsInvalidFrame(t *testing.T) {
	d, err := NewSignalLossDetector(nil)
	require.NoError(t, err)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = d.Detect(empty, detect.LevelFast)
	assert.Error(t, err)
}

func TestBrightnessTooDark(t *testing.T) {
	d, err := NewBrightnessDetector(nil)
	require.NoError(t, err)

	f, err := d.Detect(solidMat(t, 2), detect.LevelStandard)
	require.NoError(t, err)

	assert.True(t, f.IsAbnormal)
	assert.Equal(t, "too_dark", f.IssueType)
	assert.Equal(t, detect.SeverityCritical, f.Severity)
}

func TestBrightnessTooBright(t *testing.T) {
	d, err := NewBrightnessDetector(nil)
	require.NoError(t, err)

	f, err := d.Detect(solidMat(t, 253), detect.LevelStandard)
	require.NoError(t, err)

	assert.True(t, f.IsAbnormal)
	assert.Equal(t, "too_bright", f.IssueType)
	assert.Equal(t, detect.SeverityCritical, f.Severity)
}

func TestBlurSharpCheckerboard(t *testing.T) {
	d, err := NewBlurDetector(nil)
	require.NoError(t, err)

	f, err := d.Detect(checkerboard(t, 4), detect.LevelFast)
	require.NoError(t, err)

	assert.False(t, f.IsAbnormal)
	assert.Greater(t, f.Score, f.Threshold)
}

func TestContrastFlatFrame(t *testing.T) {
	d, err := NewContrastDetector(nil)
	require.NoError(t, err)

	f, err := d.Detect(solidMat(t, 128), detect.LevelFast)
	require.NoError(t, err)

	assert.True(t, f.IsAbnormal)
	assert.Equal(t, "low_contrast", f.IssueType)
}

func TestOptionParserRejectsUnknownKeys(t *testing.T) {
	_, err := NewBlurDetector(map[string]any{"thresold": 80})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thresold")
}

func TestOptionParserAcceptsNumericKinds(t *testing.T) {
	// Thresholds arrive as JSON floats or YAML ints depending on the caller.
	d1, err := NewBlurDetector(map[string]any{"threshold": 80})
	require.NoError(t, err)
	d2, err := NewBlurDetector(map[string]any{"threshold": 80.0})
	require.NoError(t, err)
	assert.Equal(t, d1.opts.Threshold, d2.opts.Threshold)
}

func TestSharpnessSeverityLadder(t *testing.T) {
	assert.Equal(t, detect.SeverityNormal, sharpnessSeverity(120, 100))
	assert.Equal(t, detect.SeverityInfo, sharpnessSeverity(80, 100))
	assert.Equal(t, detect.SeverityWarning, sharpnessSeverity(50, 100))
	assert.Equal(t, detect.SeverityCritical, sharpnessSeverity(10, 100))
}

func TestExcessSeverityLadder(t *testing.T) {
	assert.Equal(t, detect.SeverityNormal, excessSeverity(10, 15))
	assert.Equal(t, detect.SeverityInfo, excessSeverity(20, 15))
	assert.Equal(t, detect.SeverityWarning, excessSeverity(30, 15))
	assert.Equal(t, detect.SeverityCritical, excessSeverity(40, 15))
}

func TestRegisterAllInstallsEveryDetector(t *testing.T) {
	r := detect.NewRegistry()
	require.NoError(t, RegisterAll(r))

	assert.ElementsMatch(t, []string{
		"signal_loss", "color", "occlusion", "brightness",
		"blur", "noise", "contrast", "stripe",
	}, r.Names())

	metas, err := r.List()
	require.NoError(t, err)
	for i := 1; i < len(metas); i++ {
		assert.LessOrEqual(t, metas[i-1].Priority, metas[i].Priority)
	}
}
