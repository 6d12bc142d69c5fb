package pipeline

import (
	"context"
	"math"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"vqd/internal/detect"
	"vqd/internal/detect/detectors"
)

func testPipeline(t *testing.T, opts Options) *Pipeline {
	t.Helper()
	r := detect.NewRegistry()
	require.NoError(t, detectors.RegisterAll(r))
	return New(r, opts, zerolog.Nop())
}

func blackFrame(t *testing.T) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), 120, 160, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestDiagnoseEmptyFrame(t *testing.T) {
	p := testPipeline(t, DefaultOptions())

	empty := gocv.NewMat()
	defer empty.Close()

	d := p.Diagnose(context.Background(), empty, "img-1", detect.LevelStandard, nil)
	assert.True(t, d.IsAbnormal)
	assert.Equal(t, "error", d.PrimaryIssue)
	assert.Equal(t, detect.SeverityCritical, d.Severity)
	assert.Empty(t, d.Findings)
}

func TestDiagnoseEmptyDetectorSet(t *testing.T) {
	p := testPipeline(t, DefaultOptions())

	d := p.Diagnose(context.Background(), blackFrame(t), "img-1", detect.LevelStandard, []string{"ghost"})
	assert.Equal(t, "error", d.PrimaryIssue)
}

func TestDiagnoseBlackFrameSuppression(t *testing.T) {
	p := testPipeline(t, DefaultOptions())

	d := p.Diagnose(context.Background(), blackFrame(t), "img-1", detect.LevelStandard, nil)

	assert.True(t, d.IsAbnormal)
	assert.Equal(t, "black_screen", d.PrimaryIssue)
	assert.Equal(t, detect.SeverityCritical, d.Severity)

	// Darkness and contrast findings are side effects of the lost signal.
	suppressedTypes := make([]string, 0, len(d.SuppressedIssues))
	for _, si := range d.SuppressedIssues {
		assert.Equal(t, "black_screen", si.SuppressedBy)
		suppressedTypes = append(suppressedTypes, si.IssueType)
	}
	assert.Contains(t, suppressedTypes, "too_dark")
	assert.NotContains(t, d.IndependentIssues, "too_dark")
	assert.Contains(t, d.IndependentIssues, "black_screen")
}

func TestDiagnoseDeterministicAcrossModes(t *testing.T) {
	serial := DefaultOptions()
	serial.Parallel = false
	parallel := DefaultOptions()

	ds := testPipeline(t, serial).Diagnose(context.Background(), blackFrame(t), "img", detect.LevelStandard, nil)
	dp := testPipeline(t, parallel).Diagnose(context.Background(), blackFrame(t), "img", detect.LevelStandard, nil)

	assert.Equal(t, ds.PrimaryIssue, dp.PrimaryIssue)
	assert.Equal(t, ds.IndependentIssues, dp.IndependentIssues)
	require.Equal(t, len(ds.Findings), len(dp.Findings))
	for i := range ds.Findings {
		assert.Equal(t, ds.Findings[i].IssueType, dp.Findings[i].IssueType)
	}
}

func TestDiagnoseRecordsDimensionsAndScores(t *testing.T) {
	p := testPipeline(t, DefaultOptions())

	d := p.Diagnose(context.Background(), blackFrame(t), "img-1", detect.LevelFast, nil)
	assert.Equal(t, 160, d.Width)
	assert.Equal(t, 120, d.Height)
	assert.Equal(t, detect.LevelFast, d.Level)
	assert.Equal(t, "normal", d.Profile)
	assert.Contains(t, d.Scores, "signal_loss")
}

func TestRuntimeSuppressionRules(t *testing.T) {
	p := testPipeline(t, DefaultOptions())

	p.AddSuppressionRule("black_screen", "custom_issue")
	assert.Contains(t, p.SuppressionRules()["black_screen"], "custom_issue")

	p.RemoveSuppressionRule("black_screen")
	_, ok := p.SuppressionRules()["black_screen"]
	assert.False(t, ok)
}

func TestValidFinding(t *testing.T) {
	good := detect.Finding{
		DetectorName: "blur",
		IssueType:    "blur",
		IsAbnormal:   true,
		Score:        10,
		Threshold:    100,
		Confidence:   0.9,
		Severity:     detect.SeverityWarning,
	}
	assert.True(t, validFinding(good))

	cases := map[string]func(f *detect.Finding){
		"missing detector":    func(f *detect.Finding) { f.DetectorName = "" },
		"missing issue":       func(f *detect.Finding) { f.IssueType = "" },
		"nan score":           func(f *detect.Finding) { f.Score = math.NaN() },
		"confidence above 1":  func(f *detect.Finding) { f.Confidence = 1.5 },
		"abnormal but normal": func(f *detect.Finding) { f.Severity = detect.SeverityNormal },
		"normal but severe":   func(f *detect.Finding) { f.IsAbnormal = false },
	}
	for name, mutate := range cases {
		f := good
		mutate(&f)
		assert.False(t, validFinding(f), name)
	}
}
