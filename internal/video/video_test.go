package video

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func grayFrameMat(t *testing.T, value float64) gocv.Mat {
	t.Helper()
	m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), 120, 160, gocv.MatTypeCV8UC3)
	t.Cleanup(func() { m.Close() })
	return m
}

// patternFrame builds a frame with enough texture to not count as black.
func patternFrame(t *testing.T) gocv.Mat {
	t.Helper()
	const size = 128
	buf := make([]byte, size*size)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			if ((x/8)+(y/8))%2 == 0 {
				buf[y*size+x] = 200
			} else {
				buf[y*size+x] = 40
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

func timestampsFor(n int, fps float64) []float64 {
	ts := make([]float64, n)
	for i := range ts {
		ts[i] = float64(i) / fps
	}
	return ts
}

func TestIsSupportedFormat(t *testing.T) {
	assert.True(t, IsSupportedFormat("clip.mp4"))
	assert.True(t, IsSupportedFormat("CLIP.MKV"))
	assert.False(t, IsSupportedFormat("image.jpg"))
	assert.False(t, IsSupportedFormat("noext"))
}

func TestSeverityRank(t *testing.T) {
	assert.Less(t, severityRank(SevNormal), severityRank(SevInfo))
	assert.Less(t, severityRank(SevInfo), severityRank(SevWarning))
	assert.Less(t, severityRank(SevWarning), severityRank(SevError))
	assert.Equal(t, 0, severityRank("unknown"))
}

func TestFreezeDetectorIdenticalFrames(t *testing.T) {
	d := NewFreezeDetector(DefaultFreezeOptions())

	const n = 40
	frame := patternFrame(t)
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = frame
	}

	r, err := d.Detect(frames, 30, timestampsFor(n, 30))
	require.NoError(t, err)

	assert.True(t, r.IsAbnormal)
	assert.Equal(t, "freeze", r.IssueType)
	require.Len(t, r.Segments, 1)
	assert.Equal(t, 0, r.Segments[0].StartFrame)
	assert.Equal(t, SevError, r.Severity)
}

func TestFreezeDetectorIgnoresBlackRuns(t *testing.T) {
	d := NewFreezeDetector(DefaultFreezeOptions())

	const n = 40
	frame := grayFrameMat(t, 0)
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = frame
	}

	r, err := d.Detect(frames, 30, timestampsFor(n, 30))
	require.NoError(t, err)

	assert.False(t, r.IsAbnormal)
	assert.Empty(t, r.Segments)
}

func TestFreezeDetectorShortRun(t *testing.T) {
	d := NewFreezeDetector(DefaultFreezeOptions())

	// 10 identical frames: below both the frame and duration floors.
	const n = 10
	frame := patternFrame(t)
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = frame
	}

	r, err := d.Detect(frames, 30, timestampsFor(n, 30))
	require.NoError(t, err)
	assert.False(t, r.IsAbnormal)
}

func TestSceneChangeDetectorBarrage(t *testing.T) {
	d := NewSceneChangeDetector(DefaultSceneChangeOptions())

	// Alternating dark and bright frames: a cut at every step.
	const n = 40
	dark := grayFrameMat(t, 20)
	bright := grayFrameMat(t, 230)
	frames := make([]gocv.Mat, n)
	for i := range frames {
		if i%2 == 0 {
			frames[i] = dark
		} else {
			frames[i] = bright
		}
	}

	r, err := d.Detect(frames, 30, timestampsFor(n, 30))
	require.NoError(t, err)

	assert.True(t, r.IsAbnormal)
	assert.Equal(t, "scene_change", r.IssueType)
	assert.Equal(t, SevError, r.Severity)
	assert.Greater(t, r.Score, r.Threshold)
}

func TestSceneChangeDetectorStaticScene(t *testing.T) {
	d := NewSceneChangeDetector(DefaultSceneChangeOptions())

	const n = 20
	frame := patternFrame(t)
	frames := make([]gocv.Mat, n)
	for i := range frames {
		frames[i] = frame
	}

	r, err := d.Detect(frames, 30, timestampsFor(n, 30))
	require.NoError(t, err)
	assert.False(t, r.IsAbnormal)
}

func TestAggregateScoring(t *testing.T) {
	p := NewPipeline(PipelineOptions{}, zerolog.Nop())

	var d Diagnosis
	d.Severity = SevNormal
	p.aggregate(&d, []Result{
		{DetectorName: "freeze", IssueType: "freeze", IsAbnormal: true, Severity: SevWarning,
			Segments: []Segment{{StartTime: 5, EndTime: 8, Confidence: 0.95}}},
		{DetectorName: "shake", IssueType: "shake", IsAbnormal: true, Severity: SevInfo,
			Segments: []Segment{{StartTime: 1, EndTime: 2, Confidence: 0.85}}},
		{DetectorName: "scene_change", IssueType: "scene_change_normal", IsAbnormal: false},
	})

	assert.True(t, d.IsAbnormal)
	assert.Equal(t, 80.0, d.OverallScore) // 100 - 15 - 5
	assert.Equal(t, SevWarning, d.Severity)
	assert.Equal(t, "freeze", d.PrimaryIssue)

	// Issues come back sorted by start time.
	require.Len(t, d.Issues, 2)
	assert.Equal(t, "shake", d.Issues[0].IssueType)
	assert.Equal(t, "freeze", d.Issues[1].IssueType)
}

func TestAggregateScoreFloor(t *testing.T) {
	p := NewPipeline(PipelineOptions{}, zerolog.Nop())

	var d Diagnosis
	d.Severity = SevNormal
	results := make([]Result, 4)
	for i := range results {
		results[i] = Result{IssueType: "freeze", IsAbnormal: true, Severity: SevError}
	}
	p.aggregate(&d, results)
	assert.Equal(t, 0.0, d.OverallScore)
}

// writeClip renders frames to an MJPEG AVI fixture and returns its path.
func writeClip(t *testing.T, frames []gocv.Mat, fps float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.avi")
	w, err := gocv.VideoWriterFile(path, "MJPG", fps, frames[0].Cols(), frames[0].Rows(), true)
	require.NoError(t, err)
	defer w.Close()
	for i := range frames {
		require.NoError(t, w.Write(frames[i]))
	}
	return path
}

func openClip(t *testing.T, path string) *Source {
	t.Helper()
	src, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { src.Close() })
	return src
}

func assertStrictlyIncreasing(t *testing.T, indices []int) {
	t.Helper()
	for i := 1; i < len(indices); i++ {
		assert.Less(t, indices[i-1], indices[i])
	}
}

func TestSamplerAll(t *testing.T) {
	frame := grayFrameMat(t, 128)
	frames := make([]gocv.Mat, 12)
	for i := range frames {
		frames[i] = frame
	}
	src := openClip(t, writeClip(t, frames, 10))

	opts := DefaultSamplerOptions()
	opts.Strategy = StrategyAll
	s, err := SampleFrames(src, opts)
	require.NoError(t, err)
	defer s.Close()

	require.Len(t, s.Frames, 12)
	assertStrictlyIncreasing(t, s.Indices)
	for i, idx := range s.Indices {
		assert.Equal(t, i, idx)
		assert.InDelta(t, float64(idx)/10, s.Timestamps[i], 1e-9)
	}

	// Resampling the same source yields the same indices.
	src.Rewind()
	again, err := SampleFrames(src, opts)
	require.NoError(t, err)
	defer again.Close()
	assert.Equal(t, s.Indices, again.Indices)
}

func TestSamplerInterval(t *testing.T) {
	frame := grayFrameMat(t, 128)
	frames := make([]gocv.Mat, 20)
	for i := range frames {
		frames[i] = frame
	}
	src := openClip(t, writeClip(t, frames, 10))

	opts := DefaultSamplerOptions()
	opts.Strategy = StrategyInterval
	opts.IntervalSec = 0.5 // step 5 at 10 fps
	s, err := SampleFrames(src, opts)
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, []int{0, 5, 10, 15}, s.Indices)

	src.Rewind()
	opts.MaxFrames = 2
	capped, err := SampleFrames(src, opts)
	require.NoError(t, err)
	defer capped.Close()
	assert.Equal(t, []int{0, 5}, capped.Indices)
}

func TestSamplerSceneKeepsCuts(t *testing.T) {
	dark := grayFrameMat(t, 30)
	bright := grayFrameMat(t, 220)
	frames := make([]gocv.Mat, 30)
	for i := range frames {
		if i >= 10 && i < 20 {
			frames[i] = bright
		} else {
			frames[i] = dark
		}
	}
	src := openClip(t, writeClip(t, frames, 10))

	opts := DefaultSamplerOptions()
	opts.Strategy = StrategyScene
	opts.MinFrames = 1
	s, err := SampleFrames(src, opts)
	require.NoError(t, err)
	defer s.Close()

	// The first frame is always kept, then one frame per cut.
	assert.Equal(t, []int{0, 10, 20}, s.Indices)
	assertStrictlyIncreasing(t, s.Indices)
}

func TestSamplerSceneFallsBackToInterval(t *testing.T) {
	frame := grayFrameMat(t, 30)
	frames := make([]gocv.Mat, 30)
	for i := range frames {
		frames[i] = frame
	}
	src := openClip(t, writeClip(t, frames, 10))

	// Static footage: scene sampling alone would keep a single frame,
	// which is below the floor.
	opts := DefaultSamplerOptions()
	opts.Strategy = StrategyScene
	opts.IntervalSec = 0.1 // fallback step 1
	s, err := SampleFrames(src, opts)
	require.NoError(t, err)
	defer s.Close()

	require.Len(t, s.Frames, 30)
	assert.Equal(t, 0, s.Indices[0])
	assert.Equal(t, 29, s.Indices[len(s.Indices)-1])
}

func TestSamplerHybrid(t *testing.T) {
	dark := grayFrameMat(t, 30)
	bright := grayFrameMat(t, 220)
	frames := make([]gocv.Mat, 30)
	for i := range frames {
		if i < 4 {
			frames[i] = dark
		} else {
			frames[i] = bright
		}
	}
	src := openClip(t, writeClip(t, frames, 10))

	opts := DefaultSamplerOptions()
	opts.Strategy = StrategyHybrid
	opts.IntervalSec = 1.0 // step 10
	s, err := SampleFrames(src, opts)
	require.NoError(t, err)
	defer s.Close()

	// Interval picks 0, 10, 20; the cut at frame 4 adds one more.
	assert.Equal(t, []int{0, 4, 10, 20}, s.Indices)
}

func TestFrameBufferBounds(t *testing.T) {
	b := NewFrameBuffer(3)
	defer b.Close()

	base := time.Now()
	for i := 0; i < 5; i++ {
		m := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(i), 0, 0, 0), 8, 8, gocv.MatTypeCV8UC3)
		b.Push(TimedFrame{Mat: m, Timestamp: base.Add(time.Duration(i) * time.Second), Index: uint64(i)})
	}

	assert.Equal(t, 3, b.Len())

	snap := b.Snapshot(10)
	defer func() {
		for i := range snap {
			snap[i].Mat.Close()
		}
	}()
	require.Len(t, snap, 3)
	// Oldest first, and only the surviving tail.
	assert.Equal(t, uint64(2), snap[0].Index)
	assert.Equal(t, uint64(4), snap[2].Index)

	small := b.Snapshot(2)
	defer func() {
		for i := range small {
			small[i].Mat.Close()
		}
	}()
	require.Len(t, small, 2)
	assert.Equal(t, uint64(3), small[0].Index)
}

func TestFrameBufferEstimatedFPS(t *testing.T) {
	b := NewFrameBuffer(10)
	defer b.Close()

	base := time.Now()
	for i := 0; i < 5; i++ {
		m := gocv.NewMatWithSize(8, 8, gocv.MatTypeCV8UC3)
		b.Push(TimedFrame{Mat: m, Timestamp: base.Add(time.Duration(i) * 100 * time.Millisecond), Index: uint64(i)})
	}

	assert.InDelta(t, 10.0, b.EstimatedFPS(), 0.5)
}
