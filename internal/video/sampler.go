package video

import (
	"gocv.io/x/gocv"
)

// Strategy selects how frames are drawn from a source.
type Strategy string

const (
	StrategyAll      Strategy = "all"
	StrategyInterval Strategy = "interval"
	StrategyScene    Strategy = "scene"
	StrategyHybrid   Strategy = "hybrid"
)

// SamplerOptions bounds and shapes the sampling pass.
type SamplerOptions struct {
	Strategy       Strategy
	IntervalSec    float64
	MaxFrames      int
	SceneThreshold float64
	// MinFrames is the floor below which scene sampling falls back to
	// interval sampling.
	MinFrames int
}

// DefaultSamplerOptions returns the stock sampling configuration.
func DefaultSamplerOptions() SamplerOptions {
	return SamplerOptions{
		Strategy:       StrategyInterval,
		IntervalSec:    1.0,
		MaxFrames:      300,
		SceneThreshold: 0.3,
		MinFrames:      10,
	}
}

// Sample is the sampler output: parallel slices of frames, source indices
// and timestamps, strictly increasing. The caller owns the frames.
type Sample struct {
	Frames     []gocv.Mat
	Indices    []int
	Timestamps []float64

	// fps is the source rate when known, e.g. for stream snapshots.
	fps float64
}

// Close releases every sampled frame.
func (s *Sample) Close() {
	for i := range s.Frames {
		s.Frames[i].Close()
	}
	s.Frames = nil
}

// SampleFrames draws frames from src according to the options. The scene
// strategy retries with interval sampling when it yields too few frames.
func SampleFrames(src *Source, opts SamplerOptions) (Sample, error) {
	if opts.MaxFrames <= 0 {
		opts.MaxFrames = 300
	}
	if opts.IntervalSec <= 0 {
		opts.IntervalSec = 1.0
	}
	if opts.SceneThreshold <= 0 {
		opts.SceneThreshold = 0.3
	}
	if opts.MinFrames <= 0 {
		opts.MinFrames = 10
	}

	sample := samplePass(src, opts)
	if opts.Strategy == StrategyScene && len(sample.Frames) < opts.MinFrames {
		sample.Close()
		src.Rewind()
		fallback := opts
		fallback.Strategy = StrategyInterval
		sample = samplePass(src, fallback)
	}
	return sample, nil
}

func samplePass(src *Source, opts SamplerOptions) Sample {
	fps := src.Meta.FPS
	if fps <= 0 {
		fps = 25
	}
	step := int(fps * opts.IntervalSec)
	if step < 1 {
		step = 1
	}

	var out Sample
	var lastHist gocv.Mat
	haveHist := false
	defer func() {
		if haveHist {
			lastHist.Close()
		}
	}()

	frame := gocv.NewMat()
	defer frame.Close()

	for idx := 0; src.Read(&frame); idx++ {
		if len(out.Frames) >= opts.MaxFrames {
			break
		}

		keep := false
		switch opts.Strategy {
		case StrategyAll:
			keep = true
		case StrategyInterval:
			keep = idx%step == 0
		case StrategyScene, StrategyHybrid:
			hist := frameHistogram(frame)
			if opts.Strategy == StrategyHybrid && idx%step == 0 {
				keep = true
			}
			if !haveHist {
				keep = true
			} else if !keep {
				dist := float64(gocv.CompareHist(lastHist, hist, gocv.HistCmpBhattacharya))
				keep = dist > opts.SceneThreshold
			}
			// The scene reference is always the last kept frame.
			if keep {
				if haveHist {
					lastHist.Close()
				}
				lastHist = hist
				haveHist = true
			} else {
				hist.Close()
			}
		}

		if keep {
			out.Frames = append(out.Frames, frame.Clone())
			out.Indices = append(out.Indices, idx)
			out.Timestamps = append(out.Timestamps, float64(idx)/fps)
		}
	}
	return out
}

// frameHistogram is the normalized gray histogram used for scene-change
// distances.
func frameHistogram(frame gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	if frame.Channels() == 3 {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	hist := gocv.NewMat()
	noMask := gocv.NewMat()
	defer noMask.Close()
	gocv.CalcHist([]gocv.Mat{gray}, []int{0}, noMask, &hist, []int{256}, []float64{0, 256}, false)
	gocv.Normalize(hist, &hist, 1, 0, gocv.NormL1)
	return hist
}
