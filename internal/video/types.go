// Package video analyzes video files and frame sequences: loading, frame
// sampling, the temporal detectors (freeze, scene change, shake) and the
// aggregation of their segments into a per-video diagnosis.
package video

import (
	"time"

	"gocv.io/x/gocv"
)

// Severity levels for video findings, ordered normal < info < warning <
// error.
const (
	SevNormal  = "normal"
	SevInfo    = "info"
	SevWarning = "warning"
	SevError   = "error"
)

// severityRank orders the video severity strings.
func severityRank(s string) int {
	switch s {
	case SevInfo:
		return 1
	case SevWarning:
		return 2
	case SevError:
		return 3
	default:
		return 0
	}
}

// Segment is a contiguous run of frames exhibiting one issue.
type Segment struct {
	StartFrame int            `json:"start_frame"`
	EndFrame   int            `json:"end_frame"`
	StartTime  float64        `json:"start_time"`
	EndTime    float64        `json:"end_time"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Duration is the segment length in seconds.
func (s Segment) Duration() float64 {
	return s.EndTime - s.StartTime
}

// Result is one video detector's verdict over a frame sequence.
type Result struct {
	DetectorName   string         `json:"detector_name"`
	IssueType      string         `json:"issue_type"`
	IsAbnormal     bool           `json:"is_abnormal"`
	Score          float64        `json:"score"`
	Threshold      float64        `json:"threshold"`
	Severity       string         `json:"severity"`
	Description    string         `json:"description,omitempty"`
	Segments       []Segment      `json:"segments,omitempty"`
	FramesAnalyzed int            `json:"frames_analyzed"`
	Evidence       map[string]any `json:"evidence,omitempty"`
}

// Detector is the contract for temporal detectors: a frame sequence with its
// capture rate and per-frame timestamps in, one result out.
type Detector interface {
	Detect(frames []gocv.Mat, fps float64, timestamps []float64) (Result, error)
	Name() string
}

// Metadata describes an opened video source.
type Metadata struct {
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
	Duration   float64 `json:"duration"`
	Codec      string  `json:"codec"`
}

// Issue is one entry of a diagnosis' time-ordered issue list.
type Issue struct {
	IssueType   string  `json:"issue_type"`
	Severity    string  `json:"severity"`
	StartTime   float64 `json:"start_time"`
	EndTime     float64 `json:"end_time"`
	Duration    float64 `json:"duration"`
	Confidence  float64 `json:"confidence"`
	Description string  `json:"description,omitempty"`
}

// Diagnosis aggregates every detector result over one video.
type Diagnosis struct {
	VideoPath     string    `json:"video_path"`
	Metadata      Metadata  `json:"metadata"`
	SampledFrames int       `json:"sampled_frames"`
	IsAbnormal    bool      `json:"is_abnormal"`
	PrimaryIssue  string    `json:"primary_issue,omitempty"`
	Severity      string    `json:"severity"`
	Issues        []Issue   `json:"issues,omitempty"`
	Results       []Result  `json:"results"`
	OverallScore  float64   `json:"overall_score"`
	ProcessTimeMs float64   `json:"process_time_ms"`
	Timestamp     time.Time `json:"timestamp"`
}
