// Package detect defines the detector contract shared by all image quality
// analyzers: severity and level enums, the Finding result type, detector
// metadata and the registry that creates configured detector instances.
package detect

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// Severity classifies how bad a finding is. Ordering matters: NORMAL is the
// lowest, CRITICAL the highest.
type Severity int

const (
	SeverityNormal Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "normal"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityCritical:
		return "critical"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalJSON encodes severities as their lowercase names.
func (s Severity) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// Level selects how much work a detector does per frame.
type Level string

const (
	LevelFast     Level = "fast"
	LevelStandard Level = "standard"
	LevelDeep     Level = "deep"
)

// ParseLevel maps a string onto a Level, defaulting to standard.
func ParseLevel(s string) Level {
	switch Level(s) {
	case LevelFast, LevelStandard, LevelDeep:
		return Level(s)
	default:
		return LevelStandard
	}
}

// Finding is the result of running one detector against one frame.
type Finding struct {
	DetectorName   string         `json:"detector_name"`
	IssueType      string         `json:"issue_type"`
	IsAbnormal     bool           `json:"is_abnormal"`
	Score          float64        `json:"score"`
	Threshold      float64        `json:"threshold"`
	Confidence     float64        `json:"confidence"`
	Severity       Severity       `json:"severity"`
	Explanation    string         `json:"explanation,omitempty"`
	PossibleCauses []string       `json:"possible_causes,omitempty"`
	Suggestions    []string       `json:"suggestions,omitempty"`
	Evidence       map[string]any `json:"evidence,omitempty"`
	ProcessTimeMs  float64        `json:"process_time_ms"`
	DetectionLevel Level          `json:"detection_level"`
}

// Metadata describes a detector independent of any instance configuration.
type Metadata struct {
	Name            string   `json:"name"`
	DisplayName     string   `json:"display_name"`
	Description     string   `json:"description"`
	Version         string   `json:"version"`
	Priority        int      `json:"priority"`
	SupportedLevels []Level  `json:"supported_levels"`
	Suppresses      []string `json:"suppresses,omitempty"`
}

// Detector analyzes a single BGR frame and reports one finding. Detect must
// be safe for concurrent use; instances are shared by the registry.
type Detector interface {
	Detect(img gocv.Mat, level Level) (Finding, error)
	Meta() Metadata
}

// Confidence derives a confidence value from how far a score sits from its
// threshold. higherBetter detectors (e.g. sharpness) normalize by the
// threshold itself; lower-better ones guard against tiny thresholds.
func Confidence(score, threshold float64, higherBetter bool) float64 {
	var c float64
	if higherBetter {
		if threshold == 0 {
			return 1
		}
		c = math.Abs(score-threshold) / threshold
	} else {
		c = math.Abs(score-threshold) / math.Max(threshold, 1)
	}
	return math.Min(1, c)
}

// NormalIssue returns the sentinel issue type carried by a finding when the
// detector saw nothing wrong, e.g. "blur" -> "blur_normal".
func NormalIssue(detectorName string) string {
	return detectorName + "_normal"
}
