// Package pipeline runs a set of still-frame detectors against one frame and
// reconciles their findings into a single diagnosis.
package pipeline

import (
	"time"

	"vqd/internal/detect"
)

// Diagnosis is the consolidated verdict for one frame.
type Diagnosis struct {
	ImageID           string                   `json:"image_id"`
	Width             int                      `json:"width"`
	Height            int                      `json:"height"`
	IsAbnormal        bool                     `json:"is_abnormal"`
	PrimaryIssue      string                   `json:"primary_issue,omitempty"`
	Severity          detect.Severity          `json:"severity"`
	Findings          []detect.Finding         `json:"findings"`
	SuppressedIssues  []detect.SuppressedIssue `json:"suppressed_issues,omitempty"`
	IndependentIssues []string                 `json:"independent_issues,omitempty"`
	Scores            map[string]float64       `json:"scores"`
	ProcessTimeMs     float64                  `json:"process_time_ms"`
	Level             detect.Level             `json:"detection_level"`
	Profile           string                   `json:"profile,omitempty"`
	Timestamp         time.Time                `json:"timestamp"`
}
