// Package scheduler runs persisted diagnosis tasks on cron schedules.
package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// TaskKind selects the job a task fires.
type TaskKind string

const (
	// KindBatch diagnoses every matching image in a directory.
	KindBatch TaskKind = "batch"
	// KindSample diagnoses a random subset of the matching images.
	KindSample TaskKind = "sample"
	// KindVideo analyzes every matching video file.
	KindVideo TaskKind = "video"
)

// TaskConfig is the job input configuration.
type TaskConfig struct {
	InputPath  string   `yaml:"input_path" json:"input_path"`
	Pattern    string   `yaml:"pattern,omitempty" json:"pattern,omitempty"`
	Recursive  bool     `yaml:"recursive,omitempty" json:"recursive,omitempty"`
	Profile    string   `yaml:"profile,omitempty" json:"profile,omitempty"`
	Level      string   `yaml:"level,omitempty" json:"level,omitempty"`
	Detectors  []string `yaml:"detectors,omitempty" json:"detectors,omitempty"`
	SampleRate float64  `yaml:"sample_rate,omitempty" json:"sample_rate,omitempty"`
	MaxSamples int      `yaml:"max_samples,omitempty" json:"max_samples,omitempty"`
}

// OutputConfig shapes where and how reports are written.
type OutputConfig struct {
	Path          string   `yaml:"path" json:"path"`
	Formats       []string `yaml:"formats,omitempty" json:"formats,omitempty"`
	RetentionDays int      `yaml:"retention_days,omitempty" json:"retention_days,omitempty"`
}

// Task is one persisted scheduled task.
type Task struct {
	ID          string       `yaml:"id" json:"id"`
	Name        string       `yaml:"name" json:"name"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Kind        TaskKind     `yaml:"kind" json:"kind"`
	CronExpr    string       `yaml:"cron" json:"cron"`
	Enabled     bool         `yaml:"enabled" json:"enabled"`
	Config      TaskConfig   `yaml:"config" json:"config"`
	Output      OutputConfig `yaml:"output" json:"output"`
	CreatedAt   time.Time    `yaml:"created_at" json:"created_at"`
	UpdatedAt   time.Time    `yaml:"updated_at" json:"updated_at"`
	LastRunAt   *time.Time   `yaml:"last_run_at,omitempty" json:"last_run_at,omitempty"`
	NextRunAt   *time.Time   `yaml:"next_run_at,omitempty" json:"next_run_at,omitempty"`
}

// ExecStatus is the lifecycle state of one task execution.
type ExecStatus string

const (
	ExecPending   ExecStatus = "pending"
	ExecRunning   ExecStatus = "running"
	ExecCompleted ExecStatus = "completed"
	ExecFailed    ExecStatus = "failed"
	ExecCancelled ExecStatus = "cancelled"
)

// Execution records one task invocation. TotalItems always equals
// NormalCount + AbnormalCount + ErrorCount.
type Execution struct {
	ID              string     `yaml:"id" json:"id"`
	TaskID          string     `yaml:"task_id" json:"task_id"`
	TaskName        string     `yaml:"task_name" json:"task_name"`
	Status          ExecStatus `yaml:"status" json:"status"`
	StartedAt       time.Time  `yaml:"started_at" json:"started_at"`
	FinishedAt      *time.Time `yaml:"finished_at,omitempty" json:"finished_at,omitempty"`
	DurationSeconds float64    `yaml:"duration_seconds,omitempty" json:"duration_seconds,omitempty"`
	TotalItems      int        `yaml:"total_items" json:"total_items"`
	NormalCount     int        `yaml:"normal_count" json:"normal_count"`
	AbnormalCount   int        `yaml:"abnormal_count" json:"abnormal_count"`
	ErrorCount      int        `yaml:"error_count" json:"error_count"`
	ReportPath      string     `yaml:"report_path,omitempty" json:"report_path,omitempty"`
	ErrorMessage    string     `yaml:"error_message,omitempty" json:"error_message,omitempty"`
}

// newID returns the short id form used for tasks and executions.
func newID() string {
	return uuid.NewString()[:8]
}
