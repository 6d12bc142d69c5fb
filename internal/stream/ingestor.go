// Package stream supervises live RTSP/RTMP sources: a capture loop feeding a
// bounded frame buffer, an analysis loop feeding a rolling result history,
// and a service registry over both.
package stream

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"vqd/internal/detect"
	"vqd/internal/metrics"
	"vqd/internal/pipeline"
	"vqd/internal/video"
)

// IngestorOptions configures one stream supervisor.
type IngestorOptions struct {
	SampleInterval       time.Duration
	DetectionInterval    time.Duration
	BufferSize           int
	ReconnectInterval    time.Duration
	MaxReconnectAttempts int
	HistorySize          int
	Level                detect.Level
}

// DefaultIngestorOptions returns the stock stream configuration.
func DefaultIngestorOptions() IngestorOptions {
	return IngestorOptions{
		SampleInterval:       time.Second,
		DetectionInterval:    5 * time.Second,
		BufferSize:           30,
		ReconnectInterval:    5 * time.Second,
		MaxReconnectAttempts: 10,
		HistorySize:          100,
		Level:                detect.LevelStandard,
	}
}

// Result is one analysis tick over a stream: the still-frame diagnosis of
// the newest frame merged with the temporal detectors over the buffer.
type Result struct {
	StreamID     string             `json:"stream_id"`
	Timestamp    time.Time          `json:"timestamp"`
	Connected    bool               `json:"connected"`
	FPS          float64            `json:"fps"`
	IsAbnormal   bool               `json:"is_abnormal"`
	PrimaryIssue string             `json:"primary_issue,omitempty"`
	Severity     string             `json:"severity"`
	Frame        pipeline.Diagnosis `json:"frame"`
	Video        []video.Result     `json:"video,omitempty"`
}

// Status is the observable state of an ingestor.
type Status struct {
	StreamID         string    `json:"stream_id"`
	URL              string    `json:"url"`
	Kind             string    `json:"kind"`
	Status           string    `json:"status"`
	Connected        bool      `json:"connected"`
	IsRunning        bool      `json:"is_running"`
	FramesCaptured   uint64    `json:"frames_captured"`
	FramesAnalyzed   uint64    `json:"frames_analyzed"`
	ConnectionErrors uint64    `json:"connection_errors"`
	Reconnects       uint64    `json:"reconnects"`
	FPS              float64   `json:"fps"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	UptimeSeconds    float64   `json:"uptime_seconds"`
	LastError        string    `json:"last_error,omitempty"`
}

// Ingestor owns one live stream: a capture goroutine and an analysis
// goroutine sharing a bounded frame buffer.
type Ingestor struct {
	id   string
	url  string
	kind string
	opts IngestorOptions

	pipe      *detectRunner
	onResult  func(Result)
	log       zerolog.Logger
	buffer    *video.FrameBuffer
	open      func(string) (*gocv.VideoCapture, error)
	frameIdx  uint64
	startedAt time.Time

	mu               sync.Mutex
	running          bool
	connected        bool
	cap              *gocv.VideoCapture
	history          []Result
	framesCaptured   uint64
	framesAnalyzed   uint64
	connectionErrors uint64
	reconnects       uint64
	lastError        string

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// detectRunner bundles the two analysis paths the ingestor drives.
type detectRunner struct {
	frame *pipeline.Pipeline
	video *video.Pipeline
}

// NewIngestor builds a supervisor for url. onResult may be nil.
func NewIngestor(id, url string, opts IngestorOptions, framePipe *pipeline.Pipeline, videoPipe *video.Pipeline, onResult func(Result), log zerolog.Logger) *Ingestor {
	if opts.SampleInterval <= 0 {
		opts = DefaultIngestorOptions()
	}
	kind := "rtsp"
	if strings.HasPrefix(url, "rtmp") {
		kind = "rtmp"
	}
	return &Ingestor{
		id:       id,
		url:      url,
		kind:     kind,
		opts:     opts,
		pipe:     &detectRunner{frame: framePipe, video: videoPipe},
		onResult: onResult,
		log:      log.With().Str("component", "stream").Str("stream_id", id).Logger(),
		buffer:   video.NewFrameBuffer(opts.BufferSize),
		open:     openCapture,
	}
}

// Start launches the capture and analysis loops. Returns false if the
// ingestor is already running.
func (in *Ingestor) Start() bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.running {
		return false
	}
	in.running = true
	in.startedAt = time.Now()
	in.stopCh = make(chan struct{})
	in.stopOnce = sync.Once{}

	in.wg.Add(2)
	go in.captureLoop()
	go in.analyzeLoop()

	metrics.ActiveStreams.Inc()
	in.log.Info().Str("url", in.url).Msg("stream started")
	return true
}

// Stop asks both loops to exit and joins them with a short bound. The
// capture handle is released regardless. Always succeeds.
func (in *Ingestor) Stop() {
	in.mu.Lock()
	if !in.running {
		in.mu.Unlock()
		return
	}
	in.mu.Unlock()

	in.signalStop()

	done := make(chan struct{})
	go func() {
		in.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		in.log.Warn().Msg("stream loops did not exit in time")
	}

	in.mu.Lock()
	if in.cap != nil {
		in.cap.Close()
		in.cap = nil
	}
	if in.running {
		in.running = false
		metrics.ActiveStreams.Dec()
	}
	in.connected = false
	in.mu.Unlock()

	in.buffer.Close()
	in.log.Info().Msg("stream stopped")
}

// signalStop closes the stop channel exactly once.
func (in *Ingestor) signalStop() {
	in.stopOnce.Do(func() { close(in.stopCh) })
}

// terminate is the give-up path after reconnect exhaustion: both loops exit
// and is_running drops to false without an external Stop call.
func (in *Ingestor) terminate(reason string) {
	in.mu.Lock()
	if in.running {
		in.running = false
		metrics.ActiveStreams.Dec()
	}
	in.connected = false
	in.lastError = reason
	if in.cap != nil {
		in.cap.Close()
		in.cap = nil
	}
	in.mu.Unlock()
	in.signalStop()
	in.log.Error().Str("reason", reason).Msg("stream terminated")
}

func (in *Ingestor) captureLoop() {
	defer in.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			in.mu.Lock()
			in.connectionErrors++
			in.lastError = fmt.Sprintf("capture panic: %v", r)
			in.mu.Unlock()
		}
	}()

	// The initial open is outside the reconnect budget: a struggling source
	// gets MaxReconnectAttempts retries after its first failure.
	first := true
	attempts := 0
	ticker := time.NewTicker(in.opts.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-in.stopCh:
			return
		case <-ticker.C:
		}

		in.mu.Lock()
		cap := in.cap
		in.mu.Unlock()

		if cap == nil {
			if !first && attempts >= in.opts.MaxReconnectAttempts {
				in.terminate(fmt.Sprintf("gave up after %d reconnect attempts", attempts))
				return
			}
			c, err := in.open(in.url)
			if err != nil {
				in.mu.Lock()
				in.connectionErrors++
				in.lastError = err.Error()
				if !first {
					attempts++
					in.reconnects++
				}
				in.mu.Unlock()
				if !first {
					metrics.StreamReconnects.Inc()
				}
				first = false
				in.log.Warn().Err(err).Int("attempt", attempts).Msg("connect failed")
				select {
				case <-in.stopCh:
					return
				case <-time.After(in.opts.ReconnectInterval):
				}
				continue
			}
			in.mu.Lock()
			in.cap = c
			in.connected = true
			in.mu.Unlock()
			first = false
			attempts = 0
			in.log.Info().Msg("stream connected")
			continue
		}

		frame := gocv.NewMat()
		if !cap.Read(&frame) || frame.Empty() {
			frame.Close()
			in.mu.Lock()
			in.connected = false
			in.connectionErrors++
			in.lastError = "read failed"
			in.cap.Close()
			in.cap = nil
			in.mu.Unlock()
			in.log.Warn().Msg("stream read failed, reconnecting")
			continue
		}

		in.frameIdx++
		in.buffer.Push(video.TimedFrame{
			Mat:       frame,
			Timestamp: time.Now(),
			Index:     in.frameIdx,
		})
		in.mu.Lock()
		in.framesCaptured++
		in.mu.Unlock()
	}
}

func (in *Ingestor) analyzeLoop() {
	defer in.wg.Done()

	ticker := time.NewTicker(in.opts.DetectionInterval)
	defer ticker.Stop()

	for {
		select {
		case <-in.stopCh:
			return
		case <-ticker.C:
		}
		in.analyzeOnce()
	}
}

// analyzeOnce runs one detection tick; panics are contained so a detector
// fault cannot kill the loop.
func (in *Ingestor) analyzeOnce() {
	defer func() {
		if r := recover(); r != nil {
			in.mu.Lock()
			in.connectionErrors++
			in.lastError = fmt.Sprintf("analyze panic: %v", r)
			in.mu.Unlock()
		}
	}()

	snapshot := in.buffer.Snapshot(30)
	if len(snapshot) == 0 {
		return
	}
	defer func() {
		for i := range snapshot {
			snapshot[i].Mat.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), in.opts.DetectionInterval)
	defer cancel()

	newest := snapshot[len(snapshot)-1]
	frameDiag := in.pipe.frame.Diagnose(ctx, newest.Mat, in.id, in.opts.Level, nil)

	fps := in.buffer.EstimatedFPS()
	frames := make([]gocv.Mat, len(snapshot))
	timestamps := make([]float64, len(snapshot))
	base := snapshot[0].Timestamp
	for i, tf := range snapshot {
		frames[i] = tf.Mat
		timestamps[i] = tf.Timestamp.Sub(base).Seconds()
	}
	videoResults := in.pipe.video.AnalyzeFrames(ctx, frames, fps, timestamps)

	res := mergeResult(in.id, frameDiag, videoResults, fps)
	in.mu.Lock()
	res.Connected = in.connected
	in.framesAnalyzed++
	in.history = append(in.history, res)
	if len(in.history) > in.opts.HistorySize {
		in.history = in.history[len(in.history)-in.opts.HistorySize:]
	}
	cb := in.onResult
	in.mu.Unlock()

	if cb != nil {
		cb(res)
	}
}

// mergeResult folds the still-frame diagnosis and the temporal results into
// one stream result.
func mergeResult(id string, frame pipeline.Diagnosis, videoResults []video.Result, fps float64) Result {
	res := Result{
		StreamID:   id,
		Timestamp:  time.Now().UTC(),
		FPS:        fps,
		Frame:      frame,
		Video:      videoResults,
		IsAbnormal: frame.IsAbnormal,
		Severity:   frame.Severity.String(),
	}
	if frame.IsAbnormal {
		res.PrimaryIssue = frame.PrimaryIssue
	}
	for _, vr := range videoResults {
		if !vr.IsAbnormal {
			continue
		}
		res.IsAbnormal = true
		if res.PrimaryIssue == "" {
			res.PrimaryIssue = vr.IssueType
		}
		if severityOrdinal(vr.Severity) > severityOrdinal(res.Severity) {
			res.Severity = vr.Severity
			res.PrimaryIssue = vr.IssueType
		}
	}
	return res
}

// severityOrdinal ranks the union of frame and video severity names.
func severityOrdinal(s string) int {
	switch s {
	case "info":
		return 1
	case "warning":
		return 2
	case "critical", "error":
		return 3
	default:
		return 0
	}
}

// GetStatus returns a snapshot of the ingestor's observable state.
func (in *Ingestor) GetStatus() Status {
	in.mu.Lock()
	defer in.mu.Unlock()

	st := Status{
		StreamID:         in.id,
		URL:              in.url,
		Kind:             in.kind,
		Status:           "stopped",
		Connected:        in.connected,
		IsRunning:        in.running,
		FramesCaptured:   in.framesCaptured,
		FramesAnalyzed:   in.framesAnalyzed,
		ConnectionErrors: in.connectionErrors,
		Reconnects:       in.reconnects,
		FPS:              in.buffer.EstimatedFPS(),
		LastError:        in.lastError,
	}
	if in.running {
		st.Status = "running"
		st.StartedAt = in.startedAt
		st.UptimeSeconds = time.Since(in.startedAt).Seconds()
	}
	return st
}

// GetResults returns up to limit most recent results, optionally filtered to
// those after the ISO-8601 instant in since. An unparseable since is
// ignored.
func (in *Ingestor) GetResults(limit int, since string) []Result {
	var cutoff time.Time
	if since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			cutoff = t
		}
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	out := make([]Result, 0, len(in.history))
	for _, r := range in.history {
		if !cutoff.IsZero() && !r.Timestamp.After(cutoff) {
			continue
		}
		out = append(out, r)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// openCapture connects with the FFmpeg backend, preferring TCP transport for
// RTSP and keeping the internal buffer small for low latency.
func openCapture(url string) (*gocv.VideoCapture, error) {
	c, err := gocv.OpenVideoCaptureWithAPI(normalizeURL(url), gocv.VideoCaptureFFmpeg)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", url, err)
	}
	if !c.IsOpened() {
		c.Close()
		return nil, fmt.Errorf("open %s: capture not opened", url)
	}
	c.Set(gocv.VideoCaptureBufferSize, 1)
	return c, nil
}

// normalizeURL appends the TCP transport hint to RTSP URLs that lack one.
func normalizeURL(url string) string {
	if !strings.HasPrefix(url, "rtsp://") || strings.Contains(url, "tcp=") {
		return url
	}
	if strings.Contains(url, "?") {
		return url + "&tcp=1"
	}
	return url + "?tcp=1"
}
