package stream

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]string{
		"rtsp://cam.local/ch1":          "rtsp://cam.local/ch1?tcp=1",
		"rtsp://cam.local/ch1?auth=x":   "rtsp://cam.local/ch1?auth=x&tcp=1",
		"rtsp://cam.local/ch1?tcp=0":    "rtsp://cam.local/ch1?tcp=0",
		"rtmp://cam.local/live":         "rtmp://cam.local/live",
		"file:///recordings/sample.mp4": "file:///recordings/sample.mp4",
	}
	for in, want := range cases {
		assert.Equal(t, want, normalizeURL(in), in)
	}
}

func TestSeverityOrdinal(t *testing.T) {
	assert.Equal(t, 0, severityOrdinal("normal"))
	assert.Equal(t, 1, severityOrdinal("info"))
	assert.Equal(t, 2, severityOrdinal("warning"))
	// Frame severities top out at "critical", video ones at "error".
	assert.Equal(t, severityOrdinal("critical"), severityOrdinal("error"))
}

func newIdleIngestor(t *testing.T) *Ingestor {
	t.Helper()
	in := NewIngestor("s1", "rtsp://cam.local/ch1", DefaultIngestorOptions(), nil, nil, nil, zerolog.Nop())
	t.Cleanup(in.Stop)
	return in
}

func TestGetResultsLimitAndSince(t *testing.T) {
	in := newIdleIngestor(t)

	base := time.Date(2026, 8, 26, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		in.mu.Lock()
		in.history = append(in.history, Result{
			StreamID:  "s1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		in.mu.Unlock()
	}

	all := in.GetResults(0, "")
	assert.Len(t, all, 5)

	limited := in.GetResults(2, "")
	require.Len(t, limited, 2)
	assert.Equal(t, base.Add(3*time.Minute), limited[0].Timestamp, "limit keeps the newest tail")

	since := in.GetResults(0, base.Add(2*time.Minute).Format(time.RFC3339))
	require.Len(t, since, 2)
	assert.Equal(t, base.Add(3*time.Minute), since[0].Timestamp)

	// Garbage since filters nothing.
	assert.Len(t, in.GetResults(0, "yesterday-ish"), 5)
}

func TestGetStatusIdle(t *testing.T) {
	in := newIdleIngestor(t)

	st := in.GetStatus()
	assert.Equal(t, "s1", st.StreamID)
	assert.Equal(t, "rtsp", st.Kind)
	assert.Equal(t, "stopped", st.Status)
	assert.False(t, st.IsRunning)
}

func TestIngestorReconnectBudget(t *testing.T) {
	opts := DefaultIngestorOptions()
	opts.SampleInterval = time.Millisecond
	opts.ReconnectInterval = time.Millisecond
	opts.DetectionInterval = time.Hour
	opts.MaxReconnectAttempts = 3

	in := NewIngestor("s1", "rtsp://cam.local/ch1", opts, nil, nil, nil, zerolog.Nop())
	in.open = func(string) (*gocv.VideoCapture, error) {
		return nil, errors.New("connection refused")
	}
	t.Cleanup(in.Stop)

	require.True(t, in.Start())
	require.Eventually(t, func() bool {
		return !in.GetStatus().IsRunning
	}, 5*time.Second, 10*time.Millisecond)

	st := in.GetStatus()
	assert.Equal(t, "stopped", st.Status)
	// The initial failed open plus MaxReconnectAttempts retries.
	assert.EqualValues(t, 4, st.ConnectionErrors)
	assert.EqualValues(t, 3, st.Reconnects)
	assert.Contains(t, st.LastError, "gave up")
}

func TestServiceRejectsUnknownScheme(t *testing.T) {
	svc := NewService(nil, nil, nil, zerolog.Nop())
	defer svc.StopAll()

	_, err := svc.Add("http://cam.local/feed", DefaultIngestorOptions())
	assert.Error(t, err)

	_, err = svc.Get("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, svc.Remove("ghost"), ErrNotFound)
	assert.Empty(t, svc.List())
}
