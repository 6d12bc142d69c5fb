package video

import (
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// TimedFrame pairs a frame with its capture time and monotonic index.
type TimedFrame struct {
	Mat       gocv.Mat
	Timestamp time.Time
	Index     uint64
}

// FrameBuffer is a bounded ring of recent frames. Pushing onto a full buffer
// drops (and releases) the oldest frame rather than blocking the producer.
type FrameBuffer struct {
	mu       sync.Mutex
	frames   []TimedFrame
	capacity int
}

// NewFrameBuffer creates a buffer holding at most capacity frames.
func NewFrameBuffer(capacity int) *FrameBuffer {
	if capacity <= 0 {
		capacity = 30
	}
	return &FrameBuffer{capacity: capacity}
}

// Push takes ownership of f.Mat.
func (b *FrameBuffer) Push(f TimedFrame) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) >= b.capacity {
		b.frames[0].Mat.Close()
		b.frames = b.frames[1:]
	}
	b.frames = append(b.frames, f)
}

// Len returns the current number of buffered frames.
func (b *FrameBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.frames)
}

// Snapshot clones up to max of the most recent frames, oldest first. The
// caller owns the clones.
func (b *FrameBuffer) Snapshot(max int) []TimedFrame {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := 0
	if max > 0 && len(b.frames) > max {
		start = len(b.frames) - max
	}
	out := make([]TimedFrame, 0, len(b.frames)-start)
	for _, f := range b.frames[start:] {
		out = append(out, TimedFrame{
			Mat:       f.Mat.Clone(),
			Timestamp: f.Timestamp,
			Index:     f.Index,
		})
	}
	return out
}

// EstimatedFPS derives the effective capture rate from the buffered
// timestamps.
func (b *FrameBuffer) EstimatedFPS() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.frames) < 2 {
		return 0
	}
	span := b.frames[len(b.frames)-1].Timestamp.Sub(b.frames[0].Timestamp).Seconds()
	if span <= 0 {
		return 0
	}
	return float64(len(b.frames)-1) / span
}

// Close releases every buffered frame.
func (b *FrameBuffer) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.frames {
		b.frames[i].Mat.Close()
	}
	b.frames = nil
}
