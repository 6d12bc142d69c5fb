package video

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gocv.io/x/gocv"
)

// supportedFormats lists the container extensions the loader accepts.
var supportedFormats = map[string]bool{
	".mp4":  true,
	".avi":  true,
	".mov":  true,
	".mkv":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
}

// IsSupportedFormat reports whether path has a recognized video extension.
func IsSupportedFormat(path string) bool {
	return supportedFormats[strings.ToLower(filepath.Ext(path))]
}

// Source wraps a capture handle with its metadata. Not safe for concurrent
// readers; one goroutine owns the handle.
type Source struct {
	cap  *gocv.VideoCapture
	path string
	Meta Metadata
}

// Open opens a video file and reads its metadata.
func Open(path string) (*Source, error) {
	if !IsSupportedFormat(path) {
		return nil, fmt.Errorf("unsupported video format %q", filepath.Ext(path))
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("video file: %w", err)
	}

	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("open video %s: %w", path, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("open video %s: capture not opened", path)
	}

	meta := Metadata{
		Width:      int(cap.Get(gocv.VideoCaptureFrameWidth)),
		Height:     int(cap.Get(gocv.VideoCaptureFrameHeight)),
		FPS:        cap.Get(gocv.VideoCaptureFPS),
		FrameCount: int(cap.Get(gocv.VideoCaptureFrameCount)),
		Codec:      decodeFourCC(cap.Get(gocv.VideoCaptureFOURCC)),
	}
	if meta.FPS > 0 {
		meta.Duration = float64(meta.FrameCount) / meta.FPS
	}
	return &Source{cap: cap, path: path, Meta: meta}, nil
}

// Read fills dst with the next frame; false at end of stream.
func (s *Source) Read(dst *gocv.Mat) bool {
	return s.cap.Read(dst) && !dst.Empty()
}

// Rewind seeks back to the first frame.
func (s *Source) Rewind() {
	s.cap.Set(gocv.VideoCapturePosFrames, 0)
}

// Path returns the file path the source was opened from.
func (s *Source) Path() string { return s.path }

// Close releases the capture handle.
func (s *Source) Close() error {
	return s.cap.Close()
}

// decodeFourCC turns the numeric codec property into its 4-char tag.
func decodeFourCC(v float64) string {
	code := uint32(v)
	if code == 0 {
		return ""
	}
	b := []byte{
		byte(code & 0xff),
		byte((code >> 8) & 0xff),
		byte((code >> 16) & 0xff),
		byte((code >> 24) & 0xff),
	}
	return strings.TrimRight(string(b), "\x00 ")
}
