package stream

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"vqd/internal/pipeline"
	"vqd/internal/video"
)

// ErrNotFound is returned for unknown stream ids.
var ErrNotFound = errors.New("stream not found")

// Service is the process-wide registry of running stream ingestors.
// Mutations are serialized; queries hold the lock only briefly.
type Service struct {
	mu        sync.Mutex
	streams   map[string]*Ingestor
	framePipe *pipeline.Pipeline
	videoPipe *video.Pipeline
	onResult  func(Result)
	log       zerolog.Logger
}

// NewService creates an empty stream service. onResult, when set, observes
// every analysis result from every stream.
func NewService(framePipe *pipeline.Pipeline, videoPipe *video.Pipeline, onResult func(Result), log zerolog.Logger) *Service {
	return &Service{
		streams:   make(map[string]*Ingestor),
		framePipe: framePipe,
		videoPipe: videoPipe,
		onResult:  onResult,
		log:       log.With().Str("component", "stream_service").Logger(),
	}
}

// Add registers and starts an ingestor for url, returning its id.
func (s *Service) Add(url string, opts IngestorOptions) (string, error) {
	if !strings.HasPrefix(url, "rtsp://") && !strings.HasPrefix(url, "rtmp://") {
		return "", fmt.Errorf("unsupported stream url %q", url)
	}

	id := uuid.NewString()[:8]
	ing := NewIngestor(id, url, opts, s.framePipe, s.videoPipe, s.onResult, s.log)

	s.mu.Lock()
	s.streams[id] = ing
	s.mu.Unlock()

	if !ing.Start() {
		// Cannot happen for a fresh ingestor; kept for the contract.
		return "", fmt.Errorf("stream %s failed to start", id)
	}
	return id, nil
}

// Get returns the ingestor for id.
func (s *Service) Get(id string) (*Ingestor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ing, ok := s.streams[id]
	if !ok {
		return nil, ErrNotFound
	}
	return ing, nil
}

// Remove stops and forgets the stream.
func (s *Service) Remove(id string) error {
	s.mu.Lock()
	ing, ok := s.streams[id]
	if ok {
		delete(s.streams, id)
	}
	s.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	ing.Stop()
	return nil
}

// List returns the status of every registered stream, sorted by id.
func (s *Service) List() []Status {
	s.mu.Lock()
	ings := make([]*Ingestor, 0, len(s.streams))
	for _, ing := range s.streams {
		ings = append(ings, ing)
	}
	s.mu.Unlock()

	out := make([]Status, 0, len(ings))
	for _, ing := range ings {
		out = append(out, ing.GetStatus())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out
}

// StopAll stops every stream; used at shutdown.
func (s *Service) StopAll() {
	s.mu.Lock()
	ings := make([]*Ingestor, 0, len(s.streams))
	for id, ing := range s.streams {
		ings = append(ings, ing)
		delete(s.streams, id)
	}
	s.mu.Unlock()

	for _, ing := range ings {
		ing.Stop()
	}
}
