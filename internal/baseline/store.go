package baseline

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// ErrNotFound is returned for unknown baseline ids.
var ErrNotFound = errors.New("baseline not found")

// Record describes one stored baseline image.
type Record struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
	Path        string    `json:"path"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store persists baseline images as one JPEG per record plus a JSON index.
// From the caller's perspective a record exists together with its file or
// not at all: the image is written before the index entry, and removed after
// it.
type Store struct {
	mu  sync.Mutex
	dir string
	log zerolog.Logger
	idx map[string]*Record
}

// NewStore opens (creating if needed) a baseline store rooted at dir.
func NewStore(dir string, log zerolog.Logger) (*Store, error) {
	base := filepath.Join(dir, "baselines")
	if err := os.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create baseline dir: %w", err)
	}
	s := &Store{
		dir: base,
		log: log.With().Str("component", "baseline").Logger(),
		idx: make(map[string]*Record),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) indexPath() string {
	return filepath.Join(s.dir, "metadata.json")
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.indexPath())
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read baseline index: %w", err)
	}
	if err := json.Unmarshal(data, &s.idx); err != nil {
		return fmt.Errorf("parse baseline index: %w", err)
	}
	return nil
}

// flush must be called with the lock held.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.idx, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.indexPath(), data, 0o644)
}

// Save encodes the image to disk and registers it under a fresh id.
func (s *Store) Save(img gocv.Mat, name, description string, tags []string) (string, error) {
	if img.Empty() {
		return "", fmt.Errorf("baseline: empty image")
	}

	id := uuid.NewString()
	path := filepath.Join(s.dir, id+".jpg")
	if ok := gocv.IMWrite(path, img); !ok {
		return "", fmt.Errorf("baseline: write image %s", path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx[id] = &Record{
		ID:          id,
		Name:        name,
		Description: description,
		Tags:        tags,
		Path:        path,
		CreatedAt:   time.Now().UTC(),
	}
	if err := s.flush(); err != nil {
		delete(s.idx, id)
		os.Remove(path)
		return "", fmt.Errorf("baseline: persist index: %w", err)
	}
	s.log.Info().Str("baseline_id", id).Str("name", name).Msg("baseline saved")
	return id, nil
}

// Get returns a copy of the record for id.
func (s *Store) Get(id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.idx[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

// GetImage loads the stored image for id. The caller owns the mat.
func (s *Store) GetImage(id string) (gocv.Mat, error) {
	rec, err := s.Get(id)
	if err != nil {
		return gocv.Mat{}, err
	}
	img := gocv.IMRead(rec.Path, gocv.IMReadColor)
	if img.Empty() {
		return gocv.Mat{}, fmt.Errorf("baseline %s: unreadable image file", id)
	}
	return img, nil
}

// List returns all records whose image file still exists, newest first.
func (s *Store) List() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Record, 0, len(s.idx))
	for _, rec := range s.idx {
		if _, err := os.Stat(rec.Path); err != nil {
			continue
		}
		out = append(out, *rec)
	}
	// newest first
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j].CreatedAt.After(out[i].CreatedAt) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

// Update replaces the metadata fields that are non-nil.
func (s *Store) Update(id string, name, description *string, tags []string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.idx[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if name != nil {
		rec.Name = *name
	}
	if description != nil {
		rec.Description = *description
	}
	if tags != nil {
		rec.Tags = tags
	}
	if err := s.flush(); err != nil {
		return Record{}, fmt.Errorf("baseline: persist index: %w", err)
	}
	return *rec, nil
}

// Delete removes the record and its image file.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.idx[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.idx, id)
	if err := s.flush(); err != nil {
		return fmt.Errorf("baseline: persist index: %w", err)
	}
	if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("baseline_id", id).Msg("failed to remove baseline image")
	}
	s.log.Info().Str("baseline_id", id).Msg("baseline deleted")
	return nil
}
