package scheduler

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"
	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned for unknown task or execution ids.
var ErrNotFound = errors.New("scheduler: not found")

// maxExecutions bounds the retained execution history.
const maxExecutions = 1000

type storeDoc struct {
	Tasks      []*Task      `yaml:"tasks"`
	Executions []*Execution `yaml:"executions"`
}

// Store persists tasks and execution history in a single YAML file.
// All writes go through renameio so a crash never leaves a torn file.
type Store struct {
	mu   sync.Mutex
	path string
	doc  storeDoc
}

// NewStore loads (or initializes) the store at dir/scheduler.yaml.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create scheduler dir: %w", err)
	}
	s := &Store{path: filepath.Join(dir, "scheduler.yaml")}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read scheduler store: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.doc); err != nil {
		return nil, fmt.Errorf("parse scheduler store: %w", err)
	}
	return s, nil
}

// flush must be called with mu held.
func (s *Store) flush() error {
	data, err := yaml.Marshal(&s.doc)
	if err != nil {
		return fmt.Errorf("encode scheduler store: %w", err)
	}
	if err := renameio.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write scheduler store: %w", err)
	}
	return nil
}

// SaveTask inserts or replaces a task by id.
func (s *Store) SaveTask(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.doc.Tasks {
		if existing.ID == t.ID {
			s.doc.Tasks[i] = t
			return s.flush()
		}
	}
	s.doc.Tasks = append(s.doc.Tasks, t)
	return s.flush()
}

// GetTask returns a copy of the task with the given id.
func (s *Store) GetTask(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.doc.Tasks {
		if t.ID == id {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListTasks returns copies of all tasks in insertion order.
func (s *Store) ListTasks() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Task, 0, len(s.doc.Tasks))
	for _, t := range s.doc.Tasks {
		cp := *t
		out = append(out, &cp)
	}
	return out
}

// DeleteTask removes the task; its execution history is kept.
func (s *Store) DeleteTask(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range s.doc.Tasks {
		if t.ID == id {
			s.doc.Tasks = append(s.doc.Tasks[:i], s.doc.Tasks[i+1:]...)
			return s.flush()
		}
	}
	return ErrNotFound
}

// AddExecution prepends the execution (newest first) and trims history.
func (s *Store) AddExecution(e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.doc.Executions = append([]*Execution{e}, s.doc.Executions...)
	if len(s.doc.Executions) > maxExecutions {
		s.doc.Executions = s.doc.Executions[:maxExecutions]
	}
	return s.flush()
}

// UpdateExecution replaces the stored execution with the same id.
func (s *Store) UpdateExecution(e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, existing := range s.doc.Executions {
		if existing.ID == e.ID {
			s.doc.Executions[i] = e
			return s.flush()
		}
	}
	return ErrNotFound
}

// GetExecution returns a copy of the execution with the given id.
func (s *Store) GetExecution(id string) (*Execution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.doc.Executions {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// ListExecutions returns up to limit executions, newest first,
// optionally filtered by task id. limit <= 0 means no limit.
func (s *Store) ListExecutions(taskID string, limit int) []*Execution {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Execution, 0, len(s.doc.Executions))
	for _, e := range s.doc.Executions {
		if taskID != "" && e.TaskID != taskID {
			continue
		}
		cp := *e
		out = append(out, &cp)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}
