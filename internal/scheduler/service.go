package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"vqd/internal/detect"
	"vqd/internal/metrics"
)

// maxConcurrentRuns bounds how many task executions run at once.
const maxConcurrentRuns = 3

// Service schedules tasks with cron and runs their jobs on a bounded
// worker pool.
type Service struct {
	store     *Store
	registry  *detect.Registry
	reportDir string
	log       zerolog.Logger

	cron *cron.Cron
	sem  chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	entries map[string]cron.EntryID
	manual  map[string]bool
}

// NewService wires the store and registry and registers every enabled task.
func NewService(store *Store, registry *detect.Registry, reportDir string, log zerolog.Logger) (*Service, error) {
	s := &Service{
		store:     store,
		registry:  registry,
		reportDir: reportDir,
		log:       log.With().Str("component", "scheduler").Logger(),
		cron:      cron.New(),
		sem:       make(chan struct{}, maxConcurrentRuns),
		entries:   make(map[string]cron.EntryID),
		manual:    make(map[string]bool),
	}

	for _, t := range store.ListTasks() {
		if !t.Enabled {
			continue
		}
		if err := s.register(t); err != nil {
			s.log.Warn().Err(err).Str("task_id", t.ID).Msg("skipping task with invalid schedule")
		}
	}
	return s, nil
}

// Start begins firing schedules.
func (s *Service) Start() {
	s.cron.Start()
	s.refreshNextRuns()
	s.log.Info().Int("tasks", len(s.entries)).Msg("scheduler started")
}

// Stop halts the cron loop and waits for in-flight executions.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.wg.Wait()
	s.log.Info().Msg("scheduler stopped")
}

// CreateTask validates and persists a new task, scheduling it when enabled.
func (s *Service) CreateTask(t *Task) (*Task, error) {
	if t.Name == "" {
		return nil, fmt.Errorf("task name is required")
	}
	switch t.Kind {
	case KindBatch, KindSample, KindVideo:
	default:
		return nil, fmt.Errorf("unknown task kind %q", t.Kind)
	}
	if _, err := cron.ParseStandard(t.CronExpr); err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", t.CronExpr, err)
	}
	if t.Config.InputPath == "" {
		return nil, fmt.Errorf("input path is required")
	}

	now := time.Now().UTC()
	t.ID = newID()
	t.CreatedAt = now
	t.UpdatedAt = now
	t.LastRunAt = nil
	t.NextRunAt = nil

	if err := s.store.SaveTask(t); err != nil {
		return nil, err
	}
	if t.Enabled {
		if err := s.register(t); err != nil {
			return nil, err
		}
		s.refreshNextRuns()
	}
	return t, nil
}

// GetTask returns the task with the given id.
func (s *Service) GetTask(id string) (*Task, error) { return s.store.GetTask(id) }

// ListTasks returns all tasks.
func (s *Service) ListTasks() []*Task { return s.store.ListTasks() }

// UpdateTask applies the mutable fields of in to the stored task and
// reschedules when the trigger changed.
func (s *Service) UpdateTask(id string, in *Task) (*Task, error) {
	t, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}

	reschedule := in.CronExpr != t.CronExpr || in.Enabled != t.Enabled
	if in.CronExpr != t.CronExpr {
		if _, err := cron.ParseStandard(in.CronExpr); err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", in.CronExpr, err)
		}
	}

	t.Name = in.Name
	t.Description = in.Description
	t.Kind = in.Kind
	t.CronExpr = in.CronExpr
	t.Enabled = in.Enabled
	t.Config = in.Config
	t.Output = in.Output
	t.UpdatedAt = time.Now().UTC()

	if reschedule {
		s.unregister(t.ID)
		if t.Enabled {
			if err := s.register(t); err != nil {
				return nil, err
			}
		} else {
			t.NextRunAt = nil
		}
	}
	if err := s.store.SaveTask(t); err != nil {
		return nil, err
	}
	s.refreshNextRuns()
	return t, nil
}

// DeleteTask unschedules and removes the task.
func (s *Service) DeleteTask(id string) error {
	s.unregister(id)
	return s.store.DeleteTask(id)
}

// EnableTask turns the task's schedule on.
func (s *Service) EnableTask(id string) (*Task, error) {
	return s.setEnabled(id, true)
}

// DisableTask turns the task's schedule off and clears its next run time.
func (s *Service) DisableTask(id string) (*Task, error) {
	return s.setEnabled(id, false)
}

func (s *Service) setEnabled(id string, enabled bool) (*Task, error) {
	t, err := s.store.GetTask(id)
	if err != nil {
		return nil, err
	}
	if t.Enabled == enabled {
		return t, nil
	}
	t.Enabled = enabled
	t.UpdatedAt = time.Now().UTC()

	s.unregister(id)
	if enabled {
		if err := s.register(t); err != nil {
			return nil, err
		}
	} else {
		t.NextRunAt = nil
	}
	if err := s.store.SaveTask(t); err != nil {
		return nil, err
	}
	s.refreshNextRuns()
	return t, nil
}

// RunTaskNow triggers an immediate execution outside the schedule. Repeated
// calls while a manual run is still in flight return an error. The new
// execution's id is returned so callers can poll it.
func (s *Service) RunTaskNow(id string) (string, error) {
	t, err := s.store.GetTask(id)
	if err != nil {
		return "", err
	}

	key := t.ID + "_manual"
	s.mu.Lock()
	if s.manual[key] {
		s.mu.Unlock()
		return "", fmt.Errorf("task %s already has a manual run in flight", id)
	}
	s.manual[key] = true
	s.mu.Unlock()

	exec := s.newExecution(t)
	if err := s.store.AddExecution(exec); err != nil {
		s.mu.Lock()
		delete(s.manual, key)
		s.mu.Unlock()
		return "", err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.manual, key)
			s.mu.Unlock()
		}()
		s.execute(t.ID, exec)
	}()
	return exec.ID, nil
}

// GetExecutions lists execution history, newest first.
func (s *Service) GetExecutions(taskID string, limit int) []*Execution {
	return s.store.ListExecutions(taskID, limit)
}

// GetExecution returns one execution by id.
func (s *Service) GetExecution(id string) (*Execution, error) {
	return s.store.GetExecution(id)
}

func (s *Service) register(t *Task) error {
	id := t.ID
	entryID, err := s.cron.AddFunc(t.CronExpr, func() {
		s.wg.Add(1)
		defer s.wg.Done()

		task, err := s.store.GetTask(id)
		if err != nil {
			return // deleted since scheduling
		}
		exec := s.newExecution(task)
		if err := s.store.AddExecution(exec); err != nil {
			s.log.Error().Err(err).Str("task_id", id).Msg("could not record execution")
			return
		}
		s.execute(id, exec)
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[t.ID] = entryID
	s.mu.Unlock()
	return nil
}

func (s *Service) unregister(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entryID, ok := s.entries[id]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, id)
	}
}

func (s *Service) newExecution(t *Task) *Execution {
	return &Execution{
		ID:        newID(),
		TaskID:    t.ID,
		TaskName:  t.Name,
		Status:    ExecPending,
		StartedAt: time.Now().UTC(),
	}
}

// execute runs one execution end to end under the worker-pool bound.
func (s *Service) execute(taskID string, exec *Execution) {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()

	start := time.Now()
	exec.Status = ExecRunning
	exec.StartedAt = start.UTC()
	if err := s.store.UpdateExecution(exec); err != nil {
		s.log.Error().Err(err).Str("execution_id", exec.ID).Msg("could not mark execution running")
	}

	task, err := s.store.GetTask(taskID)
	if err == nil {
		var reportPath string
		reportPath, err = s.runJob(context.Background(), task, exec)
		exec.ReportPath = reportPath
	}

	finished := time.Now().UTC()
	exec.FinishedAt = &finished
	exec.DurationSeconds = time.Since(start).Seconds()
	if err != nil {
		exec.Status = ExecFailed
		exec.ErrorMessage = err.Error()
		metrics.SchedulerRuns.WithLabelValues("failed").Inc()
		s.log.Error().Err(err).Str("task_id", taskID).Str("execution_id", exec.ID).Msg("task execution failed")
	} else {
		exec.Status = ExecCompleted
		metrics.SchedulerRuns.WithLabelValues("completed").Inc()
		s.log.Info().
			Str("task_id", taskID).
			Str("execution_id", exec.ID).
			Int("total", exec.TotalItems).
			Int("abnormal", exec.AbnormalCount).
			Msg("task execution completed")
	}
	if uerr := s.store.UpdateExecution(exec); uerr != nil {
		s.log.Error().Err(uerr).Str("execution_id", exec.ID).Msg("could not finalize execution")
	}

	if task != nil {
		ts := finished
		task.LastRunAt = &ts
		if uerr := s.store.SaveTask(task); uerr != nil {
			s.log.Error().Err(uerr).Str("task_id", taskID).Msg("could not update task run times")
		}
		s.refreshNextRuns()
	}
}

// refreshNextRuns copies cron's computed next fire times onto the tasks.
func (s *Service) refreshNextRuns() {
	s.mu.Lock()
	ids := make(map[string]cron.EntryID, len(s.entries))
	for id, e := range s.entries {
		ids[id] = e
	}
	s.mu.Unlock()

	for id, entryID := range ids {
		entry := s.cron.Entry(entryID)
		if entry.ID == 0 {
			continue
		}
		t, err := s.store.GetTask(id)
		if err != nil {
			continue
		}
		if !entry.Next.IsZero() {
			next := entry.Next.UTC()
			t.NextRunAt = &next
			if err := s.store.SaveTask(t); err != nil {
				s.log.Warn().Err(err).Str("task_id", id).Msg("could not persist next run time")
			}
		}
	}
}
