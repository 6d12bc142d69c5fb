package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"vqd/internal/scheduler"
)

func (s *Server) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	var t scheduler.Task
	if err := decodeBody(r, &t); err != nil {
		respondInvalid(w, "invalid request body: "+err.Error())
		return
	}
	created, err := s.sched.CreateTask(&t)
	if err != nil {
		respondInvalid(w, err.Error())
		return
	}
	respondCreated(w, created)
}

func (s *Server) handleTaskList(w http.ResponseWriter, _ *http.Request) {
	respondOK(w, s.sched.ListTasks())
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	t, err := s.sched.GetTask(chi.URLParam(r, "id"))
	if err != nil {
		respondNotFound(w, "task not found")
		return
	}
	respondOK(w, t)
}

func (s *Server) handleTaskUpdate(w http.ResponseWriter, r *http.Request) {
	var in scheduler.Task
	if err := decodeBody(r, &in); err != nil {
		respondInvalid(w, "invalid request body: "+err.Error())
		return
	}
	t, err := s.sched.UpdateTask(chi.URLParam(r, "id"), &in)
	if errors.Is(err, scheduler.ErrNotFound) {
		respondNotFound(w, "task not found")
		return
	}
	if err != nil {
		respondInvalid(w, err.Error())
		return
	}
	respondOK(w, t)
}

func (s *Server) handleTaskDelete(w http.ResponseWriter, r *http.Request) {
	err := s.sched.DeleteTask(chi.URLParam(r, "id"))
	if errors.Is(err, scheduler.ErrNotFound) {
		respondNotFound(w, "task not found")
		return
	}
	if err != nil {
		respondInternal(w, err.Error())
		return
	}
	respondOK(w, nil)
}

func (s *Server) handleTaskEnable(w http.ResponseWriter, r *http.Request) {
	s.setTaskEnabled(w, r, true)
}

func (s *Server) handleTaskDisable(w http.ResponseWriter, r *http.Request) {
	s.setTaskEnabled(w, r, false)
}

func (s *Server) setTaskEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	id := chi.URLParam(r, "id")
	var (
		t   *scheduler.Task
		err error
	)
	if enabled {
		t, err = s.sched.EnableTask(id)
	} else {
		t, err = s.sched.DisableTask(id)
	}
	if errors.Is(err, scheduler.ErrNotFound) {
		respondNotFound(w, "task not found")
		return
	}
	if err != nil {
		respondInvalid(w, err.Error())
		return
	}
	respondOK(w, t)
}

func (s *Server) handleTaskRun(w http.ResponseWriter, r *http.Request) {
	execID, err := s.sched.RunTaskNow(chi.URLParam(r, "id"))
	if errors.Is(err, scheduler.ErrNotFound) {
		respondNotFound(w, "task not found")
		return
	}
	if err != nil {
		respondInvalid(w, err.Error())
		return
	}
	respondOK(w, map[string]string{"execution_id": execID})
}

func (s *Server) handleExecutionList(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	respondOK(w, s.sched.GetExecutions(r.URL.Query().Get("task_id"), limit))
}

func (s *Server) handleExecutionGet(w http.ResponseWriter, r *http.Request) {
	e, err := s.sched.GetExecution(chi.URLParam(r, "id"))
	if err != nil {
		respondNotFound(w, "execution not found")
		return
	}
	respondOK(w, e)
}
