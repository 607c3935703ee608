package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"postflow/internal/planner"
	"postflow/internal/queue"
	"postflow/internal/scheduler"
	"postflow/internal/workflow"
)

type Server struct {
	r        *chi.Mux
	repo     queue.Repository
	svc      *scheduler.Service
	composer workflow.Composer
}

func NewServer(repo queue.Repository, svc *scheduler.Service, composer workflow.Composer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)

	s := &Server{r: r, repo: repo, svc: svc, composer: composer}

	r.Get("/health", s.health)
	r.Get("/metrics", s.metrics)
	r.Get("/api/queue", s.listQueue)
	r.Get("/api/queue/{id}", s.getItem)
	r.Post("/api/queue/{id}/reset", s.resetItem)
	r.Delete("/api/queue/{id}", s.removeItem)
	r.Get("/api/history", s.listHistory)
	r.Post("/api/schedule", s.schedule)
	r.Post("/api/process", s.process)

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain; version=0.0.4")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("postflow_up 1\n"))
}

func (s *Server) listQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.repo.ListAll(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, items)
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := s.repo.Get(r.Context(), id)
	if errors.Is(err, queue.ErrNotFound) {
		http.Error(w, "not found", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, item)
}

type resetReq struct {
	ScheduledAt time.Time `json:"scheduled_at"`
}

// resetItem is the administrative recovery path: failed -> pending with a
// new dispatch time. It never applies to items in any other state.
func (s *Server) resetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req resetReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.ScheduledAt.IsZero() {
		http.Error(w, "scheduled_at is required", 400)
		return
	}
	err := s.repo.ResetFailed(r.Context(), id, req.ScheduledAt)
	if errors.Is(err, queue.ErrNotFound) {
		http.Error(w, "no failed item with that id", 404)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	item, err := s.repo.Get(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, item)
}

func (s *Server) removeItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.repo.Remove(r.Context(), []string{id}); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.repo.ListSentHistory(r.Context())
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, records)
}

type scheduleReq struct {
	Topics []string `json:"topics"`
	Count  int      `json:"count"`
}

func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), 400)
		return
	}
	if req.Count <= 0 {
		req.Count = 5
	}
	items, err := s.composer.ComposeAndSchedule(r.Context(), req.Topics, req.Count)
	if errors.Is(err, planner.ErrInsufficientCapacity) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, http.StatusCreated, items)
}

// process triggers one synchronous dispatch cycle.
func (s *Server) process(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.RunCycle(r.Context()); err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	writeJSON(w, 200, map[string]string{"status": "processed"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
