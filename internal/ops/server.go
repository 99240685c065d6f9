// Package ops exposes the operator surface: liveness and a status snapshot.
// This is not the platform's user-facing API, which lives in another service.
package ops

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ewhitmore/vigil/internal/scheduler"
)

// QueueDepther reports how many reminders are waiting for delivery.
type QueueDepther interface {
	Depth() int
}

// SchedulerStatus reports the trigger set's last-run snapshot.
type SchedulerStatus interface {
	Status() scheduler.Status
}

type Server struct {
	queue     QueueDepther
	scheduler SchedulerStatus
	logger    *slog.Logger
}

func NewServer(queue QueueDepther, sched SchedulerStatus, logger *slog.Logger) *Server {
	return &Server{queue: queue, scheduler: sched, logger: logger}
}

// Router builds the ops HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type statusResponse struct {
	QueueDepth int              `json:"queue_depth"`
	Scheduler  scheduler.Status `json:"scheduler"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		QueueDepth: s.queue.Depth(),
		Scheduler:  s.scheduler.Status(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to write status response", "error", err)
	}
}
