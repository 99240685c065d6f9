package ops

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ewhitmore/vigil/internal/scheduler"
)

type stubQueue struct{ depth int }

func (s stubQueue) Depth() int { return s.depth }

type stubScheduler struct{ status scheduler.Status }

func (s stubScheduler) Status() scheduler.Status { return s.status }

func TestHealthz(t *testing.T) {
	srv := NewServer(stubQueue{}, stubScheduler{}, slog.New(slog.DiscardHandler))
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
}

func TestStatusSnapshot(t *testing.T) {
	lastPoll := time.Date(2026, 8, 28, 14, 2, 0, 0, time.UTC)
	srv := NewServer(
		stubQueue{depth: 4},
		stubScheduler{status: scheduler.Status{
			LastLivePoll:  &lastPoll,
			LastSweepDate: "2026-08-27",
		}},
		slog.New(slog.DiscardHandler),
	)
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		QueueDepth int `json:"queue_depth"`
		Scheduler  struct {
			LastLivePoll  *time.Time `json:"last_live_poll"`
			LastSweepDate string     `json:"last_sweep_date"`
		} `json:"scheduler"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.QueueDepth != 4 {
		t.Errorf("queue depth = %d, want 4", body.QueueDepth)
	}
	if body.Scheduler.LastSweepDate != "2026-08-27" {
		t.Errorf("sweep date = %q", body.Scheduler.LastSweepDate)
	}
	if body.Scheduler.LastLivePoll == nil || !body.Scheduler.LastLivePoll.Equal(lastPoll) {
		t.Errorf("last live poll = %v, want %v", body.Scheduler.LastLivePoll, lastPoll)
	}
}
