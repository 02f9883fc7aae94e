// Package server exposes the operational HTTP endpoints: liveness, Prometheus metrics and the last cycle summary.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"

	"github.com/0x0BSoD/feedRelay/internal/model"
)

type CycleProvider interface {
	LastCycle() (model.CycleState, bool)
}

type feedStatus struct {
	Feed      string `json:"feed"`
	Stage     string `json:"stage"`
	Parsed    int    `json:"parsed"`
	New       int    `json:"new"`
	Delivered int    `json:"delivered"`
	Rejected  int    `json:"rejected"`
	Error     string `json:"error,omitempty"`
}

type cycleStatus struct {
	ID         string       `json:"id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Feeds      []feedStatus `json:"feeds"`
}

func NewRouter(cycles CycleProvider) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/status", statusHandler(cycles))

	return r
}

func statusHandler(cycles CycleProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state, ok := cycles.LastCycle()
		if !ok {
			http.Error(w, "no cycle has finished yet", http.StatusServiceUnavailable)
			return
		}

		status := cycleStatus{
			ID:         state.ID,
			StartedAt:  state.StartedAt,
			FinishedAt: state.FinishedAt,
			Feeds: lo.Map(state.Outcomes, func(o model.FeedOutcome, _ int) feedStatus {
				fs := feedStatus{
					Feed:      o.FeedID,
					Stage:     string(o.Stage),
					Parsed:    o.Parsed,
					New:       o.Fresh,
					Delivered: o.Delivered,
					Rejected:  o.Rejected,
				}
				if o.Err != nil {
					fs.Error = o.Err.Error()
				}
				return fs
			}),
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Error("failed to write status", "err", err)
		}
	}
}
