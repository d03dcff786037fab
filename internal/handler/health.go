package handler

import (
	"database/sql"
	"net/http"

	"github.com/dukerupert/weekplate/internal/model"
	"github.com/dukerupert/weekplate/internal/store"
)

type healthResponse struct {
	Status string         `json:"status"`
	Queue  map[string]int `json:"queue,omitempty"`
}

// Health handles GET /health. It reports whether the database answers and
// how many generation jobs are waiting, running or dead.
func Health(db *sql.DB, jobs *store.JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
			return
		}

		queue := make(map[string]int)
		for _, status := range []model.JobStatus{model.JobQueued, model.JobRunning, model.JobRetry, model.JobDead} {
			n, err := jobs.CountByStatus(status)
			if err != nil {
				writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable"})
				return
			}
			queue[string(status)] = n
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Queue: queue})
	}
}
