package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tickerbrief/internal/domain"
	"github.com/aristath/tickerbrief/internal/ledger"
)

// triggerer is the slice of the fan-out controller the handlers need.
type triggerer interface {
	Trigger(ctx context.Context, req domain.TriggerRequest) (*domain.RunSummary, error)
}

// RunHandlers exposes the operator surface: trigger runs, inspect a date's
// ledger, and reset failed jobs.
type RunHandlers struct {
	fanout triggerer
	ledger *ledger.Repository
	log    zerolog.Logger
}

// NewRunHandlers creates the run management handlers.
func NewRunHandlers(fanout triggerer, ledgerRepo *ledger.Repository, log zerolog.Logger) *RunHandlers {
	return &RunHandlers{
		fanout: fanout,
		ledger: ledgerRepo,
		log:    log.With().Str("handler", "runs").Logger(),
	}
}

// RegisterRoutes registers all run and job routes.
func (h *RunHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.HandleTriggerRun)
		r.Get("/{date}", h.HandleGetRun)
		r.Post("/{date}/retry", h.HandleRetryFailed)
	})
	r.Get("/jobs/{symbol}/{date}", h.HandleGetJob)
}

// HandleTriggerRun handles POST /api/runs. The run executes in the
// background; its progress is visible through GET /api/runs/{date}.
// Triggering a date that already ran is safe, terminal units are skipped.
func (h *RunHandlers) HandleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req domain.TriggerRequest
	if r.Body != nil {
		// An empty body means "run today for the whole universe".
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	if req.Date == "" {
		req.Date = time.Now().UTC().Format("2006-01-02")
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid date, want YYYY-MM-DD"})
		return
	}
	req.TriggeredBy = "api"

	go h.runInBackground(req)

	writeJSON(w, http.StatusAccepted, envelope(map[string]interface{}{
		"status": "triggered",
		"date":   req.Date,
		"subset": req.Subset,
	}, nil))
}

// HandleGetRun handles GET /api/runs/{date}, summarizing the date's ledger.
func (h *RunHandlers) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	jobs, err := h.ledger.ListByDate(r.Context(), date)
	if err != nil {
		writeError(w, err)
		return
	}

	counts := map[domain.JobStatus]int{}
	for _, job := range jobs {
		counts[job.Status]++
	}

	writeJSON(w, http.StatusOK, envelope(map[string]interface{}{
		"date":        date,
		"total":       len(jobs),
		"pending":     counts[domain.JobPending],
		"in_progress": counts[domain.JobInProgress],
		"completed":   counts[domain.JobCompleted],
		"failed":      counts[domain.JobFailed],
		"jobs":        jobs,
	}, nil))
}

// HandleRetryFailed handles POST /api/runs/{date}/retry: every failed job
// for the date goes back to pending and a run over just those symbols is
// kicked off.
func (h *RunHandlers) HandleRetryFailed(w http.ResponseWriter, r *http.Request) {
	date := chi.URLParam(r, "date")

	reset, err := h.ledger.RetryAllFailed(r.Context(), date)
	if err != nil {
		writeError(w, err)
		return
	}

	if len(reset) > 0 {
		go h.runInBackground(domain.TriggerRequest{
			Date:        date,
			Subset:      reset,
			TriggeredBy: "api-retry",
		})
	}

	writeJSON(w, http.StatusAccepted, envelope(map[string]interface{}{
		"date":  date,
		"reset": reset,
		"count": len(reset),
	}, nil))
}

// HandleGetJob handles GET /api/jobs/{symbol}/{date}.
func (h *RunHandlers) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	date := chi.URLParam(r, "date")

	job, err := h.ledger.GetJob(r.Context(), symbol, date)
	if err != nil {
		writeError(w, err)
		return
	}
	if job == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no job for " + symbol + "/" + date})
		return
	}

	writeJSON(w, http.StatusOK, envelope(job, nil))
}

func (h *RunHandlers) runInBackground(req domain.TriggerRequest) {
	summary, err := h.fanout.Trigger(context.Background(), req)
	if err != nil {
		h.log.Error().Err(err).Str("date", req.Date).Msg("Background run failed")
		return
	}
	h.log.Info().
		Str("run_id", summary.RunID).
		Str("date", summary.Date).
		Int("completed", summary.Completed).
		Int("failed", summary.Failed).
		Msg("Background run finished")
}
