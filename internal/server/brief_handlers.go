package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/aristath/tickerbrief/internal/domain"
	"github.com/aristath/tickerbrief/internal/query"
)

// BriefHandlers serves artifact reads.
type BriefHandlers struct {
	query *query.Service
	log   zerolog.Logger
}

// NewBriefHandlers creates the brief read handlers.
func NewBriefHandlers(queryService *query.Service, log zerolog.Logger) *BriefHandlers {
	return &BriefHandlers{
		query: queryService,
		log:   log.With().Str("handler", "briefs").Logger(),
	}
}

// RegisterRoutes registers all brief routes.
func (h *BriefHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/briefs/{symbol}/{date}", func(r chi.Router) {
		r.Get("/", h.HandleGetBrief)
		r.Get("/narrative", h.HandleGetNarrative)
		r.Get("/data", h.HandleGetData)
		r.Get("/chart", h.HandleGetChart)
	})
}

// HandleGetBrief handles GET /api/briefs/{symbol}/{date}.
// The chart is omitted here; it has its own endpoint with its own MIME type.
func (h *BriefHandlers) HandleGetBrief(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	date := chi.URLParam(r, "date")

	artifact, source, err := h.query.GetBrief(r.Context(), symbol, date)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, envelope(artifact, map[string]interface{}{
		"source": string(source),
	}))
}

// HandleGetNarrative handles GET /api/briefs/{symbol}/{date}/narrative.
func (h *BriefHandlers) HandleGetNarrative(w http.ResponseWriter, r *http.Request) {
	h.serveFragment(w, r, domain.FragmentNarrative, "text/plain; charset=utf-8")
}

// HandleGetData handles GET /api/briefs/{symbol}/{date}/data.
func (h *BriefHandlers) HandleGetData(w http.ResponseWriter, r *http.Request) {
	h.serveFragment(w, r, domain.FragmentData, "application/json")
}

// HandleGetChart handles GET /api/briefs/{symbol}/{date}/chart.
func (h *BriefHandlers) HandleGetChart(w http.ResponseWriter, r *http.Request) {
	h.serveFragment(w, r, domain.FragmentChart, "image/svg+xml")
}

func (h *BriefHandlers) serveFragment(w http.ResponseWriter, r *http.Request, kind domain.FragmentKind, contentType string) {
	symbol := chi.URLParam(r, "symbol")
	date := chi.URLParam(r, "date")

	fragment, source, err := h.query.GetFragment(r.Context(), symbol, date, kind)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(fragment) == 0 {
		writeError(w, &domain.MissingInputError{Symbol: symbol, Date: date})
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Brief-Source", string(source))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(fragment)
}
