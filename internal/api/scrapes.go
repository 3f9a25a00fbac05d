package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/ingest"
	"github.com/JakeFAU/movie-ingest/internal/search"
)

// submitScrape handles POST /v1/scrapes. The body is a search.Params object. It answers
// 202 {"run_id": ...} once the run is queued, 400 with per-field details when the
// parameters are rejected, and 503 when the queue cannot take more work.
func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	if s.scrapes == nil {
		writeError(w, http.StatusServiceUnavailable, "scrape runs are not enabled")
		return
	}
	var params search.Params
	if err := decodeJSON(w, r, &params); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	run, err := s.scrapes.Submit(r.Context(), params)
	if err != nil {
		var verr *search.ValidationError
		switch {
		case errors.As(err, &verr):
			writeFieldErrors(w, "invalid search parameters", verr.Fields)
		case errors.Is(err, ingest.ErrQueueClosed), errors.Is(err, context.DeadlineExceeded):
			s.logger.Warn("scrape queue unavailable", zap.Error(err))
			writeError(w, http.StatusServiceUnavailable, "scrape queue is unavailable")
		default:
			s.logger.Error("submit scrape failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to queue scrape")
		}
		return
	}
	w.Header().Set("Location", "/v1/scrapes/"+run.ID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"status": string(run.Status),
	})
}

// getScrape handles GET /v1/scrapes/{run_id}.
func (s *Server) getScrape(w http.ResponseWriter, r *http.Request) {
	if s.scrapes == nil {
		writeError(w, http.StatusServiceUnavailable, "scrape runs are not enabled")
		return
	}
	run, err := s.scrapes.Get(r.Context(), chi.URLParam(r, "run_id"))
	if err != nil {
		if errors.Is(err, ingest.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		s.logger.Error("get scrape failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": run})
}
