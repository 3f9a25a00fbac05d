package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/movie-ingest/internal/movie"
)

const (
	defaultMovieLimit = 100
	maxMovieLimit     = 1000
	maxBodyBytes      = 1 << 20
)

// listMovies handles GET /v1/movies?limit=&offset=. It returns {"movies": [...]}
// ordered by title, or 400 for malformed paging parameters.
func (s *Server) listMovies(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parseLimitOffset(r, defaultMovieLimit, maxMovieLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	movies, err := s.store.List(r.Context(), movie.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		s.logger.Error("list movies failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list movies")
		return
	}
	if movies == nil {
		movies = []movie.Movie{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"movies": movies,
		"limit":  limit,
		"offset": offset,
	})
}

// createMovie handles POST /v1/movies. It answers 201 with the stored record, 400 for
// invalid bodies and 409 when the title already exists.
func (s *Server) createMovie(w http.ResponseWriter, r *http.Request) {
	var m movie.Movie
	if err := decodeJSON(w, r, &m); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	m.Title = strings.TrimSpace(m.Title)
	if err := movie.Validate(m); err != nil {
		s.writeMovieError(w, err)
		return
	}
	created, err := s.store.Create(r.Context(), m)
	if err != nil {
		s.writeMovieError(w, err)
		return
	}
	w.Header().Set("Location", "/v1/movies/"+url.PathEscape(created.Title))
	writeJSON(w, http.StatusCreated, map[string]any{"movie": created})
}

// getMovie handles GET /v1/movies/{title}.
func (s *Server) getMovie(w http.ResponseWriter, r *http.Request) {
	m, err := s.store.Get(r.Context(), titleParam(r))
	if err != nil {
		s.writeMovieError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movie": m})
}

// updateMovie handles PUT /v1/movies/{title}. Fields omitted from the body keep their
// stored values.
func (s *Server) updateMovie(w http.ResponseWriter, r *http.Request) {
	var patch movie.Patch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if patch.Empty() {
		writeError(w, http.StatusBadRequest, "no fields to update")
		return
	}
	if err := movie.ValidatePatch(patch); err != nil {
		s.writeMovieError(w, err)
		return
	}
	updated, err := s.store.Update(r.Context(), titleParam(r), patch)
	if err != nil {
		s.writeMovieError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"movie": updated})
}

// deleteMovie handles DELETE /v1/movies/{title}.
func (s *Server) deleteMovie(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Delete(r.Context(), titleParam(r)); err != nil {
		s.writeMovieError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeMovieError(w http.ResponseWriter, err error) {
	var fields movie.FieldErrors
	switch {
	case errors.As(err, &fields):
		writeFieldErrors(w, "invalid movie", fields)
	case errors.Is(err, movie.ErrNotFound):
		writeError(w, http.StatusNotFound, movie.ErrNotFound.Error())
	case errors.Is(err, movie.ErrConflict):
		writeError(w, http.StatusConflict, movie.ErrConflict.Error())
	default:
		s.logger.Error("movie store call failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// titleParam returns the decoded {title} path segment. chi routes on RawPath when the
// request carried encoded characters such as %2F, and only then is the segment still
// escaped.
func titleParam(r *http.Request) string {
	raw := chi.URLParam(r, "title")
	if r.URL.RawPath != "" {
		if title, err := url.PathUnescape(raw); err == nil {
			raw = title
		}
	}
	return strings.TrimSpace(raw)
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		limit = min(val, maxLimit)
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

// decodeJSON reads exactly one JSON value into dst and rejects unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid JSON: body must contain a single object")
	}
	return nil
}
