package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JakeFAU/comic-cacher/internal/comic"
	"github.com/JakeFAU/comic-cacher/internal/status"
)

const (
	defaultRecordLimit = 100
	maxRecordLimit     = 1000
)

// listRetrievals handles GET /v1/retrievals?series=&status=&from=&to=&limit=.
// It returns {"retrievals": [...]} newest first, or 400 for invalid filters.
func (s *Server) listRetrievals(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r, defaultRecordLimit, maxRecordLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit = limit
	writeJSON(w, http.StatusOK, map[string]any{
		"retrievals": nonNil(s.tracker.List(f)),
	})
}

// getRetrieval handles GET /v1/retrievals/{id}, returning the latest attempt.
func (s *Server) getRetrieval(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	rec, ok := s.tracker.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "retrieval not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"retrieval": rec})
}

// seriesErrors handles GET /v1/series/{name}/errors.
func (s *Server) seriesErrors(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	writeJSON(w, http.StatusOK, map[string]any{
		"series": name,
		"errors": nonNil(s.tracker.Errors(name)),
	})
}

// seriesSummary handles GET /v1/series/{name}/summary?from=&to=. Every status
// is present in the response, zero when unseen.
func (s *Server) seriesSummary(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.SeriesName = chi.URLParam(r, "name")
	counts := s.tracker.Summary(f)
	out := make(map[comic.RetrievalStatus]int, len(comic.AllStatuses()))
	for _, st := range comic.AllStatuses() {
		out[st] = counts[st]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"series":  f.SeriesName,
		"summary": out,
	})
}

func parseFilter(r *http.Request) (status.Filter, error) {
	q := r.URL.Query()
	f := status.Filter{SeriesName: strings.TrimSpace(q.Get("series"))}
	if raw := q.Get("status"); raw != "" {
		st, err := comic.ParseStatus(raw)
		if err != nil {
			return status.Filter{}, errors.New("invalid status")
		}
		f.Status = st
	}
	from, err := parseOptionalDate(q.Get("from"))
	if err != nil {
		return status.Filter{}, errors.New("invalid from date")
	}
	to, err := parseOptionalDate(q.Get("to"))
	if err != nil {
		return status.Filter{}, errors.New("invalid to date")
	}
	f.From, f.To = from, to
	return f, nil
}

func parseOptionalDate(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	d, err := comic.ParseDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	return d, nil
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

func nonNil(in []comic.RetrievalRecord) []comic.RetrievalRecord {
	if in == nil {
		return []comic.RetrievalRecord{}
	}
	return in
}
