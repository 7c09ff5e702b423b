package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/comic-cacher/internal/comic"
)

// navigate handles GET /v1/comics/{id}/{op}?date=yyyy-MM-dd where op is one of
// first, last, at, next or previous. The response is the NavigationResult;
// found=false is still a 200.
func (s *Server) navigate(w http.ResponseWriter, r *http.Request) {
	result, ok := s.resolve(w, r, chi.URLParam(r, "op"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// comicImage handles GET /v1/comics/{id}/image?op=&date= and streams the
// artifact bytes, or 404 with the NavigationResult when nothing was found.
func (s *Server) comicImage(w http.ResponseWriter, r *http.Request) {
	op := r.URL.Query().Get("op")
	if op == "" {
		op = "at"
	}
	result, ok := s.resolve(w, r, op)
	if !ok {
		return
	}
	if !result.Found || result.Image == nil {
		writeJSON(w, http.StatusNotFound, result)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(result.Image.Data))
	w.Header().Set("Content-Length", strconv.Itoa(len(result.Image.Data)))
	w.Header().Set("X-Comic-Date", comic.FormatDate(result.CurrentDate))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(result.Image.Data)
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request, op string) (comic.NavigationResult, bool) {
	if s.navigator == nil || s.catalog == nil {
		writeError(w, http.StatusServiceUnavailable, "navigation unavailable")
		return comic.NavigationResult{}, false
	}
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid series id")
		return comic.NavigationResult{}, false
	}
	series, ok := s.catalog.FindSeries(id)
	if !ok {
		writeError(w, http.StatusNotFound, "series not found")
		return comic.NavigationResult{}, false
	}

	op = strings.ToLower(strings.TrimSpace(op))
	var date time.Time
	if op == "at" || op == "next" || op == "previous" {
		date, err = comic.ParseDate(r.URL.Query().Get("date"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "date is required as yyyy-MM-dd")
			return comic.NavigationResult{}, false
		}
	}

	ctx := r.Context()
	var result comic.NavigationResult
	switch op {
	case "first":
		result, err = s.navigator.First(ctx, series)
	case "last":
		result, err = s.navigator.Last(ctx, series)
	case "at":
		result, err = s.navigator.At(ctx, series, date)
	case "next":
		result, err = s.navigator.Next(ctx, series, date)
	case "previous":
		result, err = s.navigator.Previous(ctx, series, date)
	default:
		writeError(w, http.StatusBadRequest, "unknown navigation op")
		return comic.NavigationResult{}, false
	}
	if err != nil {
		s.logger.Error("navigation failed",
			zap.Int("series", series.ID),
			zap.String("op", op),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "navigation failed")
		return comic.NavigationResult{}, false
	}
	return result, true
}
