package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareLabelsByRoutePattern(t *testing.T) {
	Init()
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/comics/{id}/image", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("png-bytes"))
	})
	r.Get("/v1/retrievals/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, path := range []string{"/v1/comics/1/image", "/v1/comics/2/image", "/v1/retrievals/x", "/nowhere"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, 2, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/comics/{id}/image", "200")), 0)
	require.InDelta(t, 18, testutil.ToFloat64(httpResponseBytesTotal.WithLabelValues("/v1/comics/{id}/image")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/retrievals/{id}", "404")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "unmatched", "404")), 0)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestRecorderKeepsFirstStatus(t *testing.T) {
	t.Parallel()

	rec := &recorder{ResponseWriter: httptest.NewRecorder()}
	require.Equal(t, http.StatusOK, rec.code())
	rec.WriteHeader(http.StatusAccepted)
	rec.WriteHeader(http.StatusTeapot)
	require.Equal(t, http.StatusAccepted, rec.code())
	require.NotNil(t, rec.Unwrap())
}
