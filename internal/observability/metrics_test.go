package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMeasure_CountsByRouteAndCode(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Measure)
	r.Get("/things/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("/things/{id}", "418"))
	for i := 0; i < 3; i++ {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/things/7", nil))
	}

	assert.Equal(t, before+3, testutil.ToFloat64(RequestsTotal.WithLabelValues("/things/{id}", "418")))
	assert.Equal(t, float64(0), testutil.ToFloat64(InFlight))
}

func TestRegisterAppsGauge(t *testing.T) {
	n := 2
	RegisterAppsGauge(func() int { return n })
	RegisterAppsGauge(func() int { return 100 })

	w := httptest.NewRecorder()
	MetricsHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, w.Body.String(), "discord_router_registered_apps 2")
}
