package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	require.NoError(t, Init())
	require.NoError(t, Init())
}

func TestHandlerExposesCounters(t *testing.T) {
	require.NoError(t, Init())

	before := testutil.ToFloat64(PromotionsTotal)
	PromotionsTotal.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PromotionsTotal))

	AdmissionsTotal.WithLabelValues("ADMITTED").Inc()

	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "registration_waitlist_promotions_total")
	assert.Contains(t, w.Body.String(), `registration_admissions_total{outcome="ADMITTED"}`)
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(GinMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, 1, testutil.CollectAndCount(RequestDuration, "registration_http_request_duration_seconds"))
}
