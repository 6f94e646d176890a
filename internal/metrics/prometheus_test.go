package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
)

func TestRegisterMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()

	RegisterMetricsEndpoint(router)

	// Test that /metrics endpoint works
	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "# HELP")
}

func TestRecordLockOperation(t *testing.T) {
	// This should not panic
	RecordLockOperation("acquire", "granted")
	RecordLockOperation("acquire", "conflict")
	RecordLockOperation("renew", "expired")
	RecordLockOperation("release", "released")
}

func TestObserveStoreOperation(t *testing.T) {
	// This should not panic
	ObserveStoreOperation("acquire", 0.002)
	ObserveStoreOperation("status", 0.001)
}

func TestRecordLifecycleRelease(t *testing.T) {
	// This should not panic
	RecordLifecycleRelease("user_removed", 3)
	RecordLifecycleRelease("session_ended", 0)
}

func TestRecordHTTPRequest(t *testing.T) {
	// This should not panic
	RecordHTTPRequest("POST", "/api/v1/locks/:resource_id/acquire", "200")
	RecordHTTPRequest("POST", "/api/v1/locks/:resource_id/acquire", "409")
	RecordHTTPRequest("GET", "/api/v1/locks/:resource_id", "200")
}

func TestRecordHTTPRequestDuration(t *testing.T) {
	// This should not panic
	RecordHTTPRequestDuration("POST", "/api/v1/locks/:resource_id/acquire", 0.05)
	RecordHTTPRequestDuration("GET", "/api/v1/locks/:resource_id", 0.01)
}

func TestMetricsAreRegistered(t *testing.T) {
	// Verify all metrics are registered with Prometheus
	metrics := []prometheus.Collector{
		LockOperationsTotal,
		LockStoreOperationDuration,
		LifecycleReleasesTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	}

	for _, metric := range metrics {
		assert.NotNil(t, metric)
	}
}
