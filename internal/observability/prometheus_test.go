package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omniroute/omniroute/internal/observability"
	"github.com/omniroute/omniroute/pkg/routing"
)

func TestNewPrometheusSurface_ServesMetrics(t *testing.T) {
	t.Parallel()

	surface, err := observability.NewPrometheusSurface()
	require.NoError(t, err)

	t.Cleanup(func() { _ = surface.Shutdown() })

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()

	surface.Handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	// Prometheus exposition format uses text/plain with version parameter.
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
}

func TestNewPrometheusSurface_ScrapesRecordedInstruments(t *testing.T) {
	t.Parallel()

	surface, err := observability.NewPrometheusSurface()
	require.NoError(t, err)

	t.Cleanup(func() { _ = surface.Shutdown() })

	rm, err := observability.NewRoutingMetrics(surface.Meter, "orchestrator-1", nil)
	require.NoError(t, err)

	rm.RecordDecision(context.Background(), routing.AdapterPrefect, routing.TaskWorkflow)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()

	surface.Handler.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, "routing_decisions_total")
	assert.Contains(t, body, `adapter="prefect"`)
}

func TestNewPrometheusSurface_IndependentRegistries(t *testing.T) {
	t.Parallel()

	first, err := observability.NewPrometheusSurface()
	require.NoError(t, err)

	t.Cleanup(func() { _ = first.Shutdown() })

	// A second surface registers its own collectors without conflicting
	// with the first.
	second, err := observability.NewPrometheusSurface()
	require.NoError(t, err)

	t.Cleanup(func() { _ = second.Shutdown() })

	assert.NotNil(t, second.Handler)
	assert.NotNil(t, second.Meter)
}
