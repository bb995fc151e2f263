package health_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/orchestrator/internal/health"
	"github.com/civicmesh/orchestrator/internal/registry"
	"github.com/civicmesh/orchestrator/pkg/api"
)

func healthyServer(t *testing.T, uptime float64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/health", r.URL.Path)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"status":         "healthy",
				"uptime_seconds": uptime,
			})
		}))
}

func TestProbeAllAggregates(t *testing.T) {
	up := healthyServer(t, 321.5)
	defer up.Close()
	down := httptest.NewServer(http.NotFoundHandler())
	down.Close() // nothing listening anymore

	reg := registry.NewStatic(map[api.EngineKey]string{
		"identity":       up.URL,
		"neural_network": down.URL,
	})
	prober := health.NewProber(reg, time.Second)

	report := prober.ProbeAll(context.Background())

	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 1, report.Healthy)
	assert.Equal(t, 1, report.Unhealthy)

	require.Len(t, report.Engines, 2)
	// sorted by engine key
	assert.Equal(t, api.EngineKey("identity"), report.Engines[0].Engine)
	assert.Equal(t, api.HealthHealthy, report.Engines[0].Status)
	assert.Equal(t, 321.5, report.Engines[0].Uptime)
	assert.Equal(t, api.HealthUnreachable, report.Engines[1].Status)
}

func TestProbeTreatsHTTPErrorAsUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "oops", http.StatusInternalServerError)
		}))
	defer srv.Close()

	reg := registry.NewStatic(map[api.EngineKey]string{"identity": srv.URL})
	prober := health.NewProber(reg, time.Second)

	report := prober.ProbeAll(context.Background())
	assert.Equal(t, 0, report.Healthy)
	assert.Equal(t, api.HealthUnreachable, report.Engines[0].Status)
}

func TestProbeHonorsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(250 * time.Millisecond)
		}))
	defer srv.Close()

	reg := registry.NewStatic(map[api.EngineKey]string{"identity": srv.URL})
	prober := health.NewProber(reg, 20*time.Millisecond)

	start := time.Now()
	report := prober.ProbeAll(context.Background())
	assert.Less(t, time.Since(start), 200*time.Millisecond)
	assert.Equal(t, api.HealthUnreachable, report.Engines[0].Status)
}

func TestProbeIsIdempotent(t *testing.T) {
	srv := healthyServer(t, 1)
	defer srv.Close()

	reg := registry.NewStatic(map[api.EngineKey]string{"identity": srv.URL})
	prober := health.NewProber(reg, time.Second)

	first := prober.ProbeAll(context.Background())
	second := prober.ProbeAll(context.Background())
	assert.Equal(t, first.Healthy, second.Healthy)
	assert.Equal(t, first.Total, second.Total)
}
