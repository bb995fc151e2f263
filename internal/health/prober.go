// Package health probes downstream engines. Probes bypass the circuit
// breaker so an operator sees the real state of an engine even while the
// breaker is failing requests fast.
package health

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/civicmesh/orchestrator/internal/registry"
	"github.com/civicmesh/orchestrator/pkg/api"
)

// Prober sweeps every registered engine's /health endpoint concurrently
type Prober struct {
	registry   *registry.Registry
	httpClient *http.Client
	timeout    time.Duration
}

// NewProber creates a Prober with the given per-probe timeout
func NewProber(reg *registry.Registry, timeout time.Duration) *Prober {
	return &Prober{
		registry:   reg,
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// ProbeAll checks every engine and aggregates the sweep. Results are in
// sorted engine key order regardless of response timing.
func (p *Prober) ProbeAll(ctx context.Context) api.HealthReport {
	keys := p.registry.Keys()
	engines := make([]api.EngineHealth, len(keys))

	var wg sync.WaitGroup
	for i, key := range keys {
		wg.Go(func() {
			engines[i] = p.probe(ctx, key)
		})
	}
	wg.Wait()

	report := api.HealthReport{
		Engines: engines,
		Total:   len(engines),
	}
	for _, e := range engines {
		if e.Status == api.HealthHealthy {
			report.Healthy++
		}
	}
	report.Unhealthy = report.Total - report.Healthy
	return report
}

func (p *Prober) probe(
	ctx context.Context, key api.EngineKey,
) api.EngineHealth {
	result := api.EngineHealth{
		Engine: key,
		Status: api.HealthUnreachable,
	}

	url, err := p.registry.URL(key, "/health")
	if err != nil {
		return result
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return result
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return result
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return result
	}

	result.Status = api.HealthHealthy
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10)); err == nil {
		result.Uptime = gjson.GetBytes(body, "uptime_seconds").Float()
	}
	return result
}
