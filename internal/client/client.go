// Package client performs outbound calls to engines. Every call is gated by
// the circuit breaker, bounded by a timeout, tagged with the request's
// correlation id, and classified into a typed Outcome.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/civicmesh/orchestrator/internal/breaker"
	"github.com/civicmesh/orchestrator/internal/registry"
	"github.com/civicmesh/orchestrator/pkg/api"
	"github.com/civicmesh/orchestrator/pkg/log"
)

type (
	// Caller issues one call to one engine and classifies the result
	Caller interface {
		Call(context.Context, Request, api.Correlation) api.Outcome
	}

	// Request describes a single outbound engine call
	Request struct {
		Payload any
		Path    string
		Engine  api.EngineKey
		Timeout time.Duration
	}

	// HTTPCaller is the production Caller over net/http
	HTTPCaller struct {
		registry   *registry.Registry
		breakers   *breaker.Manager
		httpClient *http.Client
		timeout    time.Duration
	}
)

const (
	// TraceHeader carries the correlation id on every outbound call
	TraceHeader = "X-Trace-ID"

	// RequestIDHeader is the legacy correlation header some engines expect
	RequestIDHeader = "X-Request-ID"

	userAgent = "Orchestrator/1.0"
)

var _ Caller = (*HTTPCaller)(nil)

// New creates an HTTPCaller with the given default per-call timeout
func New(
	reg *registry.Registry, br *breaker.Manager, timeout time.Duration,
) *HTTPCaller {
	return &HTTPCaller{
		registry:   reg,
		breakers:   br,
		httpClient: &http.Client{},
		timeout:    timeout,
	}
}

// Call invokes an engine endpoint. Breaker rejections return a circuit_open
// outcome without any network attempt and are not recorded as new failures;
// every attempted call reports its outcome back to the breaker.
func (c *HTTPCaller) Call(
	ctx context.Context, req Request, cc api.Correlation,
) api.Outcome {
	url, err := c.registry.URL(req.Engine, req.Path)
	if err != nil {
		return api.Failure(req.Engine, api.OutcomeTransport, err.Error())
	}

	if !c.breakers.Allow(req.Engine) {
		slog.Warn("Circuit open, failing fast",
			log.Engine(req.Engine),
			log.TraceID(cc.TraceID))
		return api.Failure(req.Engine, api.OutcomeCircuitOpen,
			"circuit open for "+string(req.Engine))
	}

	out := c.attempt(ctx, req, cc, url)
	c.breakers.Record(req.Engine, out.OK())
	return out
}

func (c *HTTPCaller) attempt(
	ctx context.Context, req Request, cc api.Correlation, url string,
) api.Outcome {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	body, err := json.Marshal(req.Payload)
	if err != nil {
		return api.Failure(req.Engine, api.OutcomeTransport,
			"marshal request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(
		ctx, http.MethodPost, url, bytes.NewReader(body),
	)
	if err != nil {
		return api.Failure(req.Engine, api.OutcomeTransport, err.Error())
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", userAgent)
	httpReq.Header.Set(TraceHeader, cc.TraceID)
	httpReq.Header.Set(RequestIDHeader, cc.TraceID)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	dur := time.Since(start)

	if err != nil {
		out := classifyTransport(req.Engine, err)
		out.Elapsed = dur
		slog.Error("Engine call failed",
			log.Engine(req.Engine),
			log.TraceID(cc.TraceID),
			slog.Duration("duration", dur),
			log.Error(err))
		return out
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return api.Failure(req.Engine, api.OutcomeTransport,
			"read response: "+err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		slog.Error("Engine returned HTTP error",
			log.Engine(req.Engine),
			log.TraceID(cc.TraceID),
			slog.Int("status_code", resp.StatusCode))
		out := api.Failure(req.Engine, api.OutcomeTransport,
			"HTTP "+resp.Status)
		out.Status = resp.StatusCode
		out.Elapsed = dur
		return out
	}

	if !gjson.ValidBytes(respBody) {
		out := api.Failure(req.Engine, api.OutcomeApplication,
			"malformed response body")
		out.Elapsed = dur
		return out
	}

	if !gjson.GetBytes(respBody, "success").Exists() {
		// engines that do not wrap their payload return it bare
		out := api.Success(req.Engine, respBody)
		out.Elapsed = dur
		return out
	}

	var env api.Envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return api.Failure(req.Engine, api.OutcomeApplication,
			"malformed envelope: "+err.Error())
	}

	if !env.Success {
		reason := env.Message
		if reason == "" {
			reason = "engine reported failure"
		}
		slog.Warn("Engine reported failure",
			log.Engine(req.Engine),
			log.TraceID(cc.TraceID),
			log.ErrorString(reason))
		out := api.Failure(req.Engine, api.OutcomeApplication, reason)
		out.Elapsed = dur
		return out
	}

	data := env.Data
	if len(data) == 0 {
		data = respBody
	}

	out := api.Success(req.Engine, data)
	out.Elapsed = dur
	return out
}

func classifyTransport(engine api.EngineKey, err error) api.Outcome {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		out := api.Failure(engine, api.OutcomeTransport, "engine timed out")
		out.Status = http.StatusGatewayTimeout
		return out
	default:
		out := api.Failure(engine, api.OutcomeTransport,
			"engine not responding: "+err.Error())
		out.Status = http.StatusServiceUnavailable
		return out
	}
}
