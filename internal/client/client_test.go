package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"

	"github.com/civicmesh/orchestrator/internal/breaker"
	"github.com/civicmesh/orchestrator/internal/client"
	"github.com/civicmesh/orchestrator/internal/registry"
	"github.com/civicmesh/orchestrator/pkg/api"
)

const engine = api.EngineKey("eligibility_rules")

func newCaller(url string) (*client.HTTPCaller, *breaker.Manager) {
	reg := registry.NewStatic(map[api.EngineKey]string{engine: url})
	br := breaker.New(5, 30*time.Second)
	return client.New(reg, br, 2*time.Second), br
}

func envelopeHandler(data any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    data,
		})
	}
}

func TestCallUnwrapsEnvelope(t *testing.T) {
	srv := httptest.NewServer(envelopeHandler(map[string]any{"eligible": 4}))
	defer srv.Close()

	caller, _ := newCaller(srv.URL)
	out := caller.Call(context.Background(), client.Request{
		Engine: engine,
		Path:   "/eligibility/check",
	}, api.Correlation{TraceID: "t-1"})

	assert.True(t, out.OK())
	assert.Equal(t, int64(4), gjson.GetBytes(out.Data, "eligible").Int())
}

func TestCallAttachesCorrelationHeaders(t *testing.T) {
	var gotTrace, gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			gotTrace = r.Header.Get(client.TraceHeader)
			gotRequestID = r.Header.Get(client.RequestIDHeader)
			envelopeHandler(nil)(w, r)
		}))
	defer srv.Close()

	caller, _ := newCaller(srv.URL)
	caller.Call(context.Background(), client.Request{
		Engine: engine,
		Path:   "/eligibility/check",
	}, api.Correlation{TraceID: "trace-42"})

	assert.Equal(t, "trace-42", gotTrace)
	assert.Equal(t, "trace-42", gotRequestID)
}

func TestCallClassifiesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
	defer srv.Close()

	caller, _ := newCaller(srv.URL)
	out := caller.Call(context.Background(), client.Request{
		Engine: engine,
		Path:   "/eligibility/check",
	}, api.Correlation{TraceID: "t-1"})

	assert.Equal(t, api.OutcomeTransport, out.Category)
	assert.Equal(t, http.StatusInternalServerError, out.Status)
}

func TestCallClassifiesApplicationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": false,
				"message": "no such scheme",
			})
		}))
	defer srv.Close()

	caller, _ := newCaller(srv.URL)
	out := caller.Call(context.Background(), client.Request{
		Engine: engine,
		Path:   "/eligibility/check",
	}, api.Correlation{TraceID: "t-1"})

	assert.Equal(t, api.OutcomeApplication, out.Category)
	assert.Equal(t, "no such scheme", out.Reason)
}

func TestCallClassifiesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
		}))
	defer srv.Close()

	caller, _ := newCaller(srv.URL)
	out := caller.Call(context.Background(), client.Request{
		Engine:  engine,
		Path:    "/eligibility/check",
		Timeout: 20 * time.Millisecond,
	}, api.Correlation{TraceID: "t-1"})

	assert.Equal(t, api.OutcomeTransport, out.Category)
	assert.Equal(t, http.StatusGatewayTimeout, out.Status)
}

func TestCallClassifiesConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(envelopeHandler(nil))
	srv.Close() // nothing listening anymore

	caller, _ := newCaller(srv.URL)
	out := caller.Call(context.Background(), client.Request{
		Engine: engine,
		Path:   "/eligibility/check",
	}, api.Correlation{TraceID: "t-1"})

	assert.Equal(t, api.OutcomeTransport, out.Category)
	assert.Equal(t, http.StatusServiceUnavailable, out.Status)
}

func TestOpenCircuitMakesNoNetworkCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			http.Error(w, "down", http.StatusServiceUnavailable)
		}))
	defer srv.Close()

	caller, _ := newCaller(srv.URL)
	cc := api.Correlation{TraceID: "t-1"}
	req := client.Request{Engine: engine, Path: "/eligibility/check"}

	for range 5 {
		caller.Call(context.Background(), req, cc)
	}
	assert.Equal(t, int32(5), calls.Load())

	out := caller.Call(context.Background(), req, cc)
	assert.Equal(t, api.OutcomeCircuitOpen, out.Category)
	assert.False(t, out.Attempted())
	assert.Equal(t, int32(5), calls.Load())
}

func TestRejectionDoesNotCountAsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "down", http.StatusServiceUnavailable)
		}))
	defer srv.Close()

	caller, br := newCaller(srv.URL)
	cc := api.Correlation{TraceID: "t-1"}
	req := client.Request{Engine: engine, Path: "/eligibility/check"}

	for range 8 {
		caller.Call(context.Background(), req, cc)
	}

	// only the five attempted calls count; rejections add nothing
	assert.Equal(t, 5, br.Status()[engine].Failures)
}

func TestUnknownEngine(t *testing.T) {
	caller, _ := newCaller("http://localhost:0")
	out := caller.Call(context.Background(), client.Request{
		Engine: api.EngineKey("mystery"),
		Path:   "/x",
	}, api.Correlation{TraceID: "t-1"})

	assert.Equal(t, api.OutcomeTransport, out.Category)
	assert.Contains(t, out.Reason, "unknown engine key")
}

func TestBareBodyWithoutEnvelopeData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"uptime":  12.5,
			})
		}))
	defer srv.Close()

	caller, _ := newCaller(srv.URL)
	out := caller.Call(context.Background(), client.Request{
		Engine: engine,
		Path:   "/health",
	}, api.Correlation{TraceID: "t-1"})

	assert.True(t, out.OK())
	assert.Equal(t, 12.5, gjson.GetBytes(out.Data, "uptime").Float())
}

func TestBarePayloadWithoutEnvelopeIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"answer": "crop insurance is covered",
			})
		}))
	defer srv.Close()

	caller, br := newCaller(srv.URL)
	out := caller.Call(context.Background(), client.Request{
		Engine: engine,
		Path:   "/ai/chat",
	}, api.Correlation{TraceID: "t-1"})

	assert.True(t, out.OK())
	assert.Equal(t, "crop insurance is covered",
		gjson.GetBytes(out.Data, "answer").String())
	assert.Equal(t, 0, br.Status()[engine].Failures)
}

func TestBarePayloadRepliesNeverOpenCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
		}))
	defer srv.Close()

	caller, br := newCaller(srv.URL)
	cc := api.Correlation{TraceID: "t-1"}
	req := client.Request{Engine: engine, Path: "/ai/chat"}

	for range 6 {
		out := caller.Call(context.Background(), req, cc)
		assert.True(t, out.OK())
	}
	assert.Equal(t, api.CircuitClosed, br.Status()[engine].State)
}

func TestNonJSONBodyIsApplicationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte("<html>gateway error</html>"))
		}))
	defer srv.Close()

	caller, _ := newCaller(srv.URL)
	out := caller.Call(context.Background(), client.Request{
		Engine: engine,
		Path:   "/eligibility/check",
	}, api.Correlation{TraceID: "t-1"})

	assert.Equal(t, api.OutcomeApplication, out.Category)
	assert.Contains(t, out.Reason, "malformed")
}
