package server_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/civicmesh/orchestrator/internal/breaker"
	"github.com/civicmesh/orchestrator/internal/client"
	"github.com/civicmesh/orchestrator/internal/config"
	"github.com/civicmesh/orchestrator/internal/events"
	"github.com/civicmesh/orchestrator/internal/flow"
	"github.com/civicmesh/orchestrator/internal/health"
	"github.com/civicmesh/orchestrator/internal/registry"
	"github.com/civicmesh/orchestrator/internal/server"
	"github.com/civicmesh/orchestrator/pkg/api"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// scriptedCaller returns canned outcomes per engine endpoint
type scriptedCaller struct {
	mu       sync.Mutex
	handlers map[string]api.Outcome
}

func newScriptedCaller() *scriptedCaller {
	return &scriptedCaller{handlers: map[string]api.Outcome{}}
}

func (s *scriptedCaller) Call(
	_ context.Context, req client.Request, _ api.Correlation,
) api.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if out, ok := s.handlers[string(req.Engine)+req.Path]; ok {
		return out
	}
	return api.Success(req.Engine, []byte(`{}`))
}

func (s *scriptedCaller) respond(key api.EngineKey, path, body string) {
	s.handlers[string(key)+path] = api.Success(key, []byte(body))
}

func (s *scriptedCaller) set(key api.EngineKey, path string, out api.Outcome) {
	s.handlers[string(key)+path] = out
}

type fixture struct {
	router   *gin.Engine
	caller   *scriptedCaller
	breakers *breaker.Manager
	cfg      *config.Config
}

func newFixture(t *testing.T, limiter *server.Limiter) *fixture {
	t.Helper()
	cfg := config.NewDefaultConfig()
	caller := newScriptedCaller()
	br := breaker.New(cfg.BreakerThreshold, cfg.BreakerRecovery)
	reg := registry.New()
	hub := events.NewHub()
	flows := flow.NewEngine(caller, nil, hub, flow.Catalog()...)
	prober := health.NewProber(reg, cfg.HealthTimeout)
	srv := server.NewServer(cfg, flows, br, prober, reg, hub, limiter)
	return &fixture{
		router:   srv.SetupRoutes(),
		caller:   caller,
		breakers: br,
		cfg:      cfg,
	}
}

func (f *fixture) request(
	t *testing.T, method, path, body string, authed bool,
) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+signToken(t, f.cfg))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func signToken(t *testing.T, cfg *config.Config) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user-1",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	signed, err := token.SignedString([]byte(cfg.JWTSecret))
	require.NoError(t, err)
	return signed
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	w := f.request(t, http.MethodGet, "/health", "", false)

	assert.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "orchestrator", body.Get("service").String())
	assert.Equal(t, "healthy", body.Get("status").String())
}

func TestRootListsFlows(t *testing.T) {
	f := newFixture(t, nil)
	w := f.request(t, http.MethodGet, "/", "", false)

	assert.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.True(t, body.Get("success").Bool())
	assert.Len(t, body.Get("data.flows").Array(), 6)
	assert.Equal(t, int64(20), body.Get("data.engines").Int())
}

func TestTraceIDIsEchoed(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Trace-ID", "trace-echo")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, "trace-echo", w.Header().Get("X-Trace-ID"))
	assert.Equal(t, "trace-echo", w.Header().Get("X-Request-ID"))
}

func TestRequestIDFallbackBecomesTraceID(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "legacy-1")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, "legacy-1", w.Header().Get("X-Trace-ID"))
}

func TestTraceIDGeneratedWhenAbsent(t *testing.T) {
	f := newFixture(t, nil)
	w := f.request(t, http.MethodGet, "/health", "", false)
	assert.NotEmpty(t, w.Header().Get("X-Trace-ID"))
}

func TestQueryRequiresAuth(t *testing.T) {
	f := newFixture(t, nil)
	w := f.request(t, http.MethodPost, "/api/v1/query",
		`{"message":"hi","user_id":"u-1"}`, false)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "AUTH_REQUIRED", body.Get("errors.0.code").String())
}

func TestInvalidTokenRejected(t *testing.T) {
	f := newFixture(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/query",
		strings.NewReader(`{"message":"hi","user_id":"u-1"}`))
	req.Header.Set("Authorization", "Bearer not-a-token")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOnboardDoesNotRequireAuth(t *testing.T) {
	f := newFixture(t, nil)
	f.caller.respond(registry.LoginRegister, "/auth/register",
		`{"user_id":"u-7","access_token":"at","refresh_token":"rt"}`)

	w := f.request(t, http.MethodPost, "/api/v1/onboard",
		`{"phone":"9876543210","password":"pw","name":"Asha"}`, false)

	assert.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.True(t, body.Get("success").Bool())
	assert.Equal(t, "u-7", body.Get("data.user_id").String())
}

func TestQueryHappyPath(t *testing.T) {
	f := newFixture(t, nil)
	f.caller.respond(registry.NeuralNetwork, "/ai/intent",
		`{"intent":"scheme_query","confidence":0.9}`)
	f.caller.respond(registry.VectorDatabase, "/vectors/search",
		`{"results":[{"vector_id":"v1","score":0.8,"content":"text"}]}`)
	f.caller.respond(registry.NeuralNetwork, "/ai/rag",
		`{"answer":"Here is what I found."}`)

	w := f.request(t, http.MethodPost, "/api/v1/query",
		`{"message":"crop insurance?","user_id":"u-1"}`, true)

	assert.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "Here is what I found.",
		body.Get("data.response").String())
	assert.NotEmpty(t, body.Get("data.steps").Array())
}

func TestMissingRequiredFieldIsBadRequest(t *testing.T) {
	f := newFixture(t, nil)
	w := f.request(t, http.MethodPost, "/api/v1/onboard", `{}`, false)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "BAD_REQUEST", body.Get("errors.0.code").String())
}

func TestCriticalEngineDownMapsTo503(t *testing.T) {
	f := newFixture(t, nil)
	out := api.Failure(registry.EligibilityRules, api.OutcomeTransport,
		"engine not responding")
	out.Status = http.StatusServiceUnavailable
	f.caller.set(registry.EligibilityRules, "/eligibility/check", out)

	w := f.request(t, http.MethodPost, "/api/v1/check-eligibility",
		`{"user_id":"u-1","profile":{"state":"UP"}}`, true)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "ENGINE_UNAVAILABLE", body.Get("errors.0.code").String())
	assert.Equal(t, "eligibility", body.Get("data.abort_step").String())
}

func TestCriticalTimeoutMapsTo504(t *testing.T) {
	f := newFixture(t, nil)
	out := api.Failure(registry.Simulation, api.OutcomeTransport,
		"engine timed out")
	out.Status = http.StatusGatewayTimeout
	f.caller.set(registry.Simulation, "/simulate/what-if", out)

	w := f.request(t, http.MethodPost, "/api/v1/simulate",
		`{"user_id":"u-1","current_profile":{},"changes":{}}`, true)

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "ENGINE_TIMEOUT", body.Get("errors.0.code").String())
}

func TestCriticalEngineClientErrorPassesThrough(t *testing.T) {
	f := newFixture(t, nil)
	out := api.Failure(registry.LoginRegister, api.OutcomeTransport,
		"HTTP 400 Bad Request")
	out.Status = http.StatusBadRequest
	f.caller.set(registry.LoginRegister, "/auth/register", out)

	w := f.request(t, http.MethodPost, "/api/v1/onboard",
		`{"phone":"9876543210","password":"pw","name":"Asha"}`, false)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "BAD_REQUEST", body.Get("errors.0.code").String())
	assert.Equal(t, "register", body.Get("data.abort_step").String())
}

func TestCircuitOpenMapsTo503(t *testing.T) {
	f := newFixture(t, nil)
	f.caller.set(registry.EligibilityRules, "/eligibility/check",
		api.Failure(registry.EligibilityRules, api.OutcomeCircuitOpen,
			"circuit open for eligibility_rules"))

	w := f.request(t, http.MethodPost, "/api/v1/check-eligibility",
		`{"user_id":"u-1","profile":{}}`, true)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "CIRCUIT_OPEN", body.Get("errors.0.code").String())
}

func TestBreakerStatusEndpoint(t *testing.T) {
	f := newFixture(t, nil)
	f.breakers.Record(registry.Identity, false)
	f.breakers.Record(registry.Identity, false)

	w := f.request(t, http.MethodGet, "/api/v1/circuit-breaker/status",
		"", true)

	assert.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.Equal(t, "closed", body.Get("data.identity.state").String())
	assert.Equal(t, int64(2), body.Get("data.identity.failures").Int())
}

func TestBreakerStatusRequiresAuth(t *testing.T) {
	f := newFixture(t, nil)
	w := f.request(t, http.MethodGet, "/api/v1/circuit-breaker/status",
		"", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func newRedisLimiter(t *testing.T, perMinute, burst int) *server.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return server.NewLimiter(rdb, perMinute, burst)
}

func TestBurstLimitReturns429(t *testing.T) {
	f := newFixture(t, newRedisLimiter(t, 1000, 2))
	f.caller.respond(registry.LoginRegister, "/auth/register",
		`{"user_id":"u-1"}`)
	body := `{"phone":"9876543210","password":"pw","name":"Asha"}`

	for range 2 {
		w := f.request(t, http.MethodPost, "/api/v1/onboard", body, false)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := f.request(t, http.MethodPost, "/api/v1/onboard", body, false)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	parsed := gjson.Parse(w.Body.String())
	assert.Equal(t, "BURST_LIMIT", parsed.Get("errors.0.code").String())
}

func TestPerMinuteLimitReturns429(t *testing.T) {
	f := newFixture(t, newRedisLimiter(t, 3, 1000))
	f.caller.respond(registry.LoginRegister, "/auth/register",
		`{"user_id":"u-1"}`)
	body := `{"phone":"9876543210","password":"pw","name":"Asha"}`

	for range 3 {
		w := f.request(t, http.MethodPost, "/api/v1/onboard", body, false)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := f.request(t, http.MethodPost, "/api/v1/onboard", body, false)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	parsed := gjson.Parse(w.Body.String())
	assert.Equal(t, "RATE_LIMIT", parsed.Get("errors.0.code").String())
}

func TestRateLimitSkipsHealth(t *testing.T) {
	// health and root are outside the limited group
	f := newFixture(t, newRedisLimiter(t, 1, 1))
	for range 5 {
		w := f.request(t, http.MethodGet, "/health", "", false)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestDegradedResponseCarriesList(t *testing.T) {
	f := newFixture(t, nil)
	f.caller.respond(registry.LoginRegister, "/auth/register",
		`{"user_id":"u-7","access_token":"at"}`)
	f.caller.set(registry.Identity, "/identity/create",
		api.Failure(registry.Identity, api.OutcomeTransport,
			"engine not responding"))

	w := f.request(t, http.MethodPost, "/api/v1/onboard",
		`{"phone":"9876543210","password":"pw","name":"Asha"}`, false)

	assert.Equal(t, http.StatusOK, w.Code)
	body := gjson.Parse(w.Body.String())
	assert.True(t, body.Get("success").Bool())
	assert.Equal(t, "identity", body.Get("data.degraded.0").String())
	assert.Contains(t, body.Get("message").String(), "degraded")
}
