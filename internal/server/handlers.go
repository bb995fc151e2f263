package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	orchestrator "github.com/civicmesh/orchestrator"
	"github.com/civicmesh/orchestrator/internal/flow"
	"github.com/civicmesh/orchestrator/pkg/api"
)

// bodyPtr constrains flow request types to their pointer form so runFlow
// can bind and normalize in one place
type bodyPtr[T any] interface {
	*T
	Normalize()
}

func (s *Server) handleRoot(c *gin.Context) {
	resp := api.OK(map[string]any{
		"version":     orchestrator.Version,
		"environment": s.cfg.Env,
		"engines":     s.registry.Len(),
		"flows": []api.FlowName{
			api.FlowQuery, api.FlowOnboard, api.FlowCheckEligibility,
			api.FlowIngestPolicy, api.FlowVoiceQuery, api.FlowSimulate,
		},
	})
	resp.Message = "CivicMesh Orchestrator"
	resp.TraceID = correlation(c).TraceID
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, api.HealthResponse{
		Service:       orchestrator.Name,
		Version:       orchestrator.Version,
		Status:        api.HealthHealthy,
		UptimeSeconds: time.Since(s.started).Seconds(),
	})
}

func (s *Server) handleQuery(c *gin.Context) {
	runFlow[flow.QueryRequest](s, c, api.FlowQuery)
}

func (s *Server) handleOnboard(c *gin.Context) {
	runFlow[flow.OnboardRequest](s, c, api.FlowOnboard)
}

func (s *Server) handleEligibility(c *gin.Context) {
	runFlow[flow.EligibilityRequest](s, c, api.FlowCheckEligibility)
}

func (s *Server) handleIngestPolicy(c *gin.Context) {
	runFlow[flow.IngestPolicyRequest](s, c, api.FlowIngestPolicy)
}

func (s *Server) handleVoiceQuery(c *gin.Context) {
	runFlow[flow.VoiceQueryRequest](s, c, api.FlowVoiceQuery)
}

func (s *Server) handleSimulate(c *gin.Context) {
	runFlow[flow.SimulateRequest](s, c, api.FlowSimulate)
}

func (s *Server) handleBreakerStatus(c *gin.Context) {
	resp := api.OK(s.breakers.Status())
	resp.TraceID = correlation(c).TraceID
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleEnginesHealth(c *gin.Context) {
	report := s.prober.ProbeAll(c.Request.Context())
	resp := api.OK(report)
	resp.TraceID = correlation(c).TraceID
	c.JSON(http.StatusOK, resp)
}

// runFlow binds the request body, executes the flow, and renders the
// unified response envelope
func runFlow[T any, PT bodyPtr[T]](
	s *Server, c *gin.Context, name api.FlowName,
) {
	var req T
	if err := c.ShouldBindJSON(&req); err != nil {
		cc := correlation(c)
		resp := api.Fail(api.ErrCodeBadRequest, err.Error())
		resp.TraceID = cc.TraceID
		c.JSON(http.StatusBadRequest, resp)
		return
	}
	body := PT(&req)
	body.Normalize()

	cc := correlation(c)
	res := s.flows.Run(c.Request.Context(), name, cc, body)
	if !res.Success {
		s.renderFailure(c, cc, res)
		return
	}

	data := res.Data
	if data == nil {
		data = map[string]any{}
	}
	if len(res.Degraded) > 0 {
		data["degraded"] = res.Degraded
	}
	data["steps"] = res.Completed

	resp := api.OK(data)
	resp.TraceID = cc.TraceID
	if len(res.Degraded) > 0 {
		resp.Message = "Completed with some services degraded"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) renderFailure(
	c *gin.Context, cc api.Correlation, res api.FlowResult,
) {
	status, code := abortStatus(res)
	resp := api.Fail(code, res.Err)
	resp.TraceID = cc.TraceID
	resp.Data = map[string]any{
		"abort_step": res.AbortStep,
		"steps":      res.Completed,
	}
	c.JSON(status, resp)
}

// abortStatus maps the aborting outcome to an HTTP status and error code
func abortStatus(res api.FlowResult) (int, api.ErrorCode) {
	switch res.AbortCode {
	case api.OutcomeCircuitOpen:
		return http.StatusServiceUnavailable, api.ErrCodeCircuitOpen
	case api.OutcomeTransport:
		switch {
		case res.AbortStatus == http.StatusGatewayTimeout:
			return http.StatusGatewayTimeout, api.ErrCodeEngineTimeout
		case res.AbortStatus >= 400 && res.AbortStatus < 500:
			// the engine rejected the request itself; propagate its
			// verdict instead of reporting an outage
			return res.AbortStatus, api.ErrCodeBadRequest
		default:
			return http.StatusServiceUnavailable, api.ErrCodeEngineUnavailable
		}
	case api.OutcomeApplication:
		return http.StatusBadGateway, api.ErrCodeEngineUnavailable
	default:
		return http.StatusInternalServerError, api.ErrCodeInternal
	}
}
