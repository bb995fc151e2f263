package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/civicmesh/orchestrator/internal/client"
	"github.com/civicmesh/orchestrator/pkg/api"
)

const correlationKey = "correlation"

var errUnexpectedSigning = errors.New("unexpected signing method")

// traceID attaches a correlation id to every request. Inbound X-Trace-ID
// wins, falling back to the legacy X-Request-ID header, then a fresh UUID.
// Both headers are echoed on the response.
func (s *Server) traceID() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := c.GetHeader(client.TraceHeader)
		if traceID == "" {
			traceID = c.GetHeader(client.RequestIDHeader)
		}
		if traceID == "" {
			traceID = uuid.NewString()
		}

		c.Set(correlationKey, api.Correlation{TraceID: traceID})
		c.Writer.Header().Set(client.TraceHeader, traceID)
		c.Writer.Header().Set(client.RequestIDHeader, traceID)
		c.Next()
	}
}

// correlation returns the request's correlation record
func correlation(c *gin.Context) api.Correlation {
	if v, ok := c.Get(correlationKey); ok {
		if cc, ok := v.(api.Correlation); ok {
			return cc
		}
	}
	return api.Correlation{TraceID: uuid.NewString()}
}

// requireAuth validates the bearer token and records the authenticated
// subject on the request's correlation
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		subject, err := s.authenticate(c.GetHeader("Authorization"))
		if err != nil {
			cc := correlation(c)
			resp := api.Fail(api.ErrCodeAuthRequired,
				"Authentication required")
			resp.TraceID = cc.TraceID
			c.AbortWithStatusJSON(http.StatusUnauthorized, resp)
			return
		}

		cc := correlation(c)
		cc.Principal = subject
		c.Set(correlationKey, cc)
		c.Next()
	}
}

func (s *Server) authenticate(header string) (string, error) {
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || raw == "" {
		return "", errors.New("missing bearer token")
	}

	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errUnexpectedSigning
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return "", errors.New("invalid token")
	}

	subject, err := token.Claims.GetSubject()
	if err != nil {
		return "", err
	}
	return subject, nil
}

// rateLimit enforces the per-minute and burst limits per client address.
// Preflight requests bypass the limiter.
func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		verdict := s.limiter.Allow(c.Request.Context(), c.ClientIP())
		if verdict.OK {
			c.Next()
			return
		}

		cc := correlation(c)
		resp := api.Fail(verdict.Code, verdict.Message)
		resp.TraceID = cc.TraceID
		c.Header("Retry-After", strconv.Itoa(verdict.RetryAfter))
		c.AbortWithStatusJSON(http.StatusTooManyRequests, resp)
	}
}
