// Package breaker implements per-engine circuit breaking. Each engine gets
// an independent three-state machine (closed, open, half-open); no engine's
// state affects any other engine.
package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/civicmesh/orchestrator/pkg/api"
	"github.com/civicmesh/orchestrator/pkg/log"
)

type (
	// Manager owns the circuit state for every engine. All transitions run
	// under a single lock so a check-then-transition is indivisible; two
	// concurrent callers can never both claim the half-open probe.
	Manager struct {
		states    map[api.EngineKey]*state
		clock     func() time.Time
		threshold int
		recovery  time.Duration
		mu        sync.Mutex
	}

	state struct {
		openedAt      time.Time
		status        api.CircuitStatus
		failures      int
		probeInFlight bool
	}
)

// New creates a Manager that opens a circuit after threshold consecutive
// failures and allows a recovery probe once the window has elapsed
func New(threshold int, recovery time.Duration) *Manager {
	return NewWithClock(threshold, recovery, time.Now)
}

// NewWithClock creates a Manager with an injected time source
func NewWithClock(
	threshold int, recovery time.Duration, clock func() time.Time,
) *Manager {
	return &Manager{
		states:    map[api.EngineKey]*state{},
		threshold: threshold,
		recovery:  recovery,
		clock:     clock,
	}
}

// Allow reports whether a call to the engine may proceed. An open circuit
// whose recovery window has elapsed transitions to half-open as a side
// effect, admitting the caller as the single probe; every other caller is
// rejected until the probe resolves.
func (m *Manager) Allow(key api.EngineKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.get(key)
	switch s.status {
	case api.CircuitClosed:
		return true

	case api.CircuitOpen:
		if m.clock().Sub(s.openedAt) < m.recovery {
			return false
		}
		s.status = api.CircuitHalfOpen
		s.probeInFlight = true
		slog.Info("Circuit half-open, admitting probe", log.Engine(key))
		return true

	case api.CircuitHalfOpen:
		if s.probeInFlight {
			return false
		}
		s.probeInFlight = true
		return true
	}
	return false
}

// Record reports the outcome of an attempted call. Circuit rejections are
// never reported here; no call was made, so they are not new failures.
func (m *Manager) Record(key api.EngineKey, success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.get(key)
	if success {
		if s.status != api.CircuitClosed {
			slog.Info("Circuit closed", log.Engine(key))
		}
		s.status = api.CircuitClosed
		s.failures = 0
		s.probeInFlight = false
		return
	}

	switch s.status {
	case api.CircuitClosed:
		s.failures++
		if s.failures >= m.threshold {
			s.status = api.CircuitOpen
			s.openedAt = m.clock()
			slog.Warn("Circuit open",
				log.Engine(key),
				slog.Int("failures", s.failures))
		}

	case api.CircuitHalfOpen:
		// failed probe: reopen and restart the recovery window
		s.status = api.CircuitOpen
		s.openedAt = m.clock()
		s.probeInFlight = false
		slog.Warn("Circuit reopened after failed probe", log.Engine(key))

	case api.CircuitOpen:
		// late failure from a call admitted before the trip
		s.failures++
		s.openedAt = m.clock()
	}
}

// Status returns a snapshot of every tracked engine's circuit state
func (m *Manager) Status() map[api.EngineKey]api.BreakerState {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := make(map[api.EngineKey]api.BreakerState, len(m.states))
	for key, s := range m.states {
		bs := api.BreakerState{
			State:         s.status,
			Failures:      s.failures,
			ProbeInFlight: s.probeInFlight,
		}
		if !s.openedAt.IsZero() {
			opened := s.openedAt
			bs.OpenedAt = &opened
		}
		res[key] = bs
	}
	return res
}

func (m *Manager) get(key api.EngineKey) *state {
	s, ok := m.states[key]
	if !ok {
		s = &state{status: api.CircuitClosed}
		m.states[key] = s
	}
	return s
}
