package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/civicmesh/orchestrator/internal/client"
	"github.com/civicmesh/orchestrator/pkg/api"
	"github.com/civicmesh/orchestrator/pkg/log"
)

type (
	// Publisher receives audit events produced by completed flows
	Publisher interface {
		Publish(api.AuditEvent)
	}

	// Broadcaster receives flow lifecycle events for live subscribers
	Broadcaster interface {
		Broadcast(api.FlowEvent)
	}

	// Engine executes flow definitions. It owns no per-request state; a
	// single Engine serves all concurrent requests.
	Engine struct {
		caller client.Caller
		audit  Publisher
		hub    Broadcaster
		tracer trace.Tracer
		flows  map[api.FlowName]*Definition
	}

	// stepResult pairs a step with its classified outcome inside a group
	stepResult struct {
		outcome api.Outcome
		step    *Step
		ran     bool
	}
)

// NewEngine creates an Engine over the given definitions. Audit and hub may
// be nil in tests.
func NewEngine(
	c client.Caller, audit Publisher, hub Broadcaster, defs ...*Definition,
) *Engine {
	flows := make(map[api.FlowName]*Definition, len(defs))
	for _, d := range defs {
		flows[d.Name] = d
	}
	return &Engine{
		caller: c,
		audit:  audit,
		hub:    hub,
		tracer: otel.Tracer("orchestrator/flow"),
		flows:  flows,
	}
}

// Run executes one flow to completion. Groups run in declared order; a
// critical failure aborts after its group drains. Non-critical failures
// degrade the result without stopping it.
func (e *Engine) Run(
	ctx context.Context, name api.FlowName, cc api.Correlation, input any,
) api.FlowResult {
	def, ok := e.flows[name]
	if !ok {
		return api.FlowResult{
			Err: fmt.Sprintf("unknown flow: %s", name),
		}
	}

	ctx, span := e.tracer.Start(ctx, "flow."+string(name),
		trace.WithAttributes(attribute.String("trace_id", cc.TraceID)))
	defer span.End()

	start := time.Now()
	st := newState(cc, input)
	res := api.FlowResult{Success: true}

	e.broadcast(api.FlowEvent{
		Type:    api.EventFlowStarted,
		Flow:    name,
		TraceID: cc.TraceID,
	})
	slog.Info("Flow started",
		log.Flow(name),
		log.TraceID(cc.TraceID))

	for gi, g := range def.Groups {
		e.runGroup(ctx, name, g, st, &res)
		if res.AbortStep != "" {
			markNotRun(def.Groups[gi+1:], &res)
			break
		}
	}

	if res.Success {
		if def.Finish != nil {
			res.Data = def.Finish(st)
		}
		e.publishAudit(def, st, res)
	} else {
		span.SetStatus(codes.Error, res.Err)
	}

	e.broadcastDone(name, cc, res)
	slog.Info("Flow finished",
		log.Flow(name),
		log.TraceID(cc.TraceID),
		slog.Bool("success", res.Success),
		slog.Int("degraded", len(res.Degraded)),
		slog.Duration("duration", time.Since(start)))
	return res
}

// runGroup executes every step in a group before folding any result into
// the flow. Parallel siblings always drain, even when one of them is a
// critical failure, so the execution record is complete and deterministic.
func (e *Engine) runGroup(
	ctx context.Context, name api.FlowName, g Group, st *State,
	res *api.FlowResult,
) {
	steps := g.Steps
	if g.Branch != nil {
		steps = []Step{g.Branch.resolve(st)}
	}

	results := make([]stepResult, len(steps))
	if len(steps) == 1 {
		results[0] = e.runStep(ctx, name, &steps[0], st)
	} else {
		var wg sync.WaitGroup
		for i := range steps {
			wg.Go(func() {
				results[i] = e.runStep(ctx, name, &steps[i], st)
			})
		}
		wg.Wait()
	}

	// fold in declared order so degraded lists and records are stable
	for i := range results {
		e.fold(&results[i], st, res)
	}
}

func (e *Engine) runStep(
	ctx context.Context, name api.FlowName, s *Step, st *State,
) stepResult {
	payload := any(nil)
	if s.Build != nil {
		var run bool
		if payload, run = s.Build(st); !run {
			return stepResult{step: s}
		}
	}

	ctx, span := e.tracer.Start(ctx, "step."+s.Name,
		trace.WithAttributes(
			attribute.String("engine", string(s.Engine)),
			attribute.String("flow", string(name))))
	defer span.End()

	out := e.caller.Call(ctx, client.Request{
		Engine:  s.Engine,
		Path:    s.path(st),
		Payload: payload,
		Timeout: s.Timeout,
	}, st.Correlation)

	if out.OK() && s.Check != nil {
		if err := s.Check(gjson.ParseBytes(out.Data)); err != nil {
			out = api.Failure(s.Engine, api.OutcomeApplication, err.Error())
		}
	}

	if !out.OK() {
		span.SetStatus(codes.Error, out.Reason)
	}
	return stepResult{step: s, outcome: out, ran: true}
}

func (e *Engine) fold(r *stepResult, st *State, res *api.FlowResult) {
	s := r.step
	if !r.ran {
		res.Completed = append(res.Completed, api.StepRecord{
			Step:   s.Name,
			Engine: s.Engine,
			Status: api.StepSkipped,
		})
		return
	}

	out := &r.outcome
	rec := api.StepRecord{
		Step:     s.Name,
		Engine:   s.Engine,
		Category: out.Category,
		Elapsed:  float64(out.Elapsed.Milliseconds()),
	}

	if out.OK() {
		rec.Status = api.StepCompleted
		res.Completed = append(res.Completed, rec)
		st.collect(s.Name, gjson.ParseBytes(out.Data))
		if s.Collect != nil {
			s.Collect(st, st.Out(s.Name))
		}
		return
	}

	rec.Reason = out.Reason
	if out.Category == api.OutcomeCircuitOpen {
		rec.Status = api.StepRejected
	} else {
		rec.Status = api.StepFailed
	}
	res.Completed = append(res.Completed, rec)

	if s.Critical {
		// first critical failure wins; later siblings only degrade
		if res.AbortStep == "" {
			res.Success = false
			res.AbortStep = s.Name
			res.AbortCode = out.Category
			res.AbortStatus = out.Status
			res.Err = out.Reason
		}
		return
	}
	res.Degraded = appendEngine(res.Degraded, s.Engine)
}

func (b *Branch) resolve(st *State) Step {
	route := b.Select(st)
	if s, ok := b.Routes[route]; ok {
		return s
	}
	return b.Default
}

func markNotRun(groups []Group, res *api.FlowResult) {
	for _, g := range groups {
		if g.Branch != nil {
			// the routed step was never resolved; nothing stable to record
			continue
		}
		for _, s := range g.Steps {
			res.Completed = append(res.Completed, api.StepRecord{
				Step:   s.Name,
				Engine: s.Engine,
				Status: api.StepNotRun,
			})
		}
	}
}

func appendEngine(keys []api.EngineKey, k api.EngineKey) []api.EngineKey {
	for _, have := range keys {
		if have == k {
			return keys
		}
	}
	return append(keys, k)
}

func (e *Engine) publishAudit(
	def *Definition, st *State, res api.FlowResult,
) {
	if e.audit == nil || def.Audit == nil {
		return
	}
	typ, userID, payload := def.Audit(st, res)
	if typ == "" {
		return
	}
	e.audit.Publish(api.NewAuditEvent(typ, st.Correlation, userID, payload))
}

func (e *Engine) broadcast(ev api.FlowEvent) {
	if e.hub == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.hub.Broadcast(ev)
}

func (e *Engine) broadcastDone(
	name api.FlowName, cc api.Correlation, res api.FlowResult,
) {
	ev := api.FlowEvent{
		Type:     api.EventFlowCompleted,
		Flow:     name,
		TraceID:  cc.TraceID,
		Degraded: res.Degraded,
	}
	if !res.Success {
		ev.Type = api.EventFlowFailed
		ev.Error = res.Err
	}
	e.broadcast(ev)
}
