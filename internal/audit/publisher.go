// Package audit delivers flow audit events to the raw data store and the
// analytics warehouse. Delivery is fire-and-forget: events ride a bounded
// background queue and delivery failures never surface to the request path.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/topic"

	"github.com/civicmesh/orchestrator/internal/client"
	"github.com/civicmesh/orchestrator/internal/registry"
	"github.com/civicmesh/orchestrator/pkg/api"
	"github.com/civicmesh/orchestrator/pkg/log"
)

// Publisher queues audit events and delivers them sequentially in the
// background. Beyond capacity, new events are dropped and counted rather
// than blocking the producing request.
type Publisher struct {
	caller      client.Caller
	prod        topic.Producer[api.AuditEvent]
	cons        topic.Consumer[api.AuditEvent]
	stop        chan struct{}
	capacity    int64
	depth       atomic.Int64
	dropped     atomic.Int64
	wg          sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
	cleanupOnce sync.Once
}

const (
	rawDataPath   = "/raw-data/events"
	analyticsPath = "/analytics/event"

	deliverTimeout = 10 * time.Second
)

// NewPublisher creates a Publisher with the given queue capacity
func NewPublisher(c client.Caller, capacity int) *Publisher {
	queue := caravan.NewTopic[api.AuditEvent]()
	return &Publisher{
		caller:   c,
		prod:     queue.NewProducer(),
		cons:     queue.NewConsumer(),
		stop:     make(chan struct{}),
		capacity: int64(capacity),
	}
}

// Start begins delivering queued events
func (p *Publisher) Start() {
	p.startOnce.Do(func() {
		p.wg.Go(func() {
			for {
				select {
				case <-p.stop:
					return
				case ev, ok := <-p.cons.Receive():
					if !ok {
						return
					}
					p.depth.Add(-1)
					p.deliver(ev)
				}
			}
		})
	})
}

// Publish enqueues an audit event. When the queue is at capacity the event
// is dropped so the request path never blocks on auditing.
func (p *Publisher) Publish(ev api.AuditEvent) {
	if p.depth.Load() >= p.capacity {
		p.dropped.Add(1)
		slog.Warn("Audit queue full, dropping event",
			slog.String("event_type", string(ev.EventType)),
			log.TraceID(ev.TraceID))
		return
	}
	p.depth.Add(1)
	p.prod.Send() <- ev
}

// Flush delivers remaining queued events and stops the publisher
func (p *Publisher) Flush() {
	p.stopOnce.Do(func() {
		close(p.stop)
	})
	p.wg.Wait()
	p.cleanupOnce.Do(p.drain)
}

func (p *Publisher) drain() {
	for {
		select {
		case ev, ok := <-p.cons.Receive():
			if !ok {
				p.close()
				return
			}
			p.depth.Add(-1)
			p.deliver(ev)
		default:
			p.close()
			return
		}
	}
}

// Dropped reports how many events were discarded at capacity
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) close() {
	p.prod.Close()
	p.cons.Close()
}

// deliver fans one event out to both audit collaborators. It runs on its
// own context so request cancellation never loses audit records.
func (p *Publisher) deliver(ev api.AuditEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Audit delivery panic",
				slog.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	cc := api.Correlation{TraceID: ev.TraceID}

	p.post(ctx, cc, registry.RawDataStore, rawDataPath, map[string]any{
		"event_type":    ev.EventType,
		"source_engine": ev.Source,
		"user_id":       ev.UserID,
		"payload":       ev.Payload,
	})
	p.post(ctx, cc, registry.AnalyticsWarehouse, analyticsPath, map[string]any{
		"event_type": ev.EventType,
		"user_id":    ev.UserID,
		"properties": ev.Payload,
	})
}

func (p *Publisher) post(
	ctx context.Context, cc api.Correlation, engine api.EngineKey,
	path string, payload map[string]any,
) {
	out := p.caller.Call(ctx, client.Request{
		Engine:  engine,
		Path:    path,
		Payload: payload,
	}, cc)
	if !out.OK() {
		slog.Warn("Audit delivery failed",
			log.Engine(engine),
			log.TraceID(cc.TraceID),
			log.ErrorString(out.Reason))
	}
}
