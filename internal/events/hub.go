// Package events fans flow lifecycle events out to live subscribers. Each
// websocket client holds its own consumer, so a slow client never blocks
// the flows producing events.
package events

import (
	"sync"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/topic"

	"github.com/civicmesh/orchestrator/pkg/api"
)

// Hub is the in-process flow event broadcast topic
type Hub struct {
	topic     topic.Topic[api.FlowEvent]
	prod      topic.Producer[api.FlowEvent]
	closeOnce sync.Once
}

// NewHub creates an empty Hub
func NewHub() *Hub {
	t := caravan.NewTopic[api.FlowEvent]()
	return &Hub{
		topic: t,
		prod:  t.NewProducer(),
	}
}

// Broadcast publishes an event to every current subscriber
func (h *Hub) Broadcast(ev api.FlowEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	h.prod.Send() <- ev
}

// Subscribe returns a consumer receiving all events broadcast after this
// call. The caller owns the consumer and must Close it.
func (h *Hub) Subscribe() topic.Consumer[api.FlowEvent] {
	return h.topic.NewConsumer()
}

// Close stops the hub's producer; subscriber channels drain and close
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		h.prod.Close()
	})
}
