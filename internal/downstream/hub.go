// Package downstream implements §4.6's downstream server: the per-renderer
// websocket lifecycle, inbound frame parsing/dispatch, and the broadcast hub
// used by upstream supervisors to fan ticker/execution/balance updates out
// to every connected renderer.
//
// Grounded on internal/api/websocket.go's WSHub register/unregister/broadcast
// channel trio, generalized from a single global broadcast-only hub into one
// that also owns each renderer's dedicated send channel for channel-scoped
// frames coming out of that renderer's own ChannelManager.
package downstream

import (
	"encoding/json"
	"sync"

	"github.com/koshedutech/market-broker/internal/downstream/protocol"
	"github.com/koshedutech/market-broker/internal/events"
	"github.com/koshedutech/market-broker/internal/logging"
)

// Renderer is one connected renderer's outbound mailbox.
type Renderer struct {
	id   string
	send chan protocol.Outbound
	hub  *Hub
}

// Send implements channel.Sender; it queues msg for the renderer's write pump.
// A full mailbox drops the frame rather than blocking the caller — matches
// the teacher's "channel full, drop" broadcast policy.
func (r *Renderer) Send(msg protocol.Outbound) {
	select {
	case r.send <- msg:
	default:
		logging.WithComponent("downstream").Warn("renderer mailbox full, dropping frame", "renderer", r.id, "type", msg.Type)
	}
}

// Hub tracks every connected renderer and broadcasts process-wide frames
// (ticker_update, execution_update, balance_update) to all of them.
type Hub struct {
	mu        sync.RWMutex
	renderers map[string]*Renderer
	logger    *logging.Logger
	events    *events.Bus
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{renderers: make(map[string]*Renderer), logger: logging.WithComponent("downstream.hub")}
}

// SetEvents wires an optional lifecycle event bus; nil (the default) disables
// publishing. Call before accepting connections.
func (h *Hub) SetEvents(bus *events.Bus) {
	h.events = bus
}

// Register creates and tracks a new renderer mailbox.
func (h *Hub) Register(id string) *Renderer {
	r := &Renderer{id: id, send: make(chan protocol.Outbound, 256), hub: h}
	h.mu.Lock()
	h.renderers[id] = r
	h.mu.Unlock()
	h.logger.Info("renderer joined", "renderer", id, "count", h.Count())
	if h.events != nil {
		h.events.Publish(events.Event{Type: events.RendererJoined, Data: map[string]interface{}{"renderer": id}})
	}
	return r
}

// Unregister drops id and closes its mailbox.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	r, ok := h.renderers[id]
	if ok {
		delete(h.renderers, id)
	}
	h.mu.Unlock()
	if ok {
		close(r.send)
	}
	h.logger.Info("renderer left", "renderer", id, "count", h.Count())
	if h.events != nil {
		h.events.Publish(events.Event{Type: events.RendererLeft, Data: map[string]interface{}{"renderer": id}})
	}
}

// Count returns the number of connected renderers (§4.5's reconnect gate and
// §4.7's init-on-first/teardown-on-last triggers read this).
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.renderers)
}

// Broadcast fans msg out to every connected renderer's mailbox.
func (h *Hub) Broadcast(msg protocol.Outbound) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.renderers {
		r.Send(msg)
	}
}

// encode marshals an Outbound frame for the wire; shared by every write pump.
func encode(msg protocol.Outbound) ([]byte, error) {
	return json.Marshal(msg)
}
