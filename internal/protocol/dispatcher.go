package protocol

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/org/credbroker/internal/broker"
)

// Registry maps client identifiers to their handler instance. A handler
// is created on first sight of a client and kept for the process
// lifetime.
type Registry struct {
	mu       sync.Mutex
	broker   *broker.Broker
	handlers map[string]*clientHandler
}

// NewRegistry creates an empty Registry over the broker.
func NewRegistry(b *broker.Broker) *Registry {
	return &Registry{
		broker:   b,
		handlers: map[string]*clientHandler{},
	}
}

func (r *Registry) handlerFor(clientID string) *clientHandler {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handlers[clientID]
	if !ok {
		h = newClientHandler(clientID, r.broker)
		r.handlers[clientID] = h
		log.Debug().Str("client", clientID).Msg("new protocol client")
	}
	return h
}

// Clients returns the identifiers of all clients seen so far.
func (r *Registry) Clients() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.handlers))
	for id := range r.handlers {
		out = append(out, id)
	}
	return out
}

// Dispatcher routes raw inbound messages to per-client handlers.
type Dispatcher struct {
	registry *Registry
}

// NewDispatcher creates a Dispatcher over the registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch decodes one raw message and forwards it to its client's
// handler. Messages without a client identifier are dropped silently:
// the return is nil with no error.
func (d *Dispatcher) Dispatch(ctx context.Context, raw []byte) []byte {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Debug().Err(err).Msg("dropping unparseable message")
		return nil
	}
	if env.ClientID == "" {
		log.Debug().Str("action", env.Action).Msg("dropping message without client ID")
		return nil
	}
	return d.registry.handlerFor(env.ClientID).handle(ctx, &env)
}

// LockStateMessage is the unsolicited broadcast sent on lock-state
// transitions of the active database.
func LockStateMessage(locked bool) []byte {
	action := ActionDatabaseUnlocked
	if locked {
		action = ActionDatabaseLocked
	}
	return marshal(map[string]any{"action": action})
}
