// Package hub fans simulated ticks out to subscribers
package hub

import (
	"github.com/chucky-1/venue/internal/model"
	log "github.com/sirupsen/logrus"

	"context"
	"sync"
)

// sendBuffer bounds the queue of every subscriber. A subscriber that cannot
// keep up loses ticks instead of blocking the broadcast for everybody else
const sendBuffer = 16

// Simulator is the per-symbol price generation the hub turns on and off
type Simulator interface {
	Ensure(symbol string) float64
	Start(symbol string)
	Stop(symbol string)
}

// Hub keeps which subscriber wants which symbol and delivers ticks.
// The hub owns all maps, a subscriber owns only the receiving end of its channel
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]bool  // map[symbol]map[subscriberID]
	subs        map[string]map[string]bool  // map[subscriberID]map[symbol]
	channels    map[string]chan *model.Tick // map[subscriberID]
	sim         Simulator
}

// NewHub is constructor
func NewHub(sim Simulator) *Hub {
	return &Hub{
		subscribers: make(map[string]map[string]bool),
		subs:        make(map[string]map[string]bool),
		channels:    make(map[string]chan *model.Tick),
		sim:         sim,
	}
}

// Run consumes ticks from the simulator until the context is done
func (h *Hub) Run(ctx context.Context, chTick chan *model.Tick) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-chTick:
			h.publish(tick)
		}
	}
}

// Register creates the delivery channel of a subscriber. Registering twice
// returns the same channel
func (h *Hub) Register(id string) <-chan *model.Tick {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.register(id)
}

func (h *Hub) register(id string) chan *model.Tick {
	ch, ok := h.channels[id]
	if !ok {
		ch = make(chan *model.Tick, sendBuffer)
		h.channels[id] = ch
		h.subs[id] = make(map[string]bool)
	}
	return ch
}

// Subscribe registers interest of a subscriber in a symbol. Subscribing twice
// has the same effect as once. The first subscriber of a symbol starts its ticker
func (h *Hub) Subscribe(id, symbol string) <-chan *model.Tick {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.register(id)
	if h.subs[id][symbol] {
		return ch
	}
	h.subs[id][symbol] = true
	if h.subscribers[symbol] == nil {
		h.subscribers[symbol] = make(map[string]bool)
	}
	h.subscribers[symbol][id] = true
	if len(h.subscribers[symbol]) == 1 {
		h.sim.Start(symbol)
	}
	return ch
}

// Unsubscribe removes interest. Unsubscribing a subscription that does not
// exist is a no-op. The last unsubscriber of a symbol stops its ticker
func (h *Hub) Unsubscribe(id, symbol string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unsubscribe(id, symbol)
}

func (h *Hub) unsubscribe(id, symbol string) {
	if !h.subs[id][symbol] {
		return
	}
	delete(h.subs[id], symbol)
	delete(h.subscribers[symbol], id)
	if len(h.subscribers[symbol]) == 0 {
		delete(h.subscribers, symbol)
		h.sim.Stop(symbol)
	}
}

// Disconnect drops all subscriptions of a subscriber and closes its channel
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for symbol := range h.subs[id] {
		h.unsubscribe(id, symbol)
	}
	ch, ok := h.channels[id]
	if !ok {
		return
	}
	delete(h.channels, id)
	delete(h.subs, id)
	close(ch)
}

func (h *Hub) publish(tick *model.Tick) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id := range h.subscribers[tick.Symbol] {
		select {
		case h.channels[id] <- tick:
		default:
			log.Debugf("subscriber %s is slow, tick for %s dropped", id, tick.Symbol)
		}
	}
}
