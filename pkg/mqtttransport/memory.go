package mqtttransport

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryBroker routes messages between MemoryTransports in the same process.
// Delivery is synchronous: Publish returns after every matching handler has
// run, so each subscriber sees messages one at a time.
type MemoryBroker struct {
	mu   sync.RWMutex
	subs map[*MemoryTransport]map[string]subscription
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[*MemoryTransport]map[string]subscription)}
}

// NewTransport returns a disconnected client attached to b.
func (b *MemoryBroker) NewTransport(clientID string) *MemoryTransport {
	return &MemoryTransport{broker: b, clientID: clientID}
}

func (b *MemoryBroker) subscribe(t *MemoryTransport, filter string, s subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[t] == nil {
		b.subs[t] = make(map[string]subscription)
	}
	b.subs[t][filter] = s
}

func (b *MemoryBroker) drop(t *MemoryTransport) {
	b.mu.Lock()
	delete(b.subs, t)
	b.mu.Unlock()
}

func (b *MemoryBroker) route(topic string, qos byte, payload []byte) {
	b.mu.RLock()
	var handlers []MessageHandler
	var levels []byte
	for _, filters := range b.subs {
		// A client with overlapping filters gets one copy at the highest
		// granted qos among them.
		var best *subscription
		for filter, s := range filters {
			if !TopicMatches(filter, topic) {
				continue
			}
			if best == nil || s.qos > best.qos {
				best = &s
			}
		}
		if best != nil {
			handlers = append(handlers, best.handler)
			levels = append(levels, min(qos, best.qos))
		}
	}
	b.mu.RUnlock()

	for i, h := range handlers {
		data := make([]byte, len(payload))
		copy(data, payload)
		h(InMessage{Topic: topic, Payload: data, QoS: levels[i], ReceivedAt: time.Now()})
	}
}

// MemoryTransport is an in-process Transport.
type MemoryTransport struct {
	broker   *MemoryBroker
	clientID string

	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	published  int
}

// FailConnect makes the next Connect calls fail with err.
func (t *MemoryTransport) FailConnect(err error) {
	t.mu.Lock()
	t.connectErr = err
	t.mu.Unlock()
}

// FailPublish makes Publish fail with err until called again with nil.
func (t *MemoryTransport) FailPublish(err error) {
	t.mu.Lock()
	t.publishErr = err
	t.mu.Unlock()
}

// Published returns how many messages this client has handed to the broker.
func (t *MemoryTransport) Published() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.published
}

func (t *MemoryTransport) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "connect", Broker: "memory", Err: err}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.connectErr != nil {
		return &TransportError{Op: "connect", Broker: "memory", Err: t.connectErr}
	}
	t.connected = true
	return nil
}

func (t *MemoryTransport) Disconnect() {
	t.mu.Lock()
	wasConnected := t.connected
	t.connected = false
	t.mu.Unlock()
	if wasConnected {
		t.broker.drop(t)
	}
}

func (t *MemoryTransport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *MemoryTransport) Publish(ctx context.Context, topic string, qos byte, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "publish", Broker: "memory", Err: err}
	}
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return &TransportError{Op: "publish", Broker: "memory", Err: ErrNotConnected}
	}
	if t.publishErr != nil {
		err := t.publishErr
		t.mu.Unlock()
		return &TransportError{Op: "publish", Broker: "memory", Err: err}
	}
	t.published++
	t.mu.Unlock()

	t.broker.route(topic, qos, payload)
	return nil
}

func (t *MemoryTransport) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "subscribe", Broker: "memory", Err: err}
	}
	if !t.IsConnected() {
		return &TransportError{Op: "subscribe", Broker: "memory", Err: ErrNotConnected}
	}
	t.broker.subscribe(t, topic, subscription{qos: qos, handler: handler})
	return nil
}

// TopicMatches reports whether topic matches an MQTT subscription filter,
// honouring the "+" and "#" wildcards. Wildcards do not match topics that
// start with "$" at the first level.
func TopicMatches(filter, topic string) bool {
	if filter == topic {
		return true
	}
	if strings.HasPrefix(topic, "$") && (strings.HasPrefix(filter, "+") || strings.HasPrefix(filter, "#")) {
		return false
	}

	f := strings.Split(filter, "/")
	t := strings.Split(topic, "/")
	for i, level := range f {
		if level == "#" {
			return i == len(f)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(f) == len(t)
}
