// Package eventbus implements a typed, in-process publish/subscribe bus
// keyed by the pointed-to event struct type, mirroring the hot
// broadcast-channel-per-event-type design used across the core
// subsystems (swarm, identify) to report lifecycle changes.
package eventbus

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/meshlayer/go-meshlayer/pkg/interfaces"
)

const defaultBuffer = 16

// Bus is a reflect.Type-keyed registry of per-event-type subscriber
// channels. A zero Bus is not usable; construct with New.
type Bus struct {
	mu    sync.Mutex
	nodes map[reflect.Type]*node
}

type node struct {
	mu        sync.Mutex
	subs      map[*subscription]struct{}
	stateful  bool
	lastValue interface{}
	hasLast   bool
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{nodes: make(map[reflect.Type]*node)}
}

func typeOf(eventType interface{}) (reflect.Type, error) {
	t := reflect.TypeOf(eventType)
	if t == nil {
		return nil, fmt.Errorf("eventbus: nil event type")
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t, nil
}

func (b *Bus) nodeFor(t reflect.Type) *node {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, ok := b.nodes[t]
	if !ok {
		n = &node{subs: make(map[*subscription]struct{})}
		b.nodes[t] = n
	}
	return n
}

// Subscribe registers interest in events of the type pointed to by
// eventType, e.g. Subscribe(new(types.EvtPeerConnectednessChanged)).
func (b *Bus) Subscribe(eventType interface{}, opts ...interfaces.SubscriptionOpt) (interfaces.Subscription, error) {
	t, err := typeOf(eventType)
	if err != nil {
		return nil, err
	}
	settings := &interfaces.SubscriptionSettings{Buffer: defaultBuffer}
	for _, o := range opts {
		o(settings)
	}
	n := b.nodeFor(t)
	sub := &subscription{
		out:  make(chan interface{}, settings.Buffer),
		node: n,
	}
	n.mu.Lock()
	n.subs[sub] = struct{}{}
	if n.stateful && n.hasLast {
		select {
		case sub.out <- n.lastValue:
		default:
		}
	}
	n.mu.Unlock()
	return sub, nil
}

// Emitter returns a handle that publishes events of the type pointed to
// by eventType. Stateful() marks the type "keepLast": new subscribers
// immediately receive the most recently emitted value.
func (b *Bus) Emitter(eventType interface{}, opts ...interfaces.EmitterOpt) (interfaces.Emitter, error) {
	t, err := typeOf(eventType)
	if err != nil {
		return nil, err
	}
	settings := &interfaces.EmitterSettings{}
	for _, o := range opts {
		o(settings)
	}
	n := b.nodeFor(t)
	if settings.MakeStateful {
		n.mu.Lock()
		n.stateful = true
		n.mu.Unlock()
	}
	return &emitter{node: n}, nil
}

// WithBuffer sets the subscriber channel buffer size.
func WithBuffer(n int) interfaces.SubscriptionOpt {
	return func(s *interfaces.SubscriptionSettings) { s.Buffer = n }
}

// Stateful marks an emitter's event type as keepLast.
func Stateful() interfaces.EmitterOpt {
	return func(s *interfaces.EmitterSettings) { s.MakeStateful = true }
}

type subscription struct {
	out  chan interface{}
	node *node
}

func (s *subscription) Out() <-chan interface{} { return s.out }

func (s *subscription) Close() error {
	s.node.mu.Lock()
	delete(s.node.subs, s)
	s.node.mu.Unlock()
	close(s.out)
	return nil
}

type emitter struct {
	node   *node
	mu     sync.Mutex
	closed bool
}

func (e *emitter) Emit(evt interface{}) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return fmt.Errorf("eventbus: emitter closed")
	}
	e.mu.Unlock()

	n := e.node
	n.mu.Lock()
	if n.stateful {
		n.lastValue = evt
		n.hasLast = true
	}
	subs := make([]*subscription, 0, len(n.subs))
	for s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	for _, s := range subs {
		select {
		case s.out <- evt:
		default:
			// slow subscriber; drop rather than block the publisher,
			// consistent with "subscribers receive independently".
		}
	}
	return nil
}

func (e *emitter) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}
