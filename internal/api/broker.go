package api

import "sync"

// SSEEvent is a single event fanned out to stream subscribers.
type SSEEvent struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data"`
}

// Broker fans events out to live subscribers, keyed by contractor id.
// In-memory only; with more than one API instance use the Redis broker.
type Broker struct {
    mu   sync.Mutex
    subs map[string]map[chan SSEEvent]struct{}
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(topic string) chan SSEEvent {
    b.mu.Lock()
    defer b.mu.Unlock()
    ch := make(chan SSEEvent, 8)
    if b.subs[topic] == nil {
        b.subs[topic] = map[chan SSEEvent]struct{}{}
    }
    b.subs[topic][ch] = struct{}{}
    return ch
}

func (b *Broker) Unsubscribe(topic string, ch chan SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    if set, ok := b.subs[topic]; ok {
        if _, ok := set[ch]; ok {
            delete(set, ch)
            close(ch)
        }
        if len(set) == 0 {
            delete(b.subs, topic)
        }
    }
}

func (b *Broker) Publish(topic string, evt SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    for ch := range b.subs[topic] {
        select {
        case ch <- evt:
        default:
            // Slow subscriber; drop rather than block the publisher.
        }
    }
}
