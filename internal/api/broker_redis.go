package api

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    "github.com/redis/go-redis/v9"
)

// EventBroker abstracts event fan-out so handlers work with either the
// in-memory broker or Redis Pub/Sub.
type EventBroker interface {
    Subscribe(topic string) chan SSEEvent
    Unsubscribe(topic string, ch chan SSEEvent)
    Publish(topic string, evt SSEEvent)
}

// RedisBroker distributes events across API instances via Redis Pub/Sub.
// Each subscriber holds its own PubSub connection; Publish marshals the
// event to JSON on a per-contractor channel.
type RedisBroker struct {
    rdb *redis.Client

    mu   sync.Mutex
    subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
    opts, err := redis.ParseURL(url)
    if err != nil {
        return nil, err
    }
    rdb := redis.NewClient(opts)
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    if err := rdb.Ping(ctx).Err(); err != nil {
        return nil, err
    }
    return &RedisBroker{rdb: rdb, subs: map[chan SSEEvent]*redis.PubSub{}}, nil
}

func chanName(topic string) string { return "contractor:" + topic }

func (b *RedisBroker) Subscribe(topic string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    ps := b.rdb.Subscribe(context.Background(), chanName(topic))
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    go func() {
        for msg := range ps.Channel() {
            var evt SSEEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
                continue
            }
            select {
            case ch <- evt:
            default:
            }
        }
        close(ch)
    }()
    return ch
}

func (b *RedisBroker) Unsubscribe(topic string, ch chan SSEEvent) {
    b.mu.Lock()
    ps, ok := b.subs[ch]
    if ok {
        delete(b.subs, ch)
    }
    b.mu.Unlock()
    if ok {
        _ = ps.Close() // closes ps.Channel(), which closes ch
    }
}

func (b *RedisBroker) Publish(topic string, evt SSEEvent) {
    payload, err := json.Marshal(evt)
    if err != nil {
        return
    }
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    _ = b.rdb.Publish(ctx, chanName(topic), payload).Err()
}
