package notify

import (
	"context"
	"encoding/json"
	"time"

	"fieldroute/internal/logging"
	"fieldroute/internal/model"
	"fieldroute/internal/store"
)

// Sink receives live events for connected dashboards (SSE/WebSocket).
type Sink interface {
	Publish(contractorID, event string, data any)
}

// Publisher is the notification sink for the optimizer: it persists the
// message, fans it out to webhook subscribers, and pushes it onto live
// event streams. Delivery problems are logged, never fatal to the run that
// produced the notification.
type Publisher struct {
	Store store.Store
	Sink  Sink
	Log   logging.Logger
}

func NewPublisher(s store.Store, sink Sink, log logging.Logger) *Publisher {
	if log == nil {
		log = logging.Nop{}
	}
	return &Publisher{Store: s, Sink: sink, Log: log}
}

// EventType maps a notification kind onto the webhook event namespace.
func EventType(kind model.NotificationKind) string {
	return "optimization." + string(kind)
}

func (p *Publisher) Notify(ctx context.Context, n model.Notification) {
	if err := p.Store.CreateNotification(ctx, &n); err != nil {
		p.Log.Errorf("persist notification for %s: %v", n.ContractorID, err)
		return
	}
	event := EventType(n.Kind)
	subs, err := p.Store.GetSubscriptionsForEvent(ctx, n.ContractorID, event)
	if err != nil {
		p.Log.Errorf("load subscriptions for %s: %v", n.ContractorID, err)
	}
	if len(subs) > 0 {
		payload := map[string]any{
			"id":           n.ID,
			"type":         event,
			"contractorId": n.ContractorID,
			"ts":           time.Now().UTC().Format(time.RFC3339),
			"data":         n,
		}
		body, _ := json.Marshal(payload)
		for _, s := range subs {
			if _, err := p.Store.EnqueueWebhook(ctx, n.ContractorID, s.ID, event, s.URL, s.Secret, body); err != nil {
				p.Log.Errorf("enqueue webhook %s: %v", s.ID, err)
			}
		}
	}
	if p.Sink != nil {
		p.Sink.Publish(n.ContractorID, event, n)
	}
}
