package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Browser dashboards connect from other origins in dev.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
	ContractorID string `json:"contractorId"`
}

// EventsSocketHandler streams notification events over a websocket for
// clients that cannot hold an SSE connection.
//
// Protocol:
//
//	client: {"type":"connection_init"}   server: {"type":"connection_ack"}
//	client: {"type":"ping"}              server: {"type":"pong"}
//	client: {"type":"subscribe","id":"1","payload":{"contractorId":"c_1"}}
//	server: {"type":"next","id":"1","payload":{"event":"...","data":{...}}}
//	client: {"type":"complete","id":"1"} ends that subscription
func (s *Server) EventsSocketHandler(w http.ResponseWriter, r *http.Request) {
	p, ok := s.getPrincipal(r)
	if !ok {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", "request carries no contractor identity")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	})

	var writeMu sync.Mutex
	writeMsg := func(m wsMessage) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteJSON(m)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				writeMu.Lock()
				err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
				writeMu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	type liveSub struct {
		topic string
		ch    chan SSEEvent
	}
	subs := map[string]liveSub{}
	defer func() {
		for _, sb := range subs {
			s.Broker.Unsubscribe(sb.topic, sb.ch)
		}
	}()

	initialized := false
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		switch msg.Type {
		case "connection_init":
			initialized = true
			if err := writeMsg(wsMessage{Type: "connection_ack"}); err != nil {
				return
			}
		case "ping":
			if err := writeMsg(wsMessage{Type: "pong"}); err != nil {
				return
			}
		case "subscribe":
			if !initialized || msg.ID == "" {
				continue
			}
			if _, exists := subs[msg.ID]; exists {
				continue
			}
			var pay wsSubscribePayload
			_ = json.Unmarshal(msg.Payload, &pay)
			topic := pay.ContractorID
			if topic == "" {
				topic = p.ContractorID
			}
			if topic == "" || (topic != p.ContractorID && !p.IsAdmin()) {
				payload, _ := json.Marshal(map[string]string{"message": "not allowed for this contractor"})
				_ = writeMsg(wsMessage{Type: "error", ID: msg.ID, Payload: payload})
				continue
			}
			ch := s.Broker.Subscribe(topic)
			subs[msg.ID] = liveSub{topic: topic, ch: ch}
			go func(id string, ch chan SSEEvent) {
				for evt := range ch {
					payload, err := json.Marshal(map[string]any{"event": evt.Type, "data": evt.Data})
					if err != nil {
						continue
					}
					if err := writeMsg(wsMessage{Type: "next", ID: id, Payload: payload}); err != nil {
						return
					}
				}
				_ = writeMsg(wsMessage{Type: "complete", ID: id})
			}(msg.ID, ch)
		case "complete":
			if sb, live := subs[msg.ID]; live {
				s.Broker.Unsubscribe(sb.topic, sb.ch)
				delete(subs, msg.ID)
			}
		}
	}
}
