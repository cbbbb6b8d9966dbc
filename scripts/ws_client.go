// Package main runs a demo WebSocket client for optimization events.
//
// Against a seeded dev server (api --seed) it subscribes to c_demo's
// event stream, triggers an optimization run, and prints what arrives.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

type wsMessage struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	base := fmt.Sprintf("http://localhost:%s", port)

	// Connect WS and subscribe before triggering anything.
	u := url.URL{Scheme: "ws", Host: "localhost:" + port, Path: "/v1/ws"}
	hdr := http.Header{}
	hdr.Set("X-Contractor-Id", "c_demo")
	c, _, err := websocket.DefaultDialer.Dial(u.String(), hdr)
	if err != nil {
		log.Fatal("dial:", err)
	}
	defer func() { _ = c.Close() }()

	if err := c.WriteJSON(wsMessage{Type: "connection_init"}); err != nil {
		log.Fatal(err)
	}
	pl, _ := json.Marshal(map[string]any{"contractorId": "c_demo"})
	if err := c.WriteJSON(wsMessage{Type: "subscribe", ID: "1", Payload: pl}); err != nil {
		log.Fatal(err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var m wsMessage
			if err := c.ReadJSON(&m); err != nil {
				log.Printf("read: %v", err)
				return
			}
			log.Printf("WS <- %s: %s", m.Type, string(m.Payload))
		}
	}()

	// Trigger an optimization run; any savings found become events.
	time.Sleep(500 * time.Millisecond)
	today := time.Now().Format("2006-01-02")
	body := []byte(fmt.Sprintf(`{"date":%q,"preview":false}`, today))
	req, _ := http.NewRequest(http.MethodPost, base+"/v1/optimize/runs", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Contractor-Id", "c_demo")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		log.Fatal(err)
	}
	var runResp map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&runResp)
	_ = resp.Body.Close()
	log.Printf("optimize: %v", runResp)

	// Wait briefly to receive a few messages
	select {
	case <-time.After(3 * time.Second):
	case <-done:
	}
}
