package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ivooa3/mybidly/internal/logging"
)

func testLogger() *slog.Logger {
	return logging.Discard()
}

func TestShouldSendFilters(t *testing.T) {
	h := NewHub(testLogger())

	event := &Event{
		Type:      EventBidSubmitted,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"bidId":      "bid_1",
			"offerId":    "off_1",
			"merchantId": "mch_1",
			"amount":     "32.00",
		},
	}

	cases := []struct {
		name string
		sub  Subscription
		want bool
	}{
		{"all events", Subscription{AllEvents: true}, true},
		{"matching type", Subscription{EventTypes: []EventType{EventBidSubmitted}}, true},
		{"wrong type", Subscription{EventTypes: []EventType{EventBidAccepted}}, false},
		{"matching merchant", Subscription{MerchantIDs: []string{"mch_1"}}, true},
		{"other merchant", Subscription{MerchantIDs: []string{"mch_2"}}, false},
		{"matching offer", Subscription{OfferIDs: []string{"off_1"}}, true},
		{"other offer", Subscription{OfferIDs: []string{"off_9"}}, false},
		{"amount at threshold", Subscription{MinAmount: "32.00"}, true},
		{"amount below threshold", Subscription{MinAmount: "35.00"}, false},
		{"unparseable threshold ignored", Subscription{MinAmount: "lots"}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &Client{sub: tc.sub}
			if got := h.shouldSend(client, event); got != tc.want {
				t.Errorf("shouldSend = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestBroadcastReachesClient(t *testing.T) {
	h := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Wait for registration before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.RLock()
		n := len(h.clients)
		h.mu.RUnlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Broadcast(&Event{
		Type:      EventBidSubmitted,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"bidId": "bid_1"},
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got Event
	if err := json.Unmarshal(message, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != EventBidSubmitted {
		t.Errorf("expected %s, got %s", EventBidSubmitted, got.Type)
	}
}

func TestSubscriptionUpdateFilters(t *testing.T) {
	h := NewHub(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(h.HandleWebSocket))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Narrow the subscription to accepted bids only.
	sub := Subscription{EventTypes: []EventType{EventBidAccepted}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("write subscription: %v", err)
	}

	// Wait until the hub has applied the narrowed subscription.
	deadline := time.Now().Add(2 * time.Second)
	for {
		h.mu.RLock()
		applied := false
		for c := range h.clients {
			c.mu.RLock()
			applied = len(c.sub.EventTypes) == 1
			c.mu.RUnlock()
		}
		h.mu.RUnlock()
		if applied {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("subscription never applied")
		}
		time.Sleep(5 * time.Millisecond)
	}

	h.Broadcast(&Event{Type: EventBidSubmitted, Timestamp: time.Now()})
	h.Broadcast(&Event{Type: EventBidAccepted, Timestamp: time.Now()})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got Event
	if err := json.Unmarshal(message, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != EventBidAccepted {
		t.Errorf("expected filtered stream to deliver %s first, got %s", EventBidAccepted, got.Type)
	}
}

func TestHubStats(t *testing.T) {
	h := NewHub(testLogger())
	stats := h.Stats()
	if stats["connectedClients"].(int) != 0 {
		t.Errorf("expected zero clients, got %v", stats["connectedClients"])
	}
}
