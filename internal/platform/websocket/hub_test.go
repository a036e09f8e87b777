package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func newClient(hub *Hub, id string, topics ...string) *Client {
	allowed := map[string]bool{}
	for _, t := range topics {
		allowed[t] = true
	}
	return &Client{
		ID:      id,
		Topics:  topics,
		Allowed: allowed,
		Send:    make(chan []byte, 256),
		hub:     hub,
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "c1", "notifications:admin@entnt.in")

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount("notifications:admin@entnt.in") != 1 {
		t.Fatalf("after register: %d clients, %d on topic", hub.ClientCount(), hub.TopicCount("notifications:admin@entnt.in"))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount("notifications:admin@entnt.in") != 0 {
		t.Fatal("client still tracked after unregister")
	}
	if _, ok := <-client.Send; ok {
		t.Error("Send channel not closed")
	}
	hub.Unregister(client)
}

func TestHub_BroadcastToTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	admin := newClient(hub, "a", "notifications:admin@entnt.in")
	john := newClient(hub, "j", "notifications:john@entnt.in")
	hub.Register(admin)
	hub.Register(john)

	hub.Broadcast("notifications:john@entnt.in", Event{Type: "notification.alert", Topic: "notifications:john@entnt.in"})

	select {
	case msg := <-john.Send:
		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			t.Fatalf("bad event: %v", err)
		}
		if ev.Type != "notification.alert" {
			t.Errorf("type = %s", ev.Type)
		}
	default:
		t.Fatal("john did not receive the event")
	}
	select {
	case <-admin.Send:
		t.Error("admin received an event for another topic")
	default:
	}
}

func TestHub_BroadcastDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := &Client{ID: "slow", Topics: []string{"t"}, Send: make(chan []byte, 1), hub: hub}
	hub.Register(client)

	hub.Broadcast("t", Event{Type: "one"})
	hub.Broadcast("t", Event{Type: "two"})

	if len(client.Send) != 1 {
		t.Errorf("buffered = %d, want 1", len(client.Send))
	}
}

func TestHub_SubscribeOnlyAllowedTopics(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "j", "notifications:john@entnt.in")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{"notifications:admin@entnt.in"}})
	if hub.TopicCount("notifications:admin@entnt.in") != 0 {
		t.Error("client subscribed to a topic it does not own")
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"notifications:john@entnt.in"}})
	if hub.TopicCount("notifications:john@entnt.in") != 0 || len(client.Topics) != 0 {
		t.Fatal("unsubscribe did not remove the topic")
	}
	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{"notifications:john@entnt.in", "notifications:john@entnt.in"}})
	if hub.TopicCount("notifications:john@entnt.in") != 1 || len(client.Topics) != 1 {
		t.Errorf("resubscribe: %d subscribers, topics %v", hub.TopicCount("notifications:john@entnt.in"), client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "shout"})
}

func TestHub_ConcurrentRegisterUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := newClient(hub, "c", "topic")
			hub.Register(c)
			hub.Broadcast("topic", Event{Type: "x"})
			hub.Unregister(c)
		}(i)
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("clients left: %d", hub.ClientCount())
	}
}

func TestHub_Publish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient(hub, "c", "topic")
	hub.Register(client)

	var pub EventPublisher = hub
	if err := pub.Publish(context.Background(), Event{Type: "x", Topic: "topic"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(client.Send) != 1 {
		t.Error("event not delivered")
	}
}

func TestHandler_RejectsUnresolvedRequest(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, func(c echo.Context) ([]string, error) {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "login required")
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	err := h.HandleConnect(e.NewContext(req, httptest.NewRecorder()))
	var httpErr *echo.HTTPError
	if !errors.As(err, &httpErr) || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
	if hub.ClientCount() != 0 {
		t.Error("client registered despite rejection")
	}
}

func TestHandler_FullUpgradeWithDialer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	h := NewHandler(hub, func(c echo.Context) ([]string, error) {
		return []string{"notifications:john@entnt.in"}, nil
	})

	e := echo.New()
	h.RegisterRoutes(e.Group(""))
	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.TopicCount("notifications:john@entnt.in") != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed to its topic")
		}
		time.Sleep(10 * time.Millisecond)
	}

	hub.Broadcast("notifications:john@entnt.in", Event{
		Type:      "notification.alert",
		Topic:     "notifications:john@entnt.in",
		Timestamp: time.Now(),
		Data:      json.RawMessage(`{"count":1}`),
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var received Event
	if err := conn.ReadJSON(&received); err != nil {
		t.Fatalf("failed to read event: %v", err)
	}
	if received.Type != "notification.alert" || string(received.Data) != `{"count":1}` {
		t.Fatalf("received = %+v", received)
	}
}
