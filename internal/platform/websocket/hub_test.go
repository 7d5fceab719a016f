package websocket

import (
	"context"
	"encoding/json"
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

func newClient(id string, topics ...string) *Client {
	return &Client{ID: id, Topics: topics, Send: make(chan []byte, 8)}
}

func receive(t *testing.T, c *Client) (Event, bool) {
	t.Helper()
	select {
	case data := <-c.Send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("invalid event payload: %v", err)
		}
		return ev, true
	default:
		return Event{}, false
	}
}

func imported(patientID string) Event {
	return Event{
		Type:       ReportImported,
		ReportID:   "6f1c2a9e-3b4d-4c5e-9f60-718293a4b5c6",
		Laboratory: "clinica_sante",
		PatientID:  patientID,
		Timestamp:  time.Date(2024, 3, 13, 9, 30, 0, 0, time.UTC),
	}
}

// ---------------------------------------------------------------------------
// Hub tests
// ---------------------------------------------------------------------------

func TestHub_RegisterAndUnregister(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c1", TopicAll)

	hub.Register(client)
	if hub.ClientCount() != 1 || hub.TopicCount(TopicAll) != 1 {
		t.Fatalf("expected 1 registered client, got %d/%d", hub.ClientCount(), hub.TopicCount(TopicAll))
	}

	hub.Unregister(client)
	if hub.ClientCount() != 0 || hub.TopicCount(TopicAll) != 0 {
		t.Fatalf("expected no clients after unregister, got %d/%d", hub.ClientCount(), hub.TopicCount(TopicAll))
	}
	if _, ok := <-client.Send; ok {
		t.Error("expected Send channel to be closed")
	}

	// A second unregister must not panic on the closed channel.
	hub.Unregister(client)
}

func TestEvent_Topics(t *testing.T) {
	if got := imported("").Topics(); len(got) != 1 || got[0] != TopicAll {
		t.Errorf("unexpected topics without patient: %v", got)
	}
	got := imported("2850312123456").Topics()
	if len(got) != 2 || got[1] != "patient:2850312123456" {
		t.Errorf("unexpected topics with patient: %v", got)
	}
}

func TestHub_PublishRoutesByTopic(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	everything := newClient("all", TopicAll)
	patient := newClient("patient", PatientTopic("2850312123456"))
	other := newClient("other", PatientTopic("1790101223344"))
	hub.Register(everything)
	hub.Register(patient)
	hub.Register(other)

	if err := hub.Publish(context.Background(), imported("2850312123456")); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if ev, ok := receive(t, everything); !ok || ev.Type != ReportImported {
		t.Errorf("expected event on %s, got %+v", TopicAll, ev)
	}
	if ev, ok := receive(t, patient); !ok || ev.PatientID != "2850312123456" {
		t.Errorf("expected event on patient topic, got %+v", ev)
	}
	if _, ok := receive(t, other); ok {
		t.Error("expected no event for another patient")
	}
}

func TestHub_PublishDeliversOncePerClient(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("both", TopicAll, PatientTopic("2850312123456"))
	hub.Register(client)

	hub.Publish(context.Background(), imported("2850312123456"))

	if _, ok := receive(t, client); !ok {
		t.Fatal("expected one event")
	}
	if _, ok := receive(t, client); ok {
		t.Error("expected the event only once")
	}
}

func TestHub_PublishSkipsFullBuffer(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	slow := &Client{ID: "slow", Topics: []string{TopicAll}, Send: make(chan []byte, 1)}
	hub.Register(slow)

	done := make(chan struct{})
	go func() {
		hub.Publish(context.Background(), imported(""))
		hub.Publish(context.Background(), imported(""))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full client buffer")
	}
	if len(slow.Send) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(slow.Send))
	}
}

func TestHub_SubscribeAndUnsubscribe(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	client := newClient("c1")
	hub.Register(client)

	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TopicAll, "patient:1"}})
	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{TopicAll}})
	hub.ProcessMessage(client, ClientMessage{Action: "subscribe", Topics: []string{"patient:2", "patient:2"}})
	if len(client.Topics) != 3 {
		t.Fatalf("expected a repeated topic to be added once, got %v", client.Topics)
	}
	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{"patient:2"}})
	if len(client.Topics) != 2 || hub.TopicCount(TopicAll) != 1 {
		t.Fatalf("expected 2 distinct topics, got %v", client.Topics)
	}

	hub.ProcessMessage(client, ClientMessage{Action: "unsubscribe", Topics: []string{TopicAll}})
	if len(client.Topics) != 1 || client.Topics[0] != "patient:1" {
		t.Errorf("unexpected topics after unsubscribe: %v", client.Topics)
	}
	if hub.TopicCount(TopicAll) != 0 {
		t.Errorf("expected topic removed, got %d subscribers", hub.TopicCount(TopicAll))
	}

	hub.ProcessMessage(client, ClientMessage{Action: "shout", Topics: []string{"x"}})
	if len(client.Topics) != 1 {
		t.Errorf("unknown action changed topics: %v", client.Topics)
	}
}

func TestHub_ConcurrentRegisterPublish(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c := newClient("c", TopicAll)
			hub.Register(c)
			hub.Unregister(c)
		}()
		go func() {
			defer wg.Done()
			hub.Publish(context.Background(), imported("2850312123456"))
		}()
	}
	wg.Wait()
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", hub.ClientCount())
	}
}

// ---------------------------------------------------------------------------
// Handler tests
// ---------------------------------------------------------------------------

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://clinic.example"})
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://clinic.example", true},
		{"HTTPS://CLINIC.EXAMPLE", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := check(r); got != tt.want {
			t.Errorf("origin %q: got %v, want %v", tt.origin, got, tt.want)
		}
	}
	if !originChecker([]string{"*"})(httptest.NewRequest(http.MethodGet, "/", nil)) {
		t.Error("expected wildcard to allow any origin")
	}
}

func TestHandler_RejectsPlainHTTP(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), nil)
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/lab-reports/events", nil), rec)

	if err := h.HandleConnect(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a non-upgrade request, got %d", rec.Code)
	}
	if h.hub.ClientCount() != 0 {
		t.Error("expected no registered client")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_StreamsPatientEvents(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	e := echo.New()
	NewHandler(hub, []string{"*"}).RegisterRoutes(e.Group("/api/v1"))

	server := httptest.NewServer(e)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/lab-reports/events?patient_id=2850312123456"
	conn, resp, err := gorillawebsocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("expected 101, got %d", resp.StatusCode)
	}
	waitFor(t, func() bool { return hub.TopicCount(PatientTopic("2850312123456")) == 1 })
	if hub.TopicCount(TopicAll) != 0 {
		t.Error("patient client must not be subscribed to every report")
	}

	hub.Publish(context.Background(), imported("1790101223344"))
	hub.Publish(context.Background(), imported("2850312123456"))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got.PatientID != "2850312123456" || got.Type != ReportImported {
		t.Errorf("unexpected event %+v", got)
	}

	if err := conn.WriteJSON(ClientMessage{Action: "subscribe", Topics: []string{TopicAll}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	waitFor(t, func() bool { return hub.TopicCount(TopicAll) == 1 })

	conn.Close()
	waitFor(t, func() bool { return hub.ClientCount() == 0 })
}
