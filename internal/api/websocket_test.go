package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-history/internal/backfill"
	"github.com/nerrad567/gray-logic-history/internal/infrastructure/config"
)

func testHub(t *testing.T) *statusHub {
	t.Helper()
	hub := newStatusHub(config.WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.run(ctx)
	return hub
}

// testClient registers a connectionless client; frames stay in its queue.
func testClient(t *testing.T, hub *statusHub, resources ...string) *streamClient {
	t.Helper()
	c := &streamClient{hub: hub, send: make(chan []byte, streamBufferSize)}
	c.subscribe(resources)
	hub.register(c)
	return c
}

// startWSServer serves srv's router and runs its hub until the test ends.
func startWSServer(t *testing.T, srv *Server) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go srv.hub.run(ctx)

	ts := httptest.NewServer(srv.buildRouter())
	t.Cleanup(func() {
		cancel()
		ts.Close()
	})
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial failed: %v (resp: %v)", err, resp)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) StreamFrame {
	t.Helper()
	//nolint:errcheck // Deadline failure surfaces as a read error
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f StreamFrame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

// subscribe sends a subscribe request and returns the snapshot that follows
// the acknowledgement.
func subscribe(t *testing.T, ws *websocket.Conn, resources ...string) StreamFrame {
	t.Helper()
	if err := ws.WriteJSON(StreamRequest{Type: FrameSubscribe, ID: "sub-1", Resources: resources}); err != nil {
		t.Fatalf("write subscribe: %v", err)
	}
	if ack := readFrame(t, ws); ack.Type != FrameSubscribed || ack.ID != "sub-1" {
		t.Fatalf("subscribe ack = %+v", ack)
	}
	snap := readFrame(t, ws)
	if snap.Type != FrameSnapshot {
		t.Fatalf("frame after ack = %+v, want snapshot", snap)
	}
	return snap
}

func queued(c *streamClient) []StreamFrame {
	var frames []StreamFrame
	for {
		select {
		case data := <-c.send:
			var f StreamFrame
			if err := json.Unmarshal(data, &f); err == nil {
				frames = append(frames, f)
			}
		default:
			return frames
		}
	}
}

// ─── Hub ───────────────────────────────────────────────────────────

func TestHub_PublishFiltersByResource(t *testing.T) {
	hub := testHub(t)

	all := testClient(t, hub)
	elec := testClient(t, hub, "res-elec")
	idle := &streamClient{hub: hub, send: make(chan []byte, streamBufferSize)}
	hub.register(idle)

	hub.publish(backfill.ChannelStatus{Channel: backfill.Channel{ResourceID: "res-elec"}, RunID: "run-1"})
	hub.publish(backfill.ChannelStatus{Channel: backfill.Channel{ResourceID: "res-gas"}, RunID: "run-2"})

	if got := queued(all); len(got) != 2 || got[0].Type != FrameStatus || got[1].Status.RunID != "run-2" {
		t.Errorf("all-resources client frames = %+v", got)
	}
	if got := queued(elec); len(got) != 1 || got[0].Status.ResourceID != "res-elec" {
		t.Errorf("filtered client frames = %+v", got)
	}
	if got := queued(idle); len(got) != 0 {
		t.Errorf("unsubscribed client received %d frames", len(got))
	}
}

func TestHub_DropsWhenQueueFull(t *testing.T) {
	hub := testHub(t)
	c := testClient(t, hub)

	for range streamBufferSize + 3 {
		hub.publish(backfill.ChannelStatus{Channel: backfill.Channel{ResourceID: "res-elec"}})
	}

	if got := hub.dropped.Load(); got != 3 {
		t.Errorf("dropped = %d, want 3", got)
	}
	if got := len(queued(c)); got != streamBufferSize {
		t.Errorf("queued = %d, want %d", got, streamBufferSize)
	}
}

func TestHub_UnregisterTwice(t *testing.T) {
	hub := testHub(t)
	c := testClient(t, hub)
	if hub.count() != 1 {
		t.Errorf("after register count = %d, want 1", hub.count())
	}

	hub.unregister(c)
	hub.unregister(c) // must not close the queue twice
	if hub.count() != 0 {
		t.Errorf("after unregister count = %d, want 0", hub.count())
	}

	// Publishing to a closed client is a silent drop.
	if c.enqueue([]byte("{}")) {
		t.Error("enqueue succeeded on a closed client")
	}
}

// ─── Connections ───────────────────────────────────────────────────

func TestWebSocket_SnapshotAndStream(t *testing.T) {
	srv, _ := testServer(t)
	ws := dialWS(t, startWSServer(t, srv))

	snap := subscribe(t, ws)
	if len(snap.Statuses) != 2 {
		t.Fatalf("snapshot = %+v, want both channels", snap.Statuses)
	}

	srv.PublishStatus(backfill.ChannelStatus{
		Channel: backfill.Channel{ResourceID: "res-elec", Item: "energy"},
		RunID:   "run-1",
		Running: true,
	})

	f := readFrame(t, ws)
	if f.Type != FrameStatus || f.Status == nil {
		t.Fatalf("frame = %+v", f)
	}
	if f.Status.ResourceID != "res-elec" || f.Status.RunID != "run-1" || !f.Status.Running {
		t.Errorf("status = %+v", f.Status)
	}
}

func TestWebSocket_FilteredSubscription(t *testing.T) {
	srv, _ := testServer(t)
	ws := dialWS(t, startWSServer(t, srv))

	snap := subscribe(t, ws, "res-gas")
	if len(snap.Statuses) != 1 || snap.Statuses[0].ResourceID != "res-gas" {
		t.Fatalf("snapshot = %+v, want res-gas only", snap.Statuses)
	}

	srv.PublishStatus(backfill.ChannelStatus{Channel: backfill.Channel{ResourceID: "res-elec"}})
	srv.PublishStatus(backfill.ChannelStatus{Channel: backfill.Channel{ResourceID: "res-gas"}, RunID: "run-gas"})

	if f := readFrame(t, ws); f.Status == nil || f.Status.RunID != "run-gas" {
		t.Errorf("frame = %+v, want the res-gas status", f)
	}
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	srv, _ := testServer(t)
	ws := dialWS(t, startWSServer(t, srv))

	if err := ws.WriteJSON(StreamRequest{Type: FramePing, ID: "ping-1"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	if f := readFrame(t, ws); f.Type != FramePong || f.ID != "ping-1" {
		t.Errorf("ping reply = %+v", f)
	}

	if err := ws.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("write invalid: %v", err)
	}
	if f := readFrame(t, ws); f.Type != FrameError {
		t.Errorf("invalid frame reply = %+v", f)
	}

	if err := ws.WriteJSON(StreamRequest{Type: "reboot", ID: "x-1"}); err != nil {
		t.Fatalf("write unknown: %v", err)
	}
	if f := readFrame(t, ws); f.Type != FrameError || f.ID != "x-1" || f.Error == "" {
		t.Errorf("unknown type reply = %+v", f)
	}
}

func TestWebSocket_Unsubscribe(t *testing.T) {
	srv, _ := testServer(t)
	ws := dialWS(t, startWSServer(t, srv))

	subscribe(t, ws)

	if err := ws.WriteJSON(StreamRequest{Type: FrameUnsubscribe, ID: "unsub-1"}); err != nil {
		t.Fatalf("write unsubscribe: %v", err)
	}
	if f := readFrame(t, ws); f.Type != FrameUnsubscribed || f.ID != "unsub-1" {
		t.Fatalf("unsubscribe reply = %+v", f)
	}

	srv.PublishStatus(backfill.ChannelStatus{Channel: backfill.Channel{ResourceID: "res-elec"}})

	if err := ws.WriteJSON(StreamRequest{Type: FramePing, ID: "ping-2"}); err != nil {
		t.Fatalf("write ping: %v", err)
	}
	// No status frame was queued ahead of the pong.
	if f := readFrame(t, ws); f.Type != FramePong {
		t.Errorf("next frame = %+v, want pong", f)
	}
}

func TestWebSocket_TicketRequired(t *testing.T) {
	srv := securedServer(t, "")
	url := startWSServer(t, srv)

	for _, target := range []string{url, url + "?ticket=forged"} {
		_, resp, err := websocket.DefaultDialer.Dial(target, nil)
		if err == nil {
			t.Fatalf("dial %s succeeded without a valid ticket", target)
		}
		if resp == nil || resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("dial %s response = %v, want 401", target, resp)
		}
		if resp != nil {
			resp.Body.Close()
		}
	}

	ticket := srv.tickets.issue(time.Now())
	dialWS(t, url+"?ticket="+ticket)

	// Tickets are single-use.
	_, resp, err := websocket.DefaultDialer.Dial(url+"?ticket="+ticket, nil)
	if err == nil {
		t.Fatal("ticket accepted twice")
	}
	if resp != nil {
		resp.Body.Close()
	}
}

func TestWebSocket_TicketFromBearer(t *testing.T) {
	srv := securedServer(t, "")
	url := startWSServer(t, srv)

	token := signToken(t, jwt.SigningMethodHS256, []byte(testSecret), validClaims())
	w := do(t, srv.buildRouter(), http.MethodPost, "/api/v1/auth/ws-ticket", "Authorization", "Bearer "+token)
	var resp struct {
		Ticket string `json:"ticket"`
	}
	decodeBody(t, w, &resp)

	ws := dialWS(t, url+"?ticket="+resp.Ticket)
	subscribe(t, ws)
}
