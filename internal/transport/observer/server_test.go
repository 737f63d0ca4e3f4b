package observer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"griddiffuse.dev/internal/observerproto"
	"griddiffuse.dev/internal/sim/agent"
	"griddiffuse.dev/internal/sim/encoding"
	"griddiffuse.dev/internal/sim/world"
)

const sampleMap = "....#..\n" +
	"..###.#\n" +
	"#...#.#\n" +
	".#...##\n" +
	"#.###..\n" +
	"##.#.##\n" +
	".#..#.."

func newTestServer(t *testing.T) (*world.World, *httptest.Server) {
	t.Helper()
	g := encoding.Parse(sampleMap, '#', agent.NewFactory())
	w, err := world.New(world.WorldConfig{ID: "test", RoundRateHz: 50}, g)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	mux := http.NewServeMux()
	NewServer(w, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return w, srv
}

func TestBootstrap(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d", resp.StatusCode)
	}
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if boot.WorldID != "test" || boot.Round != 0 || boot.Population != 22 || boot.Priority != "NSWE" || boot.RoundRateHz != 50 {
		t.Fatalf("unexpected bootstrap: %+v", boot)
	}

	post, err := http.Post(srv.URL+"/v1/observer/bootstrap", "application/json", strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()
	if post.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("post status=%d", post.StatusCode)
	}
}

func TestWS_StreamsRounds(t *testing.T) {
	w, srv := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub, _ := json.Marshal(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		IncludeFrame:    true,
	})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var last uint64
	for i := 0; i < 3; i++ {
		_, b, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		var msg observerproto.RoundMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Type != observerproto.TypeRound || msg.WorldID != "test" {
			t.Fatalf("unexpected message: %s", b)
		}
		if msg.Round <= last {
			t.Fatalf("rounds out of order: %d after %d", msg.Round, last)
		}
		last = msg.Round
		if msg.Frame == nil {
			t.Fatalf("frame missing")
		}
		g, err := encoding.DecodeFrame(*msg.Frame, agent.NewFactory())
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if encoding.Digest(g) != msg.Digest || g.Len() != msg.Population {
			t.Fatalf("frame does not match digest/population at round %d", msg.Round)
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("world did not stop")
	}
}

func TestWS_RejectsBadHandshake(t *testing.T) {
	_, srv := newTestServer(t)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"HELLO"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v want policy violation close", err)
	}
}

func TestIsLoopbackRemote(t *testing.T) {
	tests := map[string]bool{
		"127.0.0.1:5555": true,
		"[::1]:80":       true,
		"10.0.0.4:1234":  false,
		"garbage":        false,
	}
	for in, want := range tests {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

func subscribe(t *testing.T, srv *httptest.Server, frames bool) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observer/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	sub, _ := json.Marshal(observerproto.SubscribeMsg{
		Type:            observerproto.TypeSubscribe,
		ProtocolVersion: observerproto.Version,
		IncludeFrame:    frames,
	})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func newStableServer(t *testing.T, rateHz int) (*world.World, *httptest.Server) {
	t.Helper()
	g := encoding.Parse(sampleMap, '#', agent.NewFactory())
	w, err := world.New(world.WorldConfig{ID: "test", RoundRateHz: rateHz, StopWhenStable: true}, g)
	if err != nil {
		t.Fatalf("world: %v", err)
	}
	mux := http.NewServeMux()
	NewServer(w, nil).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return w, srv
}

func TestWS_AfterWorldFinishedClosesNormally(t *testing.T) {
	w, srv := newStableServer(t, 500)
	if err := w.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// More than the join queue holds: none may be left hanging or turned away as busy.
	for i := 0; i < 20; i++ {
		conn := subscribe(t, srv, false)
		_, _, err := conn.ReadMessage()
		conn.Close()
		if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			t.Fatalf("observer %d: err=%v want normal closure", i, err)
		}
		var ce *websocket.CloseError
		if errors.As(err, &ce) && !strings.Contains(ce.Text, "round 20") {
			t.Fatalf("close reason=%q", ce.Text)
		}
	}

	resp, err := http.Get(srv.URL + "/v1/observer/bootstrap")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var boot observerproto.BootstrapResponse
	if err := json.NewDecoder(resp.Body).Decode(&boot); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !boot.Finished || !boot.Stable || boot.Round != 20 {
		t.Fatalf("bootstrap after finish: %+v", boot)
	}
}

func TestWS_LiveObserverClosedWhenWorldFinishes(t *testing.T) {
	w, srv := newStableServer(t, 40)
	conn := subscribe(t, srv, false)
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()

	sawStable := false
	for {
		_, b, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				t.Fatalf("err=%v want normal closure", err)
			}
			break
		}
		var msg observerproto.RoundMsg
		if err := json.Unmarshal(b, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if msg.Stable {
			sawStable = true
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !sawStable {
		t.Fatalf("stable round was not delivered before close")
	}
}
