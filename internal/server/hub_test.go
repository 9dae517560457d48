package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"skywatch/internal/camera"
)

func TestHub_broadcast_delivers_to_subscribers(t *testing.T) {
	hub := NewHub(&fakeCamera{}, 10, testLogger())
	ch := hub.subscribe()
	defer hub.unsubscribe(ch)

	hub.broadcast([]byte("frame-1"))

	select {
	case data := <-ch:
		if string(data) != "frame-1" {
			t.Errorf("unexpected frame: %q", data)
		}
	default:
		t.Fatal("no frame delivered")
	}
}

func TestHub_drops_slow_client_without_blocking(t *testing.T) {
	hub := NewHub(&fakeCamera{}, 10, testLogger())
	slow := hub.subscribe()
	fast := hub.subscribe()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < clientBuffer+2; i++ {
			hub.broadcast([]byte("frame"))
			// Keep the fast client drained.
			select {
			case <-fast:
			default:
			}
		}
	}()

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow client")
	}

	if hub.ClientCount() != 1 {
		t.Errorf("expected slow client dropped, have %d clients", hub.ClientCount())
	}
	closed := false
drainLoop:
	for i := 0; i < clientBuffer+2; i++ {
		select {
		case _, ok := <-slow:
			if !ok {
				closed = true
				break drainLoop
			}
		default:
			break drainLoop
		}
	}
	if !closed {
		t.Error("slow client channel should be closed")
	}

	// Double unsubscribe after a drop must not panic.
	hub.unsubscribe(slow)
	hub.unsubscribe(fast)
}

func TestHub_stop_disconnects_clients(t *testing.T) {
	hub := NewHub(&fakeCamera{}, 10, testLogger())
	hub.Start()
	ch := hub.subscribe()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := hub.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	select {
	case _, open := <-ch:
		if open {
			t.Error("expected closed channel after stop")
		}
	case <-time.After(time.Second):
		t.Fatal("client channel not closed after stop")
	}
	if hub.ClientCount() != 0 {
		t.Errorf("expected 0 clients after stop, got %d", hub.ClientCount())
	}
}

func TestHub_websocket_streams_frames(t *testing.T) {
	cam := &fakeCamera{}
	cam.setFrame(camera.Frame{Data: []byte("jpeg-frame"), Seq: 1, Timestamp: time.Now()})

	hub := NewHub(cam, 100, testLogger())
	hub.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hub.Stop(ctx)
	}()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Errorf("expected binary message, got type %d", msgType)
	}
	if string(data) != "jpeg-frame" {
		t.Errorf("unexpected frame: %q", data)
	}
}
