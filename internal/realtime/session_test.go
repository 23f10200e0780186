package realtime

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"modelgate/internal/domain"
)

// echoUpgrader upgrades the test server's connection and hands the raw
// *websocket.Conn to the test so it can script server-side behavior.
var echoUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func newTestServer(t *testing.T, handle func(conn *websocket.Conn)) (wsURL string, closeServer func()) {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := echoUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("server upgrade failed: %v", err)
			return
		}
		handle(conn)
	}))
	wsURL = "ws" + strings.TrimPrefix(server.URL, "http")
	return wsURL, server.Close
}

func TestSessionDialSendsInitMessagesAndReachesConnected(t *testing.T) {
	initReceived := make(chan []byte, 1)
	wsURL, closeServer := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}
		initReceived <- payload
		conn.ReadMessage() // block until the client closes
	})
	defer closeServer()

	sess, err := Dial(context.Background(), domain.RealtimeEndpoint{URL: wsURL}, OpenAITranslator{}, domain.RealtimeConnectOptions{Instructions: "be concise"})
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer sess.Close()

	if sess.State() != StateConnected {
		t.Errorf("expected state connected, got %s", sess.State())
	}

	select {
	case payload := <-initReceived:
		if !strings.Contains(string(payload), "session.update") {
			t.Errorf("expected a session.update init message, got %s", payload)
		}
	case <-time.After(time.Second):
		t.Fatal("server never received the init message")
	}
}

func TestSessionSendRejectsWhenNotConnected(t *testing.T) {
	wsURL, closeServer := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.ReadMessage()
		conn.ReadMessage()
	})
	defer closeServer()

	sess, err := Dial(context.Background(), domain.RealtimeEndpoint{URL: wsURL}, OpenAITranslator{}, domain.RealtimeConnectOptions{})
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	sess.Close()

	// give the receive loop a moment to observe the close and settle state
	time.Sleep(20 * time.Millisecond)

	if err := sess.Send(AudioAppendFrame{Audio: []byte("x")}); err == nil {
		t.Error("expected Send to reject a frame once the session is no longer connected")
	}
}

func TestSessionReceiveForwardsDecodedFrames(t *testing.T) {
	wsURL, closeServer := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.ReadMessage() // consume session.update init message
		conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"response.text.delta","delta":"hi"}`))
		conn.ReadMessage() // block until client closes
	})
	defer closeServer()

	sess, err := Dial(context.Background(), domain.RealtimeEndpoint{URL: wsURL}, OpenAITranslator{}, domain.RealtimeConnectOptions{})
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}
	defer sess.Close()

	select {
	case frame := <-sess.Receive():
		delta, ok := frame.(TextDeltaFrame)
		if !ok {
			t.Fatalf("expected TextDeltaFrame, got %T", frame)
		}
		if delta.Text != "hi" {
			t.Errorf("expected delta text %q, got %q", "hi", delta.Text)
		}
	case <-time.After(time.Second):
		t.Fatal("never received the forwarded frame")
	}
}

func TestSessionCloseIsIdempotentAndClosesReceiveChannel(t *testing.T) {
	wsURL, closeServer := newTestServer(t, func(conn *websocket.Conn) {
		defer conn.Close()
		conn.ReadMessage()
		conn.ReadMessage()
	})
	defer closeServer()

	sess, err := Dial(context.Background(), domain.RealtimeEndpoint{URL: wsURL}, OpenAITranslator{}, domain.RealtimeConnectOptions{})
	if err != nil {
		t.Fatalf("unexpected dial error: %v", err)
	}

	if err := sess.Close(); err != nil {
		t.Errorf("unexpected close error: %v", err)
	}
	if sess.State() != StateClosed {
		t.Errorf("expected state closed, got %s", sess.State())
	}

	select {
	case _, ok := <-sess.Receive():
		if ok {
			t.Error("expected the receive channel to be drained and closed")
		}
	case <-time.After(time.Second):
		t.Fatal("receive channel was never closed")
	}
}

func TestSessionDialRejectsInvalidEndpoint(t *testing.T) {
	_, err := Dial(context.Background(), domain.RealtimeEndpoint{URL: "://not-a-url"}, OpenAITranslator{}, domain.RealtimeConnectOptions{})
	if err == nil {
		t.Fatal("expected an error for a malformed endpoint url")
	}
}
