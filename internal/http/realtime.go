package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"modelgate/internal/domain"
	"modelgate/internal/realtime"
)

var errUnrecognizedFrame = errors.New("realtime: unrecognized frame type")

// realtimeUpgrader accepts the browser/client-side websocket handshake for
// GET /v1/realtime. Origin checking is left to the reverse proxy in front
// of this service, matching the teacher's assumption elsewhere that CORS
// policy is enforced upstream.
var realtimeUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// realtimeClientEnvelope is the wire shape this gateway speaks to its own
// websocket clients, independent of whichever upstream provider protocol
// package realtime translates it into.
type realtimeClientEnvelope struct {
	Type           string `json:"type"`
	Audio          string `json:"audio,omitempty"` // base64
	Text           string `json:"text,omitempty"`
	CallID         string `json:"call_id,omitempty"`
	Result         any    `json:"result,omitempty"`
	Name           string `json:"name,omitempty"`
	ArgumentsDelta string `json:"arguments_delta,omitempty"`
	State          string `json:"state,omitempty"`
	Error          string `json:"error,omitempty"`
	Instructions   string `json:"instructions,omitempty"`
	Voice          string `json:"voice,omitempty"`
}

// handleRealtimeSession upgrades the request to a websocket and bridges it
// to a duplex realtime.Session against the model's provider, per spec
// §4.6. Query parameters: model (required), voice, instructions.
func (s *Server) handleRealtimeSession(w http.ResponseWriter, r *http.Request, auth *AuthContext) {
	model := r.URL.Query().Get("model")
	if model == "" {
		s.writeError(w, http.StatusBadRequest, "invalid_request", "model query parameter is required")
		return
	}

	opts := domain.RealtimeConnectOptions{
		Model:        model,
		Voice:        r.URL.Query().Get("voice"),
		Instructions: r.URL.Query().Get("instructions"),
	}

	tenantSlug := "default"
	if auth != nil && auth.Tenant != nil {
		if slug, ok := auth.Tenant.Metadata["slug"]; ok && slug != "" {
			tenantSlug = slug
		}
	}

	session, sessionID, err := s.gateway.StartRealtimeSession(r.Context(), tenantSlug, model, opts)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "realtime_connect_failed", err.Error())
		return
	}

	conn, err := realtimeUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("realtime: websocket upgrade failed", "error", err, "model", model)
		_ = session.Close()
		s.gateway.LogRealtimeSessionEnd(context.Background(), tenantSlug, model, sessionID)
		return
	}
	defer conn.Close()
	defer session.Close()
	defer s.gateway.LogRealtimeSessionEnd(context.Background(), tenantSlug, model, sessionID)

	clientDone := make(chan struct{})
	go pumpClientToSession(conn, session, clientDone)
	pumpSessionToClient(conn, session)
	<-clientDone
}

// pumpClientToSession reads envelopes off the client websocket and
// forwards them into the session until the client disconnects or the
// session closes.
func pumpClientToSession(conn *websocket.Conn, session *realtime.Session, done chan<- struct{}) {
	defer close(done)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env realtimeClientEnvelope
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}

		frame, err := env.toFrame()
		if err != nil {
			continue
		}
		if frame == nil {
			continue
		}
		if err := session.Send(frame); err != nil {
			return
		}
	}
}

// pumpSessionToClient drains the session's outbound frames, encoding each
// into the client envelope shape, until the session closes.
func pumpSessionToClient(conn *websocket.Conn, session *realtime.Session) {
	for frame := range session.Receive() {
		env, err := fromFrame(frame)
		if err != nil {
			continue
		}
		body, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
			return
		}
	}
}

func (env realtimeClientEnvelope) toFrame() (any, error) {
	switch env.Type {
	case "audio_append":
		audio, err := base64.StdEncoding.DecodeString(env.Audio)
		if err != nil {
			return nil, err
		}
		return realtime.AudioAppendFrame{Audio: audio}, nil
	case "text_input":
		return realtime.TextInputFrame{Text: env.Text}, nil
	case "function_response":
		return realtime.FunctionResponseFrame{CallID: env.CallID, Result: env.Result}, nil
	case "response_request":
		return realtime.ResponseRequestFrame{}, nil
	case "session_update":
		return realtime.SessionUpdateFrame{Instructions: env.Instructions, Voice: env.Voice}, nil
	default:
		return nil, nil
	}
}

func fromFrame(frame any) (realtimeClientEnvelope, error) {
	switch f := frame.(type) {
	case realtime.AudioDeltaFrame:
		return realtimeClientEnvelope{Type: "audio_delta", Audio: base64.StdEncoding.EncodeToString(f.Audio)}, nil
	case realtime.TextDeltaFrame:
		return realtimeClientEnvelope{Type: "text_delta", Text: f.Text}, nil
	case realtime.FunctionCallDeltaFrame:
		return realtimeClientEnvelope{Type: "function_call_delta", CallID: f.CallID, Name: f.Name, ArgumentsDelta: f.ArgumentsDelta}, nil
	case realtime.StatusFrame:
		return realtimeClientEnvelope{Type: "status", State: f.State.String()}, nil
	case realtime.ErrorFrame:
		msg := ""
		if f.Err != nil {
			msg = f.Err.Error()
		}
		return realtimeClientEnvelope{Type: "error", Error: msg}, nil
	default:
		return realtimeClientEnvelope{}, errUnrecognizedFrame
	}
}
