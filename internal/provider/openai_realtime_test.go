package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"modelgate/internal/domain"
)

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, func()) {
	t.Helper()
	server := httptest.NewServer(handler)

	client, err := NewOpenAIClient("test-key", server.URL)
	if err != nil {
		t.Fatalf("unexpected error constructing client: %v", err)
	}
	return client, server.Close
}

func TestOpenAIRealtimeConnectMintsEphemeralSecret(t *testing.T) {
	client, closeServer := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/realtime/sessions" {
			t.Errorf("expected request to /realtime/sessions, got %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Error("expected the raw api key on the session-minting request")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"client_secret": {"value": "ephemeral-secret"}}`))
	})
	defer closeServer()

	endpoint, err := client.RealtimeConnect(context.Background(), domain.RealtimeConnectOptions{
		Model: "gpt-4o-realtime-preview",
		Voice: "alloy",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if endpoint.Headers["Authorization"] != "Bearer ephemeral-secret" {
		t.Errorf("expected the websocket handshake to use the ephemeral secret, got %q", endpoint.Headers["Authorization"])
	}
	if endpoint.Headers["OpenAI-Beta"] != "realtime=v1" {
		t.Error("expected the OpenAI-Beta header to be set")
	}
	found := false
	for _, sub := range endpoint.Subprotocols {
		if sub == "openai-insecure-api-key.ephemeral-secret" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a subprotocol carrying the ephemeral secret, got %v", endpoint.Subprotocols)
	}
}

func TestOpenAIRealtimeConnectDefaultsModel(t *testing.T) {
	var sawModel string
	client, closeServer := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Model string `json:"model"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		sawModel = body.Model
		w.Write([]byte(`{"client_secret": {"value": "s"}}`))
	})
	defer closeServer()

	if _, err := client.RealtimeConnect(context.Background(), domain.RealtimeConnectOptions{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sawModel != "gpt-4o-realtime-preview" {
		t.Errorf("expected the default model to be used, got %q", sawModel)
	}
}

func TestOpenAIRealtimeConnectReturnsGatewayErrorOnNon200(t *testing.T) {
	client, closeServer := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error": "no access"}`))
	})
	defer closeServer()

	if _, err := client.RealtimeConnect(context.Background(), domain.RealtimeConnectOptions{Model: "gpt-4o-realtime-preview"}); err == nil {
		t.Error("expected an error on a non-200 session response")
	}
}
