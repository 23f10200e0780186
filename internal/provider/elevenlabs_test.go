package provider

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"modelgate/internal/domain"
)

// rewriteTransport redirects every request to target's host/scheme,
// letting tests point a client hardcoded against a public API URL at an
// httptest.Server instead.
type rewriteTransport struct {
	target *url.URL
	base   http.RoundTripper
}

func (rt *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return rt.base.RoundTrip(req)
}

func newTestElevenLabsClient(t *testing.T, handler http.HandlerFunc) (*ElevenLabsClient, func()) {
	t.Helper()
	server := httptest.NewServer(handler)

	client, err := NewElevenLabsClient("test-key")
	if err != nil {
		t.Fatalf("unexpected error constructing client: %v", err)
	}

	target, err := url.Parse(server.URL)
	if err != nil {
		t.Fatalf("unexpected error parsing test server url: %v", err)
	}
	client.httpClient.Transport = &rewriteTransport{target: target, base: http.DefaultTransport}

	return client, server.Close
}

func TestElevenLabsVerifyAuthSucceedsOn200(t *testing.T) {
	client, closeServer := newTestElevenLabsClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user" {
			t.Errorf("expected request to /user, got %s", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "test-key" {
			t.Error("expected xi-api-key header to carry the configured API key")
		}
		w.WriteHeader(http.StatusOK)
	})
	defer closeServer()

	if err := client.VerifyAuth(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestElevenLabsVerifyAuthFailsOnNon200(t *testing.T) {
	client, closeServer := newTestElevenLabsClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte("bad key"))
	})
	defer closeServer()

	if err := client.VerifyAuth(context.Background()); err == nil {
		t.Error("expected an error for a non-200 response")
	}
}

func TestElevenLabsTextToSpeechRequiresVoice(t *testing.T) {
	client, err := NewElevenLabsClient("test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = client.TextToSpeech(context.Background(), domain.TTSRequest{Text: "hi"})
	if err == nil {
		t.Error("expected an error when voice is missing")
	}
}

func TestElevenLabsTextToSpeechReturnsAudioBytes(t *testing.T) {
	client, closeServer := newTestElevenLabsClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/text-to-speech/") {
			t.Errorf("expected request under /text-to-speech/, got %s", r.URL.Path)
		}
		w.Write([]byte("fake-audio-bytes"))
	})
	defer closeServer()

	result, err := client.TextToSpeech(context.Background(), domain.TTSRequest{Text: "hi", Voice: "voice-1", Model: "elevenlabs/eleven_multilingual_v2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.Audio) != "fake-audio-bytes" {
		t.Errorf("expected the response body as audio, got %q", result.Audio)
	}
	if result.CharacterCount != int64(len("hi")) {
		t.Errorf("expected character count %d, got %d", len("hi"), result.CharacterCount)
	}
}

func TestElevenLabsTranscribeParsesTextAndLanguage(t *testing.T) {
	client, closeServer := newTestElevenLabsClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/speech-to-text" {
			t.Errorf("expected request to /speech-to-text, got %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "hello world", "language_code": "en"}`))
	})
	defer closeServer()

	result, err := client.Transcribe(context.Background(), domain.TranscriptionRequest{Audio: []byte("pcm-bytes")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hello world" || result.Language != "en" {
		t.Errorf("unexpected result: %+v", result)
	}
}

func TestElevenLabsRealtimeConnectRequiresAgentID(t *testing.T) {
	client, err := NewElevenLabsClient("test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := client.RealtimeConnect(context.Background(), domain.RealtimeConnectOptions{}); err == nil {
		t.Error("expected an error when Model (agent id) is missing")
	}
}

func TestElevenLabsRealtimeConnectBuildsEndpoint(t *testing.T) {
	client, err := NewElevenLabsClient("test-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	endpoint, err := client.RealtimeConnect(context.Background(), domain.RealtimeConnectOptions{Model: "agent-123"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(endpoint.URL, "agent_id=agent-123") {
		t.Errorf("expected the agent id in the endpoint url, got %s", endpoint.URL)
	}
	if endpoint.Headers["xi-api-key"] != "test-key" {
		t.Error("expected the api key to be attached as a header")
	}
}
