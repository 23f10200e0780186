package realtime

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"modelgate/internal/domain"
)

func TestOpenAITranslatorEncodeAudioAppend(t *testing.T) {
	tr := OpenAITranslator{}

	_, payload, err := tr.EncodeSend(AudioAppendFrame{Audio: []byte("hello")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var event map[string]any
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if event["type"] != "input_audio_buffer.append" {
		t.Errorf("expected input_audio_buffer.append, got %v", event["type"])
	}
	if event["audio"] != base64.StdEncoding.EncodeToString([]byte("hello")) {
		t.Errorf("expected base64-encoded audio, got %v", event["audio"])
	}
}

func TestOpenAITranslatorDecodeAudioDelta(t *testing.T) {
	tr := OpenAITranslator{}
	audio := []byte("chunk")
	payload, _ := json.Marshal(map[string]any{
		"type":  "response.audio.delta",
		"delta": base64.StdEncoding.EncodeToString(audio),
	})

	frames, err := tr.DecodeReceive(1, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	delta, ok := frames[0].(AudioDeltaFrame)
	if !ok {
		t.Fatalf("expected AudioDeltaFrame, got %T", frames[0])
	}
	if string(delta.Audio) != "chunk" {
		t.Errorf("expected decoded audio %q, got %q", "chunk", delta.Audio)
	}
}

func TestOpenAITranslatorDecodeUnknownEventIsDropped(t *testing.T) {
	tr := OpenAITranslator{}
	payload, _ := json.Marshal(map[string]any{"type": "response.created"})

	frames, err := tr.DecodeReceive(1, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if frames != nil {
		t.Errorf("expected no frames for an unrecognized event, got %v", frames)
	}
}

func TestOpenAITranslatorDecodeError(t *testing.T) {
	tr := OpenAITranslator{}
	payload, _ := json.Marshal(map[string]any{
		"type":  "error",
		"error": map[string]any{"message": "bad request"},
	})

	frames, err := tr.DecodeReceive(1, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	if _, ok := frames[0].(ErrorFrame); !ok {
		t.Fatalf("expected ErrorFrame, got %T", frames[0])
	}
}

func TestOpenAITranslatorSessionUpdateInitMessage(t *testing.T) {
	tr := OpenAITranslator{}
	messages, err := tr.InitMessages(domain.RealtimeConnectOptions{Instructions: "be terse", Voice: "alloy"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(messages) != 1 {
		t.Fatalf("expected 1 init message, got %d", len(messages))
	}

	var event map[string]any
	if err := json.Unmarshal(messages[0], &event); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if event["type"] != "session.update" {
		t.Errorf("expected session.update, got %v", event["type"])
	}
}

func TestElevenLabsTranslatorEncodeAudioAppend(t *testing.T) {
	tr := ElevenLabsTranslator{}

	_, payload, err := tr.EncodeSend(AudioAppendFrame{Audio: []byte("hi")})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var event map[string]any
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if event["user_audio_chunk"] != base64.StdEncoding.EncodeToString([]byte("hi")) {
		t.Errorf("expected base64-encoded chunk, got %v", event["user_audio_chunk"])
	}
}

func TestElevenLabsTranslatorResponseRequestIsNoOp(t *testing.T) {
	tr := ElevenLabsTranslator{}

	_, payload, err := tr.EncodeSend(ResponseRequestFrame{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload != nil {
		t.Errorf("expected no payload for ElevenLabs' auto-response behavior, got %s", payload)
	}
}

func TestElevenLabsTranslatorSessionUpdateUnsupported(t *testing.T) {
	tr := ElevenLabsTranslator{}

	_, _, err := tr.EncodeSend(SessionUpdateFrame{Instructions: "x"})
	if err == nil {
		t.Fatal("expected an error for mid-session instructions update")
	}
}

func TestElevenLabsTranslatorDecodeAgentResponse(t *testing.T) {
	tr := ElevenLabsTranslator{}
	payload, _ := json.Marshal(map[string]any{
		"type":                 "agent_response",
		"agent_response_event": map[string]any{"agent_response": "hello there"},
	})

	frames, err := tr.DecodeReceive(1, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(frames))
	}
	text, ok := frames[0].(TextDeltaFrame)
	if !ok {
		t.Fatalf("expected TextDeltaFrame, got %T", frames[0])
	}
	if text.Text != "hello there" {
		t.Errorf("expected %q, got %q", "hello there", text.Text)
	}
}

func TestSessionStateString(t *testing.T) {
	cases := map[SessionState]string{
		StateConnecting: "connecting",
		StateConnected:  "connected",
		StateClosing:    "closing",
		StateClosed:     "closed",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("state %d: expected %q, got %q", state, want, got)
		}
	}
}
