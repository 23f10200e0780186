package realtime

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"modelgate/internal/domain"
)

// Translator converts between the session's canonical frame types and
// one provider's wire protocol. Every provider-specific detail (field
// names, message envelopes, event type strings) lives behind this
// boundary so Session never branches on provider.
type Translator interface {
	// Subprotocols returns the websocket subprotocols to negotiate, if
	// the provider's handshake needs any.
	Subprotocols() []string

	// InitMessages returns the wire messages to send immediately after
	// connecting, before any caller frame (e.g. OpenAI's session.update,
	// ElevenLabs' conversation initiation payload).
	InitMessages(opts domain.RealtimeConnectOptions) ([][]byte, error)

	// EncodeSend turns a canonical inbound frame into a wire message and
	// the websocket message type (websocket.TextMessage or BinaryMessage)
	// to send it as.
	EncodeSend(frame any) (messageType int, payload []byte, err error)

	// DecodeReceive turns one received wire message into zero or more
	// canonical outbound frames (a single provider event sometimes maps
	// to none, e.g. a heartbeat, or several).
	DecodeReceive(messageType int, payload []byte) ([]any, error)
}

// OpenAITranslator speaks OpenAI's realtime API event protocol
// (session.update / input_audio_buffer.append / response.create on
// send; response.audio.delta / response.text.delta /
// response.function_call_arguments.delta / error on receive).
type OpenAITranslator struct{}

func (OpenAITranslator) Subprotocols() []string { return nil }

func (OpenAITranslator) InitMessages(opts domain.RealtimeConnectOptions) ([][]byte, error) {
	update := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"instructions": opts.Instructions,
			"voice":        opts.Voice,
		},
	}
	body, err := json.Marshal(update)
	if err != nil {
		return nil, fmt.Errorf("openai realtime: encode session.update: %w", err)
	}
	return [][]byte{body}, nil
}

func (OpenAITranslator) EncodeSend(frame any) (int, []byte, error) {
	var event map[string]any

	switch f := frame.(type) {
	case AudioAppendFrame:
		event = map[string]any{
			"type":  "input_audio_buffer.append",
			"audio": base64.StdEncoding.EncodeToString(f.Audio),
		}
	case TextInputFrame:
		event = map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type": "message",
				"role": "user",
				"content": []map[string]any{
					{"type": "input_text", "text": f.Text},
				},
			},
		}
	case FunctionResponseFrame:
		result, err := json.Marshal(f.Result)
		if err != nil {
			return 0, nil, fmt.Errorf("openai realtime: encode function result: %w", err)
		}
		event = map[string]any{
			"type": "conversation.item.create",
			"item": map[string]any{
				"type":    "function_call_output",
				"call_id": f.CallID,
				"output":  string(result),
			},
		}
	case ResponseRequestFrame:
		event = map[string]any{"type": "response.create"}
	case SessionUpdateFrame:
		event = map[string]any{
			"type": "session.update",
			"session": map[string]any{
				"instructions": f.Instructions,
				"voice":        f.Voice,
			},
		}
	default:
		return 0, nil, fmt.Errorf("openai realtime: unsupported frame %T", frame)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return 0, nil, fmt.Errorf("openai realtime: encode event: %w", err)
	}
	return websocket.TextMessage, body, nil
}

func (OpenAITranslator) DecodeReceive(messageType int, payload []byte) ([]any, error) {
	if messageType != websocket.TextMessage {
		return nil, nil
	}

	var envelope struct {
		Type  string `json:"type"`
		Delta string `json:"delta"`
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
		CallID string `json:"call_id"`
		Name   string `json:"name"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("openai realtime: decode event: %w", err)
	}

	switch envelope.Type {
	case "response.audio.delta":
		audio, err := base64.StdEncoding.DecodeString(envelope.Delta)
		if err != nil {
			return nil, fmt.Errorf("openai realtime: decode audio delta: %w", err)
		}
		return []any{AudioDeltaFrame{Audio: audio}}, nil
	case "response.text.delta", "response.audio_transcript.delta":
		return []any{TextDeltaFrame{Text: envelope.Delta}}, nil
	case "response.function_call_arguments.delta":
		return []any{FunctionCallDeltaFrame{CallID: envelope.CallID, Name: envelope.Name, ArgumentsDelta: envelope.Delta}}, nil
	case "error":
		return []any{ErrorFrame{Err: fmt.Errorf("openai realtime: %s", envelope.Error.Message)}}, nil
	default:
		// Events the session core doesn't surface (e.g. response.created,
		// input_audio_buffer.speech_started) are silently dropped.
		return nil, nil
	}
}

// ElevenLabsTranslator speaks ElevenLabs' conversational-AI websocket
// protocol (conversation_initiation_client_data on connect;
// user_audio_chunk / user_transcript on send; audio / agent_response on
// receive).
type ElevenLabsTranslator struct{}

func (ElevenLabsTranslator) Subprotocols() []string { return nil }

func (ElevenLabsTranslator) InitMessages(opts domain.RealtimeConnectOptions) ([][]byte, error) {
	init := map[string]any{
		"type": "conversation_initiation_client_data",
		"conversation_config_override": map[string]any{
			"agent": map[string]any{
				"prompt": map[string]any{"prompt": opts.Instructions},
			},
			"tts": map[string]any{"voice_id": opts.Voice},
		},
	}
	body, err := json.Marshal(init)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs realtime: encode init: %w", err)
	}
	return [][]byte{body}, nil
}

func (ElevenLabsTranslator) EncodeSend(frame any) (int, []byte, error) {
	var event map[string]any

	switch f := frame.(type) {
	case AudioAppendFrame:
		event = map[string]any{
			"user_audio_chunk": base64.StdEncoding.EncodeToString(f.Audio),
		}
	case TextInputFrame:
		event = map[string]any{"type": "user_message", "text": f.Text}
	case FunctionResponseFrame:
		event = map[string]any{
			"type":         "client_tool_result",
			"tool_call_id": f.CallID,
			"result":       f.Result,
		}
	case ResponseRequestFrame:
		// ElevenLabs responds automatically once it detects end-of-turn;
		// there's no explicit "generate now" event to send.
		return 0, nil, nil
	case SessionUpdateFrame:
		return 0, nil, fmt.Errorf("elevenlabs realtime: mid-session instructions update is not supported")
	default:
		return 0, nil, fmt.Errorf("elevenlabs realtime: unsupported frame %T", frame)
	}

	body, err := json.Marshal(event)
	if err != nil {
		return 0, nil, fmt.Errorf("elevenlabs realtime: encode event: %w", err)
	}
	return websocket.TextMessage, body, nil
}

func (ElevenLabsTranslator) DecodeReceive(messageType int, payload []byte) ([]any, error) {
	if messageType != websocket.TextMessage {
		return nil, nil
	}

	var envelope struct {
		Type       string `json:"type"`
		AudioEvent struct {
			AudioBase64 string `json:"audio_base_64"`
		} `json:"audio_event"`
		AgentResponseEvent struct {
			AgentResponse string `json:"agent_response"`
		} `json:"agent_response_event"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("elevenlabs realtime: decode event: %w", err)
	}

	switch envelope.Type {
	case "audio":
		audio, err := base64.StdEncoding.DecodeString(envelope.AudioEvent.AudioBase64)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs realtime: decode audio event: %w", err)
		}
		return []any{AudioDeltaFrame{Audio: audio}}, nil
	case "agent_response":
		return []any{TextDeltaFrame{Text: envelope.AgentResponseEvent.AgentResponse}}, nil
	default:
		return nil, nil
	}
}
