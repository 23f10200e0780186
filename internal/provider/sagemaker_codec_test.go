package provider

import (
	"strings"
	"testing"

	"modelgate/internal/domain"
)

func TestOpenAIChatCodecEncodeRequestIncludesSystemPromptAndMessages(t *testing.T) {
	codec := OpenAIChatCodec{}
	maxTokens := int32(256)
	req := &domain.ChatRequest{
		SystemPrompt: "be terse",
		Messages: []domain.Message{
			{Role: "user", Content: []domain.ContentBlock{{Type: "text", Text: "hi"}}},
		},
		MaxTokens: &maxTokens,
	}

	body, err := codec.EncodeRequest(req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body == nil {
		t.Fatal("expected a non-nil encoded body")
	}
	if !strings.Contains(string(body), `"be terse"`) || !strings.Contains(string(body), `"hi"`) {
		t.Errorf("expected both system prompt and message text in the payload, got %s", body)
	}
	if !strings.Contains(string(body), `"max_tokens":256`) {
		t.Errorf("expected max_tokens to be encoded, got %s", body)
	}
}

func TestOpenAIChatCodecDecodeResponseParsesChoiceAndUsage(t *testing.T) {
	codec := OpenAIChatCodec{}
	body := []byte(`{
		"choices": [{"message": {"content": "hello there"}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`)

	resp, err := codec.DecodeResponse("custom-model", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello there" {
		t.Errorf("expected decoded content %q, got %q", "hello there", resp.Content)
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("expected total tokens 15, got %d", resp.Usage.TotalTokens)
	}
	if resp.FinishReason != domain.FinishReasonStop {
		t.Errorf("expected finish reason stop, got %s", resp.FinishReason)
	}
}

func TestOpenAIChatCodecDecodeResponseMapsLengthFinishReason(t *testing.T) {
	codec := OpenAIChatCodec{}
	body := []byte(`{"choices": [{"message": {"content": "cut off"}, "finish_reason": "length"}]}`)

	resp, err := codec.DecodeResponse("custom-model", body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.FinishReason != domain.FinishReasonLength {
		t.Errorf("expected finish reason length, got %s", resp.FinishReason)
	}
}

func TestOpenAIChatCodecDecodeResponseRejectsInvalidJSON(t *testing.T) {
	codec := OpenAIChatCodec{}
	if _, err := codec.DecodeResponse("m", []byte("not json")); err == nil {
		t.Error("expected an error decoding malformed json")
	}
}

func TestMessageTextJoinsOnlyTextBlocks(t *testing.T) {
	msg := domain.Message{Content: []domain.ContentBlock{
		{Type: "text", Text: "hello "},
		{Type: "image", ImageURL: "http://example.com/x.png"},
		{Type: "text", Text: "world"},
	}}
	if got := messageText(msg); got != "hello world" {
		t.Errorf("expected %q, got %q", "hello world", got)
	}
}
