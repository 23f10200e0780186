package embedding

import (
	"context"
	"errors"
	"testing"

	"modelgate/internal/domain"
)

type stubEmbedClient struct {
	vectors [][]float32
	err     error
}

func (s *stubEmbedClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.vectors, nil
}

func textMessage(role, text string) domain.Message {
	return domain.Message{Role: role, Content: []domain.ContentBlock{{Type: "text", Text: text}}}
}

func TestNormalizePromptUsesLastUserMessageOnly(t *testing.T) {
	messages := []domain.Message{
		textMessage("user", "first question"),
		textMessage("assistant", "first answer"),
		textMessage("user", "  second question  "),
	}
	got := NormalizePrompt(messages)
	if got != "user:second question" {
		t.Errorf("expected %q, got %q", "user:second question", got)
	}
}

func TestNormalizePromptJoinsOnlyTextBlocks(t *testing.T) {
	messages := []domain.Message{
		{Role: "user", Content: []domain.ContentBlock{
			{Type: "text", Text: "look at "},
			{Type: "image", ImageURL: "http://example.com/x.png"},
			{Type: "text", Text: "this"},
		}},
	}
	if got := NormalizePrompt(messages); got != "user:look at this" {
		t.Errorf("expected %q, got %q", "user:look at this", got)
	}
}

func TestNormalizePromptReturnsEmptyWithoutUserMessage(t *testing.T) {
	messages := []domain.Message{textMessage("assistant", "hi")}
	if got := NormalizePrompt(messages); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestHashPromptIsDeterministicAndDistinct(t *testing.T) {
	a := HashPrompt("user:hello")
	b := HashPrompt("user:hello")
	c := HashPrompt("user:goodbye")
	if a != b {
		t.Error("expected the same input to hash identically")
	}
	if a == c {
		t.Error("expected different inputs to hash differently")
	}
	if len(a) != 64 {
		t.Errorf("expected a 64-char hex sha256 digest, got length %d", len(a))
	}
}

func TestNewEmbeddingServiceDefaultsModel(t *testing.T) {
	svc := NewEmbeddingService(&stubEmbedClient{}, "")
	if svc.model != "nomic-embed-text" {
		t.Errorf("expected the default model, got %q", svc.model)
	}
}

func TestGenerateEmbeddingReturnsVectorFromClient(t *testing.T) {
	svc := NewEmbeddingService(&stubEmbedClient{vectors: [][]float32{{0.1, 0.2, 0.3}}}, "test-model")

	vec, err := svc.GenerateEmbedding(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec.Slice()) != 3 {
		t.Errorf("expected a 3-dimensional vector, got %d", len(vec.Slice()))
	}
}

func TestGenerateEmbeddingRejectsNilClient(t *testing.T) {
	svc := NewEmbeddingService(nil, "test-model")
	if _, err := svc.GenerateEmbedding(context.Background(), "hello"); err == nil {
		t.Error("expected an error with no configured client")
	}
}

func TestGenerateEmbeddingPropagatesClientError(t *testing.T) {
	svc := NewEmbeddingService(&stubEmbedClient{err: errors.New("boom")}, "test-model")
	if _, err := svc.GenerateEmbedding(context.Background(), "hello"); err == nil {
		t.Error("expected the client error to propagate")
	}
}

func TestGenerateEmbeddingRejectsEmptyResult(t *testing.T) {
	svc := NewEmbeddingService(&stubEmbedClient{vectors: [][]float32{}}, "test-model")
	if _, err := svc.GenerateEmbedding(context.Background(), "hello"); err == nil {
		t.Error("expected an error when the client returns no embeddings")
	}
}
