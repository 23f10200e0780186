package provider

import "testing"

func TestOpenRouterClientSupportsModelRequiresOrgPrefix(t *testing.T) {
	client, err := NewOpenRouterClient("test-key", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !client.SupportsModel("openrouter/anthropic/claude-3.5-sonnet") {
		t.Error("expected an org/model id to still be org-qualified after stripping the routing prefix")
	}
	if client.SupportsModel("openrouter/gpt-4o") {
		t.Error("expected a bare (non org-qualified) model id to be rejected")
	}
	if client.SupportsModel("gpt-4o") {
		t.Error("expected an unqualified model name to be rejected")
	}
}

func TestMiniMaxClientSupportsModelChecksPrefix(t *testing.T) {
	client, err := NewMiniMaxClient("test-key", "group-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, model := range []string{"abab6.5s-chat", "MiniMax-Text-01"} {
		if !client.SupportsModel(model) {
			t.Errorf("expected %q to be supported", model)
		}
	}
	if client.SupportsModel("gpt-4o") {
		t.Error("expected a non-minimax model to be rejected")
	}
}
