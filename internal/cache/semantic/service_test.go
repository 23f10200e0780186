package semantic

import "testing"

func TestMatchesPatternExactAndSubstring(t *testing.T) {
	cases := []struct {
		prompt, pattern string
		want            bool
	}{
		{"hello world", "hello world", true},
		{"hello world", "HELLO", true},
		{"hello world", "goodbye", false},
		{"", "anything", false},
		{"anything", "", false},
	}
	for _, c := range cases {
		if got := matchesPattern(c.prompt, c.pattern); got != c.want {
			t.Errorf("matchesPattern(%q, %q) = %v, want %v", c.prompt, c.pattern, got, c.want)
		}
	}
}

func TestContainsIgnoreCase(t *testing.T) {
	if !containsIgnoreCase("The Quick Brown Fox", "quick brown") {
		t.Error("expected a case-insensitive substring match")
	}
	if containsIgnoreCase("short", "this is much longer") {
		t.Error("expected no match when substr is longer than s")
	}
}

func TestToLowerOnlyFoldsASCIIUppercase(t *testing.T) {
	if got := toLower("ABC-xyz-123"); got != "abc-xyz-123" {
		t.Errorf("expected %q, got %q", "abc-xyz-123", got)
	}
}

func TestIndexOfFindsFirstOccurrence(t *testing.T) {
	if got := indexOf("abcabc", "bc"); got != 1 {
		t.Errorf("expected index 1, got %d", got)
	}
	if got := indexOf("abc", "xyz"); got != -1 {
		t.Errorf("expected -1 for no match, got %d", got)
	}
}
