package llm

import (
	"testing"
)

func TestSplitSystem(t *testing.T) {
	system, rest := SplitSystem([]ChatMessage{
		{Role: RoleSystem, Content: "first"},
		{Role: RoleUser, Content: "hi"},
		{Role: RoleSystem, Content: "second"},
		{Role: RoleAssistant, Content: "hello"},
	})
	if system != "first" {
		t.Errorf("expected first system message, got %q", system)
	}
	if len(rest) != 2 || rest[0].Role != RoleUser || rest[1].Role != RoleAssistant {
		t.Errorf("unexpected remainder: %+v", rest)
	}
}

func TestGenerationOptions(t *testing.T) {
	o := GenerationOptions{"model": "gpt-4o", "temperature": 0.2, "tools": "x"}
	if o.Model() != "gpt-4o" {
		t.Errorf("unexpected model %q", o.Model())
	}
	stripped := o.Without("tools")
	if _, ok := stripped["tools"]; ok {
		t.Error("tools should be stripped")
	}
	if _, ok := o["tools"]; !ok {
		t.Error("Without must not modify the receiver")
	}
	if GenerationOptions(nil).Without("x") == nil {
		t.Error("Without on nil should return an empty map")
	}
}

func TestConnectionOptions_ResolveAPIKey(t *testing.T) {
	t.Setenv("CHATBRIDGE_TEST_KEY", "sk-secret")
	c := ConnectionOptions{APIKey: "CHATBRIDGE_TEST_KEY"}
	if c.ResolveAPIKey() != "sk-secret" {
		t.Errorf("expected key from environment")
	}
	if (ConnectionOptions{}).ResolveAPIKey() != "" {
		t.Errorf("empty name should resolve to empty key")
	}
}

func TestProviderError(t *testing.T) {
	inner := &ProviderError{Provider: "OpenAI", Message: "no choices", Cause: `{"choices":[]}`}
	if inner.Error() != "OpenAI: no choices" {
		t.Errorf("unexpected text %q", inner.Error())
	}
}
