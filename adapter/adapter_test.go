package adapter

import (
	"testing"

	"claude-gateway/config"
	"claude-gateway/directive"
	"claude-gateway/types"
)

func testConfig() *config.Config {
	return &config.Config{}
}

func TestSimulatedToolMode(t *testing.T) {
	tests := []struct {
		model string
		mode  string
	}{
		{"openai/gpt-4.1-xml-tools", SimXML},
		{"foo-bracket-tools", SimBracket},
		{"openai/gpt-4.1", SimNone},
		{"xml-tools-model", SimNone},
	}
	for _, tt := range tests {
		if got := SimulatedToolMode(tt.model); got != tt.mode {
			t.Errorf("SimulatedToolMode(%q) = %q, want %q", tt.model, got, tt.mode)
		}
	}
}

func TestStripSimulatedToolSuffix(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"openai/gpt-4.1-xml-tools", "openai/gpt-4.1"},
		{"foo-bracket-tools", "foo"},
		{"openai/gpt-4.1", "openai/gpt-4.1"},
	}
	for _, tt := range tests {
		if got := StripSimulatedToolSuffix(tt.model); got != tt.want {
			t.Errorf("StripSimulatedToolSuffix(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}

func TestForModelDisableDefaults(t *testing.T) {
	cfg := testConfig()
	cfg.DisableDefaultAdapters = true
	pipe := ForModel("google/gemini-2.5-pro", &directive.Settings{}, cfg)
	if len(pipe.adapters) != 0 {
		t.Errorf("expected no adapters with defaults disabled, got %d", len(pipe.adapters))
	}
}

func TestForModelGeminiGetsSchemaAdapter(t *testing.T) {
	pipe := ForModel("google/gemini-2.5-pro", &directive.Settings{}, testConfig())
	found := false
	for _, a := range pipe.adapters {
		if _, ok := a.(*GeminiSchemaAdapter); ok {
			found = true
		}
	}
	if !found {
		t.Error("gemini models must get the schema adapter")
	}

	pipe = ForModel("openai/gpt-4.1", &directive.Settings{}, testConfig())
	for _, a := range pipe.adapters {
		if _, ok := a.(*GeminiSchemaAdapter); ok {
			t.Error("non-gemini models must not get the schema adapter")
		}
	}
}

func TestForModelKimiRespectsDisable(t *testing.T) {
	hasKimi := func(p *Pipeline) bool {
		for _, a := range p.adapters {
			if _, ok := a.(*KimiMaxTokensAdapter); ok {
				return true
			}
		}
		return false
	}

	if !hasKimi(ForModel("moonshotai/kimi-k2-instruct", &directive.Settings{}, testConfig())) {
		t.Error("kimi model must get the max_tokens clamp")
	}
	cfg := testConfig()
	cfg.DisableGroqMaxTokens = true
	if hasKimi(ForModel("moonshotai/kimi-k2-instruct", &directive.Settings{}, cfg)) {
		t.Error("DISABLE_GROQ_MAX_TOKENS must remove the clamp")
	}
}

func TestForModelEndpointSuffix(t *testing.T) {
	pipe := ForModel("m", &directive.Settings{}, testConfig())
	if pipe.EndpointSuffix() != "/chat/completions" {
		t.Errorf("default endpoint must be /chat/completions, got %q", pipe.EndpointSuffix())
	}

	enable := true
	pipe = ForModel("m", &directive.Settings{Responses: &directive.ResponsesSettings{Enable: &enable}}, testConfig())
	if pipe.EndpointSuffix() != "/responses" {
		t.Errorf("responses directive must switch the endpoint, got %q", pipe.EndpointSuffix())
	}
	if !pipe.ResponsesEnabled() {
		t.Error("ResponsesEnabled must report true")
	}
}

func TestPipelineMaxTokensShortCircuit(t *testing.T) {
	req := &types.MessagesRequest{Model: "o3"}
	pipe := ForModel("o3", &directive.Settings{}, testConfig())
	if got := pipe.AdaptMaxTokens(9000, req); got != 0 {
		t.Errorf("reasoning models must omit max_tokens, got %d", got)
	}
	if got := pipe.AdaptMaxCompletionTokens(9000, req); got != 9000 {
		t.Errorf("reasoning models must carry max_completion_tokens, got %d", got)
	}
}
