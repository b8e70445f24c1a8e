// Package adapter implements the ordered request-rewrite pipeline: prompt
// cleanup, tool-schema cleanup, per-model parameter quirks, and simulated
// tool-call injection. Adapters are pure transforms over the in-flight
// request; the pipeline for a request is assembled once from the model id
// and the resolved directive settings, then applied by the converter.
package adapter

import (
	"strings"

	"claude-gateway/config"
	"claude-gateway/directive"
	"claude-gateway/types"
)

// Model suffixes selecting a simulated-tool backend. The suffix is lexical
// and stripped before the model id is forwarded upstream.
const (
	SuffixXMLTools     = "-xml-tools"
	SuffixBracketTools = "-bracket-tools"
)

// Simulated-tool modes as reported by SimulatedToolMode.
const (
	SimNone    = ""
	SimXML     = "xml"
	SimBracket = "bracket"
)

// SimulatedToolMode returns which textual tool protocol the model id
// selects, or SimNone.
func SimulatedToolMode(model string) string {
	switch {
	case strings.HasSuffix(model, SuffixXMLTools):
		return SimXML
	case strings.HasSuffix(model, SuffixBracketTools):
		return SimBracket
	default:
		return SimNone
	}
}

// StripSimulatedToolSuffix removes a simulated-tool suffix; the remainder
// is the upstream model id.
func StripSimulatedToolSuffix(model string) string {
	model = strings.TrimSuffix(model, SuffixXMLTools)
	return strings.TrimSuffix(model, SuffixBracketTools)
}

// Adapter is one rewrite stage. Implementations embed Base and override
// the hooks they care about; everything else passes through.
type Adapter interface {
	AdaptSystemPrompt(prompt string, req *types.MessagesRequest) string
	AdaptUserPrompt(prompt string, req *types.MessagesRequest) string
	AdaptModel(model string, req *types.MessagesRequest) string
	AdaptTools(tools []types.Tool, req *types.MessagesRequest) []types.Tool
	AdaptToolChoice(choice *types.ToolChoice, req *types.MessagesRequest) *types.ToolChoice
	AdaptToolSchema(schema map[string]interface{}, req *types.MessagesRequest) map[string]interface{}
	AdaptToolDescription(description string, req *types.MessagesRequest) string
	AdaptToolResult(toolName, result string, req *types.MessagesRequest) string
	// AdaptMaxTokens returns the adapted value; 0 omits the field upstream.
	AdaptMaxTokens(maxTokens int, req *types.MessagesRequest) int
	// AdaptMaxCompletionTokens returns a max_completion_tokens value to set
	// instead of max_tokens; 0 leaves the field unset.
	AdaptMaxCompletionTokens(maxTokens int, req *types.MessagesRequest) int
	AdaptMessages(messages []types.ChatMessage, req *types.MessagesRequest) []types.ChatMessage
}

// Base is a no-op Adapter for embedding.
type Base struct{}

func (Base) AdaptSystemPrompt(prompt string, _ *types.MessagesRequest) string { return prompt }
func (Base) AdaptUserPrompt(prompt string, _ *types.MessagesRequest) string   { return prompt }
func (Base) AdaptModel(model string, _ *types.MessagesRequest) string         { return model }
func (Base) AdaptTools(tools []types.Tool, _ *types.MessagesRequest) []types.Tool {
	return tools
}
func (Base) AdaptToolChoice(choice *types.ToolChoice, _ *types.MessagesRequest) *types.ToolChoice {
	return choice
}
func (Base) AdaptToolSchema(schema map[string]interface{}, _ *types.MessagesRequest) map[string]interface{} {
	return schema
}
func (Base) AdaptToolDescription(description string, _ *types.MessagesRequest) string {
	return description
}
func (Base) AdaptToolResult(_, result string, _ *types.MessagesRequest) string { return result }
func (Base) AdaptMaxTokens(maxTokens int, _ *types.MessagesRequest) int        { return maxTokens }
func (Base) AdaptMaxCompletionTokens(_ int, _ *types.MessagesRequest) int      { return 0 }
func (Base) AdaptMessages(messages []types.ChatMessage, _ *types.MessagesRequest) []types.ChatMessage {
	return messages
}

// Pipeline is the assembled adapter chain for one request plus the
// API-selection state derived from directive settings.
type Pipeline struct {
	adapters  []Adapter
	simMode   string
	responses *directive.ResponsesSettings
}

// ForModel assembles the pipeline for a model id and resolved settings.
// Unless default adapters are disabled, the prompt, tools and OpenAI
// reasoning adapters are always registered, the Gemini and Kimi adapters
// only for models they apply to; the tool-simulation adapter is added when
// the model carries a simulation suffix. A registered adapter with nothing
// to do for a request passes values through unchanged.
func ForModel(model string, settings *directive.Settings, cfg *config.Config) *Pipeline {
	p := &Pipeline{simMode: SimulatedToolMode(model)}

	if !cfg.DisableDefaultAdapters {
		p.adapters = append(p.adapters, &DefaultPromptAdapter{})
		p.adapters = append(p.adapters, &DefaultToolsAdapter{})
		if strings.Contains(model, "gemini") {
			p.adapters = append(p.adapters, &GeminiSchemaAdapter{})
		}
		if strings.Contains(model, "moonshotai/kimi-k2-instruct") && !cfg.DisableGroqMaxTokens {
			p.adapters = append(p.adapters, &KimiMaxTokensAdapter{})
		}
		p.adapters = append(p.adapters, &OAIReasoningAdapter{})
	}

	if p.simMode != SimNone {
		p.adapters = append(p.adapters, &ToolSimulationAdapter{Mode: p.simMode})
	}

	if settings != nil && settings.ResponsesEnabled() {
		p.responses = settings.Responses
	}

	return p
}

// SimulatedToolMode reports the active textual tool protocol.
func (p *Pipeline) SimulatedToolMode() string { return p.simMode }

// ResponsesEnabled reports whether the Responses API path is selected.
func (p *Pipeline) ResponsesEnabled() bool { return p.responses != nil }

// ResponsesSettings returns the directive's Responses options, nil when
// the Chat Completions path is active.
func (p *Pipeline) ResponsesSettings() *directive.ResponsesSettings { return p.responses }

// EndpointSuffix is the upstream path appended to OPENAI_BASE_URL.
func (p *Pipeline) EndpointSuffix() string {
	if p.responses != nil {
		return "/responses"
	}
	return "/chat/completions"
}

func (p *Pipeline) AdaptSystemPrompt(prompt string, req *types.MessagesRequest) string {
	for _, a := range p.adapters {
		prompt = a.AdaptSystemPrompt(prompt, req)
	}
	return prompt
}

func (p *Pipeline) AdaptUserPrompt(prompt string, req *types.MessagesRequest) string {
	for _, a := range p.adapters {
		prompt = a.AdaptUserPrompt(prompt, req)
	}
	return prompt
}

func (p *Pipeline) AdaptModel(model string, req *types.MessagesRequest) string {
	for _, a := range p.adapters {
		model = a.AdaptModel(model, req)
	}
	return model
}

func (p *Pipeline) AdaptTools(tools []types.Tool, req *types.MessagesRequest) []types.Tool {
	for _, a := range p.adapters {
		tools = a.AdaptTools(tools, req)
	}
	return tools
}

func (p *Pipeline) AdaptToolChoice(choice *types.ToolChoice, req *types.MessagesRequest) *types.ToolChoice {
	for _, a := range p.adapters {
		choice = a.AdaptToolChoice(choice, req)
	}
	return choice
}

func (p *Pipeline) AdaptToolSchema(schema map[string]interface{}, req *types.MessagesRequest) map[string]interface{} {
	for _, a := range p.adapters {
		schema = a.AdaptToolSchema(schema, req)
	}
	return schema
}

func (p *Pipeline) AdaptToolDescription(description string, req *types.MessagesRequest) string {
	for _, a := range p.adapters {
		description = a.AdaptToolDescription(description, req)
	}
	return description
}

func (p *Pipeline) AdaptToolResult(toolName, result string, req *types.MessagesRequest) string {
	for _, a := range p.adapters {
		result = a.AdaptToolResult(toolName, result, req)
	}
	return result
}

func (p *Pipeline) AdaptMaxTokens(maxTokens int, req *types.MessagesRequest) int {
	for _, a := range p.adapters {
		maxTokens = a.AdaptMaxTokens(maxTokens, req)
		if maxTokens == 0 {
			return 0
		}
	}
	return maxTokens
}

func (p *Pipeline) AdaptMaxCompletionTokens(maxTokens int, req *types.MessagesRequest) int {
	for _, a := range p.adapters {
		if v := a.AdaptMaxCompletionTokens(maxTokens, req); v != 0 {
			return v
		}
	}
	return 0
}

func (p *Pipeline) AdaptMessages(messages []types.ChatMessage, req *types.MessagesRequest) []types.ChatMessage {
	for _, a := range p.adapters {
		messages = a.AdaptMessages(messages, req)
	}
	return messages
}
