package types

import "encoding/json"

// MessagesRequest represents a complete incoming request on the Anthropic
// Messages surface, containing everything the gateway needs to rewrite and
// forward the conversation to an OpenAI-compatible upstream.
//
// The request structure supports:
//   - Multi-turn conversations through the Messages field
//   - Tool/function calling through the Tools and ToolChoice fields
//   - System-level instructions (plain string or content block list)
//   - Streaming and non-streaming response modes
//   - Sampling controls (MaxTokens, Temperature, TopP, StopSequences)
//   - Extended thinking via the Thinking field
//
// Fields the gateway does not understand are dropped on decode rather than
// rejected, so newer clients keep working against older gateway builds.
type MessagesRequest struct {
	Model         string          `json:"model"`
	Messages      []Message       `json:"messages"`
	System        interface{}     `json:"system,omitempty"` // string or []SystemContent
	Tools         []Tool          `json:"tools,omitempty"`
	ToolChoice    *ToolChoice     `json:"tool_choice,omitempty"`
	MaxTokens     int             `json:"max_tokens,omitempty"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	Thinking      *Thinking       `json:"thinking,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"` // accepted from clients, dropped before forwarding
}

// MessagesResponse represents a complete non-streaming response sent back to
// the client, formatted per the Anthropic Messages specification.
type MessagesResponse struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Role         string    `json:"role"`
	Model        string    `json:"model"`
	Content      []Content `json:"content"`
	StopReason   string    `json:"stop_reason"`
	StopSequence *string   `json:"stop_sequence"`
	Usage        Usage     `json:"usage"`
}

// Message is a single conversation turn. Content is either a plain string or
// an ordered list of content blocks; use Blocks to get the normalized form.
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // string or []Content
}

// SystemContent is one entry of a structured system prompt. Type is "text"
// for standard instructions.
type SystemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Content represents an individual content block within a message. The Type
// discriminator selects which of the remaining fields are meaningful:
//
//	text        Text
//	image       Source
//	tool_use    ID, Name, Input
//	tool_result ToolUseID, Content (string or []Content), IsError
//	thinking    Thinking, Signature
type Content struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`

	// Image fields
	Source *ImageSource `json:"source,omitempty"`

	// Tool use fields
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// Tool result fields
	ToolUseID string      `json:"tool_use_id,omitempty"`
	Content   interface{} `json:"content,omitempty"` // string or []Content
	IsError   bool        `json:"is_error,omitempty"`

	// Thinking fields
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ImageSource carries image data for an image block. Type is "base64" or
// "url"; Data holds the base64 payload, URL the remote location.
type ImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// Tool is a tool definition in Anthropic format. InputSchema is kept as a
// raw JSON Schema object so adapter rewrites (schema scrubbing, $ref
// inlining) can walk arbitrary nesting without loss.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// ToolChoice controls how the model may use tools. Type is one of
// "auto", "any", "tool" (with Name set), or "none".
type ToolChoice struct {
	Type string `json:"type"`
	Name string `json:"name,omitempty"`
}

// Thinking enables extended thinking with an optional token budget.
type Thinking struct {
	Type         string `json:"type"`
	BudgetTokens int    `json:"budget_tokens,omitempty"`
}

// Usage represents token consumption for one request/response cycle.
// CacheReadInputTokens surfaces upstream prompt-cache hits when the
// upstream reports them.
type Usage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

// CountTokensResponse is the reply shape of the count_tokens endpoint.
type CountTokensResponse struct {
	InputTokens int `json:"input_tokens"`
}

// IsStringContent reports whether the message carries plain string content.
func (m *Message) IsStringContent() bool {
	_, ok := m.Content.(string)
	return ok
}

// TextContent returns the message content as a string when it is one.
func (m *Message) TextContent() (string, bool) {
	s, ok := m.Content.(string)
	return s, ok
}

// Blocks returns the message content normalized to a block list. Plain
// string content becomes a single text block. Blocks that fail to decode
// are reported through the error return, not silently dropped.
func (m *Message) Blocks() ([]Content, error) {
	return decodeBlocks(m.Content)
}

// decodeBlocks normalizes string-or-array content via a JSON round trip.
// The inbound decoder leaves nested unions as map[string]interface{}, so
// re-marshaling is the reliable way to land them in typed blocks.
func decodeBlocks(v interface{}) ([]Content, error) {
	switch content := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []Content{{Type: "text", Text: content}}, nil
	case []Content:
		return content, nil
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var blocks []Content
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil, err
		}
		return blocks, nil
	}
}

// ToolResultBlocks returns a tool_result's nested content as a block list,
// or a single text block when the content is a plain string.
func (c *Content) ToolResultBlocks() ([]Content, error) {
	return decodeBlocks(c.Content)
}

// ToolResultText flattens a tool_result's content into a single string,
// joining nested text blocks with newlines. Non-text nested blocks are
// serialized as JSON so nothing is lost on the way upstream.
func (c *Content) ToolResultText() string {
	if s, ok := c.Content.(string); ok {
		return s
	}
	blocks, err := c.ToolResultBlocks()
	if err != nil || len(blocks) == 0 {
		raw, _ := json.Marshal(c.Content)
		return string(raw)
	}
	var out string
	for _, block := range blocks {
		var piece string
		if block.Type == "text" {
			piece = block.Text
		} else {
			raw, _ := json.Marshal(block)
			piece = string(raw)
		}
		if out != "" && piece != "" {
			out += "\n"
		}
		out += piece
	}
	return out
}

// SystemBlocks returns the request's system prompt normalized to a list of
// text entries. A plain string system prompt becomes a single entry.
func (r *MessagesRequest) SystemBlocks() ([]SystemContent, error) {
	switch system := r.System.(type) {
	case nil:
		return nil, nil
	case string:
		return []SystemContent{{Type: "text", Text: system}}, nil
	case []SystemContent:
		return system, nil
	default:
		raw, err := json.Marshal(system)
		if err != nil {
			return nil, err
		}
		var blocks []SystemContent
		if err := json.Unmarshal(raw, &blocks); err != nil {
			return nil, err
		}
		return blocks, nil
	}
}

// SystemText concatenates all text entries of the system prompt with
// newlines. Empty when no system prompt is present.
func (r *MessagesRequest) SystemText() string {
	blocks, err := r.SystemBlocks()
	if err != nil {
		return ""
	}
	var out string
	for _, block := range blocks {
		if block.Type != "text" || block.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += block.Text
	}
	return out
}

// SetSystemText replaces the system prompt while preserving its original
// shape: string stays string, anything else becomes a single text block.
func (r *MessagesRequest) SetSystemText(text string) {
	if _, ok := r.System.(string); ok || r.System == nil {
		r.System = text
		return
	}
	r.System = []SystemContent{{Type: "text", Text: text}}
}

// FindToolNameByID looks up the tool name for a tool_use id anywhere in the
// conversation history. Used when folding tool results back into textual
// protocols that address tools by name rather than call id.
func (r *MessagesRequest) FindToolNameByID(toolUseID string) string {
	for _, msg := range r.Messages {
		if msg.Role != "assistant" {
			continue
		}
		blocks, err := msg.Blocks()
		if err != nil {
			continue
		}
		for _, block := range blocks {
			if block.Type == "tool_use" && block.ID == toolUseID {
				return block.Name
			}
		}
	}
	return ""
}
