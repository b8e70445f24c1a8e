package types

// Claude SSE event names. The wire framing is
// "event: <name>\ndata: <json>\n\n" and these are the only names emitted.
const (
	EventMessageStart      = "message_start"
	EventContentBlockStart = "content_block_start"
	EventContentBlockDelta = "content_block_delta"
	EventContentBlockStop  = "content_block_stop"
	EventMessageDelta      = "message_delta"
	EventMessageStop       = "message_stop"
	EventPing              = "ping"
	EventError             = "error"
)

// StreamEvent is one outbound Claude SSE event: the name on the event line
// and the payload serialized onto the data line.
type StreamEvent struct {
	Name string
	Data interface{}
}

// MessageStartEvent opens the stream with a synthesized message envelope.
type MessageStartEvent struct {
	Type    string       `json:"type"`
	Message StreamEnvelope `json:"message"`
}

// StreamEnvelope is the message skeleton inside message_start: the
// client-visible model and zero-initialized usage, content filled in by the
// block events that follow.
type StreamEnvelope struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	Role         string    `json:"role"`
	Content      []Content `json:"content"`
	Model        string    `json:"model"`
	StopReason   *string   `json:"stop_reason"`
	StopSequence *string   `json:"stop_sequence"`
	Usage        Usage     `json:"usage"`
}

// ContentBlockStartEvent opens content block Index.
type ContentBlockStartEvent struct {
	Type         string       `json:"type"`
	Index        int          `json:"index"`
	ContentBlock ContentBlock `json:"content_block"`
}

// ContentBlock describes the block being opened. Type selects the fields:
// "text" uses Text, "tool_use" uses ID/Name/Input, "thinking" uses Thinking.
type ContentBlock struct {
	Type     string                 `json:"type"`
	Text     *string                `json:"text,omitempty"`
	ID       string                 `json:"id,omitempty"`
	Name     string                 `json:"name,omitempty"`
	Input    map[string]interface{} `json:"input,omitempty"`
	Thinking *string                `json:"thinking,omitempty"`
}

// ContentBlockDeltaEvent appends to an open block.
type ContentBlockDeltaEvent struct {
	Type  string     `json:"type"`
	Index int        `json:"index"`
	Delta BlockDelta `json:"delta"`
}

// BlockDelta is the delta payload: text_delta carries Text,
// input_json_delta carries PartialJSON, thinking_delta carries Thinking.
type BlockDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
}

// ContentBlockStopEvent closes content block Index.
type ContentBlockStopEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// MessageDeltaEvent carries the stop reason and cumulative usage.
type MessageDeltaEvent struct {
	Type  string           `json:"type"`
	Delta MessageDeltaInfo `json:"delta"`
	Usage MessageDeltaUsage `json:"usage"`
}

// MessageDeltaInfo is the delta body of message_delta.
type MessageDeltaInfo struct {
	StopReason   string  `json:"stop_reason"`
	StopSequence *string `json:"stop_sequence"`
}

// MessageDeltaUsage reports cumulative usage at end of stream.
type MessageDeltaUsage struct {
	InputTokens          int `json:"input_tokens"`
	OutputTokens         int `json:"output_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
}

// MessageStopEvent terminates the stream.
type MessageStopEvent struct {
	Type string `json:"type"`
}

// PingEvent is the SSE keep-alive payload.
type PingEvent struct {
	Type string `json:"type"`
}

// ErrorEvent is the out-of-band error payload appended when an upstream
// failure terminates a stream early.
type ErrorEvent struct {
	Type  string      `json:"type"`
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the Claude-shaped error body used in both HTTP error
// envelopes and stream error events.
type ErrorDetail struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
