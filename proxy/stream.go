package proxy

import (
	"encoding/json"
	"strings"

	"claude-gateway/adapter"
	"claude-gateway/parser"
	"claude-gateway/types"
)

// streamTranslator is the SSE state machine: it consumes upstream chunks
// and produces Claude events, one call at a time, with no I/O of its own.
// The surrounding pump owns reading, writing, pings, and cancellation.
//
// Lifecycle invariants it maintains:
//   - message_start precedes everything, message_stop ends everything
//   - block indices start at 0, increase monotonically, and are never reused
//   - every opened block is closed exactly once, in reverse open order at
//     finish for whatever is still open
//   - text and thinking are mutually exclusive open blocks; both close
//     before the first tool block opens
type streamTranslator struct {
	messageID string
	model     string

	simMode    string
	simScanner parser.Scanner
	think      *thinkScanner

	nextIndex int

	// openKind tracks the active prose block: "", "text" or "thinking".
	openKind  string
	openIndex int

	toolBlocks   map[int]*toolBlockState // upstream tool_calls index → state
	openOrder    []int                   // local indices in open order
	toolsStarted bool

	usage        types.Usage
	finishReason *string
	finished     bool
}

type toolBlockState struct {
	localIndex  int
	id          string
	name        string
	pendingArgs string
	started     bool
}

// newStreamTranslator builds the per-request translator. clientModel is
// echoed in message_start; toolNames feed the simulated-tool scanner.
func newStreamTranslator(messageID, clientModel, simMode string, toolNames []string) *streamTranslator {
	t := &streamTranslator{
		messageID:  messageID,
		model:      clientModel,
		simMode:    simMode,
		think:      &thinkScanner{},
		toolBlocks: map[int]*toolBlockState{},
	}
	switch simMode {
	case adapter.SimXML:
		t.simScanner = parser.NewXMLScanner(toolNames)
	case adapter.SimBracket:
		t.simScanner = parser.NewBracketScanner(toolNames)
	}
	return t
}

// Start emits the opening events. The envelope goes out before the first
// upstream byte arrives, which hides upstream first-byte latency from the
// client and leaves room for a connection-level retry behind the scenes.
func (t *streamTranslator) Start() []types.StreamEvent {
	return []types.StreamEvent{
		{
			Name: types.EventMessageStart,
			Data: types.MessageStartEvent{
				Type: types.EventMessageStart,
				Message: types.StreamEnvelope{
					ID:      t.messageID,
					Type:    "message",
					Role:    "assistant",
					Content: []types.Content{},
					Model:   t.model,
					Usage:   types.Usage{},
				},
			},
		},
		{Name: types.EventPing, Data: types.PingEvent{Type: types.EventPing}},
	}
}

// HandleChunk processes one upstream chunk into zero or more events.
func (t *streamTranslator) HandleChunk(chunk *types.StreamChunk) []types.StreamEvent {
	if t.finished {
		return nil
	}
	if chunk.Usage != nil {
		t.updateUsage(chunk.Usage)
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := &chunk.Choices[0]

	var events []types.StreamEvent

	if reasoning := choice.Delta.ReasoningText(); reasoning != "" {
		events = append(events, t.handleThinkingDelta(reasoning)...)
	}
	if choice.Delta.Content != "" {
		events = append(events, t.handleTextDelta(choice.Delta.Content)...)
	}
	for i := range choice.Delta.ToolCalls {
		events = append(events, t.handleToolCallDelta(&choice.Delta.ToolCalls[i])...)
	}
	if choice.FinishReason != nil && *choice.FinishReason != "" {
		reason := *choice.FinishReason
		t.finishReason = &reason
	}
	return events
}

// updateUsage keeps counters monotonic even if the upstream reports
// partial usage along the way.
func (t *streamTranslator) updateUsage(usage *types.ChatUsage) {
	if usage.PromptTokens > t.usage.InputTokens {
		t.usage.InputTokens = usage.PromptTokens
	}
	if usage.CompletionTokens > t.usage.OutputTokens {
		t.usage.OutputTokens = usage.CompletionTokens
	}
	if details := usage.PromptTokensDetails; details != nil && details.CachedTokens > t.usage.CacheReadInputTokens {
		t.usage.CacheReadInputTokens = details.CachedTokens
	}
}

// Finish closes every open block in reverse open order and terminates the
// message. Safe to call once, at [DONE], upstream EOF, or upstream error.
func (t *streamTranslator) Finish() []types.StreamEvent {
	if t.finished {
		return nil
	}
	t.finished = true

	var events []types.StreamEvent
	var simCalls []parser.ToolCall
	if t.simScanner != nil {
		var text string
		text, simCalls = t.simScanner.Finalize()
		events = append(events, t.emitScannedText(text)...)
	}
	events = append(events, t.emitThinkSegments(t.think.Finalize())...)
	for i := range simCalls {
		events = append(events, t.emitSimulatedCall(&simCalls[i])...)
	}

	events = append(events, t.closeAllOpen()...)

	stopReason := mapFinishReason(t.finishReason)
	if t.toolsStarted {
		// Some upstreams report end_turn after streamed tool calls; the
		// client needs tool_use to continue the loop.
		stopReason = "tool_use"
	}
	events = append(events,
		types.StreamEvent{
			Name: types.EventMessageDelta,
			Data: types.MessageDeltaEvent{
				Type:  types.EventMessageDelta,
				Delta: types.MessageDeltaInfo{StopReason: stopReason},
				Usage: types.MessageDeltaUsage{
					InputTokens:          t.usage.InputTokens,
					OutputTokens:         t.usage.OutputTokens,
					CacheReadInputTokens: t.usage.CacheReadInputTokens,
				},
			},
		},
		types.StreamEvent{
			Name: types.EventMessageStop,
			Data: types.MessageStopEvent{Type: types.EventMessageStop},
		},
	)
	return events
}

// closeAllOpen emits content_block_stop for every open block, most
// recently opened first.
func (t *streamTranslator) closeAllOpen() []types.StreamEvent {
	var open []int
	open = append(open, t.openOrder...)
	if t.openKind != "" {
		open = append(open, t.openIndex)
	}
	var events []types.StreamEvent
	for i := len(open) - 1; i >= 0; i-- {
		events = append(events, blockStop(open[i]))
	}
	t.openOrder = nil
	t.openKind = ""
	return events
}

func (t *streamTranslator) handleTextDelta(text string) []types.StreamEvent {
	if t.simScanner == nil {
		if t.toolsStarted {
			// Text after native tool calls started is commentary the model
			// was not supposed to produce; forwarding it breaks client tool
			// loops. Simulated mode keeps scanning instead: calls are
			// in-band there and prose may legitimately follow them.
			return nil
		}
		return t.emitScannedText(text)
	}
	safe, calls := t.simScanner.Feed(text)
	events := t.emitScannedText(safe)
	for i := range calls {
		events = append(events, t.emitSimulatedCall(&calls[i])...)
	}
	return events
}

// emitScannedText routes outbound text through the inline think scanner,
// so a `<think>`/`<cot>` section arriving in content deltas becomes a
// thinking block instead of leaking tag markers to the client.
func (t *streamTranslator) emitScannedText(text string) []types.StreamEvent {
	if text == "" {
		return nil
	}
	return t.emitThinkSegments(t.think.Feed(text))
}

func (t *streamTranslator) emitThinkSegments(segments []thinkSegment) []types.StreamEvent {
	var events []types.StreamEvent
	for _, segment := range segments {
		kind := "text"
		if segment.thinking {
			kind = "thinking"
		}
		events = append(events, t.emitProseDelta(kind, segment.text)...)
	}
	return events
}

func (t *streamTranslator) handleThinkingDelta(text string) []types.StreamEvent {
	if t.toolsStarted {
		return nil
	}
	// Native reasoning owns the thinking channel; inline tag detection on
	// content shuts off so the same prose cannot double as thinking.
	t.think.onReasoningMode()
	return t.emitProseDelta("thinking", text)
}

// emitProseDelta routes a text or thinking fragment, opening and closing
// blocks on kind transitions.
func (t *streamTranslator) emitProseDelta(kind, text string) []types.StreamEvent {
	var events []types.StreamEvent
	if t.openKind != "" && t.openKind != kind {
		events = append(events, blockStop(t.openIndex))
		t.openKind = ""
	}
	if t.openKind == "" {
		index := t.nextIndex
		t.nextIndex++
		t.openKind = kind
		t.openIndex = index
		events = append(events, blockStartProse(index, kind))
	}
	events = append(events, blockDeltaProse(t.openIndex, kind, text))
	return events
}

// handleToolCallDelta routes one native tool-call fragment by its
// upstream index.
func (t *streamTranslator) handleToolCallDelta(toolCall *types.ChatToolCall) []types.StreamEvent {
	var events []types.StreamEvent

	state, exists := t.toolBlocks[toolCall.Index]
	if !exists {
		state = &toolBlockState{}
		t.toolBlocks[toolCall.Index] = state
	}
	if toolCall.ID != "" {
		state.id = toolCall.ID
	}
	if toolCall.Function.Name != "" && state.name == "" {
		state.name = toolCall.Function.Name
	}

	// The block opens once the name is known; any prose block closes first.
	if !state.started && state.name != "" {
		if t.openKind != "" {
			events = append(events, blockStop(t.openIndex))
			t.openKind = ""
		}
		if state.id == "" {
			state.id = mintToolCallID()
		}
		state.localIndex = t.nextIndex
		t.nextIndex++
		state.started = true
		t.toolsStarted = true
		t.openOrder = append(t.openOrder, state.localIndex)
		events = append(events, blockStartToolUse(state.localIndex, state.id, state.name))
		if state.pendingArgs != "" {
			events = append(events, blockDeltaJSON(state.localIndex, state.pendingArgs))
			state.pendingArgs = ""
		}
	}

	if args := toolCall.Function.Arguments; args != "" {
		if state.started {
			events = append(events, blockDeltaJSON(state.localIndex, args))
		} else {
			// Argument fragments can precede the name on some upstreams;
			// hold them until the block opens.
			state.pendingArgs += args
		}
	}
	return events
}

// emitSimulatedCall synthesizes a complete tool_use block from a parsed
// prose call: the open text block closes, the block opens, the full
// arguments go out as one input_json_delta, and the block closes again so
// scanning can resume on the remaining text.
func (t *streamTranslator) emitSimulatedCall(call *parser.ToolCall) []types.StreamEvent {
	var events []types.StreamEvent
	if t.openKind != "" {
		events = append(events, blockStop(t.openIndex))
		t.openKind = ""
	}
	index := t.nextIndex
	t.nextIndex++
	t.toolsStarted = true

	args, err := json.Marshal(call.Input)
	if err != nil {
		args = []byte("{}")
	}
	events = append(events,
		blockStartToolUse(index, mintToolCallID(), call.Name),
		blockDeltaJSON(index, string(args)),
		blockStop(index),
	)
	return events
}

func blockStartProse(index int, kind string) types.StreamEvent {
	block := types.ContentBlock{Type: kind}
	empty := ""
	if kind == "text" {
		block.Text = &empty
	} else {
		block.Thinking = &empty
	}
	return types.StreamEvent{
		Name: types.EventContentBlockStart,
		Data: types.ContentBlockStartEvent{
			Type:         types.EventContentBlockStart,
			Index:        index,
			ContentBlock: block,
		},
	}
}

func blockStartToolUse(index int, id, name string) types.StreamEvent {
	return types.StreamEvent{
		Name: types.EventContentBlockStart,
		Data: types.ContentBlockStartEvent{
			Type:  types.EventContentBlockStart,
			Index: index,
			ContentBlock: types.ContentBlock{
				Type:  "tool_use",
				ID:    id,
				Name:  name,
				Input: map[string]interface{}{},
			},
		},
	}
}

func blockDeltaProse(index int, kind, text string) types.StreamEvent {
	delta := types.BlockDelta{}
	if kind == "text" {
		delta.Type = "text_delta"
		delta.Text = text
	} else {
		delta.Type = "thinking_delta"
		delta.Thinking = text
	}
	return types.StreamEvent{
		Name: types.EventContentBlockDelta,
		Data: types.ContentBlockDeltaEvent{
			Type:  types.EventContentBlockDelta,
			Index: index,
			Delta: delta,
		},
	}
}

func blockDeltaJSON(index int, partial string) types.StreamEvent {
	return types.StreamEvent{
		Name: types.EventContentBlockDelta,
		Data: types.ContentBlockDeltaEvent{
			Type:  types.EventContentBlockDelta,
			Index: index,
			Delta: types.BlockDelta{Type: "input_json_delta", PartialJSON: partial},
		},
	}
}

func blockStop(index int) types.StreamEvent {
	return types.StreamEvent{
		Name: types.EventContentBlockStop,
		Data: types.ContentBlockStopEvent{
			Type:  types.EventContentBlockStop,
			Index: index,
		},
	}
}

// errorStreamEvent is the out-of-band error appended when an upstream
// failure terminates the stream early.
func errorStreamEvent(message string) types.StreamEvent {
	return types.StreamEvent{
		Name: types.EventError,
		Data: types.ErrorEvent{
			Type:  "error",
			Error: types.ErrorDetail{Type: errTypeAPI, Message: message},
		},
	}
}

// decodeChatChunk parses one Chat Completions SSE data payload. done is
// true for the [DONE] sentinel.
func decodeChatChunk(data string) (*types.StreamChunk, bool, error) {
	if strings.TrimSpace(data) == "[DONE]" {
		return nil, true, nil
	}
	var chunk types.StreamChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, false, err
	}
	return &chunk, false, nil
}
