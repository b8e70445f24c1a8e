package proxy

import (
	"strings"
	"testing"

	"claude-gateway/adapter"
	"claude-gateway/types"
)

func textChunk(text string) *types.StreamChunk {
	return &types.StreamChunk{Choices: []types.StreamChoice{{Delta: types.StreamDelta{Content: text}}}}
}

func reasoningChunk(text string) *types.StreamChunk {
	return &types.StreamChunk{Choices: []types.StreamChoice{{Delta: types.StreamDelta{Reasoning: text}}}}
}

func toolChunk(index int, id, name, args string) *types.StreamChunk {
	return &types.StreamChunk{Choices: []types.StreamChoice{{Delta: types.StreamDelta{
		ToolCalls: []types.ChatToolCall{{
			Index:    index,
			ID:       id,
			Function: types.ChatFunctionCall{Name: name, Arguments: args},
		}},
	}}}}
}

func finishChunk(reason string, usage *types.ChatUsage) *types.StreamChunk {
	return &types.StreamChunk{
		Choices: []types.StreamChoice{{FinishReason: &reason}},
		Usage:   usage,
	}
}

// collect runs a full translator session over the chunks and returns every
// emitted event in order.
func collect(t *streamTranslator, chunks ...*types.StreamChunk) []types.StreamEvent {
	events := t.Start()
	for _, chunk := range chunks {
		events = append(events, t.HandleChunk(chunk)...)
	}
	return append(events, t.Finish()...)
}

func eventNames(events []types.StreamEvent) []string {
	names := make([]string, len(events))
	for i, event := range events {
		names[i] = event.Name
	}
	return names
}

// checkStreamInvariants asserts the protocol-level guarantees every stream
// must satisfy: message_start first, message_stop last, starts and stops
// pair up, and indices form a prefix of the naturals in emission order.
func checkStreamInvariants(t *testing.T, events []types.StreamEvent) {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	if events[0].Name != types.EventMessageStart {
		t.Errorf("first event must be message_start, got %s", events[0].Name)
	}
	if events[len(events)-1].Name != types.EventMessageStop {
		t.Errorf("last event must be message_stop, got %s", events[len(events)-1].Name)
	}

	started := map[int]int{}
	stopped := map[int]int{}
	nextExpected := 0
	sawMessageDelta := false
	for i, event := range events {
		switch data := event.Data.(type) {
		case types.ContentBlockStartEvent:
			started[data.Index]++
			if data.Index != nextExpected {
				t.Errorf("event %d: block index %d opened out of order, expected %d", i, data.Index, nextExpected)
			}
			nextExpected++
		case types.ContentBlockStopEvent:
			stopped[data.Index]++
			if started[data.Index] == 0 {
				t.Errorf("event %d: block %d stopped before start", i, data.Index)
			}
		case types.ContentBlockDeltaEvent:
			if started[data.Index] == 0 || stopped[data.Index] > 0 {
				t.Errorf("event %d: delta for block %d outside open window", i, data.Index)
			}
		case types.MessageDeltaEvent:
			sawMessageDelta = true
		case types.MessageStopEvent:
			if i != len(events)-1 {
				t.Errorf("message_stop at %d is not last", i)
			}
		}
	}
	if !sawMessageDelta {
		t.Error("message_delta must be emitted")
	}
	for index, count := range started {
		if count != 1 {
			t.Errorf("block %d started %d times", index, count)
		}
		if stopped[index] != 1 {
			t.Errorf("block %d stopped %d times", index, stopped[index])
		}
	}
}

func TestStreamPlainText(t *testing.T) {
	translator := newStreamTranslator("msg_1", "openai/gpt-4.1-mini", adapter.SimNone, nil)
	events := collect(translator,
		textChunk("hel"),
		textChunk("lo"),
		finishChunk("stop", &types.ChatUsage{PromptTokens: 3, CompletionTokens: 2}),
	)
	checkStreamInvariants(t, events)

	start, ok := events[0].Data.(types.MessageStartEvent)
	if !ok {
		t.Fatal("first event payload must be MessageStartEvent")
	}
	if start.Message.Model != "openai/gpt-4.1-mini" {
		t.Errorf("message_start must carry the client model, got %q", start.Message.Model)
	}
	if start.Message.Usage.InputTokens != 0 || start.Message.Usage.OutputTokens != 0 {
		t.Errorf("message_start usage must be zero-initialized, got %+v", start.Message.Usage)
	}

	var deltas []string
	for _, event := range events {
		if data, ok := event.Data.(types.ContentBlockDeltaEvent); ok && data.Delta.Type == "text_delta" {
			deltas = append(deltas, data.Delta.Text)
		}
	}
	if len(deltas) != 2 || deltas[0] != "hel" || deltas[1] != "lo" {
		t.Errorf("unexpected text deltas: %v", deltas)
	}

	for _, event := range events {
		if data, ok := event.Data.(types.MessageDeltaEvent); ok {
			if data.Delta.StopReason != "end_turn" {
				t.Errorf("expected end_turn, got %q", data.Delta.StopReason)
			}
			if data.Usage.InputTokens != 3 || data.Usage.OutputTokens != 2 {
				t.Errorf("usage must be cumulative, got %+v", data.Usage)
			}
		}
	}
}

// Literal scenario: streamed tool call with split argument fragments.
func TestStreamToolCall(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	events := collect(translator,
		toolChunk(0, "c_1", "f", ""),
		toolChunk(0, "", "", `{"a":`),
		toolChunk(0, "", "", `1}`),
		finishChunk("tool_calls", nil),
	)
	checkStreamInvariants(t, events)

	names := eventNames(events)
	want := []string{
		types.EventMessageStart,
		types.EventPing,
		types.EventContentBlockStart,
		types.EventContentBlockDelta,
		types.EventContentBlockDelta,
		types.EventContentBlockStop,
		types.EventMessageDelta,
		types.EventMessageStop,
	}
	if len(names) != len(want) {
		t.Fatalf("unexpected event sequence: %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("event %d: got %s, want %s (full: %v)", i, names[i], want[i], names)
		}
	}

	start := events[2].Data.(types.ContentBlockStartEvent)
	if start.Index != 0 || start.ContentBlock.Type != "tool_use" || start.ContentBlock.ID != "c_1" || start.ContentBlock.Name != "f" {
		t.Errorf("unexpected tool_use start: %+v", start)
	}
	first := events[3].Data.(types.ContentBlockDeltaEvent)
	second := events[4].Data.(types.ContentBlockDeltaEvent)
	if first.Delta.PartialJSON != `{"a":` || second.Delta.PartialJSON != `1}` {
		t.Errorf("argument fragments must pass through verbatim: %q %q", first.Delta.PartialJSON, second.Delta.PartialJSON)
	}
	delta := events[6].Data.(types.MessageDeltaEvent)
	if delta.Delta.StopReason != "tool_use" {
		t.Errorf("expected tool_use stop reason, got %q", delta.Delta.StopReason)
	}
}

func TestStreamTextThenToolCall(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	events := collect(translator,
		textChunk("let me check"),
		toolChunk(0, "c_1", "f", `{}`),
		finishChunk("tool_calls", nil),
	)
	checkStreamInvariants(t, events)

	// The text block must close before the tool block opens.
	var order []string
	for _, event := range events {
		switch data := event.Data.(type) {
		case types.ContentBlockStartEvent:
			order = append(order, "start:"+data.ContentBlock.Type)
		case types.ContentBlockStopEvent:
			order = append(order, "stop")
		}
	}
	want := []string{"start:text", "stop", "start:tool_use", "stop"}
	if len(order) != len(want) {
		t.Fatalf("unexpected block order: %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("block order mismatch at %d: %v", i, order)
		}
	}
}

func TestStreamConcurrentToolCalls(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	events := collect(translator,
		toolChunk(0, "c_1", "f", `{"a":1}`),
		toolChunk(1, "c_2", "g", `{"b":2}`),
		toolChunk(0, "", "", `  `),
		finishChunk("tool_calls", nil),
	)
	checkStreamInvariants(t, events)

	var startIndices []int
	for _, event := range events {
		if data, ok := event.Data.(types.ContentBlockStartEvent); ok {
			startIndices = append(startIndices, data.Index)
		}
	}
	if len(startIndices) != 2 || startIndices[0] != 0 || startIndices[1] != 1 {
		t.Errorf("two tool blocks at indices 0,1 expected, got %v", startIndices)
	}

	// Open blocks close in reverse open order at finish.
	var stops []int
	for _, event := range events {
		if data, ok := event.Data.(types.ContentBlockStopEvent); ok {
			stops = append(stops, data.Index)
		}
	}
	if len(stops) != 2 || stops[0] != 1 || stops[1] != 0 {
		t.Errorf("expected reverse-order close [1 0], got %v", stops)
	}
}

func TestStreamThinkingTextInterleave(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	events := collect(translator,
		reasoningChunk("thinking hard"),
		textChunk("the answer"),
		finishChunk("stop", nil),
	)
	checkStreamInvariants(t, events)

	var kinds []string
	for _, event := range events {
		if data, ok := event.Data.(types.ContentBlockStartEvent); ok {
			kinds = append(kinds, data.ContentBlock.Type)
		}
	}
	if len(kinds) != 2 || kinds[0] != "thinking" || kinds[1] != "text" {
		t.Errorf("expected thinking then text blocks, got %v", kinds)
	}

	var sawThinkingDelta bool
	for _, event := range events {
		if data, ok := event.Data.(types.ContentBlockDeltaEvent); ok && data.Delta.Type == "thinking_delta" {
			sawThinkingDelta = true
			if data.Delta.Thinking != "thinking hard" {
				t.Errorf("unexpected thinking delta: %+v", data.Delta)
			}
		}
	}
	if !sawThinkingDelta {
		t.Error("thinking_delta must be emitted")
	}
}

func TestStreamSimulatedXMLToolCall(t *testing.T) {
	translator := newStreamTranslator("msg_1", "foo-xml-tools", adapter.SimXML, []string{"get_weather"})
	events := collect(translator,
		textChunk("On it. "),
		textChunk("<get_weather><city>Par"),
		textChunk("is</city></get_weather>"),
		finishChunk("stop", nil),
	)
	checkStreamInvariants(t, events)

	var toolStart *types.ContentBlockStartEvent
	var jsonDeltas []string
	for i := range events {
		switch data := events[i].Data.(type) {
		case types.ContentBlockStartEvent:
			if data.ContentBlock.Type == "tool_use" {
				copied := data
				toolStart = &copied
			}
		case types.ContentBlockDeltaEvent:
			if data.Delta.Type == "input_json_delta" {
				jsonDeltas = append(jsonDeltas, data.Delta.PartialJSON)
			}
		}
	}
	if toolStart == nil {
		t.Fatal("simulated call must synthesize a tool_use block")
	}
	if toolStart.ContentBlock.Name != "get_weather" || toolStart.ContentBlock.ID == "" {
		t.Errorf("unexpected synthesized block: %+v", toolStart.ContentBlock)
	}
	if len(jsonDeltas) != 1 || jsonDeltas[0] != `{"city":"Paris"}` {
		t.Errorf("simulated arguments must arrive as one delta, got %v", jsonDeltas)
	}

	var delta types.MessageDeltaEvent
	for _, event := range events {
		if data, ok := event.Data.(types.MessageDeltaEvent); ok {
			delta = data
		}
	}
	if delta.Delta.StopReason != "tool_use" {
		t.Errorf("expected tool_use stop reason, got %q", delta.Delta.StopReason)
	}
}

func TestStreamUsageMonotonic(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	translator.HandleChunk(&types.StreamChunk{Usage: &types.ChatUsage{PromptTokens: 10, CompletionTokens: 5}})
	translator.HandleChunk(&types.StreamChunk{Usage: &types.ChatUsage{PromptTokens: 0, CompletionTokens: 0}})
	if translator.usage.InputTokens != 10 || translator.usage.OutputTokens != 5 {
		t.Errorf("usage must never regress, got %+v", translator.usage)
	}
}

func TestStreamFinishIsIdempotent(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	translator.HandleChunk(textChunk("x"))
	first := translator.Finish()
	if len(first) == 0 {
		t.Fatal("first Finish must emit events")
	}
	if second := translator.Finish(); len(second) != 0 {
		t.Errorf("second Finish must be a no-op, got %d events", len(second))
	}
	if events := translator.HandleChunk(textChunk("late")); len(events) != 0 {
		t.Errorf("chunks after finish must be ignored, got %d events", len(events))
	}
}

func TestStreamArgsBeforeNameAreBuffered(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	events := collect(translator,
		toolChunk(0, "", "", `{"a":`),
		toolChunk(0, "c_1", "f", `1}`),
		finishChunk("tool_calls", nil),
	)
	checkStreamInvariants(t, events)

	var jsonDeltas []string
	for _, event := range events {
		if data, ok := event.Data.(types.ContentBlockDeltaEvent); ok && data.Delta.Type == "input_json_delta" {
			jsonDeltas = append(jsonDeltas, data.Delta.PartialJSON)
		}
	}
	joined := ""
	for _, d := range jsonDeltas {
		joined += d
	}
	if joined != `{"a":1}` {
		t.Errorf("buffered early fragments must be replayed, got %q", joined)
	}
}

// Inline chain-of-thought tags arriving in content deltas become a proper
// thinking block, mirroring what splitThinkBlocks does for non-streaming
// responses; the tag markers themselves never reach the client.
func TestStreamInlineThinkTags(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	events := collect(translator,
		textChunk("<thi"),
		textChunk("nk>step "),
		textChunk("one</think>the "),
		textChunk("answer"),
		finishChunk("stop", nil),
	)
	checkStreamInvariants(t, events)

	var kinds []string
	var thinking, text strings.Builder
	for _, event := range events {
		switch data := event.Data.(type) {
		case types.ContentBlockStartEvent:
			kinds = append(kinds, data.ContentBlock.Type)
		case types.ContentBlockDeltaEvent:
			switch data.Delta.Type {
			case "thinking_delta":
				thinking.WriteString(data.Delta.Thinking)
			case "text_delta":
				text.WriteString(data.Delta.Text)
			}
		}
	}
	if len(kinds) != 2 || kinds[0] != "thinking" || kinds[1] != "text" {
		t.Fatalf("expected thinking block then text block, got %v", kinds)
	}
	if thinking.String() != "step one" {
		t.Errorf("unexpected thinking transcript: %q", thinking.String())
	}
	if text.String() != "the answer" {
		t.Errorf("unexpected text transcript: %q", text.String())
	}
	if strings.Contains(text.String(), "<think>") || strings.Contains(thinking.String(), "</think>") {
		t.Error("tag markers must never leak into deltas")
	}
}

func TestStreamInlineThinkSecondSectionIsLiteral(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	events := collect(translator,
		textChunk("<think>one</think>mid<think>two</think>"),
		finishChunk("stop", nil),
	)
	checkStreamInvariants(t, events)

	var text strings.Builder
	for _, event := range events {
		if data, ok := event.Data.(types.ContentBlockDeltaEvent); ok && data.Delta.Type == "text_delta" {
			text.WriteString(data.Delta.Text)
		}
	}
	if text.String() != "mid<think>two</think>" {
		t.Errorf("a second inline section must stay literal text, got %q", text.String())
	}
}

func TestStreamNativeReasoningDisablesInlineTags(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	events := collect(translator,
		reasoningChunk("native thinking"),
		textChunk("<think>not thinking</think>done"),
		finishChunk("stop", nil),
	)
	checkStreamInvariants(t, events)

	var text strings.Builder
	thinkingBlocks := 0
	for _, event := range events {
		switch data := event.Data.(type) {
		case types.ContentBlockStartEvent:
			if data.ContentBlock.Type == "thinking" {
				thinkingBlocks++
			}
		case types.ContentBlockDeltaEvent:
			if data.Delta.Type == "text_delta" {
				text.WriteString(data.Delta.Text)
			}
		}
	}
	if thinkingBlocks != 1 {
		t.Errorf("only the native reasoning block is thinking, got %d", thinkingBlocks)
	}
	if text.String() != "<think>not thinking</think>done" {
		t.Errorf("inline tags after native reasoning must be literal, got %q", text.String())
	}
}

func TestStreamUnterminatedInlineThinkFlushedAtFinish(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	events := collect(translator,
		textChunk("<think>half-"),
		textChunk("done"),
		finishChunk("stop", nil),
	)
	checkStreamInvariants(t, events)

	var thinking strings.Builder
	for _, event := range events {
		if data, ok := event.Data.(types.ContentBlockDeltaEvent); ok && data.Delta.Type == "thinking_delta" {
			thinking.WriteString(data.Delta.Thinking)
		}
	}
	if thinking.String() != "half-done" {
		t.Errorf("unterminated thinking must flush at finish, got %q", thinking.String())
	}
}

func TestStreamUsageCarriesCacheReadTokens(t *testing.T) {
	translator := newStreamTranslator("msg_1", "m", adapter.SimNone, nil)
	events := collect(translator,
		textChunk("x"),
		finishChunk("stop", &types.ChatUsage{
			PromptTokens:        10,
			CompletionTokens:    4,
			PromptTokensDetails: &types.PromptTokensDetails{CachedTokens: 7},
		}),
	)

	var delta types.MessageDeltaEvent
	for _, event := range events {
		if data, ok := event.Data.(types.MessageDeltaEvent); ok {
			delta = data
		}
	}
	if delta.Usage.InputTokens != 10 || delta.Usage.OutputTokens != 4 {
		t.Errorf("unexpected usage: %+v", delta.Usage)
	}
	if delta.Usage.CacheReadInputTokens != 7 {
		t.Errorf("cached prompt tokens must surface in message_delta, got %d", delta.Usage.CacheReadInputTokens)
	}
}
