package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"claude-gateway/directive"
	"claude-gateway/types"
)

func TestBuildResponsesBody(t *testing.T) {
	temperature := 0.4
	maxOut := 2048
	chatReq := &types.ChatRequest{
		Model:  "openai.gpt-5",
		Stream: true,
		Messages: []types.ChatMessage{
			{Role: "system", Content: "be good"},
			{Role: "user", Content: "hi"},
			{Role: "assistant", Content: "hello", ToolCalls: []types.ChatToolCall{
				{ID: "c_1", Type: "function", Function: types.ChatFunctionCall{Name: "f", Arguments: `{"a":1}`}},
			}},
			{Role: "tool", ToolCallID: "c_1", Content: "result"},
		},
		Temperature:     &temperature,
		ReasoningEffort: "high",
		Tools: []types.ChatTool{{
			Type: "function",
			Function: types.ChatToolFunction{
				Name:       "f",
				Parameters: map[string]interface{}{"type": "object"},
			},
		}},
		ToolChoice: "auto",
	}

	body, err := buildResponsesBody(chatReq, &directive.ResponsesSettings{MaxOutputTokens: &maxOut})
	require.NoError(t, err)
	parsed := gjson.ParseBytes(body)

	assert.Equal(t, "gpt-5", parsed.Get("model").String(), "provider prefix must be stripped")
	assert.True(t, parsed.Get("stream").Bool())
	assert.False(t, parsed.Get("store").Bool())
	assert.Equal(t, "be good", parsed.Get("instructions").String())
	assert.Equal(t, "auto", parsed.Get("reasoning.summary").String())
	assert.Equal(t, "high", parsed.Get("reasoning.effort").String())
	assert.Equal(t, float64(0.4), parsed.Get("temperature").Float())
	assert.Equal(t, int64(2048), parsed.Get("max_output_tokens").Int())

	input := parsed.Get("input").Array()
	require.Len(t, input, 4, "user message, assistant message, function_call, function_call_output")
	assert.Equal(t, "message", input[0].Get("type").String())
	assert.Equal(t, "input_text", input[0].Get("content.0.type").String())
	assert.Equal(t, "output_text", input[1].Get("content.0.type").String())
	assert.Equal(t, "function_call", input[2].Get("type").String())
	assert.Equal(t, "c_1", input[2].Get("call_id").String())
	assert.Equal(t, "function_call_output", input[3].Get("type").String())
	assert.Equal(t, "result", input[3].Get("output").String())

	assert.Equal(t, "f", parsed.Get("tools.0.name").String())
	assert.Equal(t, "auto", parsed.Get("tool_choice").String())
}

func TestResponsesDecoderTextDelta(t *testing.T) {
	decode := newResponsesDecoder("m")

	chunks, done, err := decode(`{"type":"response.output_text.delta","delta":"hel"}`)
	require.NoError(t, err)
	require.False(t, done)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hel", chunks[0].Choices[0].Delta.Content)

	chunks, _, err = decode(`{"type":"response.reasoning_summary_text.delta","delta":"because"}`)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "because", chunks[0].Choices[0].Delta.ReasoningContent)
}

func TestResponsesDecoderFunctionCallFlow(t *testing.T) {
	decode := newResponsesDecoder("m")

	chunks, _, err := decode(`{"type":"response.output_item.added","item":{"type":"function_call","call_id":"c_1","id":"item_1","name":"f"}}`)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	call := chunks[0].Choices[0].Delta.ToolCalls[0]
	assert.Equal(t, 0, call.Index)
	assert.Equal(t, "c_1", call.ID)
	assert.Equal(t, "f", call.Function.Name)

	// Argument deltas keyed by item id map back to the same index.
	chunks, _, err = decode(`{"type":"response.function_call_arguments.delta","item_id":"item_1","delta":"{\"a\":1}"}`)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	call = chunks[0].Choices[0].Delta.ToolCalls[0]
	assert.Equal(t, 0, call.Index)
	assert.Equal(t, `{"a":1}`, call.Function.Arguments)

	chunks, _, err = decode(`{"type":"response.output_item.done","item":{"type":"function_call"}}`)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.NotNil(t, chunks[0].Choices[0].FinishReason)
	assert.Equal(t, "tool_calls", *chunks[0].Choices[0].FinishReason)
}

func TestResponsesDecoderCompleted(t *testing.T) {
	decode := newResponsesDecoder("m")
	chunks, done, err := decode(`{"type":"response.completed","response":{"usage":{"input_tokens":7,"output_tokens":3}}}`)
	require.NoError(t, err)
	assert.True(t, done)
	require.Len(t, chunks, 1)
	assert.Equal(t, 7, chunks[0].Usage.PromptTokens)
	assert.Equal(t, 3, chunks[0].Usage.CompletionTokens)
	require.NotNil(t, chunks[0].Choices[0].FinishReason)
	assert.Equal(t, "stop", *chunks[0].Choices[0].FinishReason)
}

func TestResponsesDecoderIgnoresNoise(t *testing.T) {
	decode := newResponsesDecoder("m")
	for _, data := range []string{
		`{"type":"response.created"}`,
		`{"type":"response.in_progress"}`,
		`{"type":"response.output_item.added","item":{"type":"message"}}`,
	} {
		chunks, done, err := decode(data)
		require.NoError(t, err)
		assert.False(t, done)
		assert.Empty(t, chunks)
	}
}

func TestNormalizeResponsesJSON(t *testing.T) {
	raw := []byte(`{
		"id": "resp_1",
		"status": "completed",
		"output": [
			{"type": "message", "content": [{"type": "output_text", "text": "hello"}]},
			{"type": "function_call", "call_id": "c_1", "name": "f", "arguments": "{\"a\":1}"}
		],
		"usage": {"input_tokens": 5, "output_tokens": 2}
	}`)

	resp, err := normalizeResponsesJSON(raw)
	require.NoError(t, err)
	assert.Equal(t, "resp_1", resp.ID)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, "hello", resp.Choices[0].Message.Content)
	require.Len(t, resp.Choices[0].Message.ToolCalls, 1)
	assert.Equal(t, `{"a":1}`, resp.Choices[0].Message.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "tool_calls", *resp.Choices[0].FinishReason)
	assert.Equal(t, 5, resp.Usage.PromptTokens)
}
