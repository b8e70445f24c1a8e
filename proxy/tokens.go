package proxy

import (
	"encoding/json"
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"claude-gateway/types"
)

var (
	encOnce sync.Once
	enc     tokenizer.Codec
)

// countText estimates tokens for one string. o200k_base is close enough
// across the proxied model fleet for a conservative estimate; if the
// tokenizer cannot load, a bytes/4 heuristic keeps the endpoint useful.
func countText(text string) int {
	encOnce.Do(func() {
		codec, err := tokenizer.Get(tokenizer.O200kBase)
		if err == nil {
			enc = codec
		}
	})
	if enc == nil {
		return (len(text) + 3) / 4
	}
	count, err := enc.Count(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return count
}

// estimateInputTokens produces a conservative token estimate for a
// Messages request: system text, every block's visible payload, and the
// serialized tool schemas, plus a small per-message framing overhead.
func estimateInputTokens(req *types.MessagesRequest) int {
	const perMessageOverhead = 4

	total := countText(req.SystemText())
	for i := range req.Messages {
		total += perMessageOverhead
		msg := &req.Messages[i]
		if text, ok := msg.TextContent(); ok {
			total += countText(text)
			continue
		}
		blocks, err := msg.Blocks()
		if err != nil {
			continue
		}
		for j := range blocks {
			block := &blocks[j]
			switch block.Type {
			case "text":
				total += countText(block.Text)
			case "thinking":
				total += countText(block.Thinking)
			case "tool_use":
				raw, _ := json.Marshal(block.Input)
				total += countText(block.Name) + countText(string(raw))
			case "tool_result":
				total += countText(block.ToolResultText())
			}
		}
	}
	for _, tool := range req.Tools {
		raw, _ := json.Marshal(tool.InputSchema)
		total += countText(tool.Name) + countText(tool.Description) + countText(string(raw))
	}
	return total
}
