package adapter

import (
	"strings"

	"claude-gateway/types"
)

// groqMaxTokensCeiling is the largest max_tokens Groq accepts for the Kimi
// deployment; larger client values fail the whole request upstream.
const groqMaxTokensCeiling = 16384

// KimiMaxTokensAdapter clamps max_tokens for Kimi-on-Groq models.
type KimiMaxTokensAdapter struct {
	Base
}

func (a *KimiMaxTokensAdapter) AdaptMaxTokens(maxTokens int, _ *types.MessagesRequest) int {
	if maxTokens > groqMaxTokensCeiling {
		return groqMaxTokensCeiling
	}
	return maxTokens
}

func isOpenAIReasoningModel(model string) bool {
	switch model {
	case "o3", "o3-mini", "o4-mini":
		return true
	}
	return strings.Contains(model, "gpt-5") || strings.Contains(model, "openai")
}

// OAIReasoningAdapter moves the token limit to max_completion_tokens for
// OpenAI reasoning models, which reject the plain max_tokens field.
type OAIReasoningAdapter struct {
	Base
}

func (a *OAIReasoningAdapter) AdaptMaxTokens(maxTokens int, req *types.MessagesRequest) int {
	if isOpenAIReasoningModel(req.Model) {
		return 0
	}
	return maxTokens
}

func (a *OAIReasoningAdapter) AdaptMaxCompletionTokens(maxTokens int, req *types.MessagesRequest) int {
	if isOpenAIReasoningModel(req.Model) {
		return maxTokens
	}
	return 0
}
