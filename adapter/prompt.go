package adapter

import (
	"regexp"
	"strings"

	"claude-gateway/types"
)

// Exact-string rewrites for well-known default system prompt passages.
// Matching is anchored to the stock Claude Code wording; anything a client
// customized falls through untouched. Replacements are chosen so a second
// pass over already-rewritten text finds nothing to do.
var (
	defensiveSecurityRe = regexp.MustCompile(`IMPORTANT: Assist with defensive security tasks only\. Refuse to create, modify, or improve code that may be used maliciously\. .*Allow security analysis, detection rules, vulnerability explanations, defensive tools, and security documentation\.\n`)

	minimizeOutputRe = regexp.MustCompile(`IMPORTANT: You should minimize output tokens as much as possible while maintaining helpfulness, quality, and accuracy\. Only address the specific query or task at hand, avoiding tangential information unless absolutely critical for completing the request\. If you can answer in 1-3 sentences or a short paragraph, please do\.`)

	shortResponseCmdlineRe = regexp.MustCompile(`IMPORTANT: Keep your responses short, since they will be displayed on a command line interface\.`)

	shortResponseStyleRe = regexp.MustCompile(`(?s)You should be concise, direct, and to the point.*Avoid introductions, conclusions, and explanations\. `)

	shortResponseLinesRe = regexp.MustCompile(`You MUST answer concisely with fewer than 4 lines of text \(not including tool use or code generation\), unless user asks for detail\.`)

	singleMessageToolCallRe = regexp.MustCompile(`(?s)- You have the capability to call multiple tools in a single response.*send a single message with two tool calls to run the calls in parallel\.`)

	feedbackRe = regexp.MustCompile(`(?s)If the user asks for help or wants to give feedback inform them of the following.*claude_code_docs_map\.md\.`)

	tasksSearchRe = regexp.MustCompile(`- Use the available search tools to understand the codebase and the user's query\. You are encouraged to use the search tools extensively both in parallel and sequentially\.`)

	planModeReminderRe = regexp.MustCompile(`(?s)<system-reminder>.*When you're done researching.*in any way until the user has confirmed the plan\..*</system-reminder>`)
)

const remoteTeammate = "IMPORTANT: Write as a collaborative remote teammate - warm and helpful while staying direct and solution-focused."

const searchParallel = `- Use search tools to understand the codebase and user query - execute LS, Read, Grep, and Glob operations in parallel.
- Prefer Grep for finding functions, symbols, or patterns. As you learn the project structure, scope searches to targeted subtrees.`

const toolPolicy = `- When approaching any task, identify all needed operations upfront then execute them together:
  - Codebase exploration: read multiple files + search patterns + list directories in parallel
  - Research: search multiple topics + find documentation + gather examples in parallel
  - Debugging: check logs + run tests + inspect state in parallel
- Always use Read tool for viewing file contents, Grep tool for searching, and Glob tool for file pattern matching. ***NEVER*** invoke cat/grep/find as Bash commands.
- When tool calls fail (file not found, string not found in file), use Read tool to refresh your understanding before retrying.
- Execute tool operations directly without narration - skip phrases like "I will now apply these changes". Only describe actions when specific permission is required.
- IMPORTANT: When there are no dependencies between tools, batch multiple independent operations into one block instead of running them sequentially. This includes codebase exploration, web searches, and git operations.`

// Replacement for the stock plan-mode reminder; some upstream models treat
// the original wording as permission to start editing.
const betterPlanModeReminder = `
<system-reminder>Plan mode is active. The user indicated that they do not want you to execute yet -- you MUST NOT make any edits, run any non-readonly tools (including changing configs or making commits), or otherwise make any changes to the system. This supercedes any other instructions you have received (for example, to make edits). Instead, you should:
1. Answer the user's query comprehensively through extensive research
2. Only when you have a complete implementation plan that requires writing code, you can call the ExitPlanMode tool to present it for user confirmation
IMPORTANT: Batch all related tool calls in single function call block - avoid sequential execution.
**NEVER** make any file changes or run any tools that modify the system state in any way.</system-reminder>`

func isOpenAIModel(model string) bool {
	switch model {
	case "o3", "o3-mini", "o4-mini":
		return true
	}
	return strings.Contains(model, "gpt-") || strings.Contains(model, "openai")
}

// DefaultPromptAdapter rewrites known-problematic default instructions in
// the system prompt and the plan-mode reminder in user prompts.
type DefaultPromptAdapter struct {
	Base
}

func (a *DefaultPromptAdapter) AdaptSystemPrompt(prompt string, req *types.MessagesRequest) string {
	prompt = defensiveSecurityRe.ReplaceAllString(prompt, "")
	prompt = feedbackRe.ReplaceAllString(prompt, "")
	prompt = strings.TrimSpace(prompt)

	if isOpenAIModel(req.Model) {
		// The brevity instructions make OpenAI models terse to the point of
		// unhelpfulness; swap the style guidance instead of just deleting.
		prompt = minimizeOutputRe.ReplaceAllString(prompt, "")
		prompt = shortResponseCmdlineRe.ReplaceAllString(prompt, "")
		prompt = shortResponseStyleRe.ReplaceAllString(prompt, remoteTeammate)
		prompt = shortResponseLinesRe.ReplaceAllString(prompt, "")
		prompt = strings.TrimSpace(prompt)
	}

	prompt = singleMessageToolCallRe.ReplaceAllString(prompt, toolPolicy)
	prompt = tasksSearchRe.ReplaceAllString(prompt, searchParallel)
	return strings.TrimSpace(prompt)
}

func (a *DefaultPromptAdapter) AdaptUserPrompt(prompt string, _ *types.MessagesRequest) string {
	if !planModeReminderRe.MatchString(prompt) {
		return prompt
	}
	return strings.TrimSpace(planModeReminderRe.ReplaceAllString(prompt, betterPlanModeReminder))
}
