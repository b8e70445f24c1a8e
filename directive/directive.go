// Package directive implements the PROXY DIRECTIVE mechanism: a JSON
// document embedded in the system prompt (or the CLAUDE.md user message)
// that overrides request parameters in flight. Clients that cannot reach
// the gateway's environment use it to steer model, sampling, and API
// selection per project.
package directive

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"claude-gateway/types"
)

var directiveRegex = regexp.MustCompile(`(?s)\n?---\s*PROXY DIRECTIVE\s*---\s*(.*?)\s*---\s*END DIRECTIVE\s*---\n?`)

// claudeMdMarker opens the system-reminder block Claude Code wraps around
// CLAUDE.md content. After context summarization the CLAUDE.md message can
// move past the first slot, so extraction matches on the marker rather
// than on position alone.
const claudeMdMarker = "<system-reminder>\nAs you answer the user's questions, you can use the following context:\n# claudeMd"

// ParseError indicates a directive block was found but its body is not
// valid JSON. Surfaced to the client as a 400.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid PROXY DIRECTIVE body: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Directive is the parsed document: flat global overrides plus an ordered
// rule list. The first rule whose condition matches wins and is merged
// over Global, which is merged over the request.
type Directive struct {
	Global *Settings `json:"global,omitempty"`
	Rules  []Rule    `json:"rules,omitempty"`
}

// Rule pairs a condition with the settings to apply when it matches.
type Rule struct {
	If    Condition `json:"if"`
	Apply Settings  `json:"apply"`
}

// Condition selects requests. ModelContains is a case-sensitive substring
// match on the request model before suffix stripping.
type Condition struct {
	ModelContains string `json:"modelContains"`
}

// Settings are the overridable request parameters.
type Settings struct {
	Model           string             `json:"model,omitempty"`
	MaxTokens       *int               `json:"max_tokens,omitempty"`
	Temperature     *float64           `json:"temperature,omitempty"`
	TopP            *float64           `json:"top_p,omitempty"`
	ReasoningEffort string             `json:"reasoning_effort,omitempty"`
	Responses       *ResponsesSettings `json:"responses,omitempty"`
}

// ResponsesSettings opts the request into the Responses API path.
type ResponsesSettings struct {
	Enable           *bool  `json:"enable,omitempty"`
	MaxOutputTokens  *int   `json:"max_output_tokens,omitempty"`
	ReasoningSummary string `json:"reasoning_summary,omitempty"`
}

// ResponsesEnabled reports whether the merged settings select the
// Responses API.
func (s *Settings) ResponsesEnabled() bool {
	return s.Responses != nil && s.Responses.Enable != nil && *s.Responses.Enable
}

// Process extracts the first directive from the request, removes the
// delimited region from the carrying text, resolves the effective settings
// against the request model, and applies the parameter overrides in place.
// Requests without a directive pass through unchanged with zero Settings.
func Process(req *types.MessagesRequest, limitToClaudeMd bool) (Settings, error) {
	dir, err := extract(req, limitToClaudeMd)
	if err != nil {
		return Settings{}, err
	}
	if dir == nil {
		return Settings{}, nil
	}
	settings := resolve(req.Model, dir)
	apply(req, &settings)
	return settings, nil
}

// extract searches the system prompt first, then user messages. Only the
// first directive found is honored; its text region is removed either way.
func extract(req *types.MessagesRequest, limitToClaudeMd bool) (*Directive, error) {
	if req.System != nil {
		systemText := req.SystemText()
		if directiveRegex.MatchString(systemText) {
			cleaned, dir, err := parseFromText(systemText)
			if err != nil {
				return nil, err
			}
			req.SetSystemText(cleaned)
			return dir, nil
		}
	}

	userIndex := -1
	for i := range req.Messages {
		msg := &req.Messages[i]
		if msg.Role != "user" {
			continue
		}
		userIndex++
		if !shouldInspectUserMessage(msg, userIndex, limitToClaudeMd) {
			continue
		}
		dir, err := extractFromMessage(msg)
		if err != nil {
			return nil, err
		}
		if dir != nil {
			return dir, nil
		}
	}
	return nil, nil
}

// shouldInspectUserMessage gates directive extraction: the first user
// message is always eligible unless restricted by configuration; later
// ones must begin with the CLAUDE.md marker so arbitrary conversation text
// cannot inject overrides.
func shouldInspectUserMessage(msg *types.Message, userIndex int, limitToClaudeMd bool) bool {
	beginsWithMarker := false
	if text, ok := msg.TextContent(); ok {
		beginsWithMarker = strings.HasPrefix(text, claudeMdMarker)
	} else if blocks, err := msg.Blocks(); err == nil {
		for _, block := range blocks {
			if block.Type == "text" && strings.HasPrefix(block.Text, claudeMdMarker) {
				beginsWithMarker = true
				break
			}
		}
	}
	if userIndex == 0 {
		return !limitToClaudeMd || beginsWithMarker
	}
	return beginsWithMarker
}

func extractFromMessage(msg *types.Message) (*Directive, error) {
	if text, ok := msg.TextContent(); ok {
		if !directiveRegex.MatchString(text) {
			return nil, nil
		}
		cleaned, dir, err := parseFromText(text)
		if err != nil {
			return nil, err
		}
		msg.Content = cleaned
		return dir, nil
	}

	blocks, err := msg.Blocks()
	if err != nil {
		return nil, nil
	}
	for i := range blocks {
		if blocks[i].Type != "text" || !directiveRegex.MatchString(blocks[i].Text) {
			continue
		}
		cleaned, dir, err := parseFromText(blocks[i].Text)
		if err != nil {
			return nil, err
		}
		blocks[i].Text = cleaned
		msg.Content = blocks
		return dir, nil
	}
	return nil, nil
}

func parseFromText(text string) (string, *Directive, error) {
	match := directiveRegex.FindStringSubmatch(text)
	if match == nil {
		return text, nil, nil
	}
	body := strings.TrimSpace(match[1])
	var dir Directive
	if err := json.Unmarshal([]byte(body), &dir); err != nil {
		return text, nil, &ParseError{Err: err}
	}
	cleaned := directiveRegex.ReplaceAllString(text, "")
	return cleaned, &dir, nil
}

// resolve merges the first matching rule over global. The merge is shallow
// per top-level key except responses, which merges field-wise.
func resolve(model string, dir *Directive) Settings {
	var settings Settings
	if dir.Global != nil {
		settings = *dir.Global
	}
	for _, rule := range dir.Rules {
		if !strings.Contains(model, rule.If.ModelContains) {
			continue
		}
		merge(&settings, &rule.Apply)
		break
	}
	return settings
}

func merge(base, incoming *Settings) {
	if incoming.Model != "" {
		base.Model = incoming.Model
	}
	if incoming.MaxTokens != nil {
		base.MaxTokens = incoming.MaxTokens
	}
	if incoming.Temperature != nil {
		base.Temperature = incoming.Temperature
	}
	if incoming.TopP != nil {
		base.TopP = incoming.TopP
	}
	if incoming.ReasoningEffort != "" {
		base.ReasoningEffort = incoming.ReasoningEffort
	}
	if incoming.Responses != nil {
		if base.Responses == nil {
			base.Responses = &ResponsesSettings{}
		}
		if incoming.Responses.Enable != nil {
			base.Responses.Enable = incoming.Responses.Enable
		}
		if incoming.Responses.MaxOutputTokens != nil {
			base.Responses.MaxOutputTokens = incoming.Responses.MaxOutputTokens
		}
		if incoming.Responses.ReasoningSummary != "" {
			base.Responses.ReasoningSummary = incoming.Responses.ReasoningSummary
		}
	}
}

// apply writes the resolved overrides onto the request. reasoning_effort
// becomes an enabled thinking block with the matching token budget, which
// the request converter later maps back to reasoning_effort upstream.
func apply(req *types.MessagesRequest, settings *Settings) {
	if settings.Model != "" {
		req.Model = settings.Model
	}
	if settings.MaxTokens != nil {
		req.MaxTokens = *settings.MaxTokens
	}
	if settings.Temperature != nil {
		req.Temperature = settings.Temperature
	}
	if settings.TopP != nil {
		req.TopP = settings.TopP
	}
	if settings.ReasoningEffort != "" {
		req.Thinking = &types.Thinking{
			Type:         "enabled",
			BudgetTokens: BudgetTokensForEffort(settings.ReasoningEffort),
		}
	}
}

// BudgetTokensForEffort maps a reasoning effort name to a thinking budget.
func BudgetTokensForEffort(effort string) int {
	switch effort {
	case "low":
		return 1024
	case "medium":
		return 4096
	default:
		return 8192
	}
}

// EffortForBudgetTokens maps a thinking budget to a reasoning effort name.
func EffortForBudgetTokens(budgetTokens int) string {
	switch {
	case budgetTokens <= 1024:
		return "low"
	case budgetTokens <= 4096:
		return "medium"
	default:
		return "high"
	}
}
