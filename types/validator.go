package types

import "fmt"

// knownBlockKinds are the content block discriminators the gateway can
// convert. Anything else is a client schema error, not a silent drop: a
// block the gateway cannot represent upstream would otherwise vanish from
// the conversation.
var knownBlockKinds = map[string]bool{
	"text":        true,
	"image":       true,
	"tool_use":    true,
	"tool_result": true,
	"thinking":    true,
}

// ValidationError describes a structural problem with an inbound request.
// It maps to a 400 with a Claude-shaped error envelope.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ValidateRequest checks the structural invariants the converter depends
// on, before anything is sent upstream:
//
//   - roles are user or assistant
//   - block kinds are known
//   - tool_use blocks carry id and name
//   - every tool_result references a tool_use id from a PRIOR assistant turn
//
// The id correlation matters because the flattened OpenAI conversation
// pairs tool messages with assistant tool_calls by id; a dangling
// tool_use_id produces upstream 400s that are much harder to attribute.
func ValidateRequest(req *MessagesRequest) error {
	if req.Model == "" {
		return validationErrorf("model is required")
	}
	if len(req.Messages) == 0 {
		return validationErrorf("messages must not be empty")
	}

	seenToolUseIDs := map[string]bool{}

	for i, msg := range req.Messages {
		if msg.Role != "user" && msg.Role != "assistant" {
			return validationErrorf("messages[%d]: unsupported role %q", i, msg.Role)
		}
		if msg.IsStringContent() {
			continue
		}
		blocks, err := msg.Blocks()
		if err != nil {
			return validationErrorf("messages[%d]: malformed content: %v", i, err)
		}
		for j, block := range blocks {
			if !knownBlockKinds[block.Type] {
				return validationErrorf("messages[%d].content[%d]: unknown block type %q", i, j, block.Type)
			}
			switch block.Type {
			case "tool_use":
				if msg.Role != "assistant" {
					return validationErrorf("messages[%d].content[%d]: tool_use outside assistant message", i, j)
				}
				if block.ID == "" || block.Name == "" {
					return validationErrorf("messages[%d].content[%d]: tool_use requires id and name", i, j)
				}
				seenToolUseIDs[block.ID] = true
			case "tool_result":
				if msg.Role != "user" {
					return validationErrorf("messages[%d].content[%d]: tool_result outside user message", i, j)
				}
				if block.ToolUseID == "" {
					return validationErrorf("messages[%d].content[%d]: tool_result requires tool_use_id", i, j)
				}
				if !seenToolUseIDs[block.ToolUseID] {
					return validationErrorf("messages[%d].content[%d]: tool_result references unknown tool_use_id %q", i, j, block.ToolUseID)
				}
			case "image":
				if block.Source == nil {
					return validationErrorf("messages[%d].content[%d]: image requires source", i, j)
				}
			}
		}
	}
	return nil
}
