package parser

import "strings"

// XML simulated-tool syntax: a call is an element named after the tool,
// with one child element per parameter,
//
//	<get_weather><city>Paris</city></get_weather>
//
// optionally wrapped in a <function_calls> marker element. Only elements
// whose name matches a tool from the request are treated as calls; any
// other tag is literal text and passes through untouched.
const (
	xmlWrapperOpen  = "<function_calls>"
	xmlWrapperClose = "</function_calls>"
)

// XMLScanner incrementally recognizes XML simulated-tool calls.
type XMLScanner struct {
	toolNames []string
	sentinels []string
	buffer    string
}

// NewXMLScanner builds a scanner for the given tool-name set.
func NewXMLScanner(toolNames []string) *XMLScanner {
	sentinels := make([]string, 0, len(toolNames)+2)
	for _, name := range toolNames {
		sentinels = append(sentinels, "<"+name+">")
	}
	sentinels = append(sentinels, xmlWrapperOpen, xmlWrapperClose)
	return &XMLScanner{toolNames: toolNames, sentinels: sentinels}
}

// Feed consumes a text delta. Completed calls are extracted from the
// buffer; text that can no longer belong to a call is returned for
// emission with wrapper markers removed.
func (s *XMLScanner) Feed(text string) (string, []ToolCall) {
	s.buffer += text
	var out strings.Builder
	var calls []ToolCall

	for {
		start, name := s.earliestOpenTag()
		if start < 0 {
			break
		}
		openTag := "<" + name + ">"
		closeTag := "</" + name + ">"
		rel := strings.Index(s.buffer[start+len(openTag):], closeTag)
		if rel < 0 {
			// Call opened but not finished: everything before it is safe.
			out.WriteString(stripXMLMarkers(s.buffer[:start]))
			s.buffer = s.buffer[start:]
			return out.String(), calls
		}
		body := s.buffer[start+len(openTag) : start+len(openTag)+rel]
		out.WriteString(stripXMLMarkers(s.buffer[:start]))
		calls = append(calls, ToolCall{Name: name, Input: parseXMLParams(body)})
		s.buffer = s.buffer[start+len(openTag)+rel+len(closeTag):]
	}

	safe := holdbackFrom(s.buffer, s.sentinels)
	out.WriteString(stripXMLMarkers(s.buffer[:safe]))
	s.buffer = s.buffer[safe:]
	return out.String(), calls
}

// Finalize flushes whatever is still buffered at end of stream. A call
// left open by a truncated response is parsed from what arrived, matching
// the model's evident intent over echoing half a call as text.
func (s *XMLScanner) Finalize() (string, []ToolCall) {
	start, name := s.earliestOpenTag()
	if start >= 0 {
		openTag := "<" + name + ">"
		text := stripXMLMarkers(s.buffer[:start])
		body := s.buffer[start+len(openTag):]
		if idx := strings.Index(body, "</"+name+">"); idx >= 0 {
			body = body[:idx]
		}
		s.buffer = ""
		return text, []ToolCall{{Name: name, Input: parseXMLParams(body)}}
	}
	text := stripXMLMarkers(s.buffer)
	s.buffer = ""
	return text, nil
}

// earliestOpenTag finds the first opening tag of any known tool.
func (s *XMLScanner) earliestOpenTag() (int, string) {
	best := -1
	bestName := ""
	for _, name := range s.toolNames {
		idx := strings.Index(s.buffer, "<"+name+">")
		if idx >= 0 && (best < 0 || idx < best) {
			best = idx
			bestName = name
		}
	}
	return best, bestName
}

// stripXMLMarkers removes the optional wrapper element tokens and the
// newline each sits on.
func stripXMLMarkers(text string) string {
	for _, marker := range []string{xmlWrapperOpen + "\n", xmlWrapperClose + "\n", xmlWrapperOpen, xmlWrapperClose} {
		text = strings.ReplaceAll(text, marker, "")
	}
	return text
}

// parseXMLParams decodes the parameter elements of one call body. Tags
// that do not form a well-nested <name>…</name> pair are skipped rather
// than failing the whole call.
func parseXMLParams(body string) map[string]interface{} {
	params := map[string]interface{}{}
	rest := body
	for {
		open := strings.Index(rest, "<")
		if open < 0 {
			break
		}
		gt := strings.Index(rest[open:], ">")
		if gt < 0 {
			break
		}
		name := rest[open+1 : open+gt]
		if !isIdent(name) {
			rest = rest[open+1:]
			continue
		}
		closeTag := "</" + name + ">"
		valueStart := open + gt + 1
		end := strings.Index(rest[valueStart:], closeTag)
		if end < 0 {
			rest = rest[open+1:]
			continue
		}
		params[name] = parseValue(rest[valueStart : valueStart+end])
		rest = rest[valueStart+end+len(closeTag):]
	}
	return params
}

// ParseXMLCalls parses a complete response text in one shot, returning the
// prose with calls removed plus every recognized call in order.
func ParseXMLCalls(text string, toolNames []string) (string, []ToolCall) {
	scanner := NewXMLScanner(toolNames)
	prefix, calls := scanner.Feed(text)
	suffix, more := scanner.Finalize()
	return prefix + suffix, append(calls, more...)
}
