package proxy

import "strings"

// thinkScanner incrementally splits streamed assistant text on inline
// chain-of-thought tags, the streaming counterpart of splitThinkBlocks.
// It buffers just enough of the tail that a tag split across deltas never
// leaks into client-visible text, same hold-back technique as the
// simulated-tool scanners.
//
// Inline thinking is recognized once per stream: after the first section
// closes, or once the upstream has produced native reasoning deltas,
// later tags are ordinary text. Models that leak a stray tag mid-answer
// would otherwise flip the rest of the reply into a thinking block.
type thinkScanner struct {
	buffer     string
	inThinking bool
	disabled   bool
	trimNext   bool
}

// thinkSegment is one routed piece of text.
type thinkSegment struct {
	thinking bool
	text     string
}

var allThinkTags = []string{"<think>", "<cot>", "</think>", "</cot>", "<end_cot>"}

// onReasoningMode turns inline tag detection off for the rest of the
// stream; the upstream reports thinking through its own channel.
func (s *thinkScanner) onReasoningMode() {
	if !s.inThinking {
		s.disabled = true
	}
}

func (s *thinkScanner) emit(segments []thinkSegment, text string) []thinkSegment {
	if s.trimNext {
		text = strings.TrimLeft(text, " \t\r\n")
		if text == "" {
			return segments
		}
		s.trimNext = false
	}
	if text == "" {
		return segments
	}
	return append(segments, thinkSegment{thinking: s.inThinking, text: text})
}

// Feed consumes a text delta and returns the routed segments that are
// safe to emit.
func (s *thinkScanner) Feed(text string) []thinkSegment {
	s.buffer += text
	var segments []thinkSegment

	for {
		if s.disabled {
			segments = s.emit(segments, s.buffer)
			s.buffer = ""
			return segments
		}

		if !s.inThinking {
			start, tag := findFirst(s.buffer, thinkStartTags)
			if start < 0 {
				break
			}
			segments = s.emit(segments, s.buffer[:start])
			s.buffer = s.buffer[start+len(tag):]
			s.inThinking = true
			s.trimNext = true
			continue
		}

		end, tag := findFirst(s.buffer, thinkEndTags)
		if end < 0 {
			break
		}
		segments = s.emit(segments, strings.TrimRight(s.buffer[:end], " \t\r\n"))
		s.buffer = s.buffer[end+len(tag):]
		s.inThinking = false
		// Single-entry thinking: the section is over for this stream.
		s.disabled = true
		s.trimNext = true
	}

	safe := holdbackThinkTag(s.buffer)
	segments = s.emit(segments, s.buffer[:safe])
	s.buffer = s.buffer[safe:]
	return segments
}

// Finalize flushes whatever is buffered; an unterminated thinking section
// runs to the end of the stream, a dangling partial tag is literal text.
func (s *thinkScanner) Finalize() []thinkSegment {
	var segments []thinkSegment
	text := s.buffer
	if s.inThinking {
		text = strings.TrimRight(text, " \t\r\n")
	}
	segments = s.emit(segments, text)
	s.buffer = ""
	return segments
}

// holdbackThinkTag returns the index from which the buffer tail could
// still grow into one of the think tags and must be withheld.
func holdbackThinkTag(buffer string) int {
	maxLen := 0
	for _, tag := range allThinkTags {
		if len(tag) > maxLen {
			maxLen = len(tag)
		}
	}
	start := len(buffer) - (maxLen - 1)
	if start < 0 {
		start = 0
	}
	for i := start; i < len(buffer); i++ {
		if buffer[i] != '<' {
			continue
		}
		tail := buffer[i:]
		for _, tag := range allThinkTags {
			if len(tail) < len(tag) && strings.HasPrefix(tag, tail) {
				return i
			}
		}
	}
	return len(buffer)
}
