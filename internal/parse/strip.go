package parse

import (
	"strings"
	"unicode"
)

var reasoningTags = []string{"thinking", "think", "reasoning", "reflection"}

var reasoningFenceLabels = map[string]bool{
	"思考":        true,
	"推理":        true,
	"think":     true,
	"thinking":  true,
	"reasoning": true,
}

// StripWrapping removes reasoning blocks and code fences around the payload.
func StripWrapping(raw string) string {
	return strings.TrimSpace(stripFences(stripReasoning(raw)))
}

// stripReasoning drops <think>-style blocks. Tags match in any ASCII casing
// and may nest. A closing tag with no opener drops everything before it,
// which covers models that stream the reasoning without the opening tag.
func stripReasoning(s string) string {
	lower := asciiLower(s)
	var out strings.Builder
	out.Grow(len(s))
	depth := 0

	for i := 0; i < len(s); {
		if s[i] == '<' {
			if n, closing, ok := matchReasoningTag(lower[i:]); ok {
				switch {
				case !closing:
					depth++
				case depth > 0:
					depth--
				default:
					out.Reset()
				}
				i += n
				continue
			}
		}
		if depth == 0 {
			out.WriteByte(s[i])
		}
		i++
	}
	return out.String()
}

// matchReasoningTag reports the byte length of a reasoning tag at the start
// of s, which must already be lowercased.
func matchReasoningTag(s string) (int, bool, bool) {
	pos := 1
	closing := false
	if len(s) > pos && s[pos] == '/' {
		closing = true
		pos++
	}
	for _, tag := range reasoningTags {
		if !strings.HasPrefix(s[pos:], tag) {
			continue
		}
		end := pos + len(tag)
		if end >= len(s) {
			return 0, false, false
		}
		switch c := s[end]; {
		case c == '>':
			return end + 1, closing, true
		case c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '/':
			gt := strings.IndexByte(s[end:], '>')
			if gt < 0 {
				return 0, false, false
			}
			return end + gt + 1, closing, true
		}
	}
	return 0, false, false
}

func stripFences(s string) string {
	var out strings.Builder
	open := false
	for {
		i := strings.Index(s, "```")
		if i < 0 {
			out.WriteString(s)
			break
		}
		out.WriteString(s[:i])
		rest := strings.TrimLeft(s[i:], "`")
		if open {
			open = false
			s = rest
			continue
		}

		label, after := fenceLabel(rest)
		if reasoningFenceLabels[strings.ToLower(label)] {
			end := strings.Index(after, "```")
			if end < 0 {
				break
			}
			s = strings.TrimLeft(after[end:], "`")
			continue
		}
		open = true
		s = after
	}
	return out.String()
}

func fenceLabel(s string) (string, string) {
	for i, r := range s {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_' {
			return s[:i], s[i:]
		}
	}
	return s, ""
}

func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}
