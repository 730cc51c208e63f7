package parse

// balancedArrays returns every top-level bracket-balanced substring of text
// in order of appearance. Brackets inside JSON strings are ignored. An opening
// bracket that never closes, such as a stray "[" in prose, does not hide the
// arrays after it: the scan restarts just past that bracket.
func balancedArrays(text string) []string {
	var out []string
	for pos := 0; pos < len(text); {
		found, next := scanArrays(text, pos)
		out = append(out, found...)
		if next < 0 {
			break
		}
		pos = next
	}
	return out
}

// scanArrays collects balanced arrays from text[from:]. When the text ends
// inside an unclosed array it returns the position to restart from, else -1.
func scanArrays(text string, from int) ([]string, int) {
	var (
		out      []string
		depth    int
		start    = -1
		inString bool
		escaped  bool
	)
	for i := from; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '[':
			if depth == 0 {
				start = i
			}
			depth++
		case ']':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				out = append(out, text[start:i+1])
				start = -1
			}
		}
	}
	if depth > 0 {
		return out, start + 1
	}
	return out, -1
}
