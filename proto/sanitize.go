package proto

import "bytes"

var nonFiniteTokens = [][]byte{
	[]byte("-Infinity"),
	[]byte("Infinity"),
	[]byte("NaN"),
}

// Sanitize rewrites bare NaN, Infinity and -Infinity tokens outside of string literals to null.
// rosbridge serializes non-finite floats that way and encoding/json refuses them, which would
// otherwise cost the whole frame. The input is returned unchanged when nothing needs rewriting.
func Sanitize(raw []byte) []byte {
	if !bytes.Contains(raw, []byte("NaN")) && !bytes.Contains(raw, []byte("Infinity")) {
		return raw
	}

	out := make([]byte, 0, len(raw))
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if inString {
			out = append(out, c)
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
		if c == '"' {
			inString = true
			out = append(out, c)
			continue
		}
		if tok := matchNonFinite(raw[i:]); tok > 0 {
			out = append(out, "null"...)
			i += tok - 1
			continue
		}
		out = append(out, c)
	}
	return out
}

func matchNonFinite(b []byte) int {
	for _, tok := range nonFiniteTokens {
		if bytes.HasPrefix(b, tok) {
			return len(tok)
		}
	}
	return 0
}
