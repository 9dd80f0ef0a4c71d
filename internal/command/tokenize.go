package command

import (
	"strings"
	"unicode"
)

// Tokenize splits on whitespace outside double quotes. Quoted segments stay in
// their token together with the quote characters, so handlers can tell
// whether an argument was quoted. Typographic quotes count as '"'.
func Tokenize(s string) []string {
	var (
		out     []string
		cur     strings.Builder
		inQuote bool
		started bool
	)
	flush := func() {
		if started {
			out = append(out, cur.String())
		}
		cur.Reset()
		started = false
	}
	for _, r := range s {
		switch {
		case r == '"' || r == '“' || r == '”':
			inQuote = !inQuote
			cur.WriteRune('"')
			started = true
		case unicode.IsSpace(r) && !inQuote:
			flush()
		default:
			cur.WriteRune(r)
			started = true
		}
	}
	flush()
	return out
}
