package comments

import (
	"strings"
	"unicode/utf8"
)

// MaxCommentLen is the site's comment length limit, in characters.
const MaxCommentLen = 140

// Chunk splits lines into comment-sized payloads. Each line starts a new
// payload; lines longer than limit are wrapped at spaces, and words longer
// than limit are cut.
func Chunk(limit int, lines ...string) []string {
	if limit <= 0 {
		limit = MaxCommentLen
	}
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var cur strings.Builder
		n := 0
		flush := func() {
			if n > 0 {
				out = append(out, cur.String())
				cur.Reset()
				n = 0
			}
		}
		for _, w := range strings.Fields(line) {
			for wl := utf8.RuneCountInString(w); wl > limit; wl = utf8.RuneCountInString(w) {
				flush()
				r := []rune(w)
				out = append(out, string(r[:limit]))
				w = string(r[limit:])
			}
			wl := utf8.RuneCountInString(w)
			if wl == 0 {
				continue
			}
			switch {
			case n == 0:
			case n+1+wl <= limit:
				cur.WriteByte(' ')
				n++
			default:
				flush()
			}
			cur.WriteString(w)
			n += wl
		}
		flush()
	}
	return out
}
