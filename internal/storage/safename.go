package storage

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	separatorRun = regexp.MustCompile(`[-\s_]+`)
	edgeJunk     = regexp.MustCompile(`^[_.]+|[_.]+$`)
)

// SafeName turns segment text into a filename fragment. The first 30 runes of
// text are considered; anything that is not a letter, digit, '.', '-' or
// whitespace becomes '_', separator runs collapse to one '_', and the result
// is cut to 25 bytes. Results shorter than two bytes become "audio_segment".
func SafeName(text string) string {
	rs := []rune(text)
	if len(rs) > 30 {
		rs = rs[:30]
	}
	var b strings.Builder
	for _, r := range rs {
		switch {
		case r < 0x20 || strings.ContainsRune(`<>:"/\|?*`, r):
			// dropped
		case unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) || r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := separatorRun.ReplaceAllString(b.String(), "_")
	s = edgeJunk.ReplaceAllString(s, "")
	if len(s) < 2 {
		return "audio_segment"
	}
	if len(s) > 25 {
		s = truncateUTF8(s, 25)
	}
	return s
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	for n > 0 && !utf8RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func utf8RuneStart(b byte) bool { return b&0xC0 != 0x80 }
