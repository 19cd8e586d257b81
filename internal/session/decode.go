package session

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// decodeText decodes raw as UTF-8 the way a WHATWG TextDecoder does in its
// default mode: a leading BOM is dropped and each maximal subpart of an
// ill-formed sequence becomes one U+FFFD. The result is trimmed of the
// whitespace String.prototype.trim removes.
func decodeText(raw []byte) string {
	if len(raw) >= len(utf8BOM) && string(raw[:len(utf8BOM)]) == string(utf8BOM) {
		raw = raw[len(utf8BOM):]
	}

	var b strings.Builder
	b.Grow(len(raw))
	for len(raw) > 0 {
		r, size := utf8.DecodeRune(raw)
		if r == utf8.RuneError && size <= 1 {
			size = maximalSubpart(raw)
		}
		b.WriteRune(r)
		raw = raw[size:]
	}

	return strings.TrimFunc(b.String(), isTrimSpace)
}

// maximalSubpart returns the length of the longest prefix of raw that starts
// a well-formed sequence, at least 1. raw must not start with a valid rune.
func maximalSubpart(raw []byte) int {
	lo, hi := byte(0x80), byte(0xBF)
	var n int
	switch b := raw[0]; {
	case b >= 0xC2 && b <= 0xDF:
		n = 2
	case b == 0xE0:
		n, lo = 3, 0xA0
	case b == 0xED:
		n, hi = 3, 0x9F
	case b >= 0xE1 && b <= 0xEF:
		n = 3
	case b == 0xF0:
		n, lo = 4, 0x90
	case b == 0xF4:
		n, hi = 4, 0x8F
	case b >= 0xF1 && b <= 0xF3:
		n = 4
	default:
		return 1
	}

	i := 1
	for i < n && i < len(raw) {
		c := raw[i]
		if c < lo || c > hi {
			break
		}
		lo, hi = 0x80, 0xBF
		i++
	}
	return i
}

// isTrimSpace matches ECMAScript WhiteSpace and LineTerminator: Unicode
// White_Space plus BOM, without NEL.
func isTrimSpace(r rune) bool {
	if r == '\u0085' {
		return false
	}
	return unicode.IsSpace(r) || r == '\uFEFF'
}
