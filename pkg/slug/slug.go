// Package slug строит URL-безопасные slug из заголовков и названий.
package slug

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Fallback - slug для строк, в которых не осталось ни одного ASCII символа
const Fallback = "topic"

// MaxLength - максимальная длина slug
const MaxLength = 255

var replacer = strings.NewReplacer("ß", "ss", "æ", "ae", "œ", "oe", "ø", "o", "đ", "d", "ł", "l")

// Make возвращает ASCII slug: диакритика снимается, все кроме [a-z0-9]
// схлопывается в один '-', дефисы по краям обрезаются.
func Make(s string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, strings.ToLower(s))
	if err != nil {
		folded = strings.ToLower(s)
	}
	folded = replacer.Replace(folded)

	var b strings.Builder
	b.Grow(len(folded))
	dash := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}

	out := strings.TrimRight(b.String(), "-")
	if len(out) > MaxLength {
		out = strings.TrimRight(out[:MaxLength], "-")
	}
	if out == "" {
		return Fallback
	}
	return out
}

// OrFallback возвращает заранее известный slug, если он есть,
// иначе строит его из name
func OrFallback(known, name string) string {
	if s := Make(known); known != "" && s != Fallback {
		return s
	}
	return Make(name)
}
