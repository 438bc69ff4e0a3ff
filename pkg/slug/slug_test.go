package slug

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello World", "hello-world"},
		{"  Hello,   World!!  ", "hello-world"},
		{"Crème brûlée à la carte", "creme-brulee-a-la-carte"},
		{"Straße", "strasse"},
		{"Flarum 1.8 -> Discourse", "flarum-1-8-discourse"},
		{"---", Fallback},
		{"", Fallback},
		{"Привет мир", Fallback},
		{"Go & Rust", "go-rust"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, Make(tt.in))
		})
	}
}

func TestMake_MaxLength(t *testing.T) {
	s := Make(strings.Repeat("ab ", 200))
	assert.LessOrEqual(t, len(s), MaxLength)
	assert.False(t, strings.HasSuffix(s, "-"))
}

func TestOrFallback(t *testing.T) {
	assert.Equal(t, "general-talk", OrFallback("general-talk", "ignored"))
	assert.Equal(t, "sub", OrFallback("", "Sub"))
	assert.Equal(t, "sub", OrFallback("обсуждение", "Sub"))
}
