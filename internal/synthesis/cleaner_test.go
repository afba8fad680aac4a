package synthesis

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanContent(t *testing.T) {
	c := NewCleaner()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"html", "<b>Art. 1º</b> Esta Lei", "Art. 1º Esta Lei"},
		{"markdown", "## Título\n**Art. 2º** texto", "Título\nArt. 2º texto"},
		{"whitespace", "a \t  b\n\n\n\nc", "a b\n\nc"},
		{"trim", "  texto  ", "texto"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.CleanContent(tt.in))
		})
	}
}

func TestExcerpt(t *testing.T) {
	c := NewCleaner()

	short := "Frase curta."
	assert.Equal(t, short, c.Excerpt(short, 100))

	text := "Primeira frase do artigo. Segunda frase do artigo. Terceira frase do artigo."
	got := c.Excerpt(text, 55)
	assert.Equal(t, "Primeira frase do artigo. Segunda frase do artigo. …", got)

	long := strings.Repeat("palavra ", 50)
	got = c.Excerpt(long, 30)
	assert.True(t, strings.HasSuffix(got, " …"))
	assert.LessOrEqual(t, len(got), 30+len(" …"))
}

func TestFormatValue(t *testing.T) {
	v := 1.9
	assert.Equal(t, "1.9", FormatValue(&v, ""))
	h := 52.0
	assert.Equal(t, "52 m", FormatValue(&h, "m"))
	assert.Equal(t, "não se aplica", FormatValue(nil, "m"))
}
