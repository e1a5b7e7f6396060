package latex

import (
	"fmt"
	"strings"
)

const (
	DefaultEndpoint = "https://latex.codecogs.com/png.latex"
	DefaultDPI      = 200
	DefaultColor    = "white"
)

// Encoder turns a LaTeX expression into a rendering-service request URL.
type Encoder struct {
	Endpoint string
	DPI      int
	Color    string
}

// DefaultEncoder targets the CodeCogs PNG endpoint at 200 dpi in white.
func DefaultEncoder() Encoder {
	return Encoder{Endpoint: DefaultEndpoint, DPI: DefaultDPI, Color: DefaultColor}
}

func (e Encoder) withDefaults() Encoder {
	if strings.TrimSpace(e.Endpoint) == "" {
		e.Endpoint = DefaultEndpoint
	}
	if e.DPI <= 0 {
		e.DPI = DefaultDPI
	}
	if strings.TrimSpace(e.Color) == "" {
		e.Color = DefaultColor
	}

	return e
}

// Expression wraps text in the display directives sent to the renderer.
func (e Encoder) Expression(text string) string {
	e = e.withDefaults()
	return fmt.Sprintf(`\dpi{%d} \color{%s}{%s}`, e.DPI, strings.TrimSpace(e.Color), text)
}

// URL builds the full request URL with the wrapped expression as the query.
func (e Encoder) URL(text string) string {
	e = e.withDefaults()
	endpoint := strings.TrimRight(strings.TrimSpace(e.Endpoint), "?")
	return endpoint + "?" + EscapeComponent(e.Expression(text))
}

// EscapeComponent percent-encodes s the way browsers encode one URI component:
// only ALPHA, DIGIT and -_.!~*'() survive, every other byte becomes %XX.
func EscapeComponent(s string) string {
	const hex = "0123456789ABCDEF"

	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isComponentSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hex[c>>4])
		b.WriteByte(hex[c&0x0f])
	}

	return b.String()
}

func isComponentSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}

	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	default:
		return false
	}
}
