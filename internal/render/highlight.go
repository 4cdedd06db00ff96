//go:build !nosyntaxhighlight

package render

import (
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/charmbracelet/lipgloss"
)

// highlight colours code with the lexer matching path. ok is false when
// syntax highlighting is off or no lexer applies.
func (r *Renderer) highlight(path, code string) (string, bool) {
	if r.syntax == nil || code == "" {
		return "", false
	}
	lexer := lexerForPath(path)
	if lexer == nil {
		return "", false
	}
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return "", false
	}
	var b strings.Builder
	for _, token := range iterator.Tokens() {
		value := strings.TrimRight(token.Value, "\n")
		if value == "" {
			continue
		}
		color := colorFromEntry(r.syntax.Get(token.Type))
		if color == "" {
			b.WriteString(value)
			continue
		}
		b.WriteString(r.unchanged.Foreground(lipgloss.Color(color)).Render(value))
	}
	return b.String(), true
}

func styleForBackground(dark bool) *chroma.Style {
	if dark {
		if st := styles.Get("github-dark"); st != nil {
			return st
		}
	} else {
		if st := styles.Get("github"); st != nil {
			return st
		}
	}
	return styles.Fallback
}

func colorFromEntry(entry chroma.StyleEntry) string {
	if entry.Colour.IsSet() {
		col := entry.Colour.String()
		col = strings.TrimPrefix(strings.ToLower(col), "#")
		return "#" + col
	}
	return ""
}

// lexerForPath returns nil when no lexer is registered for path; plain text
// is left uncoloured.
func lexerForPath(path string) chroma.Lexer {
	if path == "" {
		return nil
	}
	lexer := lexers.Match(path)
	if lexer == nil {
		return nil
	}
	return chroma.Coalesce(lexer)
}
