//go:build nosyntaxhighlight

package render

import "github.com/alecthomas/chroma/v2"

func (r *Renderer) highlight(path, code string) (string, bool) { return "", false }

func styleForBackground(dark bool) *chroma.Style { return nil }
