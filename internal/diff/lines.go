package diff

import (
	"strings"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/thiagokokada/p4vcs-go/internal/vcs"
)

// maxTableCells caps the LCS table; larger middles use the Myers fallback.
var maxTableCells = 16 << 20

type opKind uint8

const (
	opEqual opKind = iota
	opDelete
	opInsert
)

type op struct {
	kind opKind
	a, b int // indexes into the baseline and candidate lines
}

// SplitLines splits text into lines. A trailing newline does not start an
// extra line and a trailing '\r' is dropped from every line.
func SplitLines(text string) []string {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

// AllAdded reports every line of lines as Added.
func AllAdded(lines []string) []vcs.DiffLine {
	out := make([]vcs.DiffLine, len(lines))
	for i, l := range lines {
		out[i] = vcs.DiffLine{Line: i + 1, NewLine: i + 1, Kind: vcs.Added, Content: l}
	}
	return out
}

// Lines compares baseline with candidate and returns one record per line.
//
// The edit script is minimal and, among minimal scripts, keeps the longest
// leading run of unchanged lines. Inside a changed block, removed lines are
// paired with added lines in order and reported as Modified; leftover lines
// are reported as Removed, then Added.
func Lines(baseline, candidate []string) []vcs.DiffLine {
	return records(baseline, candidate, editScript(baseline, candidate))
}

func editScript(a, b []string) []op {
	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix && a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	ops := make([]op, 0, len(a)+len(b))
	for i := range prefix {
		ops = append(ops, op{kind: opEqual, a: i, b: i})
	}
	midA := a[prefix : len(a)-suffix]
	midB := b[prefix : len(b)-suffix]
	var mid []op
	if len(midA)*len(midB) <= maxTableCells {
		mid = lcsScript(midA, midB)
	} else {
		mid = myersScript(midA, midB)
	}
	for _, o := range mid {
		o.a += prefix
		o.b += prefix
		ops = append(ops, o)
	}
	for k := range suffix {
		ops = append(ops, op{kind: opEqual, a: len(a) - suffix + k, b: len(b) - suffix + k})
	}
	return ops
}

// lcsScript walks a suffix LCS table from the front, taking a match whenever
// the lines are equal and preferring deletions over insertions on ties.
func lcsScript(a, b []string) []op {
	n, m := len(a), len(b)
	if n == 0 || m == 0 {
		return plainScript(n, m)
	}
	width := m + 1
	table := make([]int32, (n+1)*width)
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i*width+j] = table[(i+1)*width+j+1] + 1
			} else {
				table[i*width+j] = max(table[(i+1)*width+j], table[i*width+j+1])
			}
		}
	}
	ops := make([]op, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case a[i] == b[j]:
			ops = append(ops, op{kind: opEqual, a: i, b: j})
			i++
			j++
		case table[(i+1)*width+j] >= table[i*width+j+1]:
			ops = append(ops, op{kind: opDelete, a: i, b: j})
			i++
		default:
			ops = append(ops, op{kind: opInsert, a: i, b: j})
			j++
		}
	}
	for ; i < n; i++ {
		ops = append(ops, op{kind: opDelete, a: i, b: j})
	}
	for ; j < m; j++ {
		ops = append(ops, op{kind: opInsert, a: i, b: j})
	}
	return ops
}

func plainScript(n, m int) []op {
	ops := make([]op, 0, n+m)
	for i := range n {
		ops = append(ops, op{kind: opDelete, a: i})
	}
	for j := range m {
		ops = append(ops, op{kind: opInsert, a: n, b: j})
	}
	return ops
}

// maxDistinctLines keeps line runes below the top of the Unicode range.
const maxDistinctLines = utf8.MaxRune - 0x800 - 1

// myersScript maps every distinct line to one rune and lets diffmatchpatch
// run Myers' algorithm over the rune strings.
func myersScript(a, b []string) []op {
	index := map[string]rune{}
	encode := func(lines []string) ([]rune, bool) {
		runes := make([]rune, len(lines))
		for i, l := range lines {
			r, ok := index[l]
			if !ok {
				if len(index) >= maxDistinctLines {
					return nil, false
				}
				r = lineRune(len(index))
				index[l] = r
			}
			runes[i] = r
		}
		return runes, true
	}
	ra, okA := encode(a)
	rb, okB := encode(b)
	if !okA || !okB {
		return plainScript(len(a), len(b))
	}

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(ra, rb, false)

	ops := make([]op, 0, len(a)+len(b))
	i, j := 0, 0
	for _, d := range diffs {
		count := utf8.RuneCountInString(d.Text)
		for range count {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				ops = append(ops, op{kind: opEqual, a: i, b: j})
				i++
				j++
			case diffmatchpatch.DiffDelete:
				ops = append(ops, op{kind: opDelete, a: i, b: j})
				i++
			case diffmatchpatch.DiffInsert:
				ops = append(ops, op{kind: opInsert, a: i, b: j})
				j++
			}
		}
	}
	return ops
}

// lineRune returns a valid, non-surrogate rune for the n-th distinct line.
func lineRune(n int) rune {
	r := rune(n + 1)
	if r >= 0xD800 {
		r += 0x800
	}
	return r
}

func records(a, b []string, ops []op) []vcs.DiffLine {
	out := make([]vcs.DiffLine, 0, len(ops))
	var removed, added []op
	flush := func() {
		pairs := min(len(removed), len(added))
		for k := range pairs {
			ra, ad := removed[k], added[k]
			out = append(out, vcs.DiffLine{
				Line:     ad.b + 1,
				OldLine:  ra.a + 1,
				NewLine:  ad.b + 1,
				Kind:     vcs.Modified,
				Content:  b[ad.b],
				Previous: a[ra.a],
			})
		}
		for _, r := range removed[pairs:] {
			out = append(out, vcs.DiffLine{Line: r.a + 1, OldLine: r.a + 1, Kind: vcs.Removed, Content: a[r.a]})
		}
		for _, ad := range added[pairs:] {
			out = append(out, vcs.DiffLine{Line: ad.b + 1, NewLine: ad.b + 1, Kind: vcs.Added, Content: b[ad.b]})
		}
		removed = removed[:0]
		added = added[:0]
	}
	for _, o := range ops {
		switch o.kind {
		case opEqual:
			flush()
			out = append(out, vcs.DiffLine{
				Line:    o.b + 1,
				OldLine: o.a + 1,
				NewLine: o.b + 1,
				Kind:    vcs.Unchanged,
				Content: b[o.b],
			})
		case opDelete:
			removed = append(removed, o)
		case opInsert:
			added = append(added, o)
		}
	}
	flush()
	return out
}
