// Package vcs defines the capability set an editor's version-control panel
// expects from a VCS adapter. Every backend is a sibling implementation of
// Adapter; callers never reach into an implementation's internals.
package vcs

import "context"

type ChangeKind uint8

const (
	Unchanged ChangeKind = iota
	Added
	Removed
	Modified
)

func (k ChangeKind) String() string {
	switch k {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Removed:
		return "removed"
	case Modified:
		return "modified"
	default:
		return "unknown"
	}
}

// Marker returns the single character editors use in a gutter for k.
func (k ChangeKind) Marker() string {
	switch k {
	case Added:
		return "+"
	case Removed:
		return "-"
	case Modified:
		return "~"
	default:
		return " "
	}
}

// DiffLine is one record of a line diff.
//
// Line is the candidate-side line number, except for Removed records where it
// is the baseline line number. OldLine and NewLine hold both sides and are 0
// when the line does not exist on that side.
type DiffLine struct {
	Line     int
	OldLine  int
	NewLine  int
	Kind     ChangeKind
	Content  string
	Previous string // baseline content of a Modified line
}

// Adapter is the host-facing contract.
type Adapter interface {
	Initialize(ctx context.Context, repoRoot string) error
	ShutDown(ctx context.Context) error
	VCSName() string
	LineDiff(ctx context.Context, path, text string) ([]DiffLine, error)
}

// Changed reports whether lines contain anything besides Unchanged records.
func Changed(lines []DiffLine) bool {
	for _, l := range lines {
		if l.Kind != Unchanged {
			return true
		}
	}
	return false
}
