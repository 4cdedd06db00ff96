package diff

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/thiagokokada/p4vcs-go/internal/backend"
	vcserrors "github.com/thiagokokada/p4vcs-go/internal/errors"
	"github.com/thiagokokada/p4vcs-go/internal/session"
	"github.com/thiagokokada/p4vcs-go/internal/vcs"
)

// resourcePrefix is the editor's scheme for paths inside the project.
const resourcePrefix = "res://"

// Source is the part of a session the engine needs.
type Source interface {
	State() session.State
	Run(ctx context.Context, name string, args []string) (*backend.Output, error)
}

type Engine struct {
	src  Source
	root string
}

func New(src Source, root string) *Engine {
	return &Engine{src: src, root: root}
}

// LineDiff compares text with the backend's baseline of path.
func (e *Engine) LineDiff(ctx context.Context, path, text string) ([]vcs.DiffLine, error) {
	baseline, found, err := e.Baseline(ctx, path)
	if err != nil {
		return nil, err
	}
	candidate := SplitLines(text)
	if !found {
		slog.Debug("no baseline, reporting all lines added", slog.String("path", path), slog.Int("lines", len(candidate)))
		return AllAdded(candidate), nil
	}
	return Lines(SplitLines(baseline), candidate), nil
}

// Baseline fetches the last known version of path. found is false when the
// backend does not track the file.
func (e *Engine) Baseline(ctx context.Context, path string) (content string, found bool, err error) {
	_, content, found, err = e.baseline(ctx, path)
	return content, found, err
}

func (e *Engine) baseline(ctx context.Context, path string) (rel, content string, found bool, err error) {
	if e.src == nil || e.src.State() != session.Connected {
		return "", "", false, &vcserrors.DiffError{Reason: vcserrors.BackendUnavailable, Path: path}
	}
	rel, err = e.RelPath(path)
	if err != nil {
		return "", "", false, err
	}
	out, err := e.src.Run(ctx, backend.OpPrint, []string{rel})
	if err != nil {
		if errors.Is(err, backend.ErrNoSuchFile) {
			return rel, "", false, nil
		}
		return "", "", false, &vcserrors.DiffError{Reason: vcserrors.FetchFailed, Path: path, Err: err}
	}
	return rel, out.String(), true, nil
}

// Unified renders the comparison of text against the baseline of path as a
// unified diff. An empty string means no changes.
func (e *Engine) Unified(ctx context.Context, path, text string) (string, error) {
	rel, baseline, found, err := e.baseline(ctx, path)
	if err != nil {
		return "", err
	}
	from := "a/" + rel
	if !found {
		from = "/dev/null"
	}
	ud := difflib.UnifiedDiff{
		A:        unifiedLines(baseline),
		B:        unifiedLines(text),
		FromFile: from,
		ToFile:   "b/" + rel,
		Context:  3,
	}
	return difflib.GetUnifiedDiffString(ud)
}

func unifiedLines(s string) []string {
	if s == "" {
		return nil
	}
	return difflib.SplitLines(s)
}

// RelPath turns an editor path into the slash-separated path the backend
// expects: resource paths and absolute paths under the workspace root become
// root-relative. Resource paths that climb out of the project are rejected.
func (e *Engine) RelPath(path string) (string, error) {
	if rest, ok := strings.CutPrefix(path, resourcePrefix); ok {
		rel := filepath.Clean(rest)
		if escapes(rel) || filepath.IsAbs(rel) {
			return "", &vcserrors.DiffError{Reason: vcserrors.OutsideProject, Path: path}
		}
		return filepath.ToSlash(rel), nil
	}
	if e.root != "" && filepath.IsAbs(path) {
		if rel, err := filepath.Rel(e.root, path); err == nil && !escapes(rel) {
			return filepath.ToSlash(rel), nil
		}
	}
	return filepath.ToSlash(path), nil
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
