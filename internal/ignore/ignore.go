// Package ignore creates the repository-local ignore file on first use and
// leaves it alone afterwards.
package ignore

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	vcserrors "github.com/thiagokokada/p4vcs-go/internal/errors"
)

const (
	PerforceFileName = ".p4ignore"
	GitFileName      = ".gitignore"

	TemplateVersion = 1
)

// Template is the content written to a new ignore file. Bump TemplateVersion
// whenever it changes.
const Template = `# p4vcs ignore template v1
# Created once by p4vcs and never rewritten; edit freely.

# Editor state and imported assets
.godot/
.import/
*.import.tmp

# Exports and credentials
export.cfg
export_credentials.cfg
export_presets.cfg.bak
*.pck
builds/

# Per-user VCS settings
.p4config
.p4tickets

# OS and tool noise
.DS_Store
Thumbs.db
*.tmp
*.swp
*~
`

type Manager struct {
	Name     string
	Template string
}

func New(name string) *Manager {
	return &Manager{Name: name, Template: Template}
}

// Path returns the ignore file location under root.
func (m *Manager) Path(root string) string {
	return filepath.Join(root, m.Name)
}

// Ensure creates the ignore file under root when it is missing. An existing
// file is success and is never modified. created reports whether this call
// wrote the file.
func (m *Manager) Ensure(root string) (path string, created bool, err error) {
	path = m.Path(root)
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			slog.Debug("ignore file present", slog.String("path", path))
			return path, false, nil
		}
		return path, false, &vcserrors.IOError{Op: "create", Path: path, Err: err}
	}
	if _, err := f.WriteString(m.Template); err != nil {
		err = errors.Join(err, f.Close(), os.Remove(path))
		return path, false, &vcserrors.IOError{Op: "write", Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return path, false, &vcserrors.IOError{Op: "close", Path: path, Err: err}
	}
	slog.Info("ignore file created", slog.String("path", path), slog.Int("template_version", TemplateVersion))
	return path, true, nil
}
