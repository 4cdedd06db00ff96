package buildinfo

import (
	"fmt"
	"runtime/debug"
)

// ProgramName identifies this tool to users and to VCS servers.
const ProgramName = "p4vcs"

// Version returns the module version or "dev" when unset.
func Version() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return "dev"
	}
	version := info.Main.Version
	if version == "" || version == "(devel)" {
		return "dev"
	}
	return version
}

// Revision returns the VCS revision recorded at build time, shortened to 12
// characters, or "" when unknown.
func Revision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			rev := setting.Value
			if len(rev) > 12 {
				rev = rev[:12]
			}
			return rev
		}
	}
	return ""
}

// String returns "p4vcs <version>" with the revision when known.
func String() string {
	rev := Revision()
	if rev == "" {
		return fmt.Sprintf("%s %s", ProgramName, Version())
	}
	return fmt.Sprintf("%s %s (%s)", ProgramName, Version(), rev)
}
