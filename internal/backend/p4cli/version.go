package p4cli

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Minimum supported p4 release. "p4 login" reading the password from stdin and
// P4IGNORE both predate it.
var minP4Version = p4Version{year: 2015, minor: 2}

type p4Version struct {
	year  int
	minor int
}

func MinP4Version() string {
	return minP4Version.String()
}

func (v p4Version) String() string {
	return fmt.Sprintf("%d.%d", v.year, v.minor)
}

func (v p4Version) less(other p4Version) bool {
	if v.year != other.year {
		return v.year < other.year
	}
	return v.minor < other.minor
}

func parseP4VersionOutput(out string) (p4Version, bool) {
	// The release is the third field of the "Rev." line:
	// "Rev. P4/LINUX26X86_64/2023.1/2468153 (2023/05/23)."
	for line := range strings.SplitSeq(out, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "Rev. ") {
			continue
		}
		fields := strings.Split(strings.Fields(line[len("Rev. "):])[0], "/")
		if len(fields) < 3 {
			return p4Version{}, false
		}
		yearStr, minorStr, ok := strings.Cut(fields[2], ".")
		if !ok {
			return p4Version{}, false
		}
		year, err := strconv.Atoi(yearStr)
		if err != nil {
			return p4Version{}, false
		}
		minor, err := strconv.Atoi(minorStr)
		if err != nil {
			return p4Version{}, false
		}
		return p4Version{year: year, minor: minor}, true
	}
	return p4Version{}, false
}

func validateP4VersionOutput(out string) error {
	got, ok := parseP4VersionOutput(out)
	if !ok {
		return fmt.Errorf("unable to parse p4 version output: %q", strings.TrimSpace(out))
	}
	if got.less(minP4Version) {
		return fmt.Errorf("p4 %s is too old; p4vcs requires p4 >= %s", got, minP4Version)
	}
	return nil
}

// Library checks the p4 executable once per process. The CLI keeps no global
// state, so Shutdown only forgets the cached check.
type Library struct {
	exe string

	mu      sync.Mutex
	checked bool
	version string
}

func NewLibrary(exe string) *Library {
	if exe == "" {
		exe = defaultExecutable
	}
	return &Library{exe: exe}
}

func (l *Library) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.checked {
		return nil
	}
	outBytes, err := exec.Command(l.exe, "-V").CombinedOutput()
	out := strings.TrimSpace(string(outBytes))
	if err != nil {
		if out != "" {
			return fmt.Errorf("p4 -V: %v: %s", err, out)
		}
		return fmt.Errorf("p4 -V: %w", err)
	}
	if err := validateP4VersionOutput(out); err != nil {
		return err
	}
	v, _ := parseP4VersionOutput(out)
	l.version = v.String()
	l.checked = true
	return nil
}

func (l *Library) Shutdown() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checked = false
	l.version = ""
	return nil
}

// Version returns the release found by the last successful Init.
func (l *Library) Version() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.version
}
