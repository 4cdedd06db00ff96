package cmd

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/thiagokokada/p4vcs-go/internal/adapter"
	"github.com/thiagokokada/p4vcs-go/internal/session"
)

const envPrefix = "P4VCS"

type settings struct {
	Backend  string
	P4       string
	User     string
	Password string
	Host     string
	Port     string
	Timeout  time.Duration
	Retries  int
	Context  int
	Unified  bool
	Watch    bool
	NoSyntax bool
	Verbose  bool
}

// defaultConfigFile returns $XDG_CONFIG_HOME/p4vcs/config.yaml, or "" when
// the user config directory is unknown.
func defaultConfigFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "p4vcs", "config.yaml")
}

func addFlags(fs *pflag.FlagSet) {
	fs.String("backend", adapter.PerforceBackend, "version control backend: perforce or git")
	fs.String("p4", "p4", "p4 executable used by the perforce backend")
	fs.String("user", "", "user name (env P4USER)")
	fs.String("password", "", "password or ticket (env P4PASSWD)")
	fs.String("host", "", "server host (env P4PORT as host:port)")
	fs.String("port", "", "server port")
	fs.Duration("timeout", session.DefaultTimeout, "bound for every server call")
	fs.Int("retries", 3, "connection retries before giving up")
	fs.Int("context", 3, "unchanged lines shown around changes, -1 for all")
	fs.Bool("unified", false, "print a unified diff")
	fs.Bool("watch", false, "diff again whenever a file changes")
	fs.Bool("nosyntax", false, "disable syntax highlighting")
	fs.Bool("verbose", false, "enable verbose logging")
	fs.Bool("version", false, "print version information and exit")
	fs.String("config", "", "config file (default "+defaultConfigFile()+")")
}

// loadSettings resolves settings from flags, environment and the config
// file, in that order of precedence.
func loadSettings(fs *pflag.FlagSet) (settings, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, envs := range map[string][]string{
		"user":     {"P4VCS_USER", "P4USER"},
		"password": {"P4VCS_PASSWORD", "P4PASSWD"},
		"p4port":   {"P4PORT"},
	} {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return settings{}, err
		}
	}
	if err := v.BindPFlags(fs); err != nil {
		return settings{}, err
	}

	path := v.GetString("config")
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if explicit || !(errors.As(err, &notFound) || errors.Is(err, os.ErrNotExist)) {
				return settings{}, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	s := settings{
		Backend:  v.GetString("backend"),
		P4:       v.GetString("p4"),
		User:     v.GetString("user"),
		Password: v.GetString("password"),
		Host:     v.GetString("host"),
		Port:     v.GetString("port"),
		Timeout:  v.GetDuration("timeout"),
		Retries:  v.GetInt("retries"),
		Context:  v.GetInt("context"),
		Unified:  v.GetBool("unified"),
		Watch:    v.GetBool("watch"),
		NoSyntax: v.GetBool("nosyntax"),
		Verbose:  v.GetBool("verbose"),
	}
	if p4port := v.GetString("p4port"); p4port != "" && (s.Host == "" || s.Port == "") {
		host, port, err := splitP4Port(p4port)
		if err != nil {
			return settings{}, err
		}
		if s.Host == "" {
			s.Host = host
		}
		if s.Port == "" {
			s.Port = port
		}
	}
	if s.Retries < 0 {
		return settings{}, fmt.Errorf("retries must not be negative, got %d", s.Retries)
	}
	return s, nil
}

// splitP4Port accepts host:port, a bare port and the ssl:/tcp: prefixed
// forms Perforce uses.
func splitP4Port(p4port string) (string, string, error) {
	for _, prefix := range []string{"ssl:", "tcp:", "ssl4:", "tcp4:", "ssl6:", "tcp6:"} {
		p4port = strings.TrimPrefix(p4port, prefix)
	}
	if !strings.Contains(p4port, ":") {
		return "", p4port, nil
	}
	host, port, err := net.SplitHostPort(p4port)
	if err != nil {
		return "", "", fmt.Errorf("parse P4PORT %q: %w", p4port, err)
	}
	return host, port, nil
}
