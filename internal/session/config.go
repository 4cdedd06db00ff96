package session

import (
	"log/slog"

	vcserrors "github.com/thiagokokada/p4vcs-go/internal/errors"
)

// Config holds the connection parameters of one session. Values are passed to
// the backend verbatim; checking credentials is the server's job.
type Config struct {
	User   string
	Secret string
	Host   string
	Port   string
}

// Validate reports the first empty field as a ConfigError.
func (c Config) Validate() error {
	fields := []struct {
		name  string
		value string
	}{
		{"user", c.User},
		{"secret", c.Secret},
		{"host", c.Host},
		{"port", c.Port},
	}
	for _, f := range fields {
		if f.value == "" {
			return &vcserrors.ConfigError{Field: f.name, Message: "must not be empty"}
		}
	}
	return nil
}

// LogValue keeps the secret out of logs.
func (c Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("user", c.User),
		slog.String("host", c.Host),
		slog.String("port", c.Port),
	)
}
