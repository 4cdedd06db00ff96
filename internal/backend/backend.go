package backend

import (
	"context"
	"errors"
)

// ErrNoSuchFile is returned by Run("print") when the backend has no baseline
// for the requested path.
var ErrNoSuchFile = errors.New("no such file")

// OpPrint fetches the baseline content of one file.
const OpPrint = "print"

// Client abstracts one connection to a remote VCS server.
//
// The Perforce implementation shells out to the p4 executable and the git
// implementation talks to the remote through go-git, but callers only see the
// parameter setters and the connect/run/disconnect primitives.
type Client interface {
	Name() string

	SetPort(port string) error
	SetUser(user string) error
	SetHost(host string) error
	SetPassword(password string) error
	SetWorkspace(root string) error
	SetIgnoreFile(path string) error

	Connect(ctx context.Context) error
	Run(ctx context.Context, name string, args []string, sink Sink) error
	Disconnect() error
}

// Library is the process-wide part of a backend client library.
type Library interface {
	Init() error
	Shutdown() error
}

// Sink receives the output of a Run call.
type Sink interface {
	Text(data []byte)
	Record(fields map[string]string)
	Message(msg string)
}
