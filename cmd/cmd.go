package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/spf13/cobra"

	"github.com/thiagokokada/p4vcs-go/internal/adapter"
	"github.com/thiagokokada/p4vcs-go/internal/buildinfo"
	vcserrors "github.com/thiagokokada/p4vcs-go/internal/errors"
	"github.com/thiagokokada/p4vcs-go/internal/render"
	"github.com/thiagokokada/p4vcs-go/internal/watch"
)

func Run() error {
	return newRootCmd(os.Stdout, os.Stderr).Execute()
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   buildinfo.ProgramName + " [flags] <repo> [file...]",
		Short: "Line diffs of working files against their server baseline",
		Long: `p4vcs connects to the version control server backing a repository and
prints, for each file, how its working copy differs from the server baseline.

Connection settings come from flags, the environment (P4USER, P4PASSWD,
P4PORT, P4VCS_*) or a YAML config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if v, _ := cmd.Flags().GetBool("version"); v {
				fmt.Fprintln(stdout, buildinfo.String())
				return nil
			}
			if len(args) == 0 {
				return errors.New("missing repository path")
			}
			s, err := loadSettings(cmd.Flags())
			if err != nil {
				return err
			}
			setupLogging(stderr, s.Verbose)
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return run(ctx, s, args[0], args[1:], stdout)
		},
	}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	addFlags(cmd.Flags())
	return cmd
}

func setupLogging(w io.Writer, verbose bool) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

func run(ctx context.Context, s settings, repo string, files []string, stdout io.Writer) (err error) {
	registry := adapter.NewRegistry(adapter.Options{P4: s.P4, Timeout: s.Timeout})
	v, err := registry.New(s.Backend)
	if err != nil {
		return err
	}
	a, ok := v.(*adapter.Adapter)
	if !ok {
		return fmt.Errorf("backend %s does not support connections", s.Backend)
	}
	if err := a.Initialize(ctx, repo); err != nil {
		return fmt.Errorf("initialize %s: %w", repo, err)
	}
	defer func() {
		if serr := a.ShutDown(context.WithoutCancel(ctx)); serr != nil {
			err = errors.Join(err, serr)
		}
	}()
	if err := connect(ctx, a, s, backoff.NewExponentialBackOff()); err != nil {
		return err
	}

	out := &printer{
		a:       a,
		w:       stdout,
		r:       newRenderer(stdout, s),
		unified: s.Unified,
	}
	paths := make([]string, len(files))
	for i, f := range files {
		if paths[i], err = filepath.Abs(f); err != nil {
			return err
		}
	}
	if err := out.print(ctx, paths); err != nil {
		return err
	}
	if !s.Watch || len(paths) == 0 {
		return nil
	}
	return watchFiles(ctx, out, paths)
}

func newRenderer(w io.Writer, s settings) *render.Renderer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = render.IsTerminal(f)
	}
	return render.New(w, render.Options{Color: color, Syntax: !s.NoSyntax, Context: s.Context})
}

type connector interface {
	SetupConnection(ctx context.Context, user, secret, host, port string) error
	StartClient(ctx context.Context) error
}

// connect configures the session once and retries the connection with
// backoff. Configuration and state errors are not retried.
func connect(ctx context.Context, c connector, s settings, b backoff.BackOff) error {
	if err := c.SetupConnection(ctx, s.User, s.Password, s.Host, s.Port); err != nil {
		return err
	}
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := c.StartClient(ctx)
		if err != nil && !errors.Is(err, vcserrors.ErrConnect) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.Retries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("connect failed, retrying", slog.Any("error", err), slog.Duration("in", next))
		}),
	)
	return err
}

type printer struct {
	mu      sync.Mutex
	a       *adapter.Adapter
	w       io.Writer
	r       *render.Renderer
	unified bool
}

// print diffs every path against its baseline. A missing file is diffed as
// empty text.
func (p *printer) print(ctx context.Context, paths []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	texts := make([]string, len(paths))
	for i, path := range paths {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return &vcserrors.IOError{Op: "read", Path: path, Err: err}
		}
		texts[i] = string(b)
	}
	if p.unified {
		for i, path := range paths {
			text, err := p.a.Unified(ctx, path, texts[i])
			if err != nil {
				return err
			}
			if err := p.r.Unified(p.w, text); err != nil {
				return err
			}
		}
		return nil
	}
	results := make([]<-chan adapter.DiffResult, len(paths))
	for i, path := range paths {
		results[i] = p.a.LineDiffAsync(ctx, path, texts[i])
	}
	var errs []error
	for _, ch := range results {
		res := <-ch
		if res.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", res.Path, res.Err))
			continue
		}
		if err := p.r.Lines(p.w, p.display(res.Path), p.a.VCSName(), res.Lines); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}

func (p *printer) display(path string) string {
	if rel, err := filepath.Rel(p.a.Root(), path); err == nil {
		return filepath.ToSlash(rel)
	}
	return path
}

func watchFiles(ctx context.Context, p *printer, paths []string) error {
	w, err := watch.New(paths, watch.DefaultDelay, func(changed []string) {
		if err := p.print(ctx, changed); err != nil {
			slog.Error("diff after change", slog.Any("error", err))
		}
	})
	if err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	slog.Info("watching files", slog.Int("count", len(paths)))
	<-ctx.Done()
	return w.Close()
}
