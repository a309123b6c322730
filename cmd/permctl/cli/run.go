package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
)

// Connection locates the API and the operator account.
type Connection struct {
	URL      string        `envconfig:"PLANTOPS_URL" default:"http://localhost:8080"`
	Email    string        `envconfig:"PLANTOPS_EMAIL"`
	Password string        `envconfig:"PLANTOPS_PASSWORD"`
	Timeout  time.Duration `envconfig:"PLANTOPS_TIMEOUT" default:"15s"`
	Verbose  bool          `ignored:"true"`
}

// Factory opens an API connection.
type Factory func(conn Connection, logger *slog.Logger) (API, error)

const usage = `usage: permctl <command> [flags]

commands:
  show      print the permission matrix
  apply     stage --set level:resource:action=true|false and commit as one batch
  audit     list the permission audit trail
  refresh   invalidate the server-side permission cache

environment: PLANTOPS_URL, PLANTOPS_EMAIL, PLANTOPS_PASSWORD, PLANTOPS_TIMEOUT
`

// Run parses args and executes one command, returning the process exit code.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer, factory Factory) int {
	stdout, stderr = writers(stdout, stderr)
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		_, _ = fmt.Fprint(stderr, usage)
		if len(args) == 0 {
			return ExitUsage
		}
		return ExitOK
	}

	var conn Connection
	if err := envconfig.Process("", &conn); err != nil {
		_, _ = fmt.Fprintf(stderr, "permctl: %v\n", err)
		return ExitUsage
	}

	name, rest := args[0], args[1:]
	fs := pflag.NewFlagSet("permctl "+name, pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&conn.URL, "url", conn.URL, "API base URL")
	fs.StringVar(&conn.Email, "email", conn.Email, "operator email")
	fs.BoolVarP(&conn.Verbose, "verbose", "v", false, "log API traffic to stderr")

	var run func(*PermCLI) int
	switch name {
	case "show":
		opts := ShowOptions{Stdout: stdout, Stderr: stderr}
		fs.StringVar(&opts.Level, "level", "", "only this access level")
		fs.BoolVar(&opts.JSONOutput, "json", false, "JSON output")
		run = func(c *PermCLI) int { return c.ShowCommand(ctx, opts) }
	case "apply":
		opts := ApplyOptions{Stdout: stdout, Stderr: stderr}
		fs.StringArrayVar(&opts.Sets, "set", nil, "level:resource:action=true|false (repeatable)")
		fs.BoolVar(&opts.DryRun, "dry-run", false, "print the diff without committing")
		run = func(c *PermCLI) int { return c.ApplyCommand(ctx, opts) }
	case "audit":
		opts := AuditOptions{Stdout: stdout, Stderr: stderr}
		fs.StringVar(&opts.Level, "level", "", "filter by access level")
		fs.StringVar(&opts.Resource, "resource", "", "filter by resource slug")
		fs.StringVar(&opts.Action, "action", "", "filter by action slug")
		fs.Int64Var(&opts.ActorID, "actor", 0, "filter by actor user id")
		fs.IntVar(&opts.Page, "page", 1, "page number, 1-indexed")
		fs.IntVar(&opts.PageSize, "page-size", 20, "entries per page")
		fs.BoolVar(&opts.JSONOutput, "json", false, "JSON output")
		run = func(c *PermCLI) int { return c.AuditCommand(ctx, opts) }
	case "refresh":
		opts := RefreshOptions{Stdout: stdout, Stderr: stderr}
		run = func(c *PermCLI) int { return c.RefreshCommand(ctx, opts) }
	default:
		_, _ = fmt.Fprintf(stderr, "permctl: unknown command %q\n\n%s", name, usage)
		return ExitUsage
	}

	if err := fs.Parse(rest); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}
	if fs.NArg() > 0 {
		_, _ = fmt.Fprintf(stderr, "permctl %s: unexpected arguments %v\n", name, fs.Args())
		return ExitUsage
	}

	level := slog.LevelWarn
	if conn.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	api, err := factory(conn, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "permctl: %v\n", err)
		return ExitUsage
	}
	return run(New(api, logger))
}
