// Package cli implements the permctl subcommands on top of the permission
// matrix API.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/plantops/plantops/internal/audit"
	"github.com/plantops/plantops/internal/permissions"
	permissionsclient "github.com/plantops/plantops/internal/permissions/client"
)

// Exit codes shared by every command.
const (
	ExitOK       = 0
	ExitUsage    = 1
	ExitFailure  = 2
	ExitRejected = 3
)

// API is the subset of the HTTP client the commands need.
type API interface {
	permissions.Gateway
	Audit(ctx context.Context, q permissionsclient.AuditQuery) (audit.Result, error)
}

// PermCLI runs permctl commands.
type PermCLI struct {
	api    API
	logger *slog.Logger
}

// New builds a PermCLI.
func New(api API, logger *slog.Logger) *PermCLI {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &PermCLI{api: api, logger: logger}
}

func writers(stdout, stderr io.Writer) (io.Writer, io.Writer) {
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return stdout, stderr
}

func fail(w io.Writer, cmd string, err error) int {
	_, _ = fmt.Fprintf(w, "%s: %v\n", cmd, err)
	return ExitFailure
}
