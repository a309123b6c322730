package cli

import (
	"context"
	"fmt"
	"io"
)

// RefreshOptions defines flags for the refresh command.
type RefreshOptions struct {
	Stdout io.Writer
	Stderr io.Writer
}

// RefreshCommand asks the server to invalidate cached permission snapshots.
func (c *PermCLI) RefreshCommand(ctx context.Context, opts RefreshOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if err := c.api.RefreshCache(ctx); err != nil {
		return fail(stderr, "refresh", err)
	}
	_, _ = fmt.Fprintln(stdout, "cache de permissões atualizado")
	return ExitOK
}
