package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/plantops/plantops/internal/audit"
	"github.com/plantops/plantops/internal/permissions"
	permissionsclient "github.com/plantops/plantops/internal/permissions/client"
)

// AuditOptions defines flags for the audit command.
type AuditOptions struct {
	Level      string
	Resource   string
	Action     string
	ActorID    int64
	Page       int
	PageSize   int
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// AuditCommand prints one page of the permission audit trail.
func (c *PermCLI) AuditCommand(ctx context.Context, opts AuditOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	filters := audit.Filters{
		Resource: strings.TrimSpace(opts.Resource),
		Action:   strings.TrimSpace(opts.Action),
		ActorID:  opts.ActorID,
	}
	if strings.TrimSpace(opts.Level) != "" {
		level, err := permissions.ParseAccessLevel(opts.Level)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "audit: %v\n", err)
			return ExitUsage
		}
		filters.Level = level.String()
	}
	if opts.Page < 0 || opts.PageSize < 0 || opts.ActorID < 0 {
		_, _ = fmt.Fprintln(stderr, "audit: --page, --page-size and --actor must not be negative")
		return ExitUsage
	}

	result, err := c.api.Audit(ctx, permissionsclient.AuditQuery{Filters: filters, Page: opts.Page, PageSize: opts.PageSize})
	if err != nil {
		return fail(stderr, "audit", err)
	}
	if opts.JSONOutput {
		if err := json.NewEncoder(stdout).Encode(result); err != nil {
			return fail(stderr, "audit", err)
		}
		return ExitOK
	}

	tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "QUANDO\tATOR\tNÍVEL\tRECURSO\tAÇÃO\tDE\tPARA")
	for _, e := range result.Entries {
		actor := e.ActorName
		if actor == "" {
			actor = fmt.Sprintf("#%d", e.ActorID)
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%t\t%t\n",
			e.At.Local().Format(time.DateTime), actor, e.Level, e.ResourceSlug, e.ActionSlug, e.OldValue, e.NewValue)
	}
	_ = tw.Flush()
	p := result.Pagination
	_, _ = fmt.Fprintf(stdout, "página %d de %d (%d registros)\n", p.Page, p.Pages, p.Total)
	return ExitOK
}
