package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/plantops/plantops/internal/permissions"
)

// ShowOptions defines flags for the show command.
type ShowOptions struct {
	Level      string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ShowCommand prints the permission matrix, one table per access level.
func (c *PermCLI) ShowCommand(ctx context.Context, opts ShowOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	levels := permissions.Levels()
	if strings.TrimSpace(opts.Level) != "" {
		level, err := permissions.ParseAccessLevel(opts.Level)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "show: %v\n", err)
			return ExitUsage
		}
		levels = []permissions.AccessLevel{level}
	}

	session := permissions.NewEditSession(c.api, c.logger)
	if err := session.Load(ctx); err != nil {
		return fail(stderr, "show", err)
	}
	catalog := session.Catalog()

	if opts.JSONOutput {
		out := make(map[string]map[string]map[string]bool, len(levels))
		for _, level := range levels {
			byResource := make(map[string]map[string]bool)
			for _, r := range catalog.Resources() {
				byAction := make(map[string]bool)
				for _, a := range catalog.Actions() {
					byAction[a.Slug] = session.Get(level, r.Slug, a.Slug)
				}
				byResource[r.Slug] = byAction
			}
			out[level.String()] = byResource
		}
		if err := json.NewEncoder(stdout).Encode(out); err != nil {
			return fail(stderr, "show", err)
		}
		return ExitOK
	}

	for i, level := range levels {
		if i > 0 {
			_, _ = fmt.Fprintln(stdout)
		}
		_, _ = fmt.Fprintf(stdout, "[%s]\n", level)
		tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
		header := []string{"RECURSO"}
		for _, a := range catalog.Actions() {
			header = append(header, a.Slug)
		}
		_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
		for _, r := range catalog.Resources() {
			row := []string{r.Slug}
			for _, a := range catalog.Actions() {
				mark := "-"
				if session.Get(level, r.Slug, a.Slug) {
					mark = "x"
				}
				row = append(row, mark)
			}
			_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
		}
		_ = tw.Flush()
	}
	return ExitOK
}
