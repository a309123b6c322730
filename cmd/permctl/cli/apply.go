package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/plantops/plantops/internal/permissions"
)

// ApplyOptions defines flags for the apply command.
type ApplyOptions struct {
	// Sets holds "level:resource:action=true|false" assignments.
	Sets   []string
	DryRun bool
	Stdout io.Writer
	Stderr io.Writer
}

// ParseAssignment splits "level:resource:action=value".
func ParseAssignment(raw string) (permissions.Key, bool, error) {
	keyPart, valuePart, ok := strings.Cut(strings.TrimSpace(raw), "=")
	if !ok {
		return permissions.Key{}, false, fmt.Errorf("assignment %q must look like level:resource:action=true", raw)
	}
	key, err := permissions.ParseKey(keyPart)
	if err != nil {
		return permissions.Key{}, false, err
	}
	value, err := strconv.ParseBool(strings.TrimSpace(valuePart))
	if err != nil {
		return permissions.Key{}, false, fmt.Errorf("assignment %q: value must be true or false", raw)
	}
	return key, value, nil
}

// ApplyCommand stages every assignment and commits them as one batch.
func (c *PermCLI) ApplyCommand(ctx context.Context, opts ApplyOptions) int {
	stdout, stderr := writers(opts.Stdout, opts.Stderr)
	if len(opts.Sets) == 0 {
		_, _ = fmt.Fprintln(stderr, "apply: at least one --set is required")
		return ExitUsage
	}
	type assignment struct {
		key   permissions.Key
		value bool
	}
	assignments := make([]assignment, 0, len(opts.Sets))
	for _, raw := range opts.Sets {
		key, value, err := ParseAssignment(raw)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "apply: %v\n", err)
			return ExitUsage
		}
		if key.Level.IsSentinel() {
			_, _ = fmt.Fprintf(stderr, "apply: %s: %v\n", key, permissions.ErrImmutableLevel)
			return ExitUsage
		}
		assignments = append(assignments, assignment{key: key, value: value})
	}

	session := permissions.NewEditSession(c.api, c.logger)
	if err := session.Load(ctx); err != nil {
		return fail(stderr, "apply", err)
	}
	for _, a := range assignments {
		if err := session.Stage(a.key.Level, a.key.Resource, a.key.Action, a.value); err != nil {
			_, _ = fmt.Fprintf(stderr, "apply: %s: %v\n", a.key, err)
			return ExitUsage
		}
	}

	diff := session.Diff()
	if len(diff) == 0 {
		_, _ = fmt.Fprintln(stdout, "nenhuma alteração pendente")
		return ExitOK
	}
	for _, d := range diff {
		_, _ = fmt.Fprintf(stdout, "%s: %t -> %t\n", d.Key, d.Old, d.New)
	}
	if opts.DryRun {
		_, _ = fmt.Fprintf(stdout, "dry run: %d alteração(ões) não enviadas\n", len(diff))
		return ExitOK
	}

	result, err := session.Commit(ctx)
	var refreshErr *permissions.CacheRefreshFailedError
	var rejected *permissions.CommitRejectedError
	switch {
	case err == nil:
	case errors.As(err, &refreshErr):
		_, _ = fmt.Fprintf(stderr, "apply: aviso: %v\n", refreshErr)
	case errors.As(err, &rejected):
		_, _ = fmt.Fprintf(stderr, "apply: rejeitado (%d): %s\n", rejected.Status, rejected.Reason)
		return ExitRejected
	case errors.Is(err, permissions.ErrNothingToCommit):
		_, _ = fmt.Fprintln(stdout, "nenhuma alteração pendente")
		return ExitOK
	default:
		return fail(stderr, "apply", err)
	}
	_, _ = fmt.Fprintln(stdout, result.Message)
	return ExitOK
}
