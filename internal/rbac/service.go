package rbac

import (
	"context"
	"errors"

	"github.com/plantops/plantops/internal/permissions"
	"github.com/plantops/plantops/internal/shared"
)

// ErrNoPrincipal indicates an anonymous request reached an authorization check.
var ErrNoPrincipal = errors.New("rbac: no authenticated user")

// Authorizer evaluates grants for the request principal.
type Authorizer struct {
	checker Checker
}

// NewAuthorizer wraps a Checker.
func NewAuthorizer(checker Checker) *Authorizer {
	return &Authorizer{checker: checker}
}

// Can reports whether the principal holds the grant.
func (a *Authorizer) Can(ctx context.Context, p shared.Principal, g Grant) (bool, error) {
	if p.UserID <= 0 {
		return false, ErrNoPrincipal
	}
	level, err := permissions.ParseAccessLevel(p.Level)
	if err != nil {
		return false, nil
	}
	if level.IsSentinel() {
		return true, nil
	}
	if a == nil || a.checker == nil {
		return false, errors.New("rbac: checker not configured")
	}
	return a.checker.Allowed(ctx, level, g.Resource, g.Action)
}

// CanAny reports whether the principal holds at least one grant.
func (a *Authorizer) CanAny(ctx context.Context, p shared.Principal, grants ...Grant) (bool, error) {
	if len(grants) == 0 {
		return true, nil
	}
	for _, g := range grants {
		ok, err := a.Can(ctx, p, g)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// CanAll reports whether the principal holds every grant.
func (a *Authorizer) CanAll(ctx context.Context, p shared.Principal, grants ...Grant) (bool, error) {
	for _, g := range grants {
		ok, err := a.Can(ctx, p, g)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}
