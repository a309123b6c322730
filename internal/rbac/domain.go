package rbac

import (
	"context"

	"github.com/plantops/plantops/internal/permissions"
)

// Grant names one resource/action pair a route requires.
type Grant struct {
	Resource string
	Action   string
}

// G is shorthand for Grant{resource, action}.
func G(resource, action string) Grant {
	return Grant{Resource: resource, Action: action}
}

func (g Grant) String() string {
	return g.Resource + ":" + g.Action
}

// Checker answers permission checks for an access level.
type Checker interface {
	Allowed(ctx context.Context, level permissions.AccessLevel, resource, action string) (bool, error)
}
