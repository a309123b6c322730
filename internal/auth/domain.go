package auth

import (
	"time"

	"github.com/plantops/plantops/internal/shared"
	"github.com/plantops/plantops/internal/users"
)

// LoginSession is the audit row kept for every authenticated session.
type LoginSession struct {
	ID        string
	UserID    int64
	ExpiresAt time.Time
	IP        string
	UserAgent string
}

// PrincipalOf projects a user onto the request principal.
func PrincipalOf(u *users.User) shared.Principal {
	if u == nil {
		return shared.Principal{}
	}
	return shared.Principal{
		UserID: u.ID,
		Name:   u.Name,
		Email:  u.Email,
		Level:  u.Level,
	}
}
