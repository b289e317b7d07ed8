package auth

import (
	"context"
	"fmt"
	"slices"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

// Session is who is making a request. It is either Anonymous or
// Authenticated; the unexported method keeps other packages from adding
// variants.
type Session interface {
	session()
}

type Anonymous struct{}

type Authenticated struct {
	UserID string
	Role   models.Role
	Status models.Status
}

func (Anonymous) session()     {}
func (Authenticated) session() {}

// SessionFromToken parses an access token. An empty token is Anonymous; a
// bad one is an error, never Anonymous.
func SessionFromToken(tokenString string, secretKey []byte) (Session, error) {
	if tokenString == "" {
		return Anonymous{}, nil
	}
	c, err := ParseToken(tokenString, secretKey, PurposeAccess)
	if err != nil {
		return nil, err
	}
	return Authenticated{UserID: c.UserID, Role: c.Role, Status: c.Status}, nil
}

// Authorize requires an active authenticated session whose role is one of
// roles. No roles means any role.
func Authorize(s Session, roles ...models.Role) (Authenticated, error) {
	switch s := s.(type) {
	case Authenticated:
		if s.Status != models.StatusActive {
			return Authenticated{}, fmt.Errorf("%w: account is %s", common.ErrForbidden, s.Status)
		}
		if len(roles) > 0 && !slices.Contains(roles, s.Role) {
			return Authenticated{}, fmt.Errorf("%w: role %s", common.ErrForbidden, s.Role)
		}
		return s, nil
	case Anonymous:
		return Authenticated{}, common.ErrorUnauthorized
	default:
		return Authenticated{}, fmt.Errorf("%w: unknown session %T", common.ErrForbidden, s)
	}
}

type ctxKey struct{}

func WithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// SessionFrom returns the session stored by WithSession, or Anonymous.
func SessionFrom(ctx context.Context) Session {
	if s, ok := ctx.Value(ctxKey{}).(Session); ok && s != nil {
		return s
	}
	return Anonymous{}
}
