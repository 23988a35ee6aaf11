package auth

import (
	"context"
	"fmt"

	"github.com/gurnoornatt/code-chat/internal/core"
)

// StudentLookup is the slice of the data store the guard needs.
type StudentLookup interface {
	StudentExists(ctx context.Context, id string) (bool, error)
}

// Guard resolves a bearer token to a principal for one of the three access levels.
type Guard struct {
	tokens   *TokenService
	students StudentLookup
}

func NewGuard(tokens *TokenService, students StudentLookup) *Guard {
	return &Guard{tokens: tokens, students: students}
}

// RequireStudent accepts only student tokens whose subject still exists.
func (g *Guard) RequireStudent(ctx context.Context, token string) (Principal, error) {
	p, err := g.tokens.Verify(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}
	if p.Role != RoleStudent {
		return Principal{}, fmt.Errorf("%w: role %s is not student", core.ErrUnauthorized, p.Role)
	}
	if err := g.ensureStudent(ctx, p.ID); err != nil {
		return Principal{}, err
	}
	return p, nil
}

// RequireAdmin trusts the role claim alone; there is no admin table to consult.
// A valid non-admin token is a permission failure, not an authentication one.
func (g *Guard) RequireAdmin(_ context.Context, token string) (Principal, error) {
	p, err := g.tokens.Verify(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}
	if p.Role != RoleAdmin {
		return Principal{}, fmt.Errorf("%w: admin role required", core.ErrForbidden)
	}
	return p, nil
}

// RequireAuthenticated accepts any admin, or a student that passes RequireStudent's existence check.
func (g *Guard) RequireAuthenticated(ctx context.Context, token string) (Principal, error) {
	p, err := g.tokens.Verify(token)
	if err != nil {
		return Principal{}, fmt.Errorf("%w: %w", core.ErrUnauthorized, err)
	}
	if p.Role == RoleStudent {
		if err := g.ensureStudent(ctx, p.ID); err != nil {
			return Principal{}, err
		}
	}
	return p, nil
}

func (g *Guard) ensureStudent(ctx context.Context, id string) error {
	ok, err := g.students.StudentExists(ctx, id)
	if err != nil {
		return core.StoreErr("student lookup", err)
	}
	if !ok {
		return fmt.Errorf("%w: student %s no longer exists", core.ErrUnauthorized, id)
	}
	return nil
}
