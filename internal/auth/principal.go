package auth

import (
	"context"
	"errors"
)

var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
)

// Principal is the authenticated caller. ID refers to the customers table for
// RoleCustomer and to the employees table otherwise.
type Principal struct {
	ID       int64
	Role     Role
	BranchID *int64
}

// InBranch reports whether an employee principal is attached to branchID.
// Admins are attached to every branch.
func (p Principal) InBranch(branchID int64) bool {
	if p.Role == RoleAdmin {
		return true
	}
	return p.BranchID != nil && *p.BranchID == branchID
}

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func FromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
