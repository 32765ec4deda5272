package auth

import (
	"context"
	"errors"
)

// ErrNoIdentity is returned when a request context carries no authenticated caller.
var ErrNoIdentity = errors.New("auth: no identity in context")

// Principal is the authenticated caller of an engine trigger: an operator, an analyst,
// or an automation account such as the day scheduler.
type Principal struct {
	UserID string
	Role   string
}

type principalKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// WithIdentity is WithPrincipal for callers holding the two fields.
func WithIdentity(ctx context.Context, userID, role string) context.Context {
	return WithPrincipal(ctx, Principal{UserID: userID, Role: role})
}

func PrincipalFrom(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	if !ok || p.UserID == "" {
		return Principal{}, ErrNoIdentity
	}
	return p, nil
}

func UserID(ctx context.Context) (string, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil {
		return "", err
	}
	return p.UserID, nil
}

func Role(ctx context.Context) (string, error) {
	p, err := PrincipalFrom(ctx)
	if err != nil {
		return "", err
	}
	if p.Role == "" {
		return "", errors.New("auth: role not in context")
	}
	return p.Role, nil
}
