// Package scope carries the identity of the user on whose behalf a task
// runs through context.Context. Work started by the system itself (the
// periodic scheduler, recovery of missing workers) runs as SystemUser.
package scope

import "context"

// SystemUser is the identity recorded for work initiated by tasking itself.
const SystemUser = "system"

type userKey struct{}

// WithUser attaches a user identity to the context. An empty user leaves
// the context unchanged.
func WithUser(ctx context.Context, user string) context.Context {
	if user == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, user)
}

// User returns the user attached to the context, or SystemUser when none
// is present.
func User(ctx context.Context) string {
	if u, ok := ctx.Value(userKey{}).(string); ok && u != "" {
		return u
	}
	return SystemUser
}

// System returns a context that runs as SystemUser.
func System(ctx context.Context) context.Context {
	return context.WithValue(ctx, userKey{}, SystemUser)
}
