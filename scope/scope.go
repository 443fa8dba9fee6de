// Package scope carries per-session ownership through a context. The
// worker injects the session's owner and tenant before running a turn
// so responders, hooks, and stores all see who the work belongs to.
package scope

import "context"

type ctxKey int

const (
	ownerKey ctxKey = iota
	tenantKey
)

// WithOwner returns a context carrying the owner identifier.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// WithTenant returns a context carrying the tenant identifier.
func WithTenant(ctx context.Context, tenant string) context.Context {
	return context.WithValue(ctx, tenantKey, tenant)
}

// Restore injects both identifiers at once.
func Restore(ctx context.Context, owner, tenant string) context.Context {
	if owner != "" {
		ctx = WithOwner(ctx, owner)
	}
	if tenant != "" {
		ctx = WithTenant(ctx, tenant)
	}
	return ctx
}

// Owner returns the owner identifier on the context, "" if absent.
func Owner(ctx context.Context) string {
	if v, ok := ctx.Value(ownerKey).(string); ok {
		return v
	}
	return ""
}

// Tenant returns the tenant identifier on the context, "" if absent.
func Tenant(ctx context.Context) string {
	if v, ok := ctx.Value(tenantKey).(string); ok {
		return v
	}
	return ""
}
