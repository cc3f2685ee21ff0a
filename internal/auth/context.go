// ABOUTME: Authenticated owner identity propagated through request handlers
// ABOUTME: Provides WithOwner/FromContext for carrying identity via context

package auth

import (
	"context"
)

// Owner is the authenticated broker a request runs on behalf of.
type Owner struct {
	ID    string
	Email string
}

// ownerContextKey is the key type for storing Owner in context.Context.
type ownerContextKey struct{}

// WithOwner returns a new context with the Owner attached.
func WithOwner(ctx context.Context, owner *Owner) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// FromContext retrieves the Owner from the context, returning nil if not present.
func FromContext(ctx context.Context) *Owner {
	val := ctx.Value(ownerContextKey{})
	if val == nil {
		return nil
	}
	owner, ok := val.(*Owner)
	if !ok {
		return nil
	}
	return owner
}
