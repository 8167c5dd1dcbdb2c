package common

import "context"

type userIDKey struct{}

// WithUserID binds the authenticated subject to the context. The value is
// the JWT sub claim, a user UUID in string form.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// UserID reads the authenticated subject back; ok is false on
// unauthenticated requests.
func UserID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(userIDKey{}).(string)
	return id, ok
}
