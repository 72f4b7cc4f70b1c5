package bursar

import "context"

// Scope is the tenant and actor of a request, set by the auth layer in
// front of the API and the chat surface.
type Scope struct {
	SchoolID string
	UserID   string
}

type scopeKey struct{}

// WithScope returns a context carrying the given scope.
func WithScope(ctx context.Context, schoolID, userID string) context.Context {
	return context.WithValue(ctx, scopeKey{}, Scope{SchoolID: schoolID, UserID: userID})
}

// ScopeFrom extracts the scope from ctx. ok is false when no school is set.
func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, _ := ctx.Value(scopeKey{}).(Scope)
	return s, s.SchoolID != ""
}

// MustSchool returns the scoped school or ErrMissingScope.
func MustSchool(ctx context.Context) (string, error) {
	s, ok := ScopeFrom(ctx)
	if !ok {
		return "", ErrMissingScope
	}
	return s.SchoolID, nil
}
