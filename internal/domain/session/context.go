package session

import "context"

// Handle ties a request to its session.
type Handle struct {
	ID       string
	Provider *Provider
}

type handleKey struct{}

// NewContext returns ctx carrying h.
func NewContext(ctx context.Context, h Handle) context.Context {
	return context.WithValue(ctx, handleKey{}, h)
}

// FromContext returns the session handle attached to ctx.
func FromContext(ctx context.Context) (Handle, bool) {
	h, ok := ctx.Value(handleKey{}).(Handle)
	return h, ok && h.Provider != nil
}

// IdentityFromContext returns the active identity of the request's session,
// or nil.
func IdentityFromContext(ctx context.Context) Identity {
	h, ok := FromContext(ctx)
	if !ok {
		return nil
	}
	return h.Provider.Current()
}
