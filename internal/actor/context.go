package actor

import "context"

type contextKey struct{}

// WithSession returns a context carrying the caller's session ID. The NLU
// collaborator keys its bounded conversation history on it. An empty id
// leaves ctx unchanged.
func WithSession(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKey{}, sessionID)
}

// Session returns the session ID from the context, or "" if not set.
func Session(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx.Value(contextKey{}).(string)
	return s
}

// SessionOr returns Session(ctx), or fallback when none is set.
func SessionOr(ctx context.Context, fallback string) string {
	if s := Session(ctx); s != "" {
		return s
	}
	return fallback
}
