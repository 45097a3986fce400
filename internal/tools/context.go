package tools

import "context"

type ctxKey struct{}

// WithUserID attaches the requesting user's id so tools that bill or audit
// per user can forward it.
func WithUserID(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the id set by WithUserID, if any.
func UserID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKey{}).(string)
	return v
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
