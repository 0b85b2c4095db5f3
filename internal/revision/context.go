package revision

import "context"

type ctxKey string

const userIDKey ctxKey = "revisionUserID"

// WithUserID attributes revisions created under ctx to the given user.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the attributed user, or nil.
func UserIDFromContext(ctx context.Context) *int64 {
	id, ok := ctx.Value(userIDKey).(int64)
	if !ok {
		return nil
	}
	return &id
}
