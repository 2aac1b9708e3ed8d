package models

import (
	"context"
)

type requestContextKey struct{}

// WithRequestId attaches a request id to a context so log lines and journal
// rows written deeper in the call chain can be correlated.
func WithRequestId(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestContextKey{}, id)
}

// GetRequestId returns the request id carried by ctx, or "" if absent.
func GetRequestId(ctx context.Context) string {
	id, _ := ctx.Value(requestContextKey{}).(string)
	return id
}
