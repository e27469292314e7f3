package util

import (
	"context"

	"github.com/google/uuid"
)

// CorrelationHeader is the HTTP header carrying the request correlation id.
const CorrelationHeader = "X-Correlation-ID"

type correlationKey struct{}

// WithCorrelationID returns a context carrying id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the id stored in ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func NewCorrelationID() string {
	return uuid.New().String()
}
