package build

import (
	"context"

	"github.com/google/uuid"
)

type buildIDKey struct{}

// NewBuildID returns a fresh run identifier.
func NewBuildID() string {
	return uuid.NewString()
}

// WithBuildID stores id in ctx.
func WithBuildID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, buildIDKey{}, id)
}

// BuildIDFromContext returns the build ID stored in ctx, or "".
func BuildIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(buildIDKey{}).(string)
	return id
}
