package auth

import (
	"context"

	"github.com/JakeFAU/qa-harvester/internal/harvest"
)

type callerKey struct{}

// WithCaller stores the authenticated caller on ctx.
func WithCaller(ctx context.Context, caller harvest.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller stored by WithCaller.
func CallerFrom(ctx context.Context) (harvest.Caller, bool) {
	caller, ok := ctx.Value(callerKey{}).(harvest.Caller)
	return caller, ok && caller.Known()
}
