// Package querycounter counts database queries per request. The
// middleware attaches a counter to the request context and the storage
// layer increments it; the log record reports the total.
package querycounter

import (
	"context"
	"sync/atomic"
)

type ctxKey struct{}

// Attach returns ctx carrying a fresh zeroed counter.
func Attach(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, new(atomic.Int64))
}

// Increment bumps the counter when ctx carries one, else no-op.
func Increment(ctx context.Context) {
	if counter, ok := ctx.Value(ctxKey{}).(*atomic.Int64); ok {
		counter.Add(1)
	}
}

// Count reads the counter, 0 when ctx carries none.
func Count(ctx context.Context) int64 {
	if counter, ok := ctx.Value(ctxKey{}).(*atomic.Int64); ok {
		return counter.Load()
	}
	return 0
}
