package payload

import "context"

type attemptsKeyContextKey struct{}

// ContextWithAttemptsKey records the attempts key the decorator is using so
// handlers invoked with ctx read the same counter.
func ContextWithAttemptsKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, attemptsKeyContextKey{}, key)
}

// AttemptsKeyFromContext returns the key stored by ContextWithAttemptsKey.
func AttemptsKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(attemptsKeyContextKey{}).(string)
	return key, ok && key != ""
}
