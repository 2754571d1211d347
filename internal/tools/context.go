package tools

import "context"

// callMeta carries per-invocation bookkeeping from handlers back to the
// dispatch layer: which model was used, token counts, and whether the
// response came from cache.
type callMeta struct {
	model        string
	inputTokens  int
	outputTokens int
	cacheHit     bool
}

type metaKey struct{}

func withMeta(ctx context.Context, m *callMeta) context.Context {
	return context.WithValue(ctx, metaKey{}, m)
}

// metaFrom returns the invocation's bookkeeping carrier, or nil when
// the handler was called outside of dispatch (tests).
func metaFrom(ctx context.Context) *callMeta {
	if ctx == nil {
		return nil
	}
	m, _ := ctx.Value(metaKey{}).(*callMeta)
	return m
}

// setModel records the model a handler used, when dispatch is tracking.
func setModel(ctx context.Context, model string) {
	if m := metaFrom(ctx); m != nil {
		m.model = model
	}
}

// setTokens records backend-reported token counts, when dispatch is
// tracking.
func setTokens(ctx context.Context, input, output int) {
	if m := metaFrom(ctx); m != nil {
		m.inputTokens = input
		m.outputTokens = output
	}
}
