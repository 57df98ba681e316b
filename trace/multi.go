package trace

import "context"

// multiHandler fans out span notifications to every handler in order.
type multiHandler struct {
	handlers []Handler
}

// Multi creates a Handler that forwards every span notification to each of
// handlers, in order.
func Multi(handlers ...Handler) Handler {
	return &multiHandler{handlers: handlers}
}

func (m *multiHandler) OnSpanStart(ctx context.Context, span SpanStart) {
	for _, h := range m.handlers {
		h.OnSpanStart(ctx, span)
	}
}

func (m *multiHandler) OnSpanEnd(ctx context.Context, span SpanEnd) {
	for _, h := range m.handlers {
		h.OnSpanEnd(ctx, span)
	}
}
