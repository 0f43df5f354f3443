package ctxutil

import "context"

type traceDataKey struct{}

// TraceData ties log lines back to a request. DeliveryID is the queue
// service's message id when the request is a webhook delivery.
type TraceData struct {
	TraceID    string
	RequestID  string
	DeliveryID string
}

func WithTraceData(ctx context.Context, td *TraceData) context.Context {
	return context.WithValue(ctx, traceDataKey{}, td)
}

func GetTraceData(ctx context.Context) *TraceData {
	val := ctx.Value(traceDataKey{})
	if td, ok := val.(*TraceData); ok {
		return td
	}
	return nil
}
