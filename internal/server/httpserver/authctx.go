package httpserver

import "context"

type ctxKey string

const operatorKey ctxKey = "ft.operator"

// WithOperator stores the authenticated operator name in context.
func WithOperator(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, operatorKey, name)
}

// OperatorFromCtx fetches the operator name from context.
func OperatorFromCtx(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(operatorKey).(string)
	return name, ok && name != ""
}
