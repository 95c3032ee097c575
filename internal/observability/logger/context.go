package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey struct{}

// ToContext guarda un logger scoped en el contexto. El middleware de logging
// lo usa para que cada request viaje con su request_id ya incluido.
func ToContext(ctx context.Context, l *zap.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// From recupera el logger del contexto, o el singleton si no hay ninguno.
// Llamable desde cualquier capa sin importar si el middleware corrió.
func From(ctx context.Context) *zap.Logger {
	if ctx == nil {
		return L()
	}
	if l, ok := ctx.Value(ctxKey{}).(*zap.Logger); ok {
		return l
	}
	return L()
}
