package logger

import (
	"context"

	"go.uber.org/zap"
)

// SFrom es el SugaredLogger del contexto, para logs key-value rápidos:
//
//	logger.SFrom(ctx).Infow("auth event", "event_type", ev.EventType)
func SFrom(ctx context.Context) *zap.SugaredLogger {
	return From(ctx).Sugar()
}
