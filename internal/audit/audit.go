// Package audit registra eventos de autenticación de forma best-effort.
package audit

import (
	"context"

	"github.com/dropDatabas3/idlink/internal/domain/repository"
	"github.com/dropDatabas3/idlink/internal/observability/logger"
)

// Recorder escribe AuditEvents en el sink configurado.
//
// Un fallo del sink se loggea y se descarta: la auditoría nunca hace fallar
// el intento de reconciliación que la origina.
type Recorder struct {
	repo repository.AuditRepository
}

// NewRecorder crea un Recorder sobre el repositorio dado.
// Con repo nil los eventos solo van al log estructurado.
func NewRecorder(repo repository.AuditRepository) *Recorder {
	return &Recorder{repo: repo}
}

// Record persiste el evento. Nunca retorna error.
func (r *Recorder) Record(ctx context.Context, ev repository.AuditEvent) {
	log := logger.From(ctx).With(logger.Component("audit"))

	if r != nil && r.repo != nil {
		if err := r.repo.Append(ctx, ev); err != nil {
			log.Error("audit append failed", logger.Err(err))
		}
	}

	fields := []any{
		"event_type", string(ev.EventType),
		"method", ev.Method,
		"success", ev.Success,
	}
	if ev.AccountID != nil {
		fields = append(fields, "account_id", *ev.AccountID)
	}
	if ev.Error != "" {
		fields = append(fields, "error", ev.Error)
	}
	logger.SFrom(ctx).Infow("auth event", fields...)
}
