package repository

import (
	"context"
	"time"
)

// AuditEventType clasifica los eventos de autenticación auditables.
type AuditEventType string

const (
	AuditLogin         AuditEventType = "login"
	AuditAccountLink   AuditEventType = "account_link"
	AuditAccountUnlink AuditEventType = "account_unlink"
)

// AuditEvent es un registro append-only de un evento de autenticación.
// Nunca se muta ni se borra.
type AuditEvent struct {
	ID        int64
	AccountID *int64 // nil para intentos fallidos sin cuenta conocida
	Method    string // siempre "external" en este subsistema
	EventType AuditEventType
	Success   bool
	IPAddress string
	UserAgent string
	Error     string // código de dominio, nunca texto crudo del proveedor/DB
	CreatedAt time.Time
}

// AuditRepository persiste eventos de auditoría.
// Append es best-effort para los callers: un fallo del sink se loggea pero
// no debe hacer fallar el intento de reconciliación (ver internal/audit).
type AuditRepository interface {
	Append(ctx context.Context, ev AuditEvent) error
}
