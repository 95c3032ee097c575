package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración del request.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// DurationMs crea un campo para la duración en milisegundos.
func DurationMs(v int64) zap.Field {
	return zap.Int64("duration_ms", v)
}

// Bytes crea un campo para los bytes de respuesta.
func Bytes(v int) zap.Field {
	return zap.Int("bytes", v)
}

// ClientIP crea un campo para la IP del cliente.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// UserAgent crea un campo para el User-Agent.
func UserAgent(v string) zap.Field {
	return zap.String("user_agent", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - NEGOCIO
// =================================================================================

// AccountID crea un campo para el ID de la cuenta local.
func AccountID(v int64) zap.Field {
	return zap.Int64("account_id", v)
}

// Subject crea un campo para el subject del proveedor externo.
func Subject(v string) zap.Field {
	return zap.String("subject", v)
}

// Username crea un campo para el username local.
func Username(v string) zap.Field {
	return zap.String("username", v)
}

// Email crea un campo para el email (usar con cuidado en prod).
func Email(v string) zap.Field {
	return zap.String("email", v)
}

// Outcome crea un campo para el resultado de la resolución de identidad.
func Outcome(v string) zap.Field {
	return zap.String("outcome", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Layer crea un campo para la capa (handler, service, repository).
func Layer(v string) zap.Field {
	return zap.String("layer", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// =================================================================================
// CAMPOS ESTÁNDAR - DATOS
// =================================================================================

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// ID crea un campo genérico para un ID.
func ID(v string) zap.Field {
	return zap.String("id", v)
}

// Key crea un campo para una clave de cache.
func Key(v string) zap.Field {
	return zap.String("key", v)
}

// Addr crea un campo para una dirección de red.
func Addr(v string) zap.Field {
	return zap.String("addr", v)
}
