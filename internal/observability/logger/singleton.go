package logger

import (
	"sync"

	"go.uber.org/zap"
)

var (
	once     sync.Once
	instance *zap.Logger
)

// Init configura el singleton. Idempotente: solo la primera llamada cuenta.
// main la llama apenas carga la config.
func Init(cfg Config) {
	once.Do(func() {
		instance = build(cfg)
	})
}

// L retorna el singleton; si Init no corrió todavía, arma uno de desarrollo.
func L() *zap.Logger {
	if instance == nil {
		Init(Config{Env: "dev", Level: "info"})
	}
	return instance
}

// With agrega campos persistentes (ej: subject en el reconciler).
func With(fields ...zap.Field) *zap.Logger {
	return L().With(fields...)
}

// Sync flushea buffers pendientes; va en un defer de main.
func Sync() error {
	if instance != nil {
		return instance.Sync()
	}
	return nil
}
