package memory

import (
	"context"
	"sync"
	"time"

	"github.com/dropDatabas3/idlink/internal/domain/repository"
)

// Audit implementa repository.AuditRepository en memoria.
type Audit struct {
	mu     sync.Mutex
	nextID int64
	events []repository.AuditEvent
}

func NewAudit() *Audit {
	return &Audit{nextID: 1}
}

func (s *Audit) Append(_ context.Context, ev repository.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.ID = s.nextID
	s.nextID++
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	return nil
}

// Events retorna una copia de los eventos registrados. Solo para tests.
func (s *Audit) Events() []repository.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]repository.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}
