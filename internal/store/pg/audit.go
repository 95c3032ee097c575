package pg

import (
	"context"

	"github.com/dropDatabas3/idlink/internal/domain/repository"
)

// AuditPG implementa repository.AuditRepository sobre Postgres.
// La tabla es append-only: no hay updates ni deletes.
type AuditPG struct {
	db Querier
}

func NewAuditPG(db Querier) *AuditPG {
	return &AuditPG{db: db}
}

func (r *AuditPG) Append(ctx context.Context, ev repository.AuditEvent) error {
	const q = `
INSERT INTO auth_audit (account_id, method, event_type, success, ip_address, user_agent, error)
VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''));`
	_, err := r.db.Exec(ctx, q,
		ev.AccountID, ev.Method, string(ev.EventType), ev.Success,
		ev.IPAddress, ev.UserAgent, ev.Error,
	)
	return err
}
