package pg

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/dropDatabas3/idlink/internal/domain/repository"
)

// AccountsPG implementa repository.AccountRepository sobre Postgres.
type AccountsPG struct {
	db Querier
}

func NewAccountsPG(db Querier) *AccountsPG {
	return &AccountsPG{db: db}
}

const accountCols = `
id, username, email, password_hash, display_name,
external_subject, auth_provider, linked_at, last_external_login,
created_at, updated_at`

func scanAccount(row pgx.Row) (*repository.Account, error) {
	var a repository.Account
	err := row.Scan(
		&a.ID, &a.Username, &a.Email, &a.PasswordHash, &a.DisplayName,
		&a.ExternalSubject, &a.AuthProvider, &a.LinkedAt, &a.LastExternalLogin,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *AccountsPG) GetByID(ctx context.Context, id int64) (*repository.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM accounts WHERE id = $1;`
	return scanAccount(r.db.QueryRow(ctx, q, id))
}

func (r *AccountsPG) GetBySubject(ctx context.Context, subject string) (*repository.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM accounts WHERE external_subject = $1;`
	return scanAccount(r.db.QueryRow(ctx, q, subject))
}

func (r *AccountsPG) GetByUsername(ctx context.Context, username string) (*repository.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM accounts WHERE LOWER(username) = LOWER($1);`
	return scanAccount(r.db.QueryRow(ctx, q, strings.TrimSpace(username)))
}

func (r *AccountsPG) GetByEmail(ctx context.Context, email string) (*repository.Account, error) {
	const q = `SELECT ` + accountCols + ` FROM accounts WHERE LOWER(email) = LOWER($1);`
	return scanAccount(r.db.QueryRow(ctx, q, strings.TrimSpace(email)))
}

func (r *AccountsPG) CreateExternal(ctx context.Context, in repository.CreateExternalInput) (*repository.Account, error) {
	const q = `
INSERT INTO accounts (username, email, password_hash, display_name, external_subject, auth_provider, linked_at)
VALUES ($1, $2, NULL, $3, $4, 'external', NOW())
RETURNING ` + accountCols + `;`
	acc, err := scanAccount(r.db.QueryRow(ctx, q, in.Username, in.Email, in.DisplayName, in.Subject))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" { // unique_violation
			return nil, repository.ErrConflict
		}
		return nil, err
	}
	return acc, nil
}

// LinkSubject vincula el subject en una sola sentencia: el WHERE garantiza
// que solo toca cuentas sin subject o con el mismo subject (idempotencia),
// y el índice único sobre external_subject rechaza la carrera contra otra
// cuenta con 23505.
func (r *AccountsPG) LinkSubject(ctx context.Context, accountID int64, subject string, keepLocal bool) (*repository.Account, error) {
	const q = `
UPDATE accounts
SET external_subject = $1,
    auth_provider = CASE
        WHEN $3 THEN CASE WHEN auth_provider = 'local' THEN 'both' ELSE auth_provider END
        ELSE 'external'
    END,
    linked_at = COALESCE(linked_at, NOW()),
    last_external_login = NOW(),
    updated_at = NOW()
WHERE id = $2
  AND (external_subject IS NULL OR external_subject = $1)
RETURNING ` + accountCols + `;`
	acc, err := scanAccount(r.db.QueryRow(ctx, q, subject, accountID, keepLocal))
	if err == nil {
		return acc, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return nil, repository.ErrSubjectTaken
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	// El UPDATE no tocó filas: o la cuenta no existe, o tiene otro subject.
	cur, gerr := r.GetByID(ctx, accountID)
	if gerr != nil {
		return nil, gerr
	}
	if cur.IsLinked() {
		return nil, repository.ErrConflict
	}
	return nil, repository.ErrNotFound
}

// UnlinkSubject revierte a autenticación local. El predicado sobre
// password_hash hace el check y el write en la misma sentencia: una cuenta
// sin password jamás pierde su identidad externa.
func (r *AccountsPG) UnlinkSubject(ctx context.Context, accountID int64) (*repository.Account, error) {
	const q = `
UPDATE accounts
SET external_subject = NULL,
    auth_provider = 'local',
    linked_at = NULL,
    updated_at = NOW()
WHERE id = $1
  AND password_hash IS NOT NULL
RETURNING ` + accountCols + `;`
	acc, err := scanAccount(r.db.QueryRow(ctx, q, accountID))
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	cur, gerr := r.GetByID(ctx, accountID)
	if gerr != nil {
		return nil, gerr
	}
	if !cur.HasPassword() {
		return nil, repository.ErrNoFallbackCredential
	}
	return nil, repository.ErrNotFound
}

func (r *AccountsPG) TouchExternalLogin(ctx context.Context, accountID int64) error {
	const q = `UPDATE accounts SET last_external_login = NOW() WHERE id = $1;`
	tag, err := r.db.Exec(ctx, q, accountID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
