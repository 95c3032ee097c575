package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dropDatabas3/idlink/internal/domain/repository"
	"github.com/dropDatabas3/idlink/internal/oidc"
)

// OutcomeKind es la regla de matching que decidió el destino de un login.
type OutcomeKind string

const (
	OutcomeExistingLink  OutcomeKind = "existing_link"
	OutcomeUsernameMatch OutcomeKind = "username_match"
	OutcomeEmailMatch    OutcomeKind = "email_match"
	OutcomeEmailConflict OutcomeKind = "email_conflict"
	OutcomeCreateNew     OutcomeKind = "create_new"
)

// Outcome es el resultado etiquetado de la resolución.
// Transient: se produce y consume dentro de un único intento.
type Outcome struct {
	Kind    OutcomeKind
	Account *repository.Account // nil para CreateNew
	Message string              // proveniencia legible para el caller
}

// Resolver decide qué cuenta local corresponde a una identidad externa.
//
// La decisión es una lista de reglas ordenada por prioridad: la primera que
// matchea gana, y el orden es parte del contrato:
//
//	link existente > username match > email match > conflicto > crear
type Resolver struct {
	accounts repository.AccountRepository
}

// NewResolver crea un resolver sobre el repositorio de cuentas.
func NewResolver(accounts repository.AccountRepository) *Resolver {
	return &Resolver{accounts: accounts}
}

// Resolve evalúa las reglas en orden y retorna el Outcome.
//
// Un perfil sin subject, o sin username ni email, corta antes de evaluar
// ninguna regla: no hay clave estable sobre la que decidir.
func (r *Resolver) Resolve(ctx context.Context, id *oidc.Identity) (*Outcome, error) {
	if id == nil || strings.TrimSpace(id.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrUnresolvable)
	}
	if id.Username == "" && id.Email == "" {
		return nil, fmt.Errorf("%w: missing username and email", ErrUnresolvable)
	}

	// 1. Link existente: logins repetidos son idempotentes por esta regla.
	acc, err := r.accounts.GetBySubject(ctx, id.Subject)
	switch {
	case err == nil:
		return &Outcome{
			Kind:    OutcomeExistingLink,
			Account: acc,
			Message: fmt.Sprintf("account already linked to user %s", acc.Username),
		}, nil
	case !repository.IsNotFound(err):
		return nil, err
	}

	// 2. Username match exacto sobre una cuenta todavía sin vincular.
	if id.Username != "" {
		acc, err := r.accounts.GetByUsername(ctx, id.Username)
		switch {
		case err == nil && !acc.IsLinked():
			return &Outcome{
				Kind:    OutcomeUsernameMatch,
				Account: acc,
				Message: fmt.Sprintf("exact username match: %s", id.Username),
			}, nil
		case err != nil && !repository.IsNotFound(err):
			return nil, err
		}
	}

	// 3. Email match sobre una cuenta sin vincular. Si los usernames
	// difieren es ambiguo (¿misma persona o colisión?) y NUNCA se
	// auto-vincula: requiere confirmación explícita del usuario.
	if id.Email != "" {
		acc, err := r.accounts.GetByEmail(ctx, id.Email)
		switch {
		case err == nil && !acc.IsLinked():
			if !strings.EqualFold(acc.Username, id.Username) {
				return &Outcome{
					Kind:    OutcomeEmailConflict,
					Account: acc,
					Message: fmt.Sprintf("email matches but usernames differ: local=%q vs external=%q", acc.Username, id.Username),
				}, nil
			}
			return &Outcome{
				Kind:    OutcomeEmailMatch,
				Account: acc,
				Message: fmt.Sprintf("email match: %s", id.Email),
			}, nil
		case err != nil && !repository.IsNotFound(err):
			return nil, err
		}
	}

	// 4. Sin matches: cuenta nueva.
	return &Outcome{
		Kind:    OutcomeCreateNew,
		Message: "no matching account found, will create new account",
	}, nil
}

// ApplyLink vincula el subject de la identidad a la cuenta dada.
//
// keepLocal=true deja el password como método adicional (auth_provider pasa
// a "both" si era local). keepLocal=false migra la cuenta a externa-only.
// Falla atómicamente con ErrAlreadyLinkedElsewhere si el subject ya está
// vinculado a otra cuenta.
func (r *Resolver) ApplyLink(ctx context.Context, accountID int64, id *oidc.Identity, keepLocal bool) (*repository.Account, error) {
	acc, err := r.accounts.LinkSubject(ctx, accountID, id.Subject, keepLocal)
	if err != nil {
		if errors.Is(err, repository.ErrSubjectTaken) {
			return nil, ErrAlreadyLinkedElsewhere
		}
		return nil, err
	}
	return acc, nil
}

// CreateFromIdentity crea una cuenta nueva gestionada por el provider
// externo. Requiere username y email presentes; una carrera con un registro
// concurrente se traduce a ErrDuplicateAccount, nunca se pisa nada.
func (r *Resolver) CreateFromIdentity(ctx context.Context, id *oidc.Identity) (*repository.Account, error) {
	if id.Username == "" || id.Email == "" {
		return nil, ErrProfileIncomplete
	}
	acc, err := r.accounts.CreateExternal(ctx, repository.CreateExternalInput{
		Username:      id.Username,
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
		DisplayName:   id.DisplayName,
		Subject:       id.Subject,
	})
	if err != nil {
		if repository.IsConflict(err) {
			return nil, ErrDuplicateAccount
		}
		return nil, err
	}
	return acc, nil
}

// Unlink desvincula la identidad externa de la cuenta.
//
// Invariante duro, verificado antes de mutar: la cuenta debe conservar un
// password local, o queda repository.ErrNoFallbackCredential y el estado
// original intacto.
func (r *Resolver) Unlink(ctx context.Context, accountID int64) (*repository.Account, error) {
	return r.accounts.UnlinkSubject(ctx, accountID)
}
