package repository

import (
	"context"
	"time"
)

// AuthProvider indica qué métodos de autenticación tiene una cuenta.
type AuthProvider string

const (
	// ProviderLocal: solo password local.
	ProviderLocal AuthProvider = "local"
	// ProviderExternal: solo identidad externa (OIDC).
	ProviderExternal AuthProvider = "external"
	// ProviderBoth: password local + identidad externa.
	ProviderBoth AuthProvider = "both"
)

// Account representa una cuenta local persistida.
//
// Invariante: una cuenta sin PasswordHash debe tener ExternalSubject no-nulo
// en todo momento; nunca puede quedar sin forma de autenticarse.
type Account struct {
	ID           int64
	Username     string // único, case-insensitive
	Email        string // único, case-insensitive
	PasswordHash *string
	DisplayName  string

	// ExternalSubject es el subject OIDC del proveedor externo.
	// A lo sumo una cuenta puede tener un subject dado (unicidad por store).
	ExternalSubject   *string
	AuthProvider      AuthProvider
	LinkedAt          *time.Time
	LastExternalLogin *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// HasPassword indica si la cuenta conserva credencial local.
func (a *Account) HasPassword() bool {
	return a != nil && a.PasswordHash != nil && *a.PasswordHash != ""
}

// IsLinked indica si la cuenta tiene una identidad externa vinculada.
func (a *Account) IsLinked() bool {
	return a != nil && a.ExternalSubject != nil && *a.ExternalSubject != ""
}

// CreateExternalInput contiene los datos para crear una cuenta desde una
// identidad externa (sin password).
type CreateExternalInput struct {
	Username      string
	Email         string
	EmailVerified bool
	DisplayName   string
	Subject       string
}

// AccountRepository define operaciones sobre cuentas locales.
//
// Las búsquedas por username/email son case-insensitive. Las mutaciones son
// atómicas: el check y el write ocurren dentro de la misma sentencia o
// transacción, y las violaciones de unicidad del store se traducen a los
// errores de dominio correspondientes (nunca se propagan crudas).
type AccountRepository interface {
	// GetByID busca una cuenta por ID.
	// Retorna ErrNotFound si no existe.
	GetByID(ctx context.Context, id int64) (*Account, error)

	// GetBySubject busca la cuenta vinculada a un subject externo.
	// Retorna ErrNotFound si ninguna cuenta tiene ese subject.
	GetBySubject(ctx context.Context, subject string) (*Account, error)

	// GetByUsername busca una cuenta por username (case-insensitive).
	// Retorna ErrNotFound si no existe.
	GetByUsername(ctx context.Context, username string) (*Account, error)

	// GetByEmail busca una cuenta por email (case-insensitive).
	// Retorna ErrNotFound si no existe.
	GetByEmail(ctx context.Context, email string) (*Account, error)

	// CreateExternal crea una cuenta gestionada solo por el proveedor externo
	// (password_hash NULL, auth_provider = external, linked_at = now).
	// Retorna ErrConflict si username o email ya están tomados.
	CreateExternal(ctx context.Context, in CreateExternalInput) (*Account, error)

	// LinkSubject vincula un subject externo a la cuenta.
	// keepLocal=true: auth_provider pasa a "both" solo si era "local".
	// keepLocal=false: auth_provider pasa a "external".
	// Retorna ErrSubjectTaken si el subject ya está vinculado a OTRA cuenta,
	// y ErrConflict si la cuenta ya tiene un subject distinto.
	// Es idempotente si la cuenta ya tiene exactamente ese subject.
	LinkSubject(ctx context.Context, accountID int64, subject string, keepLocal bool) (*Account, error)

	// UnlinkSubject desvincula el subject externo y revierte auth_provider a
	// "local". Retorna ErrNoFallbackCredential si la cuenta no tiene password
	// (el check y el write son atómicos: la cuenta nunca queda sin métodos de
	// autenticación, ni siquiera transitoriamente).
	UnlinkSubject(ctx context.Context, accountID int64) (*Account, error)

	// TouchExternalLogin actualiza last_external_login.
	TouchExternalLogin(ctx context.Context, accountID int64) error
}
