package repository

import "errors"

var (
	// ErrNotFound indica que el recurso solicitado no existe.
	ErrNotFound = errors.New("not found")

	// ErrConflict indica un conflicto (ej: duplicado, constraint violation).
	ErrConflict = errors.New("conflict")

	// ErrSubjectTaken indica que el subject externo ya está vinculado a otra cuenta.
	ErrSubjectTaken = errors.New("subject already linked to another account")

	// ErrNoFallbackCredential indica que desvincular dejaría la cuenta sin
	// ningún método de autenticación.
	ErrNoFallbackCredential = errors.New("account has no fallback credential")

	// ErrInvalidInput indica que los datos de entrada son inválidos.
	ErrInvalidInput = errors.New("invalid input")
)

// IsNotFound verifica si el error es ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict verifica si el error es ErrConflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
