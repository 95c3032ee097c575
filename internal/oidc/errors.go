package oidc

import (
	"errors"
	"fmt"
)

var (
	// ErrDiscoveryUnavailable indica que el discovery document (o el JWKS) no
	// pudo obtenerse y no hay valor cacheado. Es un error de configuración:
	// sin discovery no hay nada que hacer por-request.
	ErrDiscoveryUnavailable = errors.New("oidc: discovery unavailable")

	// ErrProviderUnavailable indica timeout o fallo de red contra el provider.
	// El caller puede reintentar; este paquete nunca reintenta solo.
	ErrProviderUnavailable = errors.New("oidc: provider unavailable")

	// ErrTokenExchangeFailed indica que el provider rechazó el intercambio del
	// authorization code. El code es single-use: no se reintenta.
	ErrTokenExchangeFailed = errors.New("oidc: token exchange failed")

	// ErrInvalidToken agrupa todos los fallos de verificación del identity
	// token. El motivo específico viaja en TokenError.
	ErrInvalidToken = errors.New("oidc: invalid token")

	// ErrMissingSubject indica un perfil sin claim "sub".
	// El subject es el único campo incondicionalmente requerido.
	ErrMissingSubject = errors.New("oidc: profile missing subject")
)

// TokenReason es el sub-motivo de un ErrInvalidToken.
type TokenReason string

const (
	ReasonMalformed    TokenReason = "malformed"
	ReasonBadSignature TokenReason = "bad_signature"
	ReasonBadIssuer    TokenReason = "bad_issuer"
	ReasonBadAudience  TokenReason = "bad_audience"
	ReasonExpired      TokenReason = "expired"
	ReasonNotYetValid  TokenReason = "not_yet_valid"
	ReasonMissingClaim TokenReason = "missing_claim"
	ReasonUnknownKey   TokenReason = "unknown_key"
)

// TokenError es un fallo de verificación con motivo específico.
// errors.Is(err, ErrInvalidToken) matchea cualquier TokenError.
type TokenError struct {
	Reason TokenReason
	cause  error
}

func (e *TokenError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("oidc: invalid token (%s): %v", e.Reason, e.cause)
	}
	return fmt.Sprintf("oidc: invalid token (%s)", e.Reason)
}

func (e *TokenError) Unwrap() error { return e.cause }

func (e *TokenError) Is(target error) bool { return target == ErrInvalidToken }

// invalidToken construye un TokenError.
func invalidToken(reason TokenReason, cause error) error {
	return &TokenError{Reason: reason, cause: cause}
}

// ReasonOf extrae el TokenReason de un error de verificación.
// Retorna "" si el error no es un TokenError.
func ReasonOf(err error) TokenReason {
	var te *TokenError
	if errors.As(err, &te) {
		return te.Reason
	}
	return ""
}
