package oidc

import "strings"

// Identity es el registro canónico de una autenticación externa exitosa.
// Inmutable una vez construido; se produce fresco por intento.
type Identity struct {
	// Subject es el identificador opaco y estable del provider.
	// Es la única clave de join confiable.
	Subject string

	Username      string // preferred_username, si no nickname; puede quedar vacío
	Email         string
	EmailVerified bool
	DisplayName   string
	Groups        []string

	// RawClaims se conserva solo para auditoría/debug. Nunca se usa para
	// matching.
	RawClaims map[string]any
}

// Normalize fusiona los claims del identity token con los del userinfo
// endpoint en una Identity canónica.
//
// Los claims de userinfo pisan a los del token en campos superpuestos
// (fuente más fresca), excepto el subject, que siempre viene del identity
// token firmado. La ausencia de username y email es legal acá; la ausencia
// de subject es un fallo duro de construcción.
func Normalize(verified *VerifiedClaims, userinfo map[string]any) (*Identity, error) {
	if verified == nil || strings.TrimSpace(verified.Subject) == "" {
		return nil, ErrMissingSubject
	}

	merged := make(map[string]any, len(verified.Raw)+len(userinfo))
	for k, v := range verified.Raw {
		merged[k] = v
	}
	for k, v := range userinfo {
		if k == "sub" {
			continue
		}
		merged[k] = v
	}

	username := strClaim(merged, "preferred_username")
	if username == "" {
		username = strClaim(merged, "nickname")
	}

	return &Identity{
		Subject:       verified.Subject,
		Username:      username,
		Email:         strClaim(merged, "email"),
		EmailVerified: boolClaim(merged, "email_verified"),
		DisplayName:   strClaim(merged, "name"),
		Groups:        strSliceClaim(merged, "groups"),
		RawClaims:     merged,
	}, nil
}

func strClaim(m map[string]any, k string) string {
	s, _ := m[k].(string)
	return s
}

func boolClaim(m map[string]any, k string) bool {
	b, _ := m[k].(bool)
	return b
}

func strSliceClaim(m map[string]any, k string) []string {
	raw, ok := m[k].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
