package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// Verifier valida identity tokens contra el JWKS del provider.
//
// Cada paso falla duro: nunca se otorga confianza parcial. El motivo
// específico del rechazo viaja en TokenError.
type Verifier struct {
	cache    *DiscoveryCache
	clientID string
	leeway   time.Duration

	// now es inyectable para tests.
	now func() time.Time
}

// NewVerifier crea un verifier para el client_id configurado.
func NewVerifier(cache *DiscoveryCache, clientID string) *Verifier {
	return &Verifier{
		cache:    cache,
		clientID: clientID,
		leeway:   30 * time.Second,
		now:      time.Now,
	}
}

// VerifiedClaims es el claim set de un identity token ya verificado.
type VerifiedClaims struct {
	Subject   string
	Issuer    string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Raw       jwtv5.MapClaims
}

// Verify valida firma, issuer, audience y ventana temporal del token.
//
// Orden de verificación:
//  1. header JOSE (alg RS256, kid) sin confiar en ningún claim
//  2. clave por kid; si no está, un refresh forzado del JWKS antes de fallar
//  3. firma
//  4. iss == issuer del discovery document
//  5. aud contiene el client_id configurado (claim requerido)
//  6. iat y exp presentes, token dentro de la ventana de validez
//  7. nbf solo si está presente
func (v *Verifier) Verify(ctx context.Context, idToken string) (*VerifiedClaims, error) {
	header, err := parseHeader(idToken)
	if err != nil {
		return nil, invalidToken(ReasonMalformed, err)
	}
	if header.Alg != "RS256" {
		return nil, invalidToken(ReasonMalformed, errors.New("unexpected alg: "+header.Alg))
	}

	key, err := v.keyForKid(ctx, header.Kid)
	if err != nil {
		return nil, err
	}

	tok, err := jwtv5.Parse(idToken,
		func(t *jwtv5.Token) (any, error) { return key, nil },
		jwtv5.WithValidMethods([]string{"RS256"}),
		jwtv5.WithoutClaimsValidation(),
	)
	if err != nil {
		switch {
		case errors.Is(err, jwtv5.ErrTokenMalformed):
			return nil, invalidToken(ReasonMalformed, err)
		case errors.Is(err, jwtv5.ErrTokenSignatureInvalid):
			return nil, invalidToken(ReasonBadSignature, err)
		default:
			return nil, invalidToken(ReasonBadSignature, err)
		}
	}

	claims, ok := tok.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil, invalidToken(ReasonMalformed, errors.New("unexpected claims type"))
	}

	doc, err := v.cache.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	iss, _ := claims["iss"].(string)
	if iss == "" || iss != doc.Issuer {
		return nil, invalidToken(ReasonBadIssuer, errors.New("iss mismatch"))
	}

	// aud es requerido: sin audience no hay pass.
	aud, err := claims.GetAudience()
	if err != nil || len(aud) == 0 {
		return nil, invalidToken(ReasonBadAudience, errors.New("missing aud"))
	}
	if !containsAudience(aud, v.clientID) {
		return nil, invalidToken(ReasonBadAudience, errors.New("aud mismatch"))
	}

	now := v.now()

	iat, err := claims.GetIssuedAt()
	if err != nil || iat == nil {
		return nil, invalidToken(ReasonMissingClaim, errors.New("missing iat"))
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, invalidToken(ReasonMissingClaim, errors.New("missing exp"))
	}
	if now.After(exp.Time.Add(v.leeway)) {
		return nil, invalidToken(ReasonExpired, errors.New("token expired"))
	}

	// nbf es opcional: su ausencia no falla.
	if nbf, err := claims.GetNotBefore(); err == nil && nbf != nil {
		if now.Add(v.leeway).Before(nbf.Time) {
			return nil, invalidToken(ReasonNotYetValid, errors.New("token not yet valid"))
		}
	}

	sub, _ := claims["sub"].(string)
	return &VerifiedClaims{
		Subject:   sub,
		Issuer:    iss,
		IssuedAt:  iat.Time,
		ExpiresAt: exp.Time,
		Raw:       claims,
	}, nil
}

// keyForKid resuelve la clave de firma; ante un kid desconocido intenta un
// único refresh forzado (rotación de claves) antes de fallar.
func (v *Verifier) keyForKid(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	ks, err := v.cache.SigningKeys(ctx)
	if err != nil {
		return nil, err
	}
	key, err := ks.RSAKey(kid)
	if err == nil {
		return key, nil
	}
	if !errors.Is(err, errKeyNotFound) {
		return nil, invalidToken(ReasonUnknownKey, err)
	}

	ks, rerr := v.cache.RefreshKeys(ctx)
	if rerr != nil {
		return nil, invalidToken(ReasonUnknownKey, rerr)
	}
	key, err = ks.RSAKey(kid)
	if err != nil {
		return nil, invalidToken(ReasonUnknownKey, err)
	}
	return key, nil
}

type joseHeader struct {
	Alg string `json:"alg"`
	Kid string `json:"kid"`
	Typ string `json:"typ"`
}

// parseHeader decodifica el header JOSE sin verificar nada más.
func parseHeader(idToken string) (*joseHeader, error) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return nil, errors.New("bad jwt format")
	}
	hb, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, err
	}
	var h joseHeader
	if err := json.Unmarshal(hb, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func containsAudience(aud jwtv5.ClaimStrings, clientID string) bool {
	for _, a := range aud {
		if a == clientID {
			return true
		}
	}
	return false
}
