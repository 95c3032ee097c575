package oidc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dropDatabas3/idlink/internal/oidc"
)

func newVerifier(t *testing.T, p *fakeProvider) *oidc.Verifier {
	t.Helper()
	cache := oidc.NewDiscoveryCache(p.discoveryURL(), 0)
	return oidc.NewVerifier(cache, testClientID)
}

func TestVerifyValidToken(t *testing.T) {
	p := newFakeProvider(t)
	v := newVerifier(t, p)

	claims, err := v.Verify(context.Background(), p.mintToken(testClientID, nil))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "subject-1" {
		t.Errorf("subject = %q, want subject-1", claims.Subject)
	}
	if claims.Issuer != p.srv.URL {
		t.Errorf("issuer = %q, want %q", claims.Issuer, p.srv.URL)
	}
}

func TestVerifyRejections(t *testing.T) {
	p := newFakeProvider(t)
	v := newVerifier(t, p)
	ctx := context.Background()

	cases := []struct {
		name   string
		token  string
		reason oidc.TokenReason
	}{
		{
			name:   "garbage",
			token:  "not-a-jwt",
			reason: oidc.ReasonMalformed,
		},
		{
			name:   "wrong audience",
			token:  p.mintToken("other-client", nil),
			reason: oidc.ReasonBadAudience,
		},
		{
			name:   "missing audience",
			token:  p.mintToken("", map[string]any{"aud": nil}),
			reason: oidc.ReasonBadAudience,
		},
		{
			name:   "wrong issuer",
			token:  p.mintToken(testClientID, map[string]any{"iss": "https://evil.example"}),
			reason: oidc.ReasonBadIssuer,
		},
		{
			name:   "missing iat",
			token:  p.mintToken(testClientID, map[string]any{"iat": nil}),
			reason: oidc.ReasonMissingClaim,
		},
		{
			name:   "missing exp",
			token:  p.mintToken(testClientID, map[string]any{"exp": nil}),
			reason: oidc.ReasonMissingClaim,
		},
		{
			name:   "expired",
			token:  p.mintToken(testClientID, map[string]any{"exp": time.Now().Add(-time.Hour).Unix()}),
			reason: oidc.ReasonExpired,
		},
		{
			name:   "not yet valid",
			token:  p.mintToken(testClientID, map[string]any{"nbf": time.Now().Add(time.Hour).Unix()}),
			reason: oidc.ReasonNotYetValid,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := v.Verify(ctx, tc.token)
			if !errors.Is(err, oidc.ErrInvalidToken) {
				t.Fatalf("err = %v, want ErrInvalidToken", err)
			}
			if got := oidc.ReasonOf(err); got != tc.reason {
				t.Errorf("reason = %q, want %q", got, tc.reason)
			}
		})
	}
}

func TestVerifyMissingNbfIsTolerated(t *testing.T) {
	p := newFakeProvider(t)
	v := newVerifier(t, p)

	// El token base no trae nbf; debe pasar igual.
	if _, err := v.Verify(context.Background(), p.mintToken(testClientID, nil)); err != nil {
		t.Fatalf("verify without nbf: %v", err)
	}
}

func TestVerifyBadSignature(t *testing.T) {
	p := newFakeProvider(t)
	other := newFakeProvider(t)
	other.kid = p.kid

	// Token firmado por otra clave pero con claims de p y kid conocido.
	forged := other.mintToken(testClientID, map[string]any{"iss": p.srv.URL})

	v := newVerifier(t, p)
	_, err := v.Verify(context.Background(), forged)
	if !errors.Is(err, oidc.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if got := oidc.ReasonOf(err); got != oidc.ReasonBadSignature {
		t.Errorf("reason = %q, want %q", got, oidc.ReasonBadSignature)
	}
}

func TestVerifyKeyRotationTriggersRefresh(t *testing.T) {
	p := newFakeProvider(t)
	v := newVerifier(t, p)
	ctx := context.Background()

	// Primer verify llena el cache con kid-1.
	if _, err := v.Verify(ctx, p.mintToken(testClientID, nil)); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// El provider rota la clave: mismo material, kid nuevo.
	p.kid = "kid-2"

	// Un token con el kid nuevo fuerza un refetch del JWKS y pasa.
	if _, err := v.Verify(ctx, p.mintToken(testClientID, nil)); err != nil {
		t.Fatalf("verify after rotation: %v", err)
	}
	if hits := p.jwksHits.Load(); hits != 2 {
		t.Errorf("jwks hits = %d, want 2 (initial + forced refresh)", hits)
	}
}

func TestVerifyUnknownKidAfterRefreshFails(t *testing.T) {
	p := newFakeProvider(t)
	v := newVerifier(t, p)
	ctx := context.Background()

	tok := p.mintToken(testClientID, nil)
	p.kid = "kid-elsewhere" // el JWKS publica otro kid, antes y después del refresh

	_, err := v.Verify(ctx, tok)
	if !errors.Is(err, oidc.ErrInvalidToken) {
		t.Fatalf("err = %v, want ErrInvalidToken", err)
	}
	if got := oidc.ReasonOf(err); got != oidc.ReasonUnknownKey {
		t.Errorf("reason = %q, want %q", got, oidc.ReasonUnknownKey)
	}
}
