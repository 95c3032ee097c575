package oidc_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
)

// fakeProvider simula un provider OIDC completo: discovery, JWKS, token y
// userinfo. Cada endpoint es reemplazable por test.
type fakeProvider struct {
	t   *testing.T
	srv *httptest.Server

	key *rsa.PrivateKey
	kid string

	discoveryHits atomic.Int64
	jwksHits      atomic.Int64

	// hooks opcionales por test
	tokenHandler    http.HandlerFunc
	userinfoHandler http.HandlerFunc
	jwksHandler     http.HandlerFunc
	jwksETag        string
	discoveryDelay  time.Duration
}

func newFakeProvider(t *testing.T) *fakeProvider {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("gen rsa key: %v", err)
	}

	p := &fakeProvider{t: t, key: key, kid: "kid-1"}

	mux := http.NewServeMux()
	mux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		p.discoveryHits.Add(1)
		if p.discoveryDelay > 0 {
			time.Sleep(p.discoveryDelay)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 p.srv.URL,
			"authorization_endpoint": p.srv.URL + "/authorize",
			"token_endpoint":         p.srv.URL + "/token",
			"userinfo_endpoint":      p.srv.URL + "/userinfo",
			"jwks_uri":               p.srv.URL + "/jwks",
		})
	})
	mux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		p.jwksHits.Add(1)
		if p.jwksHandler != nil {
			p.jwksHandler(w, r)
			return
		}
		if p.jwksETag != "" {
			if r.Header.Get("If-None-Match") == p.jwksETag {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", p.jwksETag)
		}
		_ = json.NewEncoder(w).Encode(p.jwksDocument())
	})
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		if p.tokenHandler != nil {
			p.tokenHandler(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id_token":     p.mintToken(testClientID, nil),
			"access_token": "at-1",
			"token_type":   "Bearer",
		})
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if p.userinfoHandler != nil {
			p.userinfoHandler(w, r)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	p.srv = httptest.NewServer(mux)
	t.Cleanup(p.srv.Close)
	return p
}

const testClientID = "idlink-test"

func (p *fakeProvider) discoveryURL() string {
	return p.srv.URL + "/.well-known/openid-configuration"
}

func (p *fakeProvider) jwksDocument() map[string]any {
	pub := p.key.PublicKey
	return map[string]any{
		"keys": []map[string]string{{
			"kty": "RSA",
			"alg": "RS256",
			"use": "sig",
			"kid": p.kid,
			"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
		}},
	}
}

// mintToken firma un identity token RS256 con los claims base del provider,
// aplicando overrides por encima. Un override con valor nil elimina el claim.
func (p *fakeProvider) mintToken(aud string, overrides map[string]any) string {
	p.t.Helper()

	now := time.Now()
	claims := jwtv5.MapClaims{
		"iss": p.srv.URL,
		"sub": "subject-1",
		"aud": aud,
		"iat": now.Unix(),
		"exp": now.Add(5 * time.Minute).Unix(),
	}
	for k, v := range overrides {
		if v == nil {
			delete(claims, k)
			continue
		}
		claims[k] = v
	}

	tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, claims)
	tok.Header["kid"] = p.kid
	signed, err := tok.SignedString(p.key)
	if err != nil {
		p.t.Fatalf("sign token: %v", err)
	}
	return signed
}
