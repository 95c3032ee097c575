package handlers_test

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dropDatabas3/idlink/internal/audit"
	"github.com/dropDatabas3/idlink/internal/cache"
	"github.com/dropDatabas3/idlink/internal/domain/repository"
	"github.com/dropDatabas3/idlink/internal/http/handlers"
	"github.com/dropDatabas3/idlink/internal/http/router"
	"github.com/dropDatabas3/idlink/internal/identity"
	"github.com/dropDatabas3/idlink/internal/oidc"
	"github.com/dropDatabas3/idlink/internal/security/password"
	"github.com/dropDatabas3/idlink/internal/state"
	"github.com/dropDatabas3/idlink/internal/store/memory"
)

const clientID = "idlink-http-test"

type env struct {
	api      *httptest.Server
	idp      *httptest.Server
	accounts *memory.Accounts
	codes    map[string]jwtv5.MapClaims
	key      *rsa.PrivateKey
}

func newEnv(t *testing.T) *env {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	e := &env{codes: map[string]jwtv5.MapClaims{}, key: key}

	idpMux := http.NewServeMux()
	idpMux.HandleFunc("/.well-known/openid-configuration", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{
			"issuer":                 e.idp.URL,
			"authorization_endpoint": e.idp.URL + "/authorize",
			"token_endpoint":         e.idp.URL + "/token",
			"jwks_uri":               e.idp.URL + "/jwks",
		})
	})
	idpMux.HandleFunc("/jwks", func(w http.ResponseWriter, r *http.Request) {
		pub := key.PublicKey
		_ = json.NewEncoder(w).Encode(map[string]any{
			"keys": []map[string]string{{
				"kty": "RSA", "alg": "RS256", "kid": "k1",
				"n": base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
				"e": base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
			}},
		})
	})
	idpMux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		claims, ok := e.codes[r.PostFormValue("code")]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		now := time.Now()
		full := jwtv5.MapClaims{
			"iss": e.idp.URL,
			"aud": clientID,
			"iat": now.Unix(),
			"exp": now.Add(5 * time.Minute).Unix(),
		}
		for k, v := range claims {
			full[k] = v
		}
		tok := jwtv5.NewWithClaims(jwtv5.SigningMethodRS256, full)
		tok.Header["kid"] = "k1"
		signed, serr := tok.SignedString(key)
		if serr != nil {
			http.Error(w, serr.Error(), http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id_token": signed})
	})
	e.idp = httptest.NewServer(idpMux)
	t.Cleanup(e.idp.Close)

	e.accounts = memory.NewAccounts()
	audits := memory.NewAudit()

	disco := oidc.NewDiscoveryCache(e.idp.URL+"/.well-known/openid-configuration", 0)
	flow := oidc.NewFlow(oidc.Config{
		ClientID:     clientID,
		ClientSecret: "secret",
		RedirectURI:  "http://localhost/v1/auth/oidc/callback",
	}, disco, 0)

	reconciler := identity.NewReconciler(identity.Deps{
		Flow:     flow,
		Verifier: oidc.NewVerifier(disco, clientID),
		Resolver: identity.NewResolver(e.accounts),
		Audit:    audit.NewRecorder(audits),
	})

	handler := router.New(router.Deps{
		OIDC: &handlers.OIDCDeps{
			Flow:       flow,
			Reconciler: reconciler,
			States:     state.NewStore(cache.NewMemory("t")),
			Accounts:   e.accounts,
		},
	})
	e.api = httptest.NewServer(handler)
	t.Cleanup(e.api.Close)
	return e
}

func (e *env) issueCode(code, sub, username, email string) {
	e.codes[code] = jwtv5.MapClaims{
		"sub":                sub,
		"preferred_username": username,
		"email":              email,
	}
}

// startLogin sigue el redirect de /start solo hasta extraer el state.
func (e *env) startLogin(t *testing.T) string {
	t.Helper()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}}
	resp, err := client.Get(e.api.URL + "/v1/auth/oidc/start")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusFound, resp.StatusCode)

	loc, err := url.Parse(resp.Header.Get("Location"))
	require.NoError(t, err)
	st := loc.Query().Get("state")
	require.NotEmpty(t, st)
	return st
}

func (e *env) callback(t *testing.T, code, st string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.api.URL + "/v1/auth/oidc/callback?code=" + url.QueryEscape(code) + "&state=" + url.QueryEscape(st))
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func postJSON(t *testing.T, url string, headers map[string]string, payload any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(payload)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	return resp, body
}

func TestLoginFlowCreatesAccount(t *testing.T) {
	e := newEnv(t)
	e.issueCode("c1", "sub-3", "carol", "carol@example.com")

	st := e.startLogin(t)
	resp, body := e.callback(t, "c1", st)

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "created", body["status"])
	acc := body["account"].(map[string]any)
	assert.Equal(t, "carol", acc["username"])
	assert.Equal(t, "external", acc["auth_provider"])
}

func TestCallbackRejectsUnknownState(t *testing.T) {
	e := newEnv(t)
	e.issueCode("c1", "sub-1", "alice", "alice@example.com")

	resp, body := e.callback(t, "c1", "forged-state")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_state", body["error"])
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	e := newEnv(t)
	e.issueCode("c1", "sub-3", "carol", "carol@example.com")
	e.issueCode("c2", "sub-3", "carol", "carol@example.com")

	st := e.startLogin(t)
	resp, _ := e.callback(t, "c1", st)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := e.callback(t, "c2", st)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_state", body["error"])
}

func TestConflictThenConfirmLink(t *testing.T) {
	e := newEnv(t)

	hash, err := password.Hash("hunter2")
	require.NoError(t, err)
	bob := e.accounts.Seed(repository.Account{
		Username:     "bobby",
		Email:        "bob@example.com",
		PasswordHash: &hash,
		AuthProvider: repository.ProviderLocal,
	})

	e.issueCode("c1", "sub-2", "bob", "bob@example.com")
	st := e.startLogin(t)
	resp, body := e.callback(t, "c1", st)

	require.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "email_conflict", body["error"])
	token, _ := body["conflict_token"].(string)
	require.NotEmpty(t, token)

	// Password incorrecto: rechazado, el conflicto ya fue consumido.
	resp, body = postJSON(t, e.api.URL+"/v1/auth/oidc/confirm-link", nil, map[string]string{
		"conflict_token": token,
		"password":       "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_credentials", body["error"])

	// Nuevo intento de login para regenerar el conflicto.
	e.issueCode("c2", "sub-2", "bob", "bob@example.com")
	st = e.startLogin(t)
	resp, body = e.callback(t, "c2", st)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	token = body["conflict_token"].(string)

	resp, body = postJSON(t, e.api.URL+"/v1/auth/oidc/confirm-link", nil, map[string]string{
		"conflict_token": token,
		"password":       "hunter2",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	acc := body["account"].(map[string]any)
	assert.Equal(t, true, acc["linked"])
	assert.Equal(t, "both", acc["auth_provider"])

	cur, err := e.accounts.GetByID(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.True(t, cur.IsLinked())
}

func TestUnlinkRequiresAuthAndPassword(t *testing.T) {
	e := newEnv(t)

	hash, err := password.Hash("hunter2")
	require.NoError(t, err)
	alice := e.accounts.Seed(repository.Account{
		Username:        "alice",
		Email:           "alice@example.com",
		PasswordHash:    &hash,
		ExternalSubject: func() *string { s := "sub-1"; return &s }(),
		AuthProvider:    repository.ProviderBoth,
	})

	// Sin identidad: 401.
	resp, _ := postJSON(t, e.api.URL+"/v1/auth/oidc/unlink", nil, map[string]string{"password": "hunter2"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Password incorrecto: 401.
	hdr := map[string]string{"X-Account-ID": "1"}
	resp, _ = postJSON(t, e.api.URL+"/v1/auth/oidc/unlink", hdr, map[string]string{"password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// OK.
	resp, body := postJSON(t, e.api.URL+"/v1/auth/oidc/unlink", hdr, map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	acc := body["account"].(map[string]any)
	assert.Equal(t, false, acc["linked"])
	assert.Equal(t, "local", acc["auth_provider"])

	cur, err := e.accounts.GetByID(context.Background(), alice.ID)
	require.NoError(t, err)
	assert.False(t, cur.IsLinked())
}

func TestLinkStartRequiresKnownAccount(t *testing.T) {
	e := newEnv(t)

	resp, _ := postJSON(t, e.api.URL+"/v1/auth/oidc/link/start", nil, map[string]string{})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = postJSON(t, e.api.URL+"/v1/auth/oidc/link/start", map[string]string{"X-Account-ID": "99"}, map[string]string{})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	hash, err := password.Hash("hunter2")
	require.NoError(t, err)
	e.accounts.Seed(repository.Account{
		Username:     "eve",
		Email:        "eve@example.com",
		PasswordHash: &hash,
		AuthProvider: repository.ProviderLocal,
	})
	resp, body := postJSON(t, e.api.URL+"/v1/auth/oidc/link/start", map[string]string{"X-Account-ID": "1"}, map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body["authorization_url"], "/authorize")
}

func TestHealthz(t *testing.T) {
	e := newEnv(t)
	resp, err := http.Get(e.api.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
