package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// defaultScopes son los scopes pedidos si la configuración no dice otra cosa.
var defaultScopes = []string{"openid", "profile", "email"}

// Config son las credenciales del relying party.
// La ausencia de cualquiera es un error fatal de arranque (config.Validate),
// no un error por-request.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// Flow arma la authorization URL e intercambia el authorization code.
type Flow struct {
	cfg   Config
	cache *DiscoveryCache
	http  *http.Client
}

// NewFlow crea el driver del flujo de autorización.
func NewFlow(cfg Config, cache *DiscoveryCache, timeout time.Duration) *Flow {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaultScopes
	}
	return &Flow{cfg: cfg, cache: cache, http: &http.Client{Timeout: timeout}}
}

// AuthorizationURL construye la URL de autorización con el state dado.
func (f *Flow) AuthorizationURL(ctx context.Context, state string) (string, error) {
	doc, err := f.cache.Discovery(ctx)
	if err != nil {
		return "", err
	}
	if doc.AuthEndpoint == "" {
		return "", fmt.Errorf("%w: discovery document has no authorization_endpoint", ErrDiscoveryUnavailable)
	}
	u, err := url.Parse(doc.AuthEndpoint)
	if err != nil {
		return "", fmt.Errorf("%w: bad authorization_endpoint: %v", ErrDiscoveryUnavailable, err)
	}
	q := u.Query()
	q.Set("response_type", "code")
	q.Set("client_id", f.cfg.ClientID)
	q.Set("redirect_uri", f.cfg.RedirectURI)
	q.Set("scope", strings.Join(f.cfg.Scopes, " "))
	q.Set("state", state)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// TokenSet es la respuesta del token endpoint.
type TokenSet struct {
	IDToken     string `json:"id_token"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// Exchange intercambia el authorization code por tokens.
//
// Nunca reintenta: el code es single-use y un retry automático podría quemar
// un code válido. Un rechazo del provider es ErrTokenExchangeFailed; un
// timeout de red es ErrProviderUnavailable (el caller decide si reintenta
// todo el flujo).
func (f *Flow) Exchange(ctx context.Context, code string) (*TokenSet, error) {
	doc, err := f.cache.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	if doc.TokenEndpoint == "" {
		return nil, fmt.Errorf("%w: discovery document has no token_endpoint", ErrDiscoveryUnavailable)
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("client_id", f.cfg.ClientID)
	form.Set("client_secret", f.cfg.ClientSecret)
	form.Set("redirect_uri", f.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, doc.TokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var b struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&b)
		return nil, fmt.Errorf("%w: http %d: %s %s", ErrTokenExchangeFailed, resp.StatusCode, b.Error, b.ErrorDescription)
	}

	var ts TokenSet
	if err := json.NewDecoder(resp.Body).Decode(&ts); err != nil {
		return nil, fmt.Errorf("%w: bad response: %v", ErrTokenExchangeFailed, err)
	}
	if ts.IDToken == "" {
		return nil, fmt.Errorf("%w: response has no id_token", ErrTokenExchangeFailed)
	}
	return &ts, nil
}

// UserInfo consulta el userinfo endpoint con el access token.
//
// Es best-effort para el orquestador: el identity token ya alcanza para la
// decisión de confianza, así que el caller trata cualquier error de acá como
// "sin claims suplementarios".
func (f *Flow) UserInfo(ctx context.Context, accessToken string) (map[string]any, error) {
	doc, err := f.cache.Discovery(ctx)
	if err != nil {
		return nil, err
	}
	if doc.UserinfoEndpoint == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.UserinfoEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := f.http.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("userinfo http %d", resp.StatusCode)
	}

	var claims map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&claims); err != nil {
		return nil, err
	}
	return claims, nil
}
