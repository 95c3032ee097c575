package oidc

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// discoveryTTL es el tiempo de vida del discovery document y del JWKS desde
// el primer fetch exitoso.
const discoveryTTL = time.Hour

// DiscoveryDocument es el subconjunto del documento OIDC que usamos.
type DiscoveryDocument struct {
	Issuer           string `json:"issuer"`
	AuthEndpoint     string `json:"authorization_endpoint"`
	TokenEndpoint    string `json:"token_endpoint"`
	UserinfoEndpoint string `json:"userinfo_endpoint"`
	JWKSURI          string `json:"jwks_uri"`
}

type jwk struct {
	Kty string `json:"kty"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	Kid string `json:"kid"`
	N   string `json:"n"` // base64url
	E   string `json:"e"` // base64url
}

// KeySet es el JWKS publicado por el provider.
type KeySet struct {
	Keys []jwk `json:"keys"`
}

var errKeyNotFound = errors.New("oidc: signing key not found")

// RSAKey busca la clave RSA con el kid dado y la materializa.
func (ks *KeySet) RSAKey(kid string) (*rsa.PublicKey, error) {
	if ks == nil {
		return nil, errKeyNotFound
	}
	for _, k := range ks.Keys {
		if k.Kid != kid || !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		nb, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("oidc: bad jwk modulus: %w", err)
		}
		eb, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("oidc: bad jwk exponent: %w", err)
		}
		n := new(big.Int).SetBytes(nb)
		e := 65537
		if len(eb) > 0 {
			// big-endian bytes to int
			e = 0
			for _, b := range eb {
				e = (e << 8) | int(b)
			}
		}
		return &rsa.PublicKey{N: n, E: e}, nil
	}
	return nil, fmt.Errorf("%w: kid=%s", errKeyNotFound, kid)
}

// DiscoveryCache obtiene y cachea el discovery document y el JWKS con TTL.
//
// Es el único estado mutable compartido del subsistema: los refrescos
// concurrentes se coalescen con singleflight (un solo fetch en vuelo) y los
// lectores ven el valor completo anterior hasta el swap bajo el RWMutex.
// Si un fetch falla y hay valor cacheado, se sirve el valor stale.
type DiscoveryCache struct {
	url  string
	ttl  time.Duration
	http *http.Client

	sf singleflight.Group

	mu       sync.RWMutex
	doc      *DiscoveryDocument
	docAt    time.Time
	keys     *KeySet
	keysAt   time.Time
	keysETag string
}

// NewDiscoveryCache crea un cache para la URL de discovery dada.
func NewDiscoveryCache(discoveryURL string, timeout time.Duration) *DiscoveryCache {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscoveryCache{
		url:  discoveryURL,
		ttl:  discoveryTTL,
		http: &http.Client{Timeout: timeout},
	}
}

// Discovery retorna el discovery document, refrescando si el cache expiró.
func (c *DiscoveryCache) Discovery(ctx context.Context) (*DiscoveryDocument, error) {
	c.mu.RLock()
	doc := c.doc
	fresh := time.Since(c.docAt) < c.ttl
	c.mu.RUnlock()
	if doc != nil && fresh {
		return doc, nil
	}

	v, err, _ := c.sf.Do("discovery", func() (any, error) {
		// Double-check: otro waiter pudo haber refrescado ya.
		c.mu.RLock()
		doc := c.doc
		fresh := time.Since(c.docAt) < c.ttl
		c.mu.RUnlock()
		if doc != nil && fresh {
			return doc, nil
		}

		dd, err := c.fetchDiscovery(ctx)
		if err != nil {
			if doc != nil {
				// Soft-fail: preferimos stale a perder disponibilidad.
				return doc, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
		}

		c.mu.Lock()
		c.doc, c.docAt = dd, time.Now()
		c.mu.Unlock()
		return dd, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DiscoveryDocument), nil
}

// SigningKeys retorna el JWKS, refrescando si el cache expiró.
func (c *DiscoveryCache) SigningKeys(ctx context.Context) (*KeySet, error) {
	c.mu.RLock()
	keys := c.keys
	fresh := time.Since(c.keysAt) < c.ttl
	c.mu.RUnlock()
	if keys != nil && fresh {
		return keys, nil
	}
	return c.refreshKeys(ctx, false)
}

// RefreshKeys fuerza un refetch del JWKS ignorando el TTL.
// Usado por el verifier cuando un kid no aparece en el set actual
// (rotación de claves del provider).
func (c *DiscoveryCache) RefreshKeys(ctx context.Context) (*KeySet, error) {
	return c.refreshKeys(ctx, true)
}

func (c *DiscoveryCache) refreshKeys(ctx context.Context, force bool) (*KeySet, error) {
	v, err, _ := c.sf.Do("jwks", func() (any, error) {
		c.mu.RLock()
		keys := c.keys
		fresh := time.Since(c.keysAt) < c.ttl
		c.mu.RUnlock()
		if keys != nil && fresh && !force {
			return keys, nil
		}

		doc, err := c.Discovery(ctx)
		if err != nil {
			if keys != nil {
				return keys, nil
			}
			return nil, err
		}
		if doc.JWKSURI == "" {
			return nil, fmt.Errorf("%w: discovery document has no jwks_uri", ErrDiscoveryUnavailable)
		}

		ks, etag, notModified, err := c.fetchKeys(ctx, doc.JWKSURI)
		if err != nil {
			if keys != nil {
				return keys, nil
			}
			return nil, fmt.Errorf("%w: %v", ErrDiscoveryUnavailable, err)
		}

		c.mu.Lock()
		if notModified {
			c.keysAt = time.Now()
			ks = c.keys
		} else {
			c.keys, c.keysAt, c.keysETag = ks, time.Now(), etag
		}
		c.mu.Unlock()
		return ks, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*KeySet), nil
}

func (c *DiscoveryCache) fetchDiscovery(ctx context.Context) (*DiscoveryDocument, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("discovery http %d", resp.StatusCode)
	}
	var dd DiscoveryDocument
	if err := json.NewDecoder(resp.Body).Decode(&dd); err != nil {
		return nil, err
	}
	if dd.Issuer == "" {
		return nil, errors.New("discovery document has no issuer")
	}
	return &dd, nil
}

func (c *DiscoveryCache) fetchKeys(ctx context.Context, uri string) (ks *KeySet, etag string, notModified bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, "", false, err
	}
	c.mu.RLock()
	if c.keysETag != "" && c.keys != nil {
		req.Header.Set("If-None-Match", c.keysETag)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, "", false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return nil, "", true, nil
	}
	if resp.StatusCode/100 != 2 {
		return nil, "", false, fmt.Errorf("jwks http %d", resp.StatusCode)
	}
	var jj KeySet
	if err := json.NewDecoder(resp.Body).Decode(&jj); err != nil {
		return nil, "", false, err
	}
	return &jj, resp.Header.Get("ETag"), false, nil
}

// classifyNetErr traduce timeouts de red a ErrProviderUnavailable.
// Cualquier otro error se retorna tal cual.
func classifyNetErr(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	return err
}
