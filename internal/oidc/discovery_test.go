package oidc_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/dropDatabas3/idlink/internal/oidc"
)

func TestDiscoveryCachesDocument(t *testing.T) {
	p := newFakeProvider(t)
	cache := oidc.NewDiscoveryCache(p.discoveryURL(), 0)
	ctx := context.Background()

	doc, err := cache.Discovery(ctx)
	if err != nil {
		t.Fatalf("discovery: %v", err)
	}
	if doc.Issuer != p.srv.URL {
		t.Errorf("issuer = %q, want %q", doc.Issuer, p.srv.URL)
	}

	// Segunda llamada dentro del TTL: no toca el provider.
	if _, err := cache.Discovery(ctx); err != nil {
		t.Fatalf("discovery (cached): %v", err)
	}
	if hits := p.discoveryHits.Load(); hits != 1 {
		t.Errorf("discovery hits = %d, want 1", hits)
	}
}

func TestDiscoveryCoalescesConcurrentRefreshes(t *testing.T) {
	p := newFakeProvider(t)
	p.discoveryDelay = 100 * time.Millisecond

	cache := oidc.NewDiscoveryCache(p.discoveryURL(), 0)
	ctx := context.Background()

	// Cache frío y provider lento: todos los callers comparten un único
	// fetch en vuelo.
	const callers = 20
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := cache.Discovery(ctx)
			if err == nil && doc.Issuer != p.srv.URL {
				err = fmt.Errorf("issuer = %q, want %q", doc.Issuer, p.srv.URL)
			}
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if hits := p.discoveryHits.Load(); hits != 1 {
		t.Errorf("discovery hits = %d, want 1", hits)
	}
}

func TestDiscoveryUnavailableWithoutCache(t *testing.T) {
	p := newFakeProvider(t)
	p.srv.Close()

	cache := oidc.NewDiscoveryCache(p.discoveryURL(), 0)
	_, err := cache.Discovery(context.Background())
	if !errors.Is(err, oidc.ErrDiscoveryUnavailable) {
		t.Fatalf("err = %v, want ErrDiscoveryUnavailable", err)
	}
}

func TestSigningKeysServesFromCache(t *testing.T) {
	p := newFakeProvider(t)
	cache := oidc.NewDiscoveryCache(p.discoveryURL(), 0)
	ctx := context.Background()

	ks, err := cache.SigningKeys(ctx)
	if err != nil {
		t.Fatalf("signing keys: %v", err)
	}
	if _, err := ks.RSAKey(p.kid); err != nil {
		t.Fatalf("rsa key: %v", err)
	}

	if _, err := cache.SigningKeys(ctx); err != nil {
		t.Fatalf("signing keys (cached): %v", err)
	}
	if hits := p.jwksHits.Load(); hits != 1 {
		t.Errorf("jwks hits = %d, want 1", hits)
	}
}

func TestRefreshKeysForcesFetchAndHonorsETag(t *testing.T) {
	p := newFakeProvider(t)
	p.jwksETag = `"v1"`

	cache := oidc.NewDiscoveryCache(p.discoveryURL(), 0)
	ctx := context.Background()

	if _, err := cache.SigningKeys(ctx); err != nil {
		t.Fatalf("signing keys: %v", err)
	}

	// Refresh forzado: revalida con If-None-Match y recibe 304.
	ks, err := cache.RefreshKeys(ctx)
	if err != nil {
		t.Fatalf("refresh keys: %v", err)
	}
	if _, err := ks.RSAKey(p.kid); err != nil {
		t.Fatalf("rsa key after 304: %v", err)
	}
	if hits := p.jwksHits.Load(); hits != 2 {
		t.Errorf("jwks hits = %d, want 2", hits)
	}
}

func TestSigningKeysStaleFallback(t *testing.T) {
	p := newFakeProvider(t)
	cache := oidc.NewDiscoveryCache(p.discoveryURL(), 0)
	ctx := context.Background()

	if _, err := cache.SigningKeys(ctx); err != nil {
		t.Fatalf("signing keys: %v", err)
	}

	// El provider empieza a fallar: el refresh forzado sirve el set anterior.
	p.jwksHandler = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	ks, err := cache.RefreshKeys(ctx)
	if err != nil {
		t.Fatalf("refresh keys with failing provider: %v", err)
	}
	if _, err := ks.RSAKey(p.kid); err != nil {
		t.Fatalf("stale key unavailable: %v", err)
	}
}

func TestKeySetUnknownKid(t *testing.T) {
	p := newFakeProvider(t)
	cache := oidc.NewDiscoveryCache(p.discoveryURL(), 0)

	ks, err := cache.SigningKeys(context.Background())
	if err != nil {
		t.Fatalf("signing keys: %v", err)
	}
	if _, err := ks.RSAKey("nope"); err == nil {
		t.Fatal("expected error for unknown kid")
	}
}
