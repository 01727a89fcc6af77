// Package jwks maintains the public-key material used to verify session
// credentials. Keys come from a well-known JWKS endpoint and are cached
// process-wide with a bounded freshness window; a fetch failure serves the
// last-known-good set rather than an empty one, and a cold empty cache
// fails closed (every signature check errors out).
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

var (
	// ErrUnknownKey means the kid is not in the current key set.
	ErrUnknownKey = errors.New("jwks: unknown key id")
	// ErrNoKeys means no key set has ever been fetched (cold cache).
	ErrNoKeys = errors.New("jwks: no keys available")
)

// document mirrors the JWKS wire format.
type document struct {
	Keys []jwk `json:"keys"`
}

type jwk struct {
	KID string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
	Use string `json:"use"`
}

// Cache holds the current key set keyed by kid plus the time it was
// fetched. Reads are concurrent; a refresh may race harmlessly with
// readers of the stale value. Inject it into the gate, never reach for
// a package-level singleton.
type Cache struct {
	url    string
	ttl    time.Duration
	client *http.Client

	sf singleflight.Group

	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

// NewCache builds a cache for the given JWKS endpoint. ttl is the
// freshness window (the gate uses 1 hour). client may be nil.
func NewCache(url string, ttl time.Duration, client *http.Client) *Cache {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &Cache{
		url:    url,
		ttl:    ttl,
		client: client,
		keys:   map[string]*rsa.PublicKey{},
	}
}

// Key resolves a public key by kid, refreshing the set when stale.
// On refresh failure the stale set is served; with nothing cached yet
// the lookup fails (and so does any signature check built on it).
func (c *Cache) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	c.mu.RLock()
	fresh := !c.fetchedAt.IsZero() && time.Since(c.fetchedAt) < c.ttl
	k, ok := c.keys[kid]
	c.mu.RUnlock()

	if fresh {
		if ok {
			return k, nil
		}
		return nil, ErrUnknownKey
	}

	// Stale or cold: refresh once across concurrent callers.
	if _, err, _ := c.sf.Do("refresh", func() (any, error) {
		return nil, c.refresh(ctx)
	}); err != nil {
		// Fall back to last-known-good set, if any.
		c.mu.RLock()
		defer c.mu.RUnlock()
		if c.fetchedAt.IsZero() {
			return nil, fmt.Errorf("%w: %v", ErrNoKeys, err)
		}
		if k, ok := c.keys[kid]; ok {
			return k, nil
		}
		return nil, ErrUnknownKey
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if k, ok := c.keys[kid]; ok {
		return k, nil
	}
	return nil, ErrUnknownKey
}

func (c *Cache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks: fetch status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	var doc document
	if err := json.Unmarshal(body, &doc); err != nil {
		return err
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.KID == "" {
			continue
		}
		pub, err := parseRSA(k)
		if err != nil {
			continue // skip unparseable entries, keep the rest
		}
		keys[k.KID] = pub
	}
	if len(keys) == 0 {
		return errors.New("jwks: document contains no usable keys")
	}

	c.mu.Lock()
	c.keys = keys
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func parseRSA(k jwk) (*rsa.PublicKey, error) {
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, err
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, err
	}
	e := 0
	for _, b := range eb {
		e = e<<8 | int(b)
	}
	if e < 3 {
		return nil, errors.New("jwks: bad exponent")
	}
	return &rsa.PublicKey{N: new(big.Int).SetBytes(nb), E: e}, nil
}

// FetchedAt reports when the current set was loaded (zero on cold cache).
func (c *Cache) FetchedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt
}
