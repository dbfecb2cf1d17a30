// Package resolver turns stored media references into servable URLs. It
// never fails the caller: every error degrades to the next URL tier, worst
// case the original third-party URL or an empty string.
package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/rs/zerolog"

	"github.com/KudcraftsHQ/mediacache/internal/asset"
)

// AssetGetter is the slice of the asset store the resolver reads.
type AssetGetter interface {
	Get(ctx context.Context, id string) (asset.Asset, error)
}

// Signer produces URLs for a storage key.
type Signer interface {
	SignedGetURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	PublicURL(key string) (string, error)
}

type Resolver struct {
	store  AssetGetter
	signer Signer
	ttl    time.Duration
	signed *bigcache.BigCache
	log    zerolog.Logger
}

// New builds a Resolver. Signed URLs are memoized for a window shorter than
// their expiry so a cached entry is never handed out stale.
func New(store AssetGetter, signer Signer, signTTL time.Duration, log zerolog.Logger) (*Resolver, error) {
	if signTTL <= 0 {
		signTTL = time.Hour
	}
	window := signTTL - 5*time.Minute
	if window < time.Minute {
		window = time.Minute
	}
	cache, err := bigcache.New(context.Background(), bigcache.DefaultConfig(window))
	if err != nil {
		return nil, err
	}
	return &Resolver{
		store:  store,
		signer: signer,
		ttl:    signTTL,
		signed: cache,
		log:    log.With().Str("component", "resolver").Logger(),
	}, nil
}

// Resolve returns the best currently-available URL for ref. It never
// returns an error and never panics; the result is empty only when no
// information exists at all.
func (r *Resolver) Resolve(ctx context.Context, ref Ref, originalURL string) string {
	originalURL = strings.TrimSpace(originalURL)

	switch ref.Kind {
	case RefNone:
		return originalURL

	case RefAssetID:
		a, err := r.store.Get(ctx, ref.Value)
		if errors.Is(err, asset.ErrNotFound) {
			// Unknown id: fall through to the legacy-key shape. Pre-migration
			// rows stored raw storage keys where ids live now.
			return r.urlForKey(ctx, ref.Value, originalURL)
		}
		if err != nil {
			r.log.Warn().Err(err).Str("asset_id", ref.Value).Msg("asset lookup failed, degrading to origin")
			return originalURL
		}
		if a.Status == asset.StatusCached && a.CacheKey != "" {
			return r.urlForKey(ctx, a.CacheKey, firstNonEmpty(a.OriginalURL, originalURL))
		}
		return firstNonEmpty(originalURL, a.OriginalURL)

	default:
		return r.urlForKey(ctx, ref.Value, originalURL)
	}
}

// ResolveString is Resolve for untyped persisted references.
func (r *Resolver) ResolveString(ctx context.Context, ref, originalURL string) string {
	return r.Resolve(ctx, ParseRef(ref), originalURL)
}

// ResolveMany resolves refs independently and concurrently. The result has
// the same length and order as refs; originalURLs is matched by index and
// may be shorter or nil.
func (r *Resolver) ResolveMany(ctx context.Context, refs []Ref, originalURLs []string) []string {
	urls := make([]string, len(refs))
	var wg sync.WaitGroup
	for i := range refs {
		origin := ""
		if i < len(originalURLs) {
			origin = originalURLs[i]
		}
		wg.Add(1)
		go func(i int, ref Ref, origin string) {
			defer wg.Done()
			urls[i] = r.Resolve(ctx, ref, origin)
		}(i, refs[i], origin)
	}
	wg.Wait()
	return urls
}

// urlForKey walks the URL tiers for a storage key: signed, then public,
// then the origin URL.
func (r *Resolver) urlForKey(ctx context.Context, key, originalURL string) string {
	strategies := []func() (string, error){
		func() (string, error) { return r.signedURL(ctx, key) },
		func() (string, error) { return r.signer.PublicURL(key) },
	}
	for _, next := range strategies {
		if url, err := next(); err == nil && url != "" {
			return url
		}
	}
	return originalURL
}

func (r *Resolver) signedURL(ctx context.Context, key string) (string, error) {
	if cached, err := r.signed.Get(key); err == nil && len(cached) > 0 {
		return string(cached), nil
	}
	url, err := r.signer.SignedGetURL(ctx, key, r.ttl)
	if err != nil {
		r.log.Debug().Err(err).Str("key", key).Msg("sign url, degrading to public tier")
		return "", err
	}
	_ = r.signed.Set(key, []byte(url))
	return url, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
