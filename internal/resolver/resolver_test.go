package resolver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KudcraftsHQ/mediacache/internal/asset"
)

type fakeSigner struct {
	mu        sync.Mutex
	signErr   error
	publicErr error
	signCalls int
}

func (f *fakeSigner) SignedGetURL(_ context.Context, key string, _ time.Duration) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signCalls++
	if f.signErr != nil {
		return "", f.signErr
	}
	return "https://signed.example/" + key + "?sig=abc", nil
}

func (f *fakeSigner) PublicURL(key string) (string, error) {
	if f.publicErr != nil {
		return "", f.publicErr
	}
	return "https://cdn.example/" + key, nil
}

func newTestResolver(t *testing.T, store AssetGetter, signer Signer) *Resolver {
	t.Helper()
	r, err := New(store, signer, time.Hour, zerolog.Nop())
	require.NoError(t, err)
	return r
}

func TestParseRef(t *testing.T) {
	t.Parallel()

	id := uuid.NewString()
	tests := []struct {
		name string
		in   string
		want Ref
	}{
		{name: "empty", in: "", want: Ref{Kind: RefNone}},
		{name: "whitespace", in: "  ", want: Ref{Kind: RefNone}},
		{name: "uuid is an asset id", in: id, want: Ref{Kind: RefAssetID, Value: id}},
		{name: "anything else is a legacy key", in: "media/17000-aa.jpg", want: Ref{Kind: RefLegacyKey, Value: "media/17000-aa.jpg"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, ParseRef(tc.in))
		})
	}
}

func TestResolveEmptyRef(t *testing.T) {
	r := newTestResolver(t, asset.NewMemStore(), &fakeSigner{})
	ctx := context.Background()

	assert.Equal(t, "https://origin.example/x.jpg", r.Resolve(ctx, Ref{}, "https://origin.example/x.jpg"))
	assert.Equal(t, "", r.Resolve(ctx, Ref{}, ""))
}

func TestResolvePendingAsset(t *testing.T) {
	store := asset.NewMemStore()
	ctx := context.Background()
	a, _, err := store.GetOrCreate(ctx, "https://origin.example/pending.jpg")
	require.NoError(t, err)

	r := newTestResolver(t, store, &fakeSigner{})

	// Worker hasn't run: resolution degrades to the origin URL, no error.
	assert.Equal(t, "https://origin.example/pending.jpg", r.Resolve(ctx, AssetIDRef(a.ID), ""))
	assert.Equal(t, "https://caller.example/better.jpg", r.Resolve(ctx, AssetIDRef(a.ID), "https://caller.example/better.jpg"))
}

func TestResolveCachedAsset(t *testing.T) {
	store := asset.NewMemStore()
	ctx := context.Background()
	a, err := store.CreateCached(ctx, "https://origin.example/c.png", "media/1700000-aa.png", "image/png", 9)
	require.NoError(t, err)

	r := newTestResolver(t, store, &fakeSigner{})

	url := r.Resolve(ctx, AssetIDRef(a.ID), "")
	assert.Equal(t, "https://signed.example/media/1700000-aa.png?sig=abc", url,
		"once CACHED, the URL derives from the cache key, not the origin")
}

func TestResolveSignerDegradesToPublic(t *testing.T) {
	store := asset.NewMemStore()
	ctx := context.Background()
	a, err := store.CreateCached(ctx, "https://origin.example/c.png", "media/1-aa.png", "image/png", 9)
	require.NoError(t, err)

	r := newTestResolver(t, store, &fakeSigner{signErr: errors.New("bad credentials")})
	assert.Equal(t, "https://cdn.example/media/1-aa.png", r.Resolve(ctx, AssetIDRef(a.ID), ""))
}

func TestResolveAllTiersDegradeToOrigin(t *testing.T) {
	store := asset.NewMemStore()
	ctx := context.Background()
	a, err := store.CreateCached(ctx, "https://origin.example/c.png", "media/1-aa.png", "image/png", 9)
	require.NoError(t, err)

	signer := &fakeSigner{signErr: errors.New("bad credentials"), publicErr: errors.New("no public domain")}
	r := newTestResolver(t, store, signer)
	assert.Equal(t, "https://origin.example/c.png", r.Resolve(ctx, AssetIDRef(a.ID), ""))
}

func TestResolveUnknownIDFallsThroughToLegacy(t *testing.T) {
	r := newTestResolver(t, asset.NewMemStore(), &fakeSigner{})
	ctx := context.Background()

	ref := AssetIDRef(uuid.NewString())
	url := r.Resolve(ctx, ref, "")
	assert.Equal(t, "https://signed.example/"+ref.Value+"?sig=abc", url,
		"unknown ids are treated as pre-migration raw storage keys")
}

func TestResolveLegacyKey(t *testing.T) {
	r := newTestResolver(t, asset.NewMemStore(), &fakeSigner{})
	ctx := context.Background()

	url := r.ResolveString(ctx, "raw-legacy-key-not-a-known-id", "")
	assert.Equal(t, "https://signed.example/raw-legacy-key-not-a-known-id?sig=abc", url)
}

func TestResolveNeverPanics(t *testing.T) {
	store := asset.NewMemStore()
	r := newTestResolver(t, store, &fakeSigner{signErr: errors.New("x"), publicErr: errors.New("y")})
	ctx := context.Background()

	inputs := []string{"", "   ", "not-a-uuid", uuid.NewString(), "a/b/c/../d", "\x00weird"}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			_ = r.ResolveString(ctx, in, "")
			_ = r.ResolveString(ctx, in, "https://origin.example/f.jpg")
		})
	}
}

func TestResolveManyPreservesOrder(t *testing.T) {
	store := asset.NewMemStore()
	ctx := context.Background()
	a, err := store.CreateCached(ctx, "https://origin.example/a.png", "media/1-a.png", "image/png", 1)
	require.NoError(t, err)

	r := newTestResolver(t, store, &fakeSigner{})

	refs := []Ref{AssetIDRef(a.ID), {}, LegacyKeyRef("legacy/2-b.jpg")}
	urls := r.ResolveMany(ctx, refs, []string{"", "https://origin.example/b.jpg"})

	require.Len(t, urls, 3)
	assert.Equal(t, "https://signed.example/media/1-a.png?sig=abc", urls[0])
	assert.Equal(t, "https://origin.example/b.jpg", urls[1])
	assert.Equal(t, "https://signed.example/legacy/2-b.jpg?sig=abc", urls[2])
}

func TestResolveManyEmpty(t *testing.T) {
	r := newTestResolver(t, asset.NewMemStore(), &fakeSigner{})
	urls := r.ResolveMany(context.Background(), nil, nil)
	assert.Empty(t, urls)
}

func TestSignedURLMemoized(t *testing.T) {
	store := asset.NewMemStore()
	ctx := context.Background()
	a, err := store.CreateCached(ctx, "https://origin.example/m.png", "media/1-m.png", "image/png", 1)
	require.NoError(t, err)

	signer := &fakeSigner{}
	r := newTestResolver(t, store, signer)

	first := r.Resolve(ctx, AssetIDRef(a.ID), "")
	second := r.Resolve(ctx, AssetIDRef(a.ID), "")
	assert.Equal(t, first, second)
	assert.Equal(t, 1, signer.signCalls, "repeat resolution within the TTL window must reuse the signed URL")
}
