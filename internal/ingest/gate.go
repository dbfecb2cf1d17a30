// Package ingest fronts direct uploads: it fingerprints the bytes, reuses a
// visually identical existing asset when one exists, and otherwise uploads
// and records a new CACHED asset.
package ingest

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/KudcraftsHQ/mediacache/internal/asset"
	"github.com/KudcraftsHQ/mediacache/internal/phash"
	"github.com/KudcraftsHQ/mediacache/internal/storage"
)

type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

type Gate struct {
	store     asset.Store
	objects   ObjectStore
	threshold int
	log       zerolog.Logger

	// Serializes the scan-then-insert window so two concurrent uploads of
	// the same picture cannot both pass the duplicate scan.
	mu sync.Mutex
}

type Result struct {
	AssetID     string
	RefID       string
	Duplicate   bool
	Fingerprint phash.Fingerprint
}

func NewGate(store asset.Store, objects ObjectStore, threshold int, log zerolog.Logger) *Gate {
	if threshold < 0 {
		threshold = phash.DefaultThreshold
	}
	return &Gate{
		store:     store,
		objects:   objects,
		threshold: threshold,
		log:       log.With().Str("component", "ingest").Logger(),
	}
}

// Upload ingests bytes already in hand. On a perceptual match with an
// existing reference it short-circuits: no storage write, no new asset, the
// existing identity is returned with Duplicate set. originalURL is optional
// bookkeeping for uploads that know their source.
func (g *Gate) Upload(ctx context.Context, data []byte, contentType, folder, originalURL string) (Result, error) {
	if len(data) == 0 {
		return Result{}, fmt.Errorf("empty upload")
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = strings.ToLower(strings.TrimSpace(http.DetectContentType(data)))
	}

	// Hash failures never abort the upload: the asset is still stored,
	// just not deduplicated.
	fp, err := phash.Hash(data)
	if err != nil {
		g.log.Warn().Err(err).Msg("fingerprint unavailable, skipping dedup")
		fp = ""
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if fp != "" {
		existing, err := g.findDuplicate(ctx, fp)
		if err != nil {
			return Result{}, err
		}
		if existing != nil {
			g.log.Info().Str("ref_id", existing.ID).Str("asset_id", existing.AssetID).Msg("duplicate upload reused")
			return Result{
				AssetID:     existing.AssetID,
				RefID:       existing.ID,
				Duplicate:   true,
				Fingerprint: fp,
			}, nil
		}
	}

	key := storage.ObjectKey(folder, contentType)
	if err := g.objects.Put(ctx, key, data, contentType); err != nil {
		return Result{}, fmt.Errorf("upload %s: %w", key, err)
	}

	a, err := g.store.CreateCached(ctx, originalURL, key, contentType, int64(len(data)))
	if err != nil {
		// Avoid orphaned objects when bookkeeping fails.
		_ = g.objects.Delete(context.Background(), key)
		return Result{}, fmt.Errorf("record cached asset: %w", err)
	}
	if a.CacheKey != key {
		// Another asset already owned this origin URL; the fresh object is
		// redundant.
		_ = g.objects.Delete(context.Background(), key)
	}

	ref, err := g.store.CreateRef(ctx, a.ID, fp)
	if err != nil {
		return Result{}, fmt.Errorf("record media ref: %w", err)
	}

	return Result{
		AssetID:     a.ID,
		RefID:       ref.ID,
		Fingerprint: fp,
	}, nil
}

func (g *Gate) findDuplicate(ctx context.Context, fp phash.Fingerprint) (*asset.Ref, error) {
	refs, err := g.store.ListFingerprints(ctx)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	for i := range refs {
		if phash.Similar(fp, refs[i].Fingerprint, g.threshold) {
			return &refs[i], nil
		}
	}
	return nil, nil
}
