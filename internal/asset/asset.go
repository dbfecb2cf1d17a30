// Package asset owns the CacheAsset record: the authoritative row for every
// piece of media the system owns or intends to own.
package asset

import (
	"context"
	"errors"
	"time"

	"github.com/KudcraftsHQ/mediacache/internal/phash"
)

// Status is the caching lifecycle state of an asset. Transitions are
// one-directional: PENDING -> CACHING -> CACHED | FAILED. Nothing moves back
// to PENDING; FAILED is claimable again only through an explicit requeue.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusCaching Status = "CACHING"
	StatusCached  Status = "CACHED"
	StatusFailed  Status = "FAILED"
)

// Terminal reports whether no further automatic transition happens.
func (s Status) Terminal() bool {
	return s == StatusCached || s == StatusFailed
}

// Asset is the unit of ownership. OriginalURL is unique across all assets;
// CacheKey, ContentType, FileSize and CachedAt are populated once the bytes
// are durably stored.
type Asset struct {
	ID          string
	OriginalURL string
	CacheKey    string
	Status      Status
	ContentType string
	FileSize    int64
	CachedAt    time.Time
	LastError   string
	CreatedAt   time.Time
}

// Ref is a referencing entity row. It stores the asset id and, when hashing
// succeeded at ingestion time, the perceptual fingerprint used for dedup.
// References never store resolved URLs.
type Ref struct {
	ID          string
	AssetID     string
	Fingerprint phash.Fingerprint
	CreatedAt   time.Time
}

// Job is a durable caching-pipeline job, keyed by the asset id so at most
// one in-flight job exists per asset.
type Job struct {
	AssetID     string
	OriginalURL string
	Folder      string
	Attempts    int
	NotBefore   time.Time
	CreatedAt   time.Time
}

var ErrNotFound = errors.New("cache asset not found")

// Store is the injected repository for CacheAssets, reference rows and the
// job queue. Implemented by SQLiteStore and by MemStore for tests.
type Store interface {
	// GetOrCreate returns the asset owning originalURL, creating a PENDING
	// row when none exists. The bool reports whether a row was created;
	// repeated calls for the same URL are idempotent and cheap.
	GetOrCreate(ctx context.Context, originalURL string) (Asset, bool, error)

	// CreateCached records an asset whose bytes were already uploaded by the
	// caller (the direct-upload path). The row is born CACHED.
	CreateCached(ctx context.Context, originalURL, cacheKey, contentType string, size int64) (Asset, error)

	Get(ctx context.Context, id string) (Asset, error)

	// Claim conditionally moves the asset to CACHING. It returns false when
	// the asset is already claimed or terminal, in which case the caller
	// must drop the job rather than process it.
	Claim(ctx context.Context, id string) (bool, error)

	MarkCached(ctx context.Context, id, cacheKey, contentType string, size int64) error
	MarkFailed(ctx context.Context, id, reason string) error

	CreateRef(ctx context.Context, assetID string, fp phash.Fingerprint) (Ref, error)
	// ListFingerprints returns every ref with a non-empty fingerprint.
	ListFingerprints(ctx context.Context) ([]Ref, error)

	// Enqueue inserts a job keyed by asset id; a duplicate enqueue for the
	// same id is absorbed, not processed twice.
	Enqueue(ctx context.Context, job Job) error
	// DueJobs returns up to limit jobs whose backoff deadline has passed.
	DueJobs(ctx context.Context, limit int, now time.Time) ([]Job, error)
	// RetryJob bumps the attempt count and pushes the job past notBefore.
	RetryJob(ctx context.Context, assetID string, attempts int, notBefore time.Time) error
	RemoveJob(ctx context.Context, assetID string) error
}
