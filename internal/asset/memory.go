package asset

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KudcraftsHQ/mediacache/internal/phash"
)

// MemStore is an in-memory Store used by tests and single-shot tooling.
var errEmptyURL = errors.New("original url is required")

type MemStore struct {
	mu    sync.Mutex
	byID  map[string]Asset
	byURL map[string]string
	refs  []Ref
	jobs  map[string]Job
}

func NewMemStore() *MemStore {
	return &MemStore{
		byID:  make(map[string]Asset),
		byURL: make(map[string]string),
		jobs:  make(map[string]Job),
	}
}

func (m *MemStore) GetOrCreate(_ context.Context, originalURL string) (Asset, bool, error) {
	originalURL = strings.TrimSpace(originalURL)
	if originalURL == "" {
		return Asset{}, false, errEmptyURL
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if id, ok := m.byURL[originalURL]; ok {
		return m.byID[id], false, nil
	}
	a := Asset{
		ID:          uuid.NewString(),
		OriginalURL: originalURL,
		Status:      StatusPending,
		CreatedAt:   time.Now(),
	}
	m.byID[a.ID] = a
	m.byURL[originalURL] = a.ID
	return a, true, nil
}

func (m *MemStore) CreateCached(_ context.Context, originalURL, cacheKey, contentType string, size int64) (Asset, error) {
	originalURL = strings.TrimSpace(originalURL)
	m.mu.Lock()
	defer m.mu.Unlock()

	if originalURL != "" {
		if id, ok := m.byURL[originalURL]; ok {
			return m.byID[id], nil
		}
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	a := Asset{
		ID:          uuid.NewString(),
		OriginalURL: originalURL,
		CacheKey:    cacheKey,
		Status:      StatusCached,
		ContentType: contentType,
		FileSize:    size,
		CachedAt:    time.Now(),
		CreatedAt:   time.Now(),
	}
	m.byID[a.ID] = a
	if originalURL != "" {
		m.byURL[originalURL] = a.ID
	}
	return a, nil
}

func (m *MemStore) Get(_ context.Context, id string) (Asset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[strings.TrimSpace(id)]
	if !ok {
		return Asset{}, ErrNotFound
	}
	return a, nil
}

func (m *MemStore) Claim(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok || (a.Status != StatusPending && a.Status != StatusFailed) {
		return false, nil
	}
	a.Status = StatusCaching
	m.byID[id] = a
	return true, nil
}

func (m *MemStore) MarkCached(_ context.Context, id, cacheKey, contentType string, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	a.Status = StatusCached
	a.CacheKey = cacheKey
	a.ContentType = contentType
	a.FileSize = size
	a.CachedAt = time.Now()
	a.LastError = ""
	m.byID[id] = a
	return nil
}

func (m *MemStore) MarkFailed(_ context.Context, id, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return ErrNotFound
	}
	a.Status = StatusFailed
	a.LastError = reason
	m.byID[id] = a
	return nil
}

func (m *MemStore) CreateRef(_ context.Context, assetID string, fp phash.Fingerprint) (Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ref := Ref{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		Fingerprint: fp,
		CreatedAt:   time.Now(),
	}
	m.refs = append(m.refs, ref)
	return ref, nil
}

func (m *MemStore) ListFingerprints(_ context.Context) ([]Ref, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Ref
	for _, r := range m.refs {
		if r.Fingerprint != "" {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *MemStore) Enqueue(_ context.Context, job Job) error {
	job.AssetID = strings.TrimSpace(job.AssetID)
	job.OriginalURL = strings.TrimSpace(job.OriginalURL)
	if job.AssetID == "" || job.OriginalURL == "" {
		return errEmptyURL
	}
	if job.Folder == "" {
		job.Folder = "media"
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.AssetID]; ok {
		return nil
	}
	job.CreatedAt = time.Now()
	m.jobs[job.AssetID] = job
	return nil
}

func (m *MemStore) DueJobs(_ context.Context, limit int, now time.Time) ([]Job, error) {
	if limit <= 0 {
		limit = 10
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var due []Job
	for _, j := range m.jobs {
		if !j.NotBefore.After(now) {
			due = append(due, j)
		}
	}
	sort.Slice(due, func(i, k int) bool { return due[i].CreatedAt.Before(due[k].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (m *MemStore) RetryJob(_ context.Context, assetID string, attempts int, notBefore time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[assetID]
	if !ok {
		return nil
	}
	j.Attempts = attempts
	j.NotBefore = notBefore
	m.jobs[assetID] = j
	return nil
}

func (m *MemStore) RemoveJob(_ context.Context, assetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, assetID)
	return nil
}
