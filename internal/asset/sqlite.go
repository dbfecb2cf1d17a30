package asset

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/KudcraftsHQ/mediacache/internal/phash"
)

// SQLiteStore is the production Store on a local sqlite database. A single
// connection is kept open; sqlite is single-writer and serializing through
// one connection avoids SQLITE_BUSY under the worker pool.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS cache_assets (
			id TEXT PRIMARY KEY,
			original_url TEXT UNIQUE,
			cache_key TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'PENDING',
			content_type TEXT NOT NULL DEFAULT '',
			file_size INTEGER NOT NULL DEFAULT 0,
			cached_at INTEGER NOT NULL DEFAULT 0,
			last_error TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_cache_assets_status
			ON cache_assets(status)`,
		`CREATE TABLE IF NOT EXISTS media_refs (
			id TEXT PRIMARY KEY,
			asset_id TEXT NOT NULL REFERENCES cache_assets(id),
			perceptual_hash TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_media_refs_phash
			ON media_refs(perceptual_hash) WHERE perceptual_hash IS NOT NULL`,
		`CREATE TABLE IF NOT EXISTS cache_jobs (
			asset_id TEXT PRIMARY KEY,
			original_url TEXT NOT NULL,
			folder TEXT NOT NULL DEFAULT 'media',
			attempts INTEGER NOT NULL DEFAULT 0,
			not_before INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, originalURL string) (Asset, bool, error) {
	originalURL = strings.TrimSpace(originalURL)
	if originalURL == "" {
		return Asset{}, false, fmt.Errorf("original url is required")
	}

	id := uuid.NewString()
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_assets (id, original_url, status, created_at)
		 VALUES (?, ?, ?, ?)`,
		id, originalURL, string(StatusPending), now,
	)
	if err != nil {
		return Asset{}, false, fmt.Errorf("insert cache asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Asset{}, false, err
	}

	a, err := s.getBy(ctx, "original_url = ?", originalURL)
	if err != nil {
		return Asset{}, false, err
	}
	return a, n > 0, nil
}

func (s *SQLiteStore) CreateCached(ctx context.Context, originalURL, cacheKey, contentType string, size int64) (Asset, error) {
	cacheKey = strings.TrimSpace(cacheKey)
	if cacheKey == "" {
		return Asset{}, fmt.Errorf("cache key is required")
	}
	originalURL = strings.TrimSpace(originalURL)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	// Direct uploads may have no origin URL at all; NULL keeps the UNIQUE
	// constraint from colliding on empty strings.
	var urlParam interface{}
	if originalURL != "" {
		urlParam = originalURL
	}

	id := uuid.NewString()
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_assets
			(id, original_url, cache_key, status, content_type, file_size, cached_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, urlParam, cacheKey, string(StatusCached), contentType, size, now, now,
	)
	if err != nil {
		return Asset{}, fmt.Errorf("insert cached asset: %w", err)
	}
	if originalURL != "" {
		// Either the fresh row or the pre-existing owner of this URL.
		return s.getBy(ctx, "original_url = ?", originalURL)
	}
	return s.getBy(ctx, "id = ?", id)
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Asset, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Asset{}, ErrNotFound
	}
	return s.getBy(ctx, "id = ?", id)
}

func (s *SQLiteStore) Claim(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cache_assets SET status = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(StatusCaching), strings.TrimSpace(id), string(StatusPending), string(StatusFailed),
	)
	if err != nil {
		return false, fmt.Errorf("claim asset: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkCached(ctx context.Context, id, cacheKey, contentType string, size int64) error {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_assets
		 SET status = ?, cache_key = ?, content_type = ?, file_size = ?, cached_at = ?, last_error = ''
		 WHERE id = ?`,
		string(StatusCached), strings.TrimSpace(cacheKey), contentType, size, time.Now().Unix(), strings.TrimSpace(id),
	)
	if err != nil {
		return fmt.Errorf("mark cached: %w", err)
	}
	return nil
}

func (s *SQLiteStore) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_assets SET status = ?, last_error = ? WHERE id = ?`,
		string(StatusFailed), strings.TrimSpace(reason), strings.TrimSpace(id),
	)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CreateRef(ctx context.Context, assetID string, fp phash.Fingerprint) (Ref, error) {
	assetID = strings.TrimSpace(assetID)
	if assetID == "" {
		return Ref{}, fmt.Errorf("asset id is required")
	}
	var hashParam interface{}
	if fp != "" {
		hashParam = string(fp)
	}
	ref := Ref{
		ID:          uuid.NewString(),
		AssetID:     assetID,
		Fingerprint: fp,
		CreatedAt:   time.Now(),
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_refs (id, asset_id, perceptual_hash, created_at) VALUES (?, ?, ?, ?)`,
		ref.ID, ref.AssetID, hashParam, ref.CreatedAt.Unix(),
	)
	if err != nil {
		return Ref{}, fmt.Errorf("insert media ref: %w", err)
	}
	return ref, nil
}

func (s *SQLiteStore) ListFingerprints(ctx context.Context) ([]Ref, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, asset_id, perceptual_hash, created_at
		 FROM media_refs WHERE perceptual_hash IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var refs []Ref
	for rows.Next() {
		var (
			r       Ref
			hash    sql.NullString
			created int64
		)
		if err := rows.Scan(&r.ID, &r.AssetID, &hash, &created); err != nil {
			return nil, err
		}
		r.Fingerprint = phash.Fingerprint(hash.String)
		r.CreatedAt = time.Unix(created, 0)
		refs = append(refs, r)
	}
	return refs, rows.Err()
}

func (s *SQLiteStore) Enqueue(ctx context.Context, job Job) error {
	job.AssetID = strings.TrimSpace(job.AssetID)
	job.OriginalURL = strings.TrimSpace(job.OriginalURL)
	if job.AssetID == "" || job.OriginalURL == "" {
		return fmt.Errorf("job asset id and original url are required")
	}
	if job.Folder == "" {
		job.Folder = "media"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO cache_jobs (asset_id, original_url, folder, attempts, not_before, created_at)
		 VALUES (?, ?, ?, 0, 0, ?)`,
		job.AssetID, job.OriginalURL, job.Folder, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DueJobs(ctx context.Context, limit int, now time.Time) ([]Job, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT asset_id, original_url, folder, attempts, not_before, created_at
		 FROM cache_jobs WHERE not_before <= ? ORDER BY created_at LIMIT ?`,
		now.Unix(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("due jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var (
			j                  Job
			notBefore, created int64
		)
		if err := rows.Scan(&j.AssetID, &j.OriginalURL, &j.Folder, &j.Attempts, &notBefore, &created); err != nil {
			return nil, err
		}
		j.NotBefore = time.Unix(notBefore, 0)
		j.CreatedAt = time.Unix(created, 0)
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *SQLiteStore) RetryJob(ctx context.Context, assetID string, attempts int, notBefore time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE cache_jobs SET attempts = ?, not_before = ? WHERE asset_id = ?`,
		attempts, notBefore.Unix(), strings.TrimSpace(assetID),
	)
	if err != nil {
		return fmt.Errorf("retry job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RemoveJob(ctx context.Context, assetID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_jobs WHERE asset_id = ?`, strings.TrimSpace(assetID))
	if err != nil {
		return fmt.Errorf("remove job: %w", err)
	}
	return nil
}

func (s *SQLiteStore) getBy(ctx context.Context, where string, arg interface{}) (Asset, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, original_url, cache_key, status, content_type, file_size, cached_at, last_error, created_at
		 FROM cache_assets WHERE `+where+` LIMIT 1`, arg)

	var (
		a                 Asset
		url               sql.NullString
		status            string
		cachedAt, created int64
	)
	err := row.Scan(&a.ID, &url, &a.CacheKey, &status, &a.ContentType, &a.FileSize, &cachedAt, &a.LastError, &created)
	if err == sql.ErrNoRows {
		return Asset{}, ErrNotFound
	}
	if err != nil {
		return Asset{}, fmt.Errorf("scan cache asset: %w", err)
	}
	a.OriginalURL = url.String
	a.Status = Status(status)
	if cachedAt > 0 {
		a.CachedAt = time.Unix(cachedAt, 0)
	}
	a.CreatedAt = time.Unix(created, 0)
	return a, nil
}
