// Package pipeline drains the durable caching queue: fetch the origin URL,
// upload the bytes to owned storage, and move the CacheAsset to a terminal
// status.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/KudcraftsHQ/mediacache/internal/asset"
	"github.com/KudcraftsHQ/mediacache/internal/storage"
)

const (
	// MaxAttempts is the per-job retry budget. After it is exhausted the
	// asset goes FAILED and only a manual requeue recovers it.
	MaxAttempts = 3

	retryBaseDelay      = 2 * time.Second
	defaultPollInterval = time.Second
)

// ObjectStore is the slice of the object store the worker needs.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Delete(ctx context.Context, key string) error
}

// Notifier is told about assets that reach FAILED. Implementations must be
// nil-safe to call; a nil Notifier disables notification.
type Notifier interface {
	AssetFailed(ctx context.Context, a asset.Asset)
}

type Options struct {
	Workers      int
	FetchTimeout time.Duration
	PollInterval time.Duration
	HTTPClient   *http.Client
	Notifier     Notifier
}

// Worker consumes caching jobs with bounded concurrency. Jobs for different
// assets run in parallel; the queue's asset-id key plus the store's
// conditional claim keep the same asset from being cached twice at once.
type Worker struct {
	store   asset.Store
	objects ObjectStore
	opts    Options
	log     zerolog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
}

func NewWorker(store asset.Store, objects ObjectStore, opts Options, log zerolog.Logger) *Worker {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 45 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	return &Worker{
		store:    store,
		objects:  objects,
		opts:     opts,
		log:      log.With().Str("component", "pipeline").Logger(),
		inFlight: make(map[string]struct{}),
	}
}

// Submit is the async producer path: create or reuse the asset owning
// originalURL and make sure a caching job exists for it. The bool reports
// whether a new asset row was created.
func (w *Worker) Submit(ctx context.Context, originalURL, folder string) (asset.Asset, bool, error) {
	a, created, err := w.store.GetOrCreate(ctx, originalURL)
	if err != nil {
		return asset.Asset{}, false, err
	}
	if a.Status.Terminal() {
		// CACHED needs no work; FAILED recovers only through Requeue.
		return a, created, nil
	}
	if err := w.store.Enqueue(ctx, asset.Job{AssetID: a.ID, OriginalURL: a.OriginalURL, Folder: folder}); err != nil {
		return asset.Asset{}, created, err
	}
	return a, created, nil
}

// Requeue is the manual recovery path for FAILED assets.
func (w *Worker) Requeue(ctx context.Context, id, folder string) error {
	a, err := w.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if a.Status != asset.StatusFailed {
		return fmt.Errorf("asset %s is %s, only FAILED assets can be requeued", id, a.Status)
	}
	if a.OriginalURL == "" {
		return fmt.Errorf("asset %s has no origin url to refetch", id)
	}
	return w.store.Enqueue(ctx, asset.Job{AssetID: a.ID, OriginalURL: a.OriginalURL, Folder: folder})
}

// Run polls for due jobs until ctx is cancelled, dispatching each to the
// bounded pool. It blocks; run it in its own goroutine.
func (w *Worker) Run(ctx context.Context) {
	sem := make(chan struct{}, w.opts.Workers)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			return
		case <-ticker.C:
		}

		jobs, err := w.store.DueJobs(ctx, w.opts.Workers*2, time.Now())
		if err != nil {
			if ctx.Err() == nil {
				w.log.Error().Err(err).Msg("poll queue")
			}
			continue
		}
		for _, job := range jobs {
			if !w.markInFlight(job.AssetID) {
				continue
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				w.clearInFlight(job.AssetID)
				wg.Wait()
				return
			}
			wg.Add(1)
			go func(job asset.Job) {
				defer wg.Done()
				defer func() { <-sem }()
				defer w.clearInFlight(job.AssetID)
				w.process(ctx, job)
			}(job)
		}
	}
}

// process runs one caching attempt for job and decides its fate: terminal
// CACHED, terminal FAILED, or a backed-off retry through the queue.
func (w *Worker) process(ctx context.Context, job asset.Job) {
	log := w.log.With().Str("asset_id", job.AssetID).Str("origin", job.OriginalURL).Logger()

	a, err := w.store.Get(ctx, job.AssetID)
	if errors.Is(err, asset.ErrNotFound) {
		log.Warn().Msg("job references missing asset, dropping")
		_ = w.store.RemoveJob(ctx, job.AssetID)
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("load asset")
		return
	}
	if a.Status == asset.StatusCached {
		// Duplicate enqueue absorbed after the fact.
		_ = w.store.RemoveJob(ctx, job.AssetID)
		return
	}

	claimed, err := w.store.Claim(ctx, job.AssetID)
	if err != nil {
		log.Error().Err(err).Msg("claim asset")
		return
	}
	if !claimed && a.Status != asset.StatusCaching {
		log.Warn().Str("status", string(a.Status)).Msg("asset not claimable, dropping job")
		_ = w.store.RemoveJob(ctx, job.AssetID)
		return
	}
	// A CACHING asset with a due job is a resumed attempt chain (this
	// process owns the only writer), so carry on.

	attemptErr := w.attempt(ctx, job)
	if attemptErr == nil {
		jobsCached.Inc()
		jobAttempts.Observe(float64(job.Attempts + 1))
		_ = w.store.RemoveJob(ctx, job.AssetID)
		log.Info().Int("attempt", job.Attempts+1).Msg("asset cached")
		return
	}
	if ctx.Err() != nil {
		// Shutdown mid-attempt: leave the job for the next run.
		return
	}

	attempts := job.Attempts + 1
	if attempts >= MaxAttempts {
		jobsFailed.Inc()
		jobAttempts.Observe(float64(attempts))
		if err := w.store.MarkFailed(ctx, job.AssetID, attemptErr.Error()); err != nil {
			log.Error().Err(err).Msg("mark failed")
		}
		_ = w.store.RemoveJob(ctx, job.AssetID)
		log.Error().Err(attemptErr).Int("attempts", attempts).Msg("retry budget exhausted, asset failed")
		if w.opts.Notifier != nil {
			if failed, err := w.store.Get(ctx, job.AssetID); err == nil {
				w.opts.Notifier.AssetFailed(ctx, failed)
			}
		}
		return
	}

	delay := retryBaseDelay * time.Duration(1<<uint(attempts-1))
	if err := w.store.RetryJob(ctx, job.AssetID, attempts, time.Now().Add(delay)); err != nil {
		log.Error().Err(err).Msg("schedule retry")
		return
	}
	log.Warn().Err(attemptErr).Int("attempt", attempts).Dur("backoff", delay).Msg("caching attempt failed, will retry")
}

func (w *Worker) attempt(ctx context.Context, job asset.Job) error {
	data, contentType, err := fetchOrigin(ctx, w.opts.HTTPClient, job.OriginalURL, w.opts.FetchTimeout)
	if err != nil {
		return fmt.Errorf("fetch origin: %w", err)
	}

	key := storage.ObjectKey(job.Folder, contentType)
	if err := w.objects.Put(ctx, key, data, contentType); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}

	if err := w.store.MarkCached(ctx, job.AssetID, key, contentType, int64(len(data))); err != nil {
		// A retry uploads under a fresh key, so drop this one instead of
		// orphaning it in the bucket.
		_ = w.objects.Delete(context.Background(), key)
		return fmt.Errorf("mark cached: %w", err)
	}
	return nil
}

func (w *Worker) markInFlight(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.inFlight[id]; ok {
		return false
	}
	w.inFlight[id] = struct{}{}
	return true
}

func (w *Worker) clearInFlight(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.inFlight, id)
}
