package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/yury-opolev/safeexchange-sub001/internal/clock"
	"github.com/yury-opolev/safeexchange-sub001/internal/common"
	"github.com/yury-opolev/safeexchange-sub001/internal/logging"
	"github.com/yury-opolev/safeexchange-sub001/internal/server/blobstore"
	"golang.org/x/sync/errgroup"
)

// PurgeOptions tunes the periodic sweep.
type PurgeOptions struct {
	// Workers bounds how many secrets are checked in parallel.
	Workers int
	// IdleCheck includes secrets with idle expiration in every sweep.
	IdleCheck bool
}

// ExpirationPurgeEngine deletes secrets whose scheduled time has passed or
// that have been idle for too long.
type ExpirationPurgeEngine struct {
	store Store
	blobs blobstore.Store
	clock clock.Clock
	opts  PurgeOptions
	log   logging.Logger
}

// NewExpirationPurgeEngine wires the engine.
func NewExpirationPurgeEngine(store Store, blobs blobstore.Store, clk clock.Clock, opts PurgeOptions, log logging.Logger) *ExpirationPurgeEngine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &ExpirationPurgeEngine{
		store: store,
		blobs: blobs,
		clock: clk,
		opts:  opts,
		log:   log.With("module", "purge"),
	}
}

// PurgeIfNeeded purges the secret if one of its expiration triggers has fired
// and reports whether it did. An unknown secret is not an error.
func (e *ExpirationPurgeEngine) PurgeIfNeeded(ctx context.Context, secretID string) (bool, error) {
	meta, err := e.store.Repos.Secrets(e.store.DB).Get(ctx, secretID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("load secret: %w", err)
	}

	expired, reason := meta.ExpiredAt(e.clock.Now())
	if !expired {
		return false, nil
	}

	e.log.Info(ctx, "secret expired", "secret_id", secretID, "reason", reason)
	return true, e.Purge(ctx, secretID)
}

type purgeStep struct {
	name string
	run  func(ctx context.Context, secretID string) error
}

func (e *ExpirationPurgeEngine) steps() []purgeStep {
	return []purgeStep{
		{"permissions", e.purgePermissions},
		{"blobs", e.purgeBlobs},
		{"metadata", e.purgeMetadata},
		{"access requests", e.purgeAccessRequests},
	}
}

// Purge removes everything belonging to the secret. Every step runs even if
// an earlier one failed; the failures are returned joined. Purging an already
// purged secret does nothing.
func (e *ExpirationPurgeEngine) Purge(ctx context.Context, secretID string) error {
	var errs []error
	for _, step := range e.steps() {
		if err := step.run(ctx, secretID); err != nil {
			e.log.Error(ctx, "purge step failed", "secret_id", secretID, "step", step.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}
	if len(errs) == 0 {
		e.log.Info(ctx, "secret purged", "secret_id", secretID)
	}
	return errors.Join(errs...)
}

func (e *ExpirationPurgeEngine) purgePermissions(ctx context.Context, secretID string) error {
	n, err := e.store.Repos.Permissions(e.store.DB).DeleteBySecret(ctx, secretID)
	if err != nil {
		return err
	}
	e.log.Debug(ctx, "permissions removed", "secret_id", secretID, "rows", n)
	return nil
}

func (e *ExpirationPurgeEngine) purgeBlobs(ctx context.Context, secretID string) error {
	contents, err := e.store.Repos.Contents(e.store.DB).ListBySecret(ctx, secretID)
	if err != nil {
		return err
	}
	var errs []error
	for _, c := range contents {
		for _, ch := range c.Chunks {
			if _, err := e.blobs.DeleteIfExists(ctx, blobstore.ChunkKey(secretID, ch.ChunkName)); err != nil {
				errs = append(errs, fmt.Errorf("chunk %s: %w", ch.ChunkName, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (e *ExpirationPurgeEngine) purgeMetadata(ctx context.Context, secretID string) error {
	if _, err := e.store.Repos.Contents(e.store.DB).DeleteBySecret(ctx, secretID); err != nil {
		return err
	}
	return e.store.Repos.Secrets(e.store.DB).Delete(ctx, secretID)
}

func (e *ExpirationPurgeEngine) purgeAccessRequests(ctx context.Context, secretID string) error {
	_, err := e.store.Repos.AccessRequests(e.store.DB).DeleteByObject(ctx, secretID)
	return err
}

// Sweep checks every expiration candidate and returns how many secrets were
// purged. Failures of single secrets do not stop the sweep.
func (e *ExpirationPurgeEngine) Sweep(ctx context.Context) (int, error) {
	ids, err := e.store.Repos.Secrets(e.store.DB).ListExpirationCandidates(ctx, e.clock.Now(), e.opts.IdleCheck)
	if err != nil {
		return 0, fmt.Errorf("list candidates: %w", err)
	}

	var (
		mu     sync.Mutex
		purged int
		errs   []error
	)
	g := new(errgroup.Group)
	g.SetLimit(e.opts.Workers)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			ok, err := e.PurgeIfNeeded(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				purged++
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("secret %s: %w", id, err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return purged, errors.Join(errs...)
}

// Run sweeps every interval until ctx is cancelled.
func (e *ExpirationPurgeEngine) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			purged, err := e.Sweep(ctx)
			if err != nil {
				e.log.Error(ctx, "sweep finished with errors", "purged", purged, "error", err)
				continue
			}
			if purged > 0 {
				e.log.Info(ctx, "sweep finished", "purged", purged)
			}
		}
	}
}
