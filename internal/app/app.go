package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reel-go/internal/blob"
	"reel-go/internal/config"
	"reel-go/internal/docstore"
	"reel-go/internal/encryption"
	"reel-go/internal/lock"
	"reel-go/internal/notify"
	"reel-go/internal/reel"
)

// Options carry the per-invocation settings that are not part of the config file.
type Options struct {
	// Operation names the CLI command being run (e.g. "ChangeAccept").
	Operation string
	// Parameters are journaled with the operation.
	Parameters string
	// Verbose also prints debug records to stderr.
	Verbose bool
}

// ReelApp is the application layer between the CLI and the pipelines.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw file paths, and journals mutating operations.
type ReelApp struct {
	cfg       *config.Config
	store     reel.MetadataStore
	blobs     reel.BlobStore
	sealed    *blob.SealedStore
	unlocked  bool
	encryptor reel.Encryptor
	notifiers []notify.Notifier
	closeLock func() error

	changes  *reel.ChangeRepository
	catalog  *reel.Catalog
	promoter *reel.VersionPromoter
	rejector *reel.Rejector
	journal  *Journal

	logger  reel.Logger
	op      *Operation
	logFile *os.File
}

// NewReelApp creates a fully wired ReelApp from the given config.
// The caller must call Close when done.
func NewReelApp(ctx context.Context, cfg *config.Config, opts Options) (_ *ReelApp, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &ReelApp{cfg: cfg, op: NewOperation(opts.Operation, opts.Parameters)}
	defer func() {
		if err != nil {
			a.closeResources()
		}
	}()

	opID := time.Now().UTC().Format("20060102T150405Z")
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger, logFile, err := newLogger(cfg.LogDir, opID, level)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a.logFile = logFile
	a.logger = &slogAdapter{l: logger}

	clock := reel.RealClock{}

	a.store, err = docstore.NewMetadataStoreFromConfig(ctx, cfg.Metadata, clock, reel.UUIDGenerator{})
	if err != nil {
		return nil, fmt.Errorf("creating metadata store: %w", err)
	}

	a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	a.blobs, err = blob.NewBlobStoreFromConfig(ctx, cfg.Blob, a.encryptor, cfg.Promotion.EditPrefix, clock)
	if err != nil {
		return nil, fmt.Errorf("creating blob store: %w", err)
	}
	a.sealed, _ = a.blobs.(*blob.SealedStore)

	locker, closeLock, err := lock.NewLockerFromConfig(ctx, cfg.Lock, clock)
	if err != nil {
		return nil, fmt.Errorf("creating locker: %w", err)
	}
	a.closeLock = closeLock

	a.notifiers, err = notify.NewNotifiersFromConfig(ctx, cfg.Notify, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating notifiers: %w", err)
	}

	auth := reel.StaticAuthenticator(cfg.UserID)
	policy := cfg.Promotion.RetryPolicy()

	a.changes = reel.NewChangeRepository(a.store, auth)
	a.changes.SetPageSize(cfg.Promotion.PageSize)
	videos := reel.NewVideoRepository(a.store)

	a.catalog = reel.NewCatalog(videos, a.changes, a.blobs, auth, a.logger,
		reel.WithCatalogRetryPolicy(policy),
		reel.WithPrefixes(cfg.Promotion.CanonicalPrefix, cfg.Promotion.EditPrefix),
	)

	promoterOpts := []reel.PromoterOption{
		reel.WithLocker(locker),
		reel.WithRetryPolicy(policy),
		reel.WithCanonicalPrefix(cfg.Promotion.CanonicalPrefix),
		reel.WithRefresh(notify.Hook(ctx, clock, a.logger, a.notifiers...)),
	}
	rejectorOpts := []reel.RejectorOption{reel.WithRejectLocker(locker)}
	if ttl := cfg.Lock.TTL.Duration; ttl > 0 {
		promoterOpts = append(promoterOpts, reel.WithLockTTL(ttl))
		rejectorOpts = append(rejectorOpts, reel.WithRejectLockTTL(ttl))
	}
	a.promoter = reel.NewVersionPromoter(a.changes, videos, a.blobs, auth, a.logger, promoterOpts...)
	a.rejector = reel.NewRejector(a.changes, videos, a.blobs, auth, a.logger, rejectorOpts...)
	a.journal = NewJournal(a.store, clock)

	return a, nil
}

// persistOperation journals the operation. Only mutating commands call it.
func (a *ReelApp) persistOperation(ctx context.Context) error {
	if a.op.Persisted() {
		return nil
	}
	return a.journal.Start(ctx, a.op)
}

// track runs fn as the journaled operation and records its outcome.
func (a *ReelApp) track(ctx context.Context, fn func() error) error {
	if err := a.persistOperation(ctx); err != nil {
		return err
	}
	if err := fn(); err != nil {
		a.op.Status = OperationError
		return err
	}
	return nil
}

// NeedsUnlock reports whether accepting a change requires the key passphrase.
func (a *ReelApp) NeedsUnlock() bool {
	return a.sealed != nil
}

// Unlock opens the private key so sealed edit assets can be read.
func (a *ReelApp) Unlock(passphrase string) error {
	if a.sealed == nil {
		return nil
	}
	dec, err := a.encryptor.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking key: %w", err)
	}
	a.sealed.Unlock(dec)
	a.unlocked = true
	return nil
}

// Publish uploads the video at rawPath as a new original in the feed.
func (a *ReelApp) Publish(ctx context.Context, rawPath, caption string) (*reel.Video, error) {
	var video *reel.Video
	err := a.track(ctx, func() error {
		f, size, err := openAsset(rawPath)
		if err != nil {
			return err
		}
		defer f.Close()

		video, err = a.catalog.Publish(ctx, f, size, filepath.Base(f.Name()), caption)
		return err
	})
	return video, err
}

// Feed returns one page of current videos, newest first.
func (a *ReelApp) Feed(ctx context.Context, limit int, cursor string) ([]*reel.Video, string, error) {
	return a.catalog.Feed(ctx, limit, cursor)
}

// Propose records a change against videoID. rawPath may be empty for a
// text-only suggestion.
func (a *ReelApp) Propose(ctx context.Context, videoID, rawPath, description string, diff *reel.DiffMetadata) (*reel.Change, error) {
	var change *reel.Change
	err := a.track(ctx, func() error {
		if rawPath == "" {
			var err error
			change, err = a.catalog.Propose(ctx, videoID, description, nil, 0, "", diff)
			return err
		}

		f, size, err := openAsset(rawPath)
		if err != nil {
			return err
		}
		defer f.Close()

		change, err = a.catalog.Propose(ctx, videoID, description, f, size, filepath.Base(f.Name()), diff)
		return err
	})
	return change, err
}

// Changes lists every change proposed against videoID, newest first.
func (a *ReelApp) Changes(ctx context.Context, videoID string) ([]*reel.Change, error) {
	return a.changes.List(ctx, videoID)
}

// Accept promotes the change's edit to a new video version.
func (a *ReelApp) Accept(ctx context.Context, changeID string) (*reel.PromotionResult, error) {
	if a.sealed != nil && !a.unlocked {
		return nil, fmt.Errorf("accepting %s: unlock with the key passphrase first: %w", changeID, blob.ErrLocked)
	}
	var res *reel.PromotionResult
	err := a.track(ctx, func() error {
		var err error
		res, err = a.promoter.Accept(ctx, changeID)
		return err
	})
	return res, err
}

// Reject closes the change without promoting it.
func (a *ReelApp) Reject(ctx context.Context, changeID string) ([]*reel.Change, error) {
	var changes []*reel.Change
	err := a.track(ctx, func() error {
		var err error
		changes, err = a.rejector.Reject(ctx, changeID)
		return err
	})
	return changes, err
}

// Promotion returns the promotion record of an accepted change.
func (a *ReelApp) Promotion(ctx context.Context, changeID string) (*reel.Promotion, error) {
	return a.promoter.Promotions().Get(ctx, changeID)
}

// History returns the most recent journaled operations.
func (a *ReelApp) History(ctx context.Context, limit int) ([]*Operation, error) {
	return a.journal.List(ctx, limit)
}

// Close finalizes the operation record and closes all resources.
func (a *ReelApp) Close(ctx context.Context) error {
	var firstErr error
	if a.op.Persisted() {
		if err := a.journal.Finish(context.WithoutCancel(ctx), a.op); err != nil {
			firstErr = err
		}
	}
	if err := a.closeResources(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *ReelApp) closeResources() error {
	var errs []error
	if a.notifiers != nil {
		errs = append(errs, notify.CloseAll(a.notifiers))
	}
	if a.closeLock != nil {
		errs = append(errs, a.closeLock())
	}
	if a.blobs != nil {
		errs = append(errs, a.blobs.Close())
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing metadata store: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return errors.Join(errs...)
}

// openAsset opens a local video file for upload.
func openAsset(rawPath string) (*os.File, int64, error) {
	p, err := filepath.Abs(strings.TrimSpace(rawPath))
	if err != nil {
		return nil, 0, fmt.Errorf("resolving path: %w", err)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", rawPath, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", rawPath, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", rawPath)
	}
	return f, info.Size(), nil
}
