package reel

import (
	"context"
	"fmt"
	"time"
)

// Rejector runs the reject pipeline: record the decision, discard the edit
// asset, return the refreshed change list.
type Rejector struct {
	changes *ChangeRepository
	videos  *VideoRepository
	blobs   BlobStore
	auth    Authenticator
	logger  Logger
	locker  Locker
	lockTTL time.Duration
}

// RejectorOption configures a Rejector.
type RejectorOption func(*Rejector)

func WithRejectLocker(l Locker) RejectorOption {
	return func(r *Rejector) { r.locker = l }
}

func WithRejectLockTTL(ttl time.Duration) RejectorOption {
	return func(r *Rejector) { r.lockTTL = ttl }
}

func NewRejector(changes *ChangeRepository, videos *VideoRepository, blobs BlobStore, auth Authenticator, logger Logger, opts ...RejectorOption) *Rejector {
	r := &Rejector{
		changes: changes,
		videos:  videos,
		blobs:   blobs,
		auth:    auth,
		logger:  logger,
		lockTTL: defaultLockTTL,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = NewNopLogger()
	}
	return r
}

// Reject marks the change rejected and deletes its edit asset.
// Deleting the asset is best effort. Rejecting a change that is no longer
// open fails with ErrInvalidTransition and touches nothing.
func (r *Rejector) Reject(ctx context.Context, changeID string) ([]*Change, error) {
	release, err := acquire(ctx, r.locker, changeID, r.lockTTL)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			r.logger.Warn("releasing change lock", "change", changeID, "error", err)
		}
	}()

	change, err := r.changes.Get(ctx, changeID)
	if err != nil {
		return nil, err
	}
	video, err := r.videos.Get(ctx, change.VideoID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(ctx, r.auth, video); err != nil {
		return nil, err
	}

	if err := r.changes.SetStatus(ctx, change, StatusRejected); err != nil {
		return nil, err
	}
	r.logger.Info("change rejected", "change", change.ID, "video", change.VideoID)

	if change.HasEditAsset() {
		r.discard(ctx, change)
	}

	changes, err := r.changes.List(ctx, change.VideoID)
	if err != nil {
		return nil, fmt.Errorf("refreshing changes: %w", err)
	}
	return changes, nil
}

func (r *Rejector) discard(ctx context.Context, change *Change) {
	objectPath, err := ObjectPathFromURL(change.EditURL)
	if err != nil {
		r.logger.Warn("cannot parse edit url", "change", change.ID, "url", change.EditURL, "error", err)
		return
	}
	if err := r.blobs.Delete(ctx, objectPath); err != nil {
		r.logger.Warn("deleting edit asset", "change", change.ID, "path", objectPath, "error", err)
	}
}
