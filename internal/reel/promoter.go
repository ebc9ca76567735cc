package reel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	defaultCanonicalPrefix = "videos"
	defaultLockTTL         = 2 * time.Minute
)

// PromotionResult is what Accept reports back.
type PromotionResult struct {
	Change    *Change
	Promotion *Promotion

	// NewVideo is the promoted version; nil for a text-only change.
	NewVideo *Video

	// Changes is the refreshed change list of the video, or nil if the
	// refresh failed after an otherwise successful promotion.
	Changes []*Change

	// ResolveAttempts counts URL resolution attempts made by this call.
	ResolveAttempts int
}

// VersionPromoter runs the accept pipeline: commit the decision, copy the edit
// asset to a new canonical path, wait for its URL, write the new Video version
// and retire the old asset.
type VersionPromoter struct {
	changes    *ChangeRepository
	videos     *VideoRepository
	promotions *PromotionLog
	blobs      BlobStore
	auth       Authenticator
	logger     Logger

	clock   Clock
	sleeper Sleeper
	idgen   IDGenerator
	locker  Locker
	refresh []func()
	policy  RetryPolicy
	prefix  string
	lockTTL time.Duration
}

// PromoterOption configures a VersionPromoter.
type PromoterOption func(*VersionPromoter)

func WithClock(c Clock) PromoterOption {
	return func(p *VersionPromoter) { p.clock = c }
}

func WithSleeper(s Sleeper) PromoterOption {
	return func(p *VersionPromoter) { p.sleeper = s }
}

func WithIDGenerator(g IDGenerator) PromoterOption {
	return func(p *VersionPromoter) { p.idgen = g }
}

// WithLocker guards each change with an advisory lock. Without one, only the
// store's version preconditions detect concurrent decisions.
func WithLocker(l Locker) PromoterOption {
	return func(p *VersionPromoter) { p.locker = l }
}

// WithRefresh adds a hook invoked after a new version is written.
func WithRefresh(hook func()) PromoterOption {
	return func(p *VersionPromoter) {
		if hook != nil {
			p.refresh = append(p.refresh, hook)
		}
	}
}

func WithRetryPolicy(policy RetryPolicy) PromoterOption {
	return func(p *VersionPromoter) { p.policy = policy }
}

// WithCanonicalPrefix sets the blob prefix new canonical assets are written under.
func WithCanonicalPrefix(prefix string) PromoterOption {
	return func(p *VersionPromoter) { p.prefix = strings.Trim(prefix, "/") }
}

func WithLockTTL(ttl time.Duration) PromoterOption {
	return func(p *VersionPromoter) { p.lockTTL = ttl }
}

// NewVersionPromoter creates a promoter. changes and videos must share one MetadataStore.
func NewVersionPromoter(changes *ChangeRepository, videos *VideoRepository, blobs BlobStore, auth Authenticator, logger Logger, opts ...PromoterOption) *VersionPromoter {
	p := &VersionPromoter{
		changes: changes,
		videos:  videos,
		blobs:   blobs,
		auth:    auth,
		logger:  logger,
		clock:   RealClock{},
		sleeper: RealSleeper{},
		idgen:   UUIDGenerator{},
		policy:  DefaultResolvePolicy(),
		prefix:  defaultCanonicalPrefix,
		lockTTL: defaultLockTTL,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = NewNopLogger()
	}
	p.promotions = NewPromotionLog(videos.store, p.clock)
	return p
}

// Promotions exposes the saga records written by this promoter.
func (p *VersionPromoter) Promotions() *PromotionLog {
	return p.promotions
}

// Accept promotes the change's edit to a new canonical Video version.
//
// Errors before the decision is committed leave everything untouched. Once the
// change is accepted, a failing step returns a *PromotionError (matching
// ErrInconsistent); the change stays accepted and its promotion record is left
// inconsistent. Calling Accept again resumes such a promotion, and returns the
// stored result for one that already finished.
func (p *VersionPromoter) Accept(ctx context.Context, changeID string) (*PromotionResult, error) {
	release, err := acquire(ctx, p.locker, changeID, p.lockTTL)
	if err != nil {
		return nil, err
	}
	defer p.unlock(ctx, release, changeID)

	change, err := p.changes.Get(ctx, changeID)
	if err != nil {
		return nil, err
	}
	video, err := p.videos.Get(ctx, change.VideoID)
	if err != nil {
		return nil, err
	}
	if err := requireOwner(ctx, p.auth, video); err != nil {
		return nil, err
	}

	promo, done, err := p.decide(ctx, change, video)
	if err != nil {
		return nil, err
	}
	result := &PromotionResult{Change: change, Promotion: promo}
	if done {
		p.logger.Info("change already promoted", "change", change.ID, "video", promo.NewVideoID)
		if promo.NewVideoID != "" {
			if result.NewVideo, err = p.videos.Get(ctx, promo.NewVideoID); err != nil {
				return nil, err
			}
		}
		result.Changes = p.refreshChanges(ctx, change.VideoID)
		return result, nil
	}

	if !change.HasEditAsset() {
		if err := p.promotions.MarkPromoted(ctx, promo); err != nil {
			return nil, p.fail(ctx, promo, StepCommittingDecision, err)
		}
		p.logger.Info("text-only change accepted", "change", change.ID, "video", video.ID)
		result.Changes = p.refreshChanges(ctx, change.VideoID)
		return result, nil
	}

	if err := p.promote(ctx, change, video, promo, result); err != nil {
		return nil, err
	}
	result.Changes = p.refreshChanges(ctx, change.VideoID)
	return result, nil
}

// decide commits the accept decision, or finds the record of an earlier one.
// done reports that the change was already fully promoted.
func (p *VersionPromoter) decide(ctx context.Context, change *Change, video *Video) (promo *Promotion, done bool, err error) {
	switch change.Status {
	case StatusRejected:
		return nil, false, fmt.Errorf("%w: change %s is rejected", ErrInvalidTransition, change.ID)

	case StatusAccepted:
		promo, err := p.promotions.Get(ctx, change.ID)
		if errors.Is(err, ErrNotFound) {
			// Accepted but the record was never written; start it now.
			promo, err = p.promotions.Begin(ctx, change)
			return promo, false, err
		}
		if err != nil {
			return nil, false, err
		}
		if promo.State == PromotionPromoted {
			return promo, true, nil
		}
		if err := p.promotions.Resume(ctx, promo); err != nil {
			return nil, false, err
		}
		p.logger.Info("resuming promotion", "change", change.ID, "attempt", promo.Attempts, "failed_step", promo.FailedStep)
		return promo, false, nil
	}

	if video.Superseded() && change.HasEditAsset() {
		return nil, false, fmt.Errorf("%w: video %s was superseded by %s", ErrConflict, video.ID, video.SupersededBy)
	}
	if err := p.changes.SetStatus(ctx, change, StatusAccepted); err != nil {
		return nil, false, err
	}
	promo, err = p.promotions.Begin(ctx, change)
	if err != nil {
		// The decision stands; the next Accept will create the record.
		return nil, false, &PromotionError{ChangeID: change.ID, Step: StepCommittingDecision, Err: err}
	}
	p.logger.Info("change accepted", "change", change.ID, "video", video.ID)
	return promo, false, nil
}

// promote runs the steps after the decision. Any failure marks promo inconsistent.
func (p *VersionPromoter) promote(ctx context.Context, change *Change, video *Video, promo *Promotion, result *PromotionResult) error {
	if video.Superseded() {
		return p.fail(ctx, promo, StepWritingNewVersion,
			fmt.Errorf("%w: video %s was superseded by %s", ErrConflict, video.ID, video.SupersededBy))
	}

	editPath, err := ObjectPathFromURL(change.EditURL)
	if err != nil {
		return p.fail(ctx, promo, StepFetchingEdit, err)
	}
	var buf bytes.Buffer
	if err := p.blobs.Fetch(ctx, editPath, &buf); err != nil {
		return p.fail(ctx, promo, StepFetchingEdit, fmt.Errorf("fetching edit %s: %w", editPath, transient(err)))
	}

	ext := VideoExtension(editPath)
	if promo.CanonicalPath == "" {
		promo.CanonicalPath = fmt.Sprintf("%s/%s_%d.%s", p.prefix, p.idgen.New(), p.clock.Now().Unix(), ext)
	} else {
		// A resumed promotion overwrites the copy left by the failed attempt.
		p.logger.Debug("reusing canonical path", "change", change.ID, "path", promo.CanonicalPath)
	}
	err = p.blobs.Upload(ctx, promo.CanonicalPath, bytes.NewReader(buf.Bytes()), int64(buf.Len()), VideoContentType(ext))
	if err != nil {
		return p.fail(ctx, promo, StepUploadingCanonical, fmt.Errorf("uploading %s: %w", promo.CanonicalPath, transient(err)))
	}
	p.logger.Debug("canonical asset uploaded", "change", change.ID, "path", promo.CanonicalPath, "bytes", buf.Len())

	canonicalURL, attempts, err := resolveURL(ctx, p.blobs, promo.CanonicalPath, p.policy, p.sleeper, p.logger)
	result.ResolveAttempts = attempts
	if err != nil {
		return p.fail(ctx, promo, StepResolvingURL, err)
	}

	newID := p.idgen.New()
	ops := append(newVersionOps(video, newID, canonicalURL), p.promotions.promotedOp(promo, newID, canonicalURL))
	if err := p.videos.store.Batch(ctx, ops); err != nil {
		return p.fail(ctx, promo, StepWritingNewVersion, fmt.Errorf("writing new version: %w", transient(err)))
	}
	promo.State = PromotionPromoted
	promo.NewVideoID = newID
	promo.CanonicalURL = canonicalURL
	promo.Version++

	newVideo, err := p.videos.Get(ctx, newID)
	if err != nil {
		// Written but unreadable right now; report what was written.
		p.logger.Warn("reading promoted video", "video", newID, "error", err)
		newVideo = &Video{
			ID:                newID,
			UserID:            video.UserID,
			Caption:           video.Caption,
			CanonicalURL:      canonicalURL,
			IsEdited:          true,
			PreviousVersionID: video.ID,
		}
	}
	result.NewVideo = newVideo
	p.logger.Info("new version written", "change", change.ID, "video", newID, "previous", video.ID)

	for _, hook := range p.refresh {
		hook()
	}

	p.retire(ctx, video.CanonicalURL, "previous canonical asset")
	p.retire(ctx, change.EditURL, "edit asset")
	return nil
}

// fail records the failed step on promo and returns the error for the caller.
func (p *VersionPromoter) fail(ctx context.Context, promo *Promotion, step Step, cause error) error {
	perr := &PromotionError{ChangeID: promo.ChangeID, Step: step, Err: cause}
	p.logger.Error("promotion failed", "change", promo.ChangeID, "step", step, "error", cause)
	if err := p.promotions.MarkInconsistent(context.WithoutCancel(ctx), promo, step, cause); err != nil {
		p.logger.Error("recording failed promotion", "change", promo.ChangeID, "error", err)
	}
	return perr
}

// retire deletes the blob behind rawURL. Failures are logged and dropped.
func (p *VersionPromoter) retire(ctx context.Context, rawURL, what string) {
	if rawURL == "" {
		return
	}
	objectPath, err := ObjectPathFromURL(rawURL)
	if err != nil {
		p.logger.Warn("cannot retire "+what, "url", rawURL, "error", err)
		return
	}
	if err := p.blobs.Delete(ctx, objectPath); err != nil {
		p.logger.Warn("cannot retire "+what, "path", objectPath, "error", err)
		return
	}
	p.logger.Debug("retired "+what, "path", objectPath)
}

func (p *VersionPromoter) refreshChanges(ctx context.Context, videoID string) []*Change {
	changes, err := p.changes.List(ctx, videoID)
	if err != nil {
		p.logger.Warn("refreshing change list", "video", videoID, "error", err)
		return nil
	}
	return changes
}

func (p *VersionPromoter) unlock(ctx context.Context, release func(context.Context) error, changeID string) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		p.logger.Warn("releasing change lock", "change", changeID, "error", err)
	}
}

// acquire takes the change lock, or returns a no-op release when locker is nil.
func acquire(ctx context.Context, locker Locker, changeID string, ttl time.Duration) (func(context.Context) error, error) {
	if locker == nil {
		return func(context.Context) error { return nil }, nil
	}
	release, err := locker.Acquire(ctx, changeLockKey(changeID), ttl)
	if err != nil {
		return nil, fmt.Errorf("locking change %s: %w", changeID, err)
	}
	return release, nil
}
