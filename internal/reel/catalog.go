package reel

import (
	"context"
	"fmt"
	"io"
	"strings"
)

const defaultEditPrefix = "edits"

// Catalog uploads assets and creates the records pointing at them: original
// videos for the feed and edit assets for change proposals.
type Catalog struct {
	videos  *VideoRepository
	changes *ChangeRepository
	blobs   BlobStore
	auth    Authenticator
	logger  Logger

	clock           Clock
	sleeper         Sleeper
	idgen           IDGenerator
	policy          RetryPolicy
	canonicalPrefix string
	editPrefix      string
}

// CatalogOption configures a Catalog.
type CatalogOption func(*Catalog)

func WithCatalogClock(c Clock) CatalogOption {
	return func(cat *Catalog) { cat.clock = c }
}

func WithCatalogSleeper(s Sleeper) CatalogOption {
	return func(cat *Catalog) { cat.sleeper = s }
}

func WithCatalogIDGenerator(g IDGenerator) CatalogOption {
	return func(cat *Catalog) { cat.idgen = g }
}

func WithCatalogRetryPolicy(p RetryPolicy) CatalogOption {
	return func(cat *Catalog) { cat.policy = p }
}

// WithPrefixes sets where canonical videos and edit assets are uploaded.
func WithPrefixes(canonical, edits string) CatalogOption {
	return func(cat *Catalog) {
		if canonical != "" {
			cat.canonicalPrefix = strings.Trim(canonical, "/")
		}
		if edits != "" {
			cat.editPrefix = strings.Trim(edits, "/")
		}
	}
}

func NewCatalog(videos *VideoRepository, changes *ChangeRepository, blobs BlobStore, auth Authenticator, logger Logger, opts ...CatalogOption) *Catalog {
	c := &Catalog{
		videos:          videos,
		changes:         changes,
		blobs:           blobs,
		auth:            auth,
		logger:          logger,
		clock:           RealClock{},
		sleeper:         RealSleeper{},
		idgen:           UUIDGenerator{},
		policy:          DefaultResolvePolicy(),
		canonicalPrefix: defaultCanonicalPrefix,
		editPrefix:      defaultEditPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = NewNopLogger()
	}
	return c
}

// Publish uploads an original video for the signed-in user and adds it to the feed.
// filename only contributes the extension.
func (c *Catalog) Publish(ctx context.Context, r io.Reader, size int64, filename, caption string) (*Video, error) {
	userID, err := requireUser(ctx, c.auth)
	if err != nil {
		return nil, err
	}

	objectURL, err := c.store(ctx, c.canonicalPrefix, r, size, filename)
	if err != nil {
		return nil, err
	}

	id, err := c.videos.Create(ctx, userID, caption, objectURL)
	if err != nil {
		c.discard(ctx, objectURL)
		return nil, err
	}
	c.logger.Info("video published", "video", id, "user", userID)
	return c.videos.Get(ctx, id)
}

// Propose records a change against videoID. When r is nil the change is a
// text-only suggestion; otherwise the edit asset is uploaded first.
func (c *Catalog) Propose(ctx context.Context, videoID, description string, r io.Reader, size int64, filename string, diff *DiffMetadata) (*Change, error) {
	if _, err := requireUser(ctx, c.auth); err != nil {
		return nil, err
	}
	if _, err := c.videos.Get(ctx, videoID); err != nil {
		return nil, err
	}

	var editURL string
	if r != nil {
		var err error
		if editURL, err = c.store(ctx, c.editPrefix, r, size, filename); err != nil {
			return nil, err
		}
	}

	id, err := c.changes.Create(ctx, videoID, description, editURL, diff)
	if err != nil {
		if editURL != "" {
			c.discard(ctx, editURL)
		}
		return nil, err
	}
	c.logger.Info("change proposed", "change", id, "video", videoID, "has_edit", editURL != "")
	return c.changes.Get(ctx, id)
}

// Feed lists current videos, newest first.
func (c *Catalog) Feed(ctx context.Context, limit int, cursor string) ([]*Video, string, error) {
	return c.videos.Feed(ctx, limit, cursor)
}

// store uploads r under prefix and waits for its URL.
func (c *Catalog) store(ctx context.Context, prefix string, r io.Reader, size int64, filename string) (string, error) {
	ext := VideoExtension(filename)
	objectPath := fmt.Sprintf("%s/%s_%d.%s", prefix, c.idgen.New(), c.clock.Now().Unix(), ext)
	if err := c.blobs.Upload(ctx, objectPath, r, size, VideoContentType(ext)); err != nil {
		return "", fmt.Errorf("uploading %s: %w", objectPath, transient(err))
	}

	objectURL, _, err := resolveURL(ctx, c.blobs, objectPath, c.policy, c.sleeper, c.logger)
	if err != nil {
		return "", err
	}
	return objectURL, nil
}

func (c *Catalog) discard(ctx context.Context, objectURL string) {
	objectPath, err := ObjectPathFromURL(objectURL)
	if err == nil {
		err = c.blobs.Delete(ctx, objectPath)
	}
	if err != nil {
		c.logger.Warn("discarding unused upload", "url", objectURL, "error", err)
	}
}
