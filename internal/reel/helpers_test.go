package reel_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"reel-go/internal/blob"
	"reel-go/internal/lock"
	"reel-go/internal/reel"
	"reel-go/internal/testutil"
)

const (
	owner  = "owner-1"
	editor = "editor-1"
)

// env wires the pipelines over an in-memory SQLite store and a memory blob
// store wrapped for fault injection. The sleeper advances the shared clock.
type env struct {
	clock   *testutil.StubClock
	sleeper *testutil.RecordingSleeper
	store   reel.MetadataStore
	mem     *blob.MemoryStore
	blobs   *testutil.FaultyBlobStore
	refresh *testutil.RefreshRecorder
	locker  *lock.MemoryLocker

	changes  *reel.ChangeRepository
	videos   *reel.VideoRepository
	catalog  *reel.Catalog
	promoter *reel.VersionPromoter
	rejector *reel.Rejector
}

func newEnv(t *testing.T, visibility time.Duration) *env {
	t.Helper()
	clock := testutil.FixedClock()
	store := testutil.NewTestMetadataStore(t, clock, testutil.NewPrefixedIDGenerator("doc"))
	mem := blob.NewMemoryStore("reel-test", clock, visibility)

	e := &env{
		clock:   clock,
		sleeper: testutil.NewRecordingSleeper(clock),
		store:   store,
		mem:     mem,
		blobs:   testutil.NewFaultyBlobStore(mem),
		refresh: &testutil.RefreshRecorder{},
		locker:  lock.NewMemoryLocker(clock),
	}

	auth := reel.ContextAuthenticator{}
	objects := testutil.NewPrefixedIDGenerator("obj")
	e.changes = reel.NewChangeRepository(store, auth)
	e.videos = reel.NewVideoRepository(store)
	e.catalog = reel.NewCatalog(e.videos, e.changes, e.blobs, auth, nil,
		reel.WithCatalogClock(clock),
		reel.WithCatalogSleeper(e.sleeper),
		reel.WithCatalogIDGenerator(objects),
	)
	e.promoter = reel.NewVersionPromoter(e.changes, e.videos, e.blobs, auth, nil,
		reel.WithClock(clock),
		reel.WithSleeper(e.sleeper),
		reel.WithIDGenerator(objects),
		reel.WithLocker(e.locker),
		reel.WithRefresh(e.refresh.Hook),
	)
	e.rejector = reel.NewRejector(e.changes, e.videos, e.blobs, auth, nil,
		reel.WithRejectLocker(e.locker),
	)
	return e
}

func as(user string) context.Context {
	return reel.WithUser(context.Background(), user)
}

// publish uploads an original video owned by owner.
func (e *env) publish(t *testing.T, caption string) *reel.Video {
	t.Helper()
	e.clock.Advance(time.Second)
	v, err := e.catalog.Publish(as(owner), strings.NewReader("original:"+caption), int64(len("original:"+caption)), "clip.mp4", caption)
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	return v
}

// propose creates a change by editor; an empty content makes it text-only.
func (e *env) propose(t *testing.T, videoID, description, content string) *reel.Change {
	t.Helper()
	e.clock.Advance(time.Second)
	var c *reel.Change
	var err error
	if content == "" {
		c, err = e.catalog.Propose(as(editor), videoID, description, nil, 0, "", nil)
	} else {
		c, err = e.catalog.Propose(as(editor), videoID, description, strings.NewReader(content), int64(len(content)), "edit.mov",
			&reel.DiffMetadata{Filters: map[string]string{"tone": "warm"}})
	}
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	return c
}

func (e *env) objectPath(t *testing.T, objectURL string) string {
	t.Helper()
	p, err := reel.ObjectPathFromURL(objectURL)
	if err != nil {
		t.Fatalf("ObjectPathFromURL(%q) error = %v", objectURL, err)
	}
	return p
}

func (e *env) content(t *testing.T, objectURL string) string {
	t.Helper()
	var sb strings.Builder
	if err := e.mem.Fetch(context.Background(), e.objectPath(t, objectURL), &sb); err != nil {
		t.Fatalf("Fetch(%q) error = %v", objectURL, err)
	}
	return sb.String()
}

// sleepsSince returns the sleeps recorded after the first n.
func (e *env) sleepsSince(n int) []time.Duration {
	return e.sleeper.Delays()[n:]
}
