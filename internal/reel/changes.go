package reel

import (
	"context"
	"fmt"
	"strings"
)

// ChangesCollection holds Change documents.
const ChangesCollection = "changes"

const defaultPageSize = 100

// Change document fields.
const (
	fieldVideoID     = "videoId"
	fieldUserID      = "userId"
	fieldTimestamp   = "timestamp"
	fieldStatus      = "status"
	fieldDescription = "description"
	fieldEditURL     = "editUrl"
	fieldDiff        = "diffMetadata"
)

// ChangeRepository stores Change records and moves them through their lifecycle.
type ChangeRepository struct {
	store    MetadataStore
	auth     Authenticator
	pageSize int
}

// NewChangeRepository creates a repository over store. Create uses auth to
// identify the proposer.
func NewChangeRepository(store MetadataStore, auth Authenticator) *ChangeRepository {
	return &ChangeRepository{store: store, auth: auth, pageSize: defaultPageSize}
}

// SetPageSize changes how many documents List requests per query.
func (r *ChangeRepository) SetPageSize(n int) {
	if n > 0 {
		r.pageSize = n
	}
}

// Create records a new open change against videoID and returns its ID.
// editURL may be empty for a text-only suggestion; diff may be nil.
func (r *ChangeRepository) Create(ctx context.Context, videoID, description, editURL string, diff *DiffMetadata) (string, error) {
	userID, err := requireUser(ctx, r.auth)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(videoID) == "" {
		return "", fmt.Errorf("%w: empty video id", ErrInvalidReference)
	}
	if editURL != "" {
		if _, err := ObjectPathFromURL(editURL); err != nil {
			return "", err
		}
	}

	if _, err := r.store.Get(ctx, VideosCollection, videoID); err != nil {
		return "", fmt.Errorf("loading video %s: %w", videoID, transient(err))
	}

	fields := Document{
		fieldVideoID:     videoID,
		fieldUserID:      userID,
		fieldTimestamp:   ServerTimestamp,
		fieldStatus:      string(StatusOpen),
		fieldDescription: description,
	}
	if editURL != "" {
		fields[fieldEditURL] = editURL
	}
	if !diff.Empty() {
		fields[fieldDiff] = diffToDocument(diff)
	}

	id, err := r.store.Create(ctx, ChangesCollection, fields)
	if err != nil {
		return "", fmt.Errorf("creating change: %w", transient(err))
	}
	return id, nil
}

// Get loads one change.
func (r *ChangeRepository) Get(ctx context.Context, changeID string) (*Change, error) {
	if changeID == "" {
		return nil, fmt.Errorf("%w: empty change id", ErrInvalidReference)
	}
	snap, err := r.store.Get(ctx, ChangesCollection, changeID)
	if err != nil {
		return nil, fmt.Errorf("loading change %s: %w", changeID, transient(err))
	}
	return changeFromSnapshot(snap)
}

// List returns every change for videoID, newest first.
func (r *ChangeRepository) List(ctx context.Context, videoID string) ([]*Change, error) {
	q := Query{
		Where:      []Filter{{Field: fieldVideoID, Value: videoID}},
		OrderBy:    fieldTimestamp,
		Descending: true,
		Limit:      r.pageSize,
	}

	var changes []*Change
	for {
		page, err := r.store.Query(ctx, ChangesCollection, q)
		if err != nil {
			return nil, fmt.Errorf("listing changes for %s: %w", videoID, transient(err))
		}
		for _, snap := range page.Docs {
			c, err := changeFromSnapshot(snap)
			if err != nil {
				return nil, err
			}
			changes = append(changes, c)
		}
		if page.NextCursor == "" {
			return changes, nil
		}
		q.Cursor = page.NextCursor
	}
}

// SetStatus moves change from open to a terminal status. The write is
// conditional on change.Version, so a concurrent decision fails with ErrConflict.
// On success change is updated in place.
func (r *ChangeRepository) SetStatus(ctx context.Context, change *Change, status ChangeStatus) error {
	if change.Status != StatusOpen || !status.Terminal() {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, change.Status, status)
	}

	version, err := r.store.UpdateFields(ctx, ChangesCollection, change.ID, Document{fieldStatus: string(status)}, change.Version)
	if err != nil {
		return fmt.Errorf("setting status of change %s: %w", change.ID, transient(err))
	}

	change.Status = status
	change.Version = version
	return nil
}

func changeFromSnapshot(snap *Snapshot) (*Change, error) {
	f := snap.Fields
	c := &Change{
		ID:          snap.ID,
		VideoID:     f.String(fieldVideoID),
		UserID:      f.String(fieldUserID),
		Status:      ChangeStatus(f.String(fieldStatus)),
		Description: f.String(fieldDescription),
		EditURL:     f.String(fieldEditURL),
		Version:     snap.Version,
	}
	var err error
	if c.CreatedAt, err = f.Time(fieldTimestamp); err != nil {
		return nil, fmt.Errorf("decoding change %s: %w", snap.ID, err)
	}
	switch c.Status {
	case StatusOpen, StatusAccepted, StatusRejected:
	default:
		return nil, fmt.Errorf("decoding change %s: unknown status %q", snap.ID, c.Status)
	}
	if d := f.Map(fieldDiff); d != nil {
		c.Diff = &DiffMetadata{
			Filters:     d.StringMap("filters"),
			Adjustments: d.StringMap("adjustments"),
			Transform:   d.StringMap("transform"),
		}
	}
	return c, nil
}

func diffToDocument(d *DiffMetadata) Document {
	doc := Document{}
	if len(d.Filters) > 0 {
		doc["filters"] = d.Filters
	}
	if len(d.Adjustments) > 0 {
		doc["adjustments"] = d.Adjustments
	}
	if len(d.Transform) > 0 {
		doc["transform"] = d.Transform
	}
	return doc
}
