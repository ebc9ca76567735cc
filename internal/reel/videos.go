package reel

import (
	"context"
	"fmt"
)

// VideosCollection holds Video documents.
const VideosCollection = "videos"

const (
	fieldCaption           = "caption"
	fieldCanonicalURL      = "canonicalUrl"
	fieldLikes             = "likes"
	fieldComments          = "comments"
	fieldIsEdited          = "isEdited"
	fieldPreviousVersionID = "previousVersionId"
	fieldSupersededBy      = "supersededBy"
	fieldSuperseded        = "superseded"
)

// VideoRepository reads and writes Video documents.
type VideoRepository struct {
	store MetadataStore
}

func NewVideoRepository(store MetadataStore) *VideoRepository {
	return &VideoRepository{store: store}
}

// Get loads one video.
func (r *VideoRepository) Get(ctx context.Context, videoID string) (*Video, error) {
	if videoID == "" {
		return nil, fmt.Errorf("%w: empty video id", ErrInvalidReference)
	}
	snap, err := r.store.Get(ctx, VideosCollection, videoID)
	if err != nil {
		return nil, fmt.Errorf("loading video %s: %w", videoID, transient(err))
	}
	return videoFromSnapshot(snap)
}

// Create writes an original upload and returns its ID.
func (r *VideoRepository) Create(ctx context.Context, userID, caption, canonicalURL string) (string, error) {
	id, err := r.store.Create(ctx, VideosCollection, Document{
		fieldUserID:       userID,
		fieldCaption:      caption,
		fieldCanonicalURL: canonicalURL,
		fieldLikes:        int64(0),
		fieldComments:     int64(0),
		fieldTimestamp:    ServerTimestamp,
		fieldIsEdited:     false,
		fieldSuperseded:   false,
	})
	if err != nil {
		return "", fmt.Errorf("creating video: %w", transient(err))
	}
	return id, nil
}

// Feed returns one page of current (not superseded) videos, newest first.
func (r *VideoRepository) Feed(ctx context.Context, limit int, cursor string) ([]*Video, string, error) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	page, err := r.store.Query(ctx, VideosCollection, Query{
		Where:      []Filter{{Field: fieldSuperseded, Value: false}},
		OrderBy:    fieldTimestamp,
		Descending: true,
		Limit:      limit,
		Cursor:     cursor,
	})
	if err != nil {
		return nil, "", fmt.Errorf("listing feed: %w", transient(err))
	}

	videos := make([]*Video, 0, len(page.Docs))
	for _, snap := range page.Docs {
		v, err := videoFromSnapshot(snap)
		if err != nil {
			return nil, "", err
		}
		videos = append(videos, v)
	}
	return videos, page.NextCursor, nil
}

// newVersionOps builds the writes that replace original with a new edited
// version at canonicalURL: the new document, and the original marked as
// superseded provided nobody has written it since it was read.
func newVersionOps(original *Video, newID, canonicalURL string) []BatchOp {
	fields := Document{
		fieldUserID:            original.UserID,
		fieldCaption:           original.Caption,
		fieldCanonicalURL:      canonicalURL,
		fieldLikes:             int64(0),
		fieldComments:          int64(0),
		fieldTimestamp:         ServerTimestamp,
		fieldIsEdited:          true,
		fieldPreviousVersionID: original.ID,
		fieldSuperseded:        false,
	}
	return []BatchOp{
		{Kind: BatchCreate, Collection: VideosCollection, ID: newID, Fields: fields},
		{
			Kind:       BatchUpdate,
			Collection: VideosCollection,
			ID:         original.ID,
			Fields:     Document{fieldSupersededBy: newID, fieldSuperseded: true},
			IfVersion:  original.Version,
		},
	}
}

func videoFromSnapshot(snap *Snapshot) (*Video, error) {
	f := snap.Fields
	v := &Video{
		ID:                snap.ID,
		UserID:            f.String(fieldUserID),
		Caption:           f.String(fieldCaption),
		CanonicalURL:      f.String(fieldCanonicalURL),
		IsEdited:          f.Bool(fieldIsEdited),
		PreviousVersionID: f.String(fieldPreviousVersionID),
		SupersededBy:      f.String(fieldSupersededBy),
		Version:           snap.Version,
	}
	var err error
	if v.Likes, err = f.Int(fieldLikes); err != nil {
		return nil, fmt.Errorf("decoding video %s: %w", snap.ID, err)
	}
	if v.Comments, err = f.Int(fieldComments); err != nil {
		return nil, fmt.Errorf("decoding video %s: %w", snap.ID, err)
	}
	if v.CreatedAt, err = f.Time(fieldTimestamp); err != nil {
		return nil, fmt.Errorf("decoding video %s: %w", snap.ID, err)
	}
	return v, nil
}
