package reel

import "time"

// ChangeStatus is the lifecycle state of a Change.
type ChangeStatus string

const (
	StatusOpen     ChangeStatus = "open"
	StatusAccepted ChangeStatus = "accepted"
	StatusRejected ChangeStatus = "rejected"
)

// Terminal reports whether no further transition is allowed from s.
func (s ChangeStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

// Video is a canonical playable record.
// A promoted edit produces a new Video whose PreviousVersionID points at the
// record it supersedes; the superseded record keeps its data and gets SupersededBy.
type Video struct {
	ID                string
	UserID            string
	Caption           string
	CanonicalURL      string
	Likes             int64
	Comments          int64
	CreatedAt         time.Time
	IsEdited          bool
	PreviousVersionID string // empty when this is an original upload
	SupersededBy      string // empty while the video is current
	Version           int64
}

// Superseded reports whether a promotion has replaced this video.
func (v *Video) Superseded() bool {
	return v.SupersededBy != ""
}

// DiffMetadata describes the structured edit a proposer applied.
type DiffMetadata struct {
	Filters     map[string]string
	Adjustments map[string]string
	Transform   map[string]string
}

// Empty reports whether no diff entries are present.
func (d *DiffMetadata) Empty() bool {
	return d == nil || (len(d.Filters) == 0 && len(d.Adjustments) == 0 && len(d.Transform) == 0)
}

// Change is a proposed edit against exactly one Video.
// EditURL is empty for a text-only suggestion.
type Change struct {
	ID          string
	VideoID     string
	UserID      string
	CreatedAt   time.Time
	Status      ChangeStatus
	Description string
	EditURL     string
	Diff        *DiffMetadata
	Version     int64
}

// HasEditAsset reports whether the change carries an uploaded edit.
func (c *Change) HasEditAsset() bool {
	return c.EditURL != ""
}

// PromotionState is the saga state of an accepted Change.
type PromotionState string

const (
	// PromotionCommitted: the decision is recorded, promotion has not finished.
	PromotionCommitted PromotionState = "committed"
	// PromotionPromoted: the new version is written (or nothing to promote for text-only changes).
	PromotionPromoted PromotionState = "promoted"
	// PromotionInconsistent: a step after the decision failed; the change is accepted without a new video.
	PromotionInconsistent PromotionState = "inconsistent"
)

// Promotion is the saga record for one accepted Change, keyed by the change ID.
type Promotion struct {
	ChangeID      string
	VideoID       string
	State         PromotionState
	CanonicalPath string
	CanonicalURL  string
	NewVideoID    string
	FailedStep    Step
	LastError     string
	Attempts      int64
	UpdatedAt     time.Time
	Version       int64
}

// Step names a stage of the accept pipeline.
type Step string

const (
	StepDeciding           Step = "deciding"
	StepCommittingDecision Step = "committing-decision"
	StepFetchingEdit       Step = "fetching-edit"
	StepUploadingCanonical Step = "uploading-canonical"
	StepResolvingURL       Step = "resolving-url"
	StepWritingNewVersion  Step = "writing-new-version"
	StepRefreshingFeed     Step = "refreshing-feed"
	StepRetiringOldAsset   Step = "retiring-old-asset"
	StepDone               Step = "done"
)
