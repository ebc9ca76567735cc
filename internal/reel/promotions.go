package reel

import (
	"context"
	"fmt"
)

// PromotionsCollection holds Promotion saga records, keyed by change ID.
const PromotionsCollection = "promotions"

const (
	fieldState         = "state"
	fieldCanonicalPath = "canonicalPath"
	fieldNewVideoID    = "newVideoId"
	fieldFailedStep    = "failedStep"
	fieldLastError     = "lastError"
	fieldAttempts      = "attempts"
	fieldUpdatedAt     = "updatedAt"
)

// PromotionLog records how far the accept pipeline got for each accepted change.
// An inconsistent record is what an operator looks at after a failed promotion.
type PromotionLog struct {
	store MetadataStore
	clock Clock
}

func NewPromotionLog(store MetadataStore, clock Clock) *PromotionLog {
	return &PromotionLog{store: store, clock: clock}
}

// Get returns the record for changeID or ErrNotFound.
func (l *PromotionLog) Get(ctx context.Context, changeID string) (*Promotion, error) {
	snap, err := l.store.Get(ctx, PromotionsCollection, changeID)
	if err != nil {
		return nil, fmt.Errorf("loading promotion %s: %w", changeID, transient(err))
	}
	return promotionFromSnapshot(snap)
}

// Begin creates the committed record for a freshly accepted change.
func (l *PromotionLog) Begin(ctx context.Context, change *Change) (*Promotion, error) {
	now := l.clock.Now()
	p := &Promotion{
		ChangeID:  change.ID,
		VideoID:   change.VideoID,
		State:     PromotionCommitted,
		Attempts:  1,
		UpdatedAt: now,
		Version:   1,
	}
	err := l.store.CreateWithID(ctx, PromotionsCollection, change.ID, Document{
		fieldVideoID:   change.VideoID,
		fieldState:     string(PromotionCommitted),
		fieldAttempts:  int64(1),
		fieldUpdatedAt: FormatTime(now),
	})
	if err != nil {
		return nil, fmt.Errorf("recording promotion of %s: %w", change.ID, transient(err))
	}
	return p, nil
}

// Resume moves an unfinished record back to committed for another attempt.
func (l *PromotionLog) Resume(ctx context.Context, p *Promotion) error {
	return l.update(ctx, p, Document{
		fieldState:      string(PromotionCommitted),
		fieldAttempts:   p.Attempts + 1,
		fieldFailedStep: "",
		fieldLastError:  "",
	}, func() {
		p.State = PromotionCommitted
		p.Attempts++
		p.FailedStep = ""
		p.LastError = ""
	})
}

// MarkInconsistent records that step failed with cause.
func (l *PromotionLog) MarkInconsistent(ctx context.Context, p *Promotion, step Step, cause error) error {
	return l.update(ctx, p, Document{
		fieldState:         string(PromotionInconsistent),
		fieldFailedStep:    string(step),
		fieldLastError:     cause.Error(),
		fieldCanonicalPath: p.CanonicalPath,
	}, func() {
		p.State = PromotionInconsistent
		p.FailedStep = step
		p.LastError = cause.Error()
	})
}

// MarkPromoted finishes a record that has no new video to write.
func (l *PromotionLog) MarkPromoted(ctx context.Context, p *Promotion) error {
	return l.update(ctx, p, Document{fieldState: string(PromotionPromoted)}, func() {
		p.State = PromotionPromoted
	})
}

// promotedOp is the batch write finishing p alongside the new video.
// The caller applies the same values to p once the batch commits.
func (l *PromotionLog) promotedOp(p *Promotion, newVideoID, canonicalURL string) BatchOp {
	return BatchOp{
		Kind:       BatchUpdate,
		Collection: PromotionsCollection,
		ID:         p.ChangeID,
		Fields: Document{
			fieldState:         string(PromotionPromoted),
			fieldNewVideoID:    newVideoID,
			fieldCanonicalPath: p.CanonicalPath,
			fieldCanonicalURL:  canonicalURL,
			fieldUpdatedAt:     FormatTime(l.clock.Now()),
		},
		IfVersion: p.Version,
	}
}

func (l *PromotionLog) update(ctx context.Context, p *Promotion, fields Document, apply func()) error {
	now := l.clock.Now()
	fields[fieldUpdatedAt] = FormatTime(now)
	version, err := l.store.UpdateFields(ctx, PromotionsCollection, p.ChangeID, fields, p.Version)
	if err != nil {
		return fmt.Errorf("updating promotion %s: %w", p.ChangeID, transient(err))
	}
	apply()
	p.UpdatedAt = now
	p.Version = version
	return nil
}

func promotionFromSnapshot(snap *Snapshot) (*Promotion, error) {
	f := snap.Fields
	p := &Promotion{
		ChangeID:      snap.ID,
		VideoID:       f.String(fieldVideoID),
		State:         PromotionState(f.String(fieldState)),
		CanonicalPath: f.String(fieldCanonicalPath),
		CanonicalURL:  f.String(fieldCanonicalURL),
		NewVideoID:    f.String(fieldNewVideoID),
		FailedStep:    Step(f.String(fieldFailedStep)),
		LastError:     f.String(fieldLastError),
		Version:       snap.Version,
	}
	var err error
	if p.Attempts, err = f.Int(fieldAttempts); err != nil {
		return nil, fmt.Errorf("decoding promotion %s: %w", snap.ID, err)
	}
	if p.UpdatedAt, err = f.Time(fieldUpdatedAt); err != nil {
		return nil, fmt.Errorf("decoding promotion %s: %w", snap.ID, err)
	}
	switch p.State {
	case PromotionCommitted, PromotionPromoted, PromotionInconsistent:
	default:
		return nil, fmt.Errorf("decoding promotion %s: unknown state %q", snap.ID, p.State)
	}
	return p, nil
}
