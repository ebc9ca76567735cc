package reel

import (
	"errors"
	"fmt"
)

// Error taxonomy shared by the repositories, the pipelines and the store adapters.
// Callers match with errors.Is; adapters wrap these with context.
var (
	// ErrAuthenticationRequired is returned when a mutating call has no signed-in user.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrInvalidReference is returned for a malformed URL, path or identifier.
	ErrInvalidReference = errors.New("invalid reference")

	// ErrNotFound is returned when a referenced document or blob does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTransientIO is a network or store failure on a single attempt.
	ErrTransientIO = errors.New("transient I/O failure")

	// ErrPermanentIO is returned when a retry budget is exhausted.
	ErrPermanentIO = errors.New("retry budget exhausted")

	// ErrInconsistent marks a pipeline that aborted after its decision was committed.
	ErrInconsistent = errors.New("decision committed but promotion did not complete")

	// ErrConflict is returned when a write's version precondition does not hold,
	// or when a document that must be new already exists.
	ErrConflict = errors.New("concurrent modification")

	// ErrInvalidTransition is returned for a status change other than open -> terminal.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNotOwner is returned when someone other than the video owner accepts or rejects.
	ErrNotOwner = errors.New("caller does not own the video")

	// ErrInProgress is returned when another accept/reject holds the change lock.
	ErrInProgress = errors.New("another operation on this change is in progress")

	// ErrNotYetAvailable is returned by BlobStore.ResolveURL while an uploaded
	// object is still inside the store's consistency window.
	ErrNotYetAvailable = errors.New("object url not yet available")
)

// PromotionError reports the accept pipeline step that failed after the
// decision was committed. It matches ErrInconsistent as well as its cause.
type PromotionError struct {
	ChangeID string
	Step     Step
	Err      error
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("promoting change %s: %s: %v", e.ChangeID, e.Step, e.Err)
}

func (e *PromotionError) Unwrap() []error {
	return []error{ErrInconsistent, e.Err}
}

// transient classifies a store error. Errors that already carry a meaning
// callers branch on are kept; anything else is transient.
func transient(err error) error {
	for _, kind := range []error{ErrNotFound, ErrTransientIO, ErrPermanentIO, ErrConflict, ErrInvalidReference} {
		if errors.Is(err, kind) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrTransientIO, err)
}
