package app

import (
	"context"
	"fmt"
	"time"

	"reel-go/internal/reel"
)

// OperationsCollection holds the journal of mutating CLI invocations.
const OperationsCollection = "operations"

const (
	OperationRunning = "running"
	OperationSuccess = "success"
	OperationError   = "error"
)

// Operation tracks a CLI invocation that may mutate state.
// Operations are created in memory with an empty ID. Only mutating commands
// persist them; a persisted operation left "running" did not finish.
type Operation struct {
	ID         string
	Name       string
	Parameters string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// NewOperation creates a new in-memory operation.
func NewOperation(name, parameters string) *Operation {
	return &Operation{
		Name:       name,
		Parameters: parameters,
		Status:     OperationSuccess,
	}
}

// Persisted returns true if this operation has been saved to the journal.
func (op *Operation) Persisted() bool {
	return op.ID != ""
}

// Journal stores operations in the metadata store.
type Journal struct {
	store reel.MetadataStore
	clock reel.Clock
}

func NewJournal(store reel.MetadataStore, clock reel.Clock) *Journal {
	if clock == nil {
		clock = reel.RealClock{}
	}
	return &Journal{store: store, clock: clock}
}

// Start records op as running and assigns its ID.
func (j *Journal) Start(ctx context.Context, op *Operation) error {
	op.StartedAt = j.clock.Now().UTC()
	id, err := j.store.Create(ctx, OperationsCollection, reel.Document{
		"name":       op.Name,
		"parameters": op.Parameters,
		"status":     OperationRunning,
		"startedAt":  op.StartedAt,
	})
	if err != nil {
		return fmt.Errorf("journaling operation %s: %w", op.Name, err)
	}
	op.ID = id
	return nil
}

// Finish records the final status of a persisted op.
func (j *Journal) Finish(ctx context.Context, op *Operation) error {
	op.FinishedAt = j.clock.Now().UTC()
	_, err := j.store.UpdateFields(ctx, OperationsCollection, op.ID, reel.Document{
		"status":     op.Status,
		"finishedAt": op.FinishedAt,
	}, 0)
	if err != nil {
		return fmt.Errorf("finishing operation %s: %w", op.ID, err)
	}
	return nil
}

// List returns up to limit operations, most recent first.
func (j *Journal) List(ctx context.Context, limit int) ([]*Operation, error) {
	page, err := j.store.Query(ctx, OperationsCollection, reel.Query{
		OrderBy:    "startedAt",
		Descending: true,
		Limit:      limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}

	ops := make([]*Operation, 0, len(page.Docs))
	for _, snap := range page.Docs {
		op := &Operation{
			ID:         snap.ID,
			Name:       snap.Fields.String("name"),
			Parameters: snap.Fields.String("parameters"),
			Status:     snap.Fields.String("status"),
		}
		if op.StartedAt, err = snap.Fields.Time("startedAt"); err != nil {
			return nil, fmt.Errorf("operation %s: %w", snap.ID, err)
		}
		if op.FinishedAt, err = snap.Fields.Time("finishedAt"); err != nil {
			return nil, fmt.Errorf("operation %s: %w", snap.ID, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}
